package corpus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmatch/matching-service/internal/model"
)

// Postgres reads the corpus tables maintained by the ingestion services.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Source over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Jobs(ctx context.Context) ([]model.Job, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, title, company_name, location, work_mode, employment_type,
		        internship_duration_weeks, company_size, stipend_min, stipend_max,
		        COALESCE(stipend_currency, ''), COALESCE(experience_level, ''),
		        COALESCE(sector, ''), COALESCE(description, ''),
		        COALESCE(job_url, ''), COALESCE(apply_url, ''), COALESCE(apply_type, ''),
		        published_at, created_at
		 FROM jobs
		 ORDER BY published_at DESC, created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs query: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		var j model.Job
		if err := rows.Scan(
			&j.ID, &j.Title, &j.CompanyName, &j.Location, &j.WorkMode, &j.EmploymentType,
			&j.InternshipDurationWeeks, &j.CompanySize, &j.StipendMin, &j.StipendMax,
			&j.StipendCurrency, &j.ExperienceLevel, &j.Sector, &j.Description,
			&j.JobURL, &j.ApplyURL, &j.ApplyType, &j.PublishedAt, &j.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("jobs scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) TaskJob(ctx context.Context, jobID string) (*model.TaskJob, error) {
	var j model.TaskJob
	err := p.pool.QueryRow(ctx,
		`SELECT id, COALESCE(job_description, ''), created_at
		 FROM company_task_jobs WHERE id = $1`,
		jobID,
	).Scan(&j.ID, &j.Description, &j.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskJob query: %w", err)
	}
	return &j, nil
}

func (p *Postgres) Candidates(ctx context.Context, jobID string) ([]model.Candidate, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, job_id, name, email, COALESCE(resume_data, '{}'), created_at
		 FROM job_candidates
		 WHERE job_id = $1
		 ORDER BY created_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("candidates query: %w", err)
	}
	defer rows.Close()

	candidates := make([]model.Candidate, 0)
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ID, &c.JobID, &c.Name, &c.Email, &c.ResumeData, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("candidates scan: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (p *Postgres) RecruiterPreference(ctx context.Context, jobID string) (*model.RecruiterPreference, error) {
	var (
		pref     model.RecruiterPreference
		criteria []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT job_id, college_tiers, min_experience_years, max_experience_years,
		        coding_platform_criteria, number_of_openings, updated_at
		 FROM recruiter_job_preferences WHERE job_id = $1`,
		jobID,
	).Scan(&pref.JobID, &pref.CollegeTiers, &pref.MinExperienceYears, &pref.MaxExperienceYears,
		&criteria, &pref.NumberOfOpenings, &pref.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recruiterPreference query: %w", err)
	}
	if err := json.Unmarshal(criteria, &pref.CodingCriteria); err != nil {
		return nil, fmt.Errorf("recruiterPreference criteria decode: %w", err)
	}
	return &pref, nil
}

func (p *Postgres) UpsertRecruiterPreference(ctx context.Context, pref *model.RecruiterPreference) error {
	criteria, err := json.Marshal(pref.CodingCriteria)
	if err != nil {
		return fmt.Errorf("recruiterPreference criteria encode: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO recruiter_job_preferences
		   (job_id, college_tiers, min_experience_years, max_experience_years,
		    coding_platform_criteria, number_of_openings, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (job_id) DO UPDATE
		 SET college_tiers            = EXCLUDED.college_tiers,
		     min_experience_years     = EXCLUDED.min_experience_years,
		     max_experience_years     = EXCLUDED.max_experience_years,
		     coding_platform_criteria = EXCLUDED.coding_platform_criteria,
		     number_of_openings       = EXCLUDED.number_of_openings,
		     updated_at               = NOW()`,
		pref.JobID, pref.CollegeTiers, pref.MinExperienceYears, pref.MaxExperienceYears,
		criteria, pref.NumberOfOpenings,
	)
	if err != nil {
		return fmt.Errorf("upsertRecruiterPreference: %w", err)
	}
	return nil
}
