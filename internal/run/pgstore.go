package run

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmatch/matching-service/internal/preference"
)

// PostgresStore persists runs, results and trace events in PostgreSQL.
// Run snapshots (preference, profile, timings, results) live in jsonb
// columns on the run row so every status transition is a single guarded
// UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ─── Matching runs ───────────────────────────────────────────────────────────

const matchingRunColumns = `
	id, user_id, status, preference, profile, filtered_jobs_count, timings,
	results, error_code, error_message, created_at, started_at, completed_at`

func (s *PostgresStore) CreateMatchingRun(ctx context.Context, run *MatchingRun) error {
	pref, err := json.Marshal(run.Preference)
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}
	profile, err := json.Marshal(run.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO matching_runs
		   (id, user_id, status, preference, profile, filtered_jobs_count, timings, results, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, '{}', '[]', $6)`,
		run.ID, run.UserID, string(run.Status), pref, profile, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("createMatchingRun: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMatchingRun(ctx context.Context, id string) (*MatchingRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+matchingRunColumns+` FROM matching_runs WHERE id = $1`, id)
	run, err := scanMatchingRun(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getMatchingRun: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListMatchingRuns(ctx context.Context, userID string, limit, offset int) ([]MatchingRun, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM matching_runs WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listMatchingRuns count: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+matchingRunColumns+`
		 FROM matching_runs
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listMatchingRuns query: %w", err)
	}
	defer rows.Close()

	runs := make([]MatchingRun, 0)
	for rows.Next() {
		run, err := scanMatchingRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("listMatchingRuns scan: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

func (s *PostgresStore) TransitionMatching(ctx context.Context, id string, from, to Status, update MatchingUpdate) (bool, error) {
	if !IsMatchingTransitionAllowed(from, to) {
		return false, nil
	}

	timings, err := marshalOrNil(update.Timings)
	if err != nil {
		return false, fmt.Errorf("encode timings: %w", err)
	}
	var results []byte
	if update.Results != nil {
		if results, err = json.Marshal(update.Results); err != nil {
			return false, fmt.Errorf("encode results: %w", err)
		}
	}
	var errCode, errMessage *string
	if update.Error != nil {
		errCode, errMessage = &update.Error.Code, &update.Error.Message
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE matching_runs
		 SET status              = $3,
		     started_at          = COALESCE($4, started_at),
		     filtered_jobs_count = COALESCE($5, filtered_jobs_count),
		     timings             = COALESCE($6::jsonb, timings),
		     results             = COALESCE($7::jsonb, results),
		     completed_at        = COALESCE($8, completed_at),
		     error_code          = COALESCE($9, error_code),
		     error_message       = COALESCE($10, error_message)
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
		update.StartedAt, update.FilteredJobsCount, timings, results,
		update.CompletedAt, errCode, errMessage,
	)
	if err != nil {
		return false, fmt.Errorf("transitionMatching: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ─── Ranking runs ────────────────────────────────────────────────────────────

const rankingRunColumns = `
	id, job_id, status, batch_size, model_name, total_candidates,
	processed_candidates, shortlisted_count, timings, results,
	error_code, error_message, created_at, started_at, completed_at`

func (s *PostgresStore) CreateRankingRun(ctx context.Context, run *RankingRun, forceRecompute bool) (*RankingRun, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("createRankingRun begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize run creation per job so concurrent requests cannot both
	// miss the reuse lookup and create duplicate runs.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, run.JobID); err != nil {
		return nil, false, fmt.Errorf("createRankingRun lock: %w", err)
	}

	if !forceRecompute {
		row := tx.QueryRow(ctx,
			`SELECT `+rankingRunColumns+`
			 FROM ranking_runs
			 WHERE job_id = $1 AND status = $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT 1`,
			run.JobID, string(StatusCompleted),
		)
		existing, err := scanRankingRun(row)
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return nil, false, fmt.Errorf("createRankingRun commit: %w", err)
			}
			return existing, true, nil
		}
		if err != pgx.ErrNoRows {
			return nil, false, fmt.Errorf("createRankingRun reuse lookup: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ranking_runs
		   (id, job_id, status, batch_size, model_name, total_candidates,
		    processed_candidates, shortlisted_count, timings, results, created_at)
		 VALUES ($1, $2, $3, $4, '', 0, 0, 0, '{}', '[]', $5)`,
		run.ID, run.JobID, string(run.Status), run.BatchSize, run.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("createRankingRun insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("createRankingRun commit: %w", err)
	}

	created := *run
	return &created, false, nil
}

func (s *PostgresStore) GetRankingRun(ctx context.Context, id string) (*RankingRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rankingRunColumns+` FROM ranking_runs WHERE id = $1`, id)
	run, err := scanRankingRun(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getRankingRun: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListRankingRuns(ctx context.Context, jobID string, limit, offset int) ([]RankingRun, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ranking_runs WHERE job_id = $1`, jobID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listRankingRuns count: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+rankingRunColumns+`
		 FROM ranking_runs
		 WHERE job_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		jobID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listRankingRuns query: %w", err)
	}
	defer rows.Close()

	runs := make([]RankingRun, 0)
	for rows.Next() {
		run, err := scanRankingRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("listRankingRuns scan: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

func (s *PostgresStore) TransitionRanking(ctx context.Context, id string, from, to Status, update RankingUpdate) (bool, error) {
	if !IsRankingTransitionAllowed(from, to) {
		return false, nil
	}

	timings, err := marshalOrNil(update.Timings)
	if err != nil {
		return false, fmt.Errorf("encode timings: %w", err)
	}
	var results []byte
	if update.Results != nil {
		if results, err = json.Marshal(update.Results); err != nil {
			return false, fmt.Errorf("encode results: %w", err)
		}
	}
	var errCode, errMessage *string
	if update.Error != nil {
		errCode, errMessage = &update.Error.Code, &update.Error.Message
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs
		 SET status            = $3,
		     started_at        = COALESCE($4, started_at),
		     model_name        = COALESCE($5, model_name),
		     total_candidates  = COALESCE($6, total_candidates),
		     shortlisted_count = COALESCE($7, shortlisted_count),
		     timings           = COALESCE($8::jsonb, timings),
		     results           = COALESCE($9::jsonb, results),
		     completed_at      = COALESCE($10, completed_at),
		     error_code        = COALESCE($11, error_code),
		     error_message     = COALESCE($12, error_message)
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
		update.StartedAt, update.ModelName, update.TotalCandidates,
		update.ShortlistedCount, timings, results,
		update.CompletedAt, errCode, errMessage,
	)
	if err != nil {
		return false, fmt.Errorf("transitionRanking: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetRankingProgress(ctx context.Context, id string, total, processed int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs
		 SET total_candidates = $2, processed_candidates = $3
		 WHERE id = $1`,
		id, total, processed,
	)
	if err != nil {
		return fmt.Errorf("setRankingProgress: %w", err)
	}
	return nil
}

// ─── Traces ──────────────────────────────────────────────────────────────────

func (s *PostgresStore) AppendTrace(ctx context.Context, event TraceEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trace_events
		   (id, run_id, candidate_id, stage, agent_name, status,
		    error_code, error_message, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.RunID, event.CandidateID, event.Stage, event.AgentName,
		event.Status, event.ErrorCode, event.ErrorMessage, event.LatencyMS, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appendTrace: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTraces(ctx context.Context, runID string) ([]TraceEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, candidate_id, stage, agent_name, status,
		        error_code, error_message, latency_ms, created_at
		 FROM trace_events
		 WHERE run_id = $1
		 ORDER BY created_at ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("listTraces query: %w", err)
	}
	defer rows.Close()

	events := make([]TraceEvent, 0)
	for rows.Next() {
		var e TraceEvent
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.CandidateID, &e.Stage, &e.AgentName, &e.Status,
			&e.ErrorCode, &e.ErrorMessage, &e.LatencyMS, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("listTraces scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ─── Preferences ─────────────────────────────────────────────────────────────

func (s *PostgresStore) UpsertActivePreference(ctx context.Context, userID string, pref preference.Preference) error {
	encoded, err := json.Marshal(pref)
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_preferences (user_id, preference, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET preference = EXCLUDED.preference, updated_at = NOW()`,
		userID, encoded,
	)
	if err != nil {
		return fmt.Errorf("upsertActivePreference: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActivePreference(ctx context.Context, userID string) (*preference.Preference, error) {
	var encoded []byte
	err := s.pool.QueryRow(ctx,
		`SELECT preference FROM job_preferences WHERE user_id = $1`, userID,
	).Scan(&encoded)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getActivePreference: %w", err)
	}
	var pref preference.Preference
	if err := json.Unmarshal(encoded, &pref); err != nil {
		return nil, fmt.Errorf("decode preference: %w", err)
	}
	return &pref, nil
}

// ─── Reconciliation ──────────────────────────────────────────────────────────

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]StaleRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, 'matching' FROM matching_runs WHERE status = $1 AND created_at < $2
		 UNION ALL
		 SELECT id, 'ranking' FROM ranking_runs WHERE status = $1 AND created_at < $2
		 ORDER BY 1`,
		string(StatusPending), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listStalePending query: %w", err)
	}
	defer rows.Close()

	var stale []StaleRun
	for rows.Next() {
		var s StaleRun
		if err := rows.Scan(&s.ID, &s.Kind); err != nil {
			return nil, fmt.Errorf("listStalePending scan: %w", err)
		}
		stale = append(stale, s)
	}
	return stale, rows.Err()
}

// ─── scan helpers ────────────────────────────────────────────────────────────

func scanMatchingRun(row pgx.Row) (*MatchingRun, error) {
	var (
		run                 MatchingRun
		status              string
		pref, profile       []byte
		timings, results    []byte
		errCode, errMessage *string
	)
	if err := row.Scan(
		&run.ID, &run.UserID, &status, &pref, &profile, &run.FilteredJobsCount,
		&timings, &results, &errCode, &errMessage,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if err := json.Unmarshal(pref, &run.Preference); err != nil {
		return nil, fmt.Errorf("decode preference: %w", err)
	}
	if err := json.Unmarshal(profile, &run.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal(timings, &run.Timings); err != nil {
		return nil, fmt.Errorf("decode timings: %w", err)
	}
	if err := json.Unmarshal(results, &run.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if errCode != nil {
		run.Error = &RunError{Code: *errCode}
		if errMessage != nil {
			run.Error.Message = *errMessage
		}
	}
	return &run, nil
}

func scanRankingRun(row pgx.Row) (*RankingRun, error) {
	var (
		run                 RankingRun
		status              string
		timings, results    []byte
		errCode, errMessage *string
	)
	if err := row.Scan(
		&run.ID, &run.JobID, &status, &run.BatchSize, &run.ModelName,
		&run.TotalCandidates, &run.ProcessedCandidates, &run.ShortlistedCount,
		&timings, &results, &errCode, &errMessage,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if err := json.Unmarshal(timings, &run.Timings); err != nil {
		return nil, fmt.Errorf("decode timings: %w", err)
	}
	if err := json.Unmarshal(results, &run.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if errCode != nil {
		run.Error = &RunError{Code: *errCode}
		if errMessage != nil {
			run.Error.Message = *errMessage
		}
	}
	return &run, nil
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *MatchingTimings:
		if t == nil {
			return nil, nil
		}
	case *RankingTimings:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
