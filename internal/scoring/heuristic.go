package scoring

import (
	"context"
	"math"
	"sort"
	"strings"

	"jobmatch/matching-service/internal/model"
	"jobmatch/matching-service/internal/preference"
)

// Selection-probability blend weights. Fit and quality dominate; the
// remainder reflects the profile's priority weighting.
const (
	selectionFitWeight      = 0.45
	selectionQualityWeight  = 0.35
	selectionLocationWeight = 0.10
	selectionCompanyWeight  = 0.10

	priorityLocationWeight = 0.20
	priorityCompanyWeight  = 0.20
)

// HeuristicJobScorer is the default deterministic job scorer. It works from
// the job record and preference alone, so identical inputs always produce
// identical scores.
type HeuristicJobScorer struct{}

// ScoreBatch scores every job in the batch.
func (HeuristicJobScorer) ScoreBatch(_ context.Context, jobs []model.Job, pref *preference.Preference, _ CandidateProfile) ([]ScoredJob, error) {
	scored := make([]ScoredJob, 0, len(jobs))
	for _, job := range jobs {
		scored = append(scored, scoreJob(job, pref))
	}
	return scored, nil
}

func scoreJob(job model.Job, pref *preference.Preference) ScoredJob {
	quality := 0.4
	if len(strings.TrimSpace(job.Description)) > 120 {
		quality += 0.2
	}
	if job.ApplyURL != "" {
		quality += 0.2
	}
	if job.CompanyName != "" {
		quality += 0.2
	}
	quality = clamp(quality)

	fit := 0.35
	var reasons []string
	if job.WorkMode == pref.WorkMode {
		fit += 0.20
		reasons = append(reasons, "Work mode match")
	}
	if job.EmploymentType == pref.EmploymentType {
		fit += 0.20
		reasons = append(reasons, "Employment type match")
	}
	if pref.Location != "" && strings.Contains(strings.ToLower(job.Location), pref.Location) {
		fit += 0.10
		reasons = append(reasons, "Location alignment")
	}
	if job.CompanySize == pref.CompanySize {
		fit += 0.10
		reasons = append(reasons, "Company size preference match")
	}
	if pref.StipendMin != nil && pref.StipendMax != nil && job.StipendMin != nil && job.StipendMax != nil {
		fit += 0.05
		reasons = append(reasons, "Stipend overlap available")
	}
	fit = clamp(fit)

	selection := clamp(selectionFitWeight*fit +
		selectionQualityWeight*quality +
		selectionLocationWeight*priorityLocationWeight +
		selectionCompanyWeight*priorityCompanyWeight)

	why := "General alignment with preferences"
	if len(reasons) > 0 {
		top := reasons
		if len(top) > 3 {
			top = top[:3]
		}
		why = strings.Join(top, "; ")
	}

	return ScoredJob{
		Job:                  job,
		FitScore:             round2(fit),
		QualityScore:         round2(quality),
		SelectionProbability: round2(selection),
		Why:                  why,
		FitReasons:           reasons,
	}
}

// TopJobs orders scored jobs by selection probability, recency, then job id
// for a total deterministic order, and returns the best n.
func TopJobs(scored []ScoredJob, n int) []ScoredJob {
	ranked := make([]ScoredJob, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].SelectionProbability != ranked[j].SelectionProbability {
			return ranked[i].SelectionProbability > ranked[j].SelectionProbability
		}
		if !ranked[i].Job.PublishedAt.Equal(ranked[j].Job.PublishedAt) {
			return ranked[i].Job.PublishedAt.After(ranked[j].Job.PublishedAt)
		}
		if !ranked[i].Job.CreatedAt.Equal(ranked[j].Job.CreatedAt) {
			return ranked[i].Job.CreatedAt.After(ranked[j].Job.CreatedAt)
		}
		return ranked[i].Job.ID < ranked[j].Job.ID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Candidate composite weights, mirroring the recruiter-side score contract.
const (
	educationWeight  = 0.25
	experienceWeight = 0.25
	codingWeight     = 0.30
	relevanceWeight  = 0.20
)

// HeuristicCandidateScorer is the default deterministic candidate scorer.
type HeuristicCandidateScorer struct{}

// Score computes sub-scores and the weighted composite. Candidates rejected
// by the hard filter score zero across the board.
func (HeuristicCandidateScorer) Score(_ context.Context, in CandidateInput) (CandidateScore, error) {
	if !in.HardFilter.Passes {
		return CandidateScore{Summary: "Rejected by hard filters"}, nil
	}

	educationFit := 0
	for _, t := range in.Preference.CollegeTiers {
		if t == in.Tier {
			educationFit = 100
			break
		}
	}

	experienceFit := 0
	if in.Years >= in.Preference.MinExperienceYears && in.Years <= in.Preference.MaxExperienceYears {
		experienceFit = 100
	}

	codingFit := 70 // neutral when the recruiter set no criteria
	if len(in.Comparisons) > 0 {
		matched := 0
		for _, c := range in.Comparisons {
			if c.Matched {
				matched++
			}
		}
		codingFit = 100 * matched / len(in.Comparisons)
	}

	jdRelevance := relevanceScore(in.JobDescription, in.Normalized.SkillsText+" "+in.Normalized.ProjectsText)

	final := round2(educationWeight*float64(educationFit) +
		experienceWeight*float64(experienceFit) +
		codingWeight*float64(codingFit) +
		relevanceWeight*float64(jdRelevance))

	return CandidateScore{
		SubScores: SubScores{
			EducationFit:  educationFit,
			ExperienceFit: experienceFit,
			CodingFit:     codingFit,
			JDRelevance:   jdRelevance,
		},
		FinalScore: final,
		Summary:    "Composite candidate fit score",
	}, nil
}

// relevanceScore counts distinct job-description tokens (first 40, length >3)
// that appear in the candidate's profile text, 5 points each, capped at 100.
func relevanceScore(jobDescription, profileText string) int {
	tokens := strings.Fields(strings.ToLower(jobDescription))
	if len(tokens) > 40 {
		tokens = tokens[:40]
	}
	profile := strings.ToLower(profileText)

	seen := map[string]bool{}
	hits := 0
	for _, token := range tokens {
		if len(token) <= 3 || seen[token] {
			continue
		}
		seen[token] = true
		if strings.Contains(profile, token) {
			hits++
		}
	}
	if hits*5 > 100 {
		return 100
	}
	return hits * 5
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
