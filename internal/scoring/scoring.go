// Package scoring defines the pluggable scoring stage invoked by the run
// orchestrator and supplies deterministic default implementations.
//
// The orchestrator depends only on the JobScorer and CandidateScorer
// interfaces; model-backed scorers can be swapped in without touching the
// pipeline. Scores are normalized: job scores to [0,1], candidate sub-scores
// to [0,100].
package scoring

import (
	"context"

	"jobmatch/matching-service/internal/candidate"
	"jobmatch/matching-service/internal/model"
	"jobmatch/matching-service/internal/preference"
)

// CandidateProfile is the optional self-reported profile attached to a
// matching run submission.
type CandidateProfile struct {
	CareerStage   string `json:"career_stage,omitempty"`
	RiskTolerance string `json:"risk_tolerance,omitempty"`
}

// ScoredJob is one job's scoring outcome.
type ScoredJob struct {
	Job                  model.Job
	FitScore             float64
	QualityScore         float64
	SelectionProbability float64
	Why                  string
	FitReasons           []string
}

// JobScorer computes per-job sub-scores and a selection probability for a
// batch of filtered jobs.
type JobScorer interface {
	ScoreBatch(ctx context.Context, jobs []model.Job, pref *preference.Preference, profile CandidateProfile) ([]ScoredJob, error)
}

// SubScores are the candidate-side component scores, each in [0,100].
type SubScores struct {
	EducationFit  int `json:"education_fit"`
	ExperienceFit int `json:"experience_fit"`
	CodingFit     int `json:"coding_fit"`
	JDRelevance   int `json:"jd_relevance"`
}

// CandidateInput bundles everything the candidate scorer needs for one
// candidate.
type CandidateInput struct {
	Normalized     candidate.Normalized
	HardFilter     candidate.HardFilterOutcome
	Tier           string
	Years          float64
	Comparisons    []candidate.Comparison
	Preference     *model.RecruiterPreference
	JobDescription string
}

// CandidateScore is one candidate's composite outcome.
type CandidateScore struct {
	SubScores  SubScores
	FinalScore float64
	Summary    string
}

// CandidateScorer computes sub-scores and a final composite score for a
// candidate that went through the hard filter.
type CandidateScorer interface {
	Score(ctx context.Context, in CandidateInput) (CandidateScore, error)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
