package run

import (
	"context"
	"errors"
	"time"

	"jobmatch/matching-service/internal/filtering"
	"jobmatch/matching-service/internal/preference"
	"jobmatch/matching-service/internal/scoring"
)

// ErrNotFound is returned when a run is missing or not owned by the caller.
var ErrNotFound = errors.New("run not found")

// RunError is the terminal error recorded on a FAILED run. Every FAILED run
// carries a non-empty code and message.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MatchingTimings captures per-stage wall-clock durations of a matching run.
type MatchingTimings struct {
	FilteringMS          int64              `json:"filtering_ms"`
	AgentMSTotal         int64              `json:"agent_ms_total"`
	TotalMS              int64              `json:"total_ms"`
	DeterministicMetrics *filtering.Metrics `json:"deterministic_metrics,omitempty"`
}

// MatchingResult is one ranked job in a completed matching run.
type MatchingResult struct {
	Rank                 int     `json:"rank"`
	JobID                string  `json:"job_id"`
	SelectionProbability float64 `json:"selection_probability"`
	FitScore             float64 `json:"fit_score"`
	JobQualityScore      float64 `json:"job_quality_score"`
	Why                  string  `json:"why"`
}

// MatchingRun is a single execution of the job-matching pipeline. Created
// PENDING at submission, mutated only by the orchestrator, never deleted.
type MatchingRun struct {
	ID                string
	UserID            string
	Status            Status
	Preference        preference.Preference
	Profile           scoring.CandidateProfile
	FilteredJobsCount int
	Timings           MatchingTimings
	Results           []MatchingResult
	Error             *RunError
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// RankingTimings captures per-stage wall-clock durations of a ranking run.
type RankingTimings struct {
	NormalizeMS  int64 `json:"candidate_normalizer_ms"`
	TierMS       int64 `json:"college_tier_ms"`
	ExperienceMS int64 `json:"experience_ms"`
	CodingMS     int64 `json:"coding_signal_ms"`
	HardFilterMS int64 `json:"hard_filter_ms"`
	FitScoringMS int64 `json:"fit_scoring_ms"`
	RankerMS     int64 `json:"ranker_ms"`
	TotalMS      int64 `json:"total_ms"`
}

// RankingResult is one ranked candidate in a completed ranking run.
type RankingResult struct {
	Rank             int               `json:"rank"`
	CandidateID      string            `json:"candidate_id"`
	IsShortlisted    bool              `json:"is_shortlisted"`
	PassesHardFilter bool              `json:"passes_hard_filter"`
	FinalScore       float64           `json:"final_score"`
	SubScores        scoring.SubScores `json:"sub_scores"`
	FilterReasons    []string          `json:"filter_reasons"`
	Summary          string            `json:"summary"`
}

// RankingRun is a single execution of the candidate-ranking pipeline,
// keyed by the job whose candidates it ranks.
type RankingRun struct {
	ID                  string
	JobID               string
	Status              Status
	BatchSize           int
	ModelName           string
	TotalCandidates     int
	ProcessedCandidates int
	ShortlistedCount    int
	Timings             RankingTimings
	Results             []RankingResult
	Error               *RunError
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// TraceEvent is an append-only record of one pipeline stage execution,
// write-once and owned exclusively by the run that produced it.
type TraceEvent struct {
	ID           string
	RunID        string
	CandidateID  string
	Stage        string
	AgentName    string
	Status       string // OK | ERROR
	ErrorCode    string
	ErrorMessage string
	LatencyMS    int64
	CreatedAt    time.Time
}

// MatchingUpdate carries the fields written together with a matching-run
// status transition. Nil fields are left untouched.
type MatchingUpdate struct {
	StartedAt         *time.Time
	FilteredJobsCount *int
	Timings           *MatchingTimings
	Results           []MatchingResult
	CompletedAt       *time.Time
	Error             *RunError
}

// RankingUpdate carries the fields written together with a ranking-run
// status transition. Nil fields are left untouched.
type RankingUpdate struct {
	StartedAt        *time.Time
	ModelName        *string
	TotalCandidates  *int
	ShortlistedCount *int
	Timings          *RankingTimings
	Results          []RankingResult
	CompletedAt      *time.Time
	Error            *RunError
}

// StaleRun identifies a run stuck in PENDING past the reconciliation age.
type StaleRun struct {
	ID   string
	Kind string // "matching" | "ranking"
}

// Store persists run records and trace events. Implementations must make
// Transition* a guarded compare-and-set: the write happens only if the run
// is still in the expected prior status, so duplicate task delivery cannot
// regress the state machine. Reads never block on run execution.
type Store interface {
	CreateMatchingRun(ctx context.Context, run *MatchingRun) error
	GetMatchingRun(ctx context.Context, id string) (*MatchingRun, error)
	ListMatchingRuns(ctx context.Context, userID string, limit, offset int) ([]MatchingRun, int, error)
	// TransitionMatching atomically moves the run from → to and applies
	// update. Returns false (and no error) when the run was not in from.
	TransitionMatching(ctx context.Context, id string, from, to Status, update MatchingUpdate) (bool, error)

	// CreateRankingRun creates the run, or — when forceRecompute is false
	// and a COMPLETED run exists for the same job — returns that run with
	// reused=true instead, inside the same transactional boundary to avoid
	// racing duplicate creation.
	CreateRankingRun(ctx context.Context, run *RankingRun, forceRecompute bool) (*RankingRun, bool, error)
	GetRankingRun(ctx context.Context, id string) (*RankingRun, error)
	ListRankingRuns(ctx context.Context, jobID string, limit, offset int) ([]RankingRun, int, error)
	TransitionRanking(ctx context.Context, id string, from, to Status, update RankingUpdate) (bool, error)
	// SetRankingProgress is a plain progress write, not a transition.
	SetRankingProgress(ctx context.Context, id string, total, processed int) error

	AppendTrace(ctx context.Context, event TraceEvent) error
	ListTraces(ctx context.Context, runID string) ([]TraceEvent, error)

	// UpsertActivePreference replaces the user's single active preference.
	UpsertActivePreference(ctx context.Context, userID string, pref preference.Preference) error
	GetActivePreference(ctx context.Context, userID string) (*preference.Preference, error)

	// ListStalePending returns runs still PENDING that were created before
	// cutoff, for the reconciliation sweep.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]StaleRun, error)
}
