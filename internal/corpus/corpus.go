// Package corpus provides read access to the job and candidate corpus plus
// recruiter preferences. The corpus is owned by upstream ingestion services;
// this service only reads it during filtering, except for the recruiter
// preference upsert it exposes on behalf of recruiters.
package corpus

import (
	"context"
	"errors"

	"jobmatch/matching-service/internal/model"
)

// ErrNotFound is returned when a job or preference does not exist.
var ErrNotFound = errors.New("not found")

// Source is the corpus access capability the orchestrator depends on.
type Source interface {
	// Jobs returns the full posting corpus considered by matching runs.
	Jobs(ctx context.Context) ([]model.Job, error)
	// TaskJob returns the recruiter job opening by id.
	TaskJob(ctx context.Context, jobID string) (*model.TaskJob, error)
	// Candidates returns a job's imported candidates, oldest first with id
	// tie-break, so ranking input order is deterministic.
	Candidates(ctx context.Context, jobID string) ([]model.Candidate, error)
	// RecruiterPreference returns the job's eligibility spec.
	RecruiterPreference(ctx context.Context, jobID string) (*model.RecruiterPreference, error)
	// UpsertRecruiterPreference replaces the job's eligibility spec.
	UpsertRecruiterPreference(ctx context.Context, pref *model.RecruiterPreference) error
}
