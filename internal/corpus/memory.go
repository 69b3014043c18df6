package corpus

import (
	"context"
	"sort"
	"sync"

	"jobmatch/matching-service/internal/model"
)

// Memory is an in-memory Source for tests and seeded single-process runs.
type Memory struct {
	mu          sync.RWMutex
	jobs        []model.Job
	taskJobs    map[string]model.TaskJob
	candidates  map[string][]model.Candidate
	preferences map[string]model.RecruiterPreference
}

// NewMemory returns an empty in-memory corpus.
func NewMemory() *Memory {
	return &Memory{
		taskJobs:    make(map[string]model.TaskJob),
		candidates:  make(map[string][]model.Candidate),
		preferences: make(map[string]model.RecruiterPreference),
	}
}

// SeedJobs replaces the posting corpus.
func (m *Memory) SeedJobs(jobs []model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append([]model.Job(nil), jobs...)
}

// SeedTaskJob adds a recruiter job opening.
func (m *Memory) SeedTaskJob(job model.TaskJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskJobs[job.ID] = job
}

// SeedCandidates replaces a job's candidate list.
func (m *Memory) SeedCandidates(jobID string, candidates []model.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[jobID] = append([]model.Candidate(nil), candidates...)
}

func (m *Memory) Jobs(_ context.Context) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Job(nil), m.jobs...), nil
}

func (m *Memory) TaskJob(_ context.Context, jobID string) (*model.TaskJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.taskJobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (m *Memory) Candidates(_ context.Context, jobID string) ([]model.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.Candidate(nil), m.candidates[jobID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) RecruiterPreference(_ context.Context, jobID string) (*model.RecruiterPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pref, ok := m.preferences[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := pref
	out.CollegeTiers = append([]string(nil), pref.CollegeTiers...)
	out.CodingCriteria = append([]model.CodingCriterion(nil), pref.CodingCriteria...)
	return &out, nil
}

func (m *Memory) UpsertRecruiterPreference(_ context.Context, pref *model.RecruiterPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *pref
	stored.CollegeTiers = append([]string(nil), pref.CollegeTiers...)
	stored.CodingCriteria = append([]model.CodingCriterion(nil), pref.CodingCriteria...)
	m.preferences[pref.JobID] = stored
	return nil
}
