package run

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobmatch/matching-service/internal/preference"
)

// MemoryStore is an in-memory Store used by tests and single-process
// deployments. All methods copy records on the way in and out so callers
// never share memory with the store.
type MemoryStore struct {
	mu          sync.Mutex
	matching    map[string]MatchingRun
	ranking     map[string]RankingRun
	traces      map[string][]TraceEvent
	preferences map[string]preference.Preference
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matching:    make(map[string]MatchingRun),
		ranking:     make(map[string]RankingRun),
		traces:      make(map[string][]TraceEvent),
		preferences: make(map[string]preference.Preference),
	}
}

func (m *MemoryStore) CreateMatchingRun(_ context.Context, run *MatchingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	m.matching[run.ID] = copyMatching(*run)
	return nil
}

func (m *MemoryStore) GetMatchingRun(_ context.Context, id string) (*MatchingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.matching[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyMatching(run)
	return &out, nil
}

func (m *MemoryStore) ListMatchingRuns(_ context.Context, userID string, limit, offset int) ([]MatchingRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]MatchingRun, 0, len(m.matching))
	for _, run := range m.matching {
		if run.UserID == userID {
			runs = append(runs, copyMatching(run))
		}
	}
	sortNewestFirst(runs, func(r MatchingRun) (time.Time, string) { return r.CreatedAt, r.ID })
	total := len(runs)
	return page(runs, limit, offset), total, nil
}

func (m *MemoryStore) TransitionMatching(_ context.Context, id string, from, to Status, update MatchingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.matching[id]
	if !ok {
		return false, ErrNotFound
	}
	if run.Status != from || !IsMatchingTransitionAllowed(from, to) {
		return false, nil
	}

	run.Status = to
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.FilteredJobsCount != nil {
		run.FilteredJobsCount = *update.FilteredJobsCount
	}
	if update.Timings != nil {
		run.Timings = *update.Timings
	}
	if update.Results != nil {
		run.Results = update.Results
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	m.matching[id] = copyMatching(run)
	return true, nil
}

func (m *MemoryStore) CreateRankingRun(_ context.Context, run *RankingRun, forceRecompute bool) (*RankingRun, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceRecompute {
		// Reuse lookup happens under the same lock as creation so two
		// concurrent requests cannot both create fresh runs.
		var newest *RankingRun
		for id := range m.ranking {
			existing := m.ranking[id]
			if existing.JobID != run.JobID || existing.Status != StatusCompleted {
				continue
			}
			if newest == nil || existing.CreatedAt.After(newest.CreatedAt) {
				reusable := copyRanking(existing)
				newest = &reusable
			}
		}
		if newest != nil {
			return newest, true, nil
		}
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	m.ranking[run.ID] = copyRanking(*run)
	created := copyRanking(*run)
	return &created, false, nil
}

func (m *MemoryStore) GetRankingRun(_ context.Context, id string) (*RankingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.ranking[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRanking(run)
	return &out, nil
}

func (m *MemoryStore) ListRankingRuns(_ context.Context, jobID string, limit, offset int) ([]RankingRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]RankingRun, 0, len(m.ranking))
	for _, run := range m.ranking {
		if run.JobID == jobID {
			runs = append(runs, copyRanking(run))
		}
	}
	sortNewestFirst(runs, func(r RankingRun) (time.Time, string) { return r.CreatedAt, r.ID })
	total := len(runs)
	return page(runs, limit, offset), total, nil
}

func (m *MemoryStore) TransitionRanking(_ context.Context, id string, from, to Status, update RankingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.ranking[id]
	if !ok {
		return false, ErrNotFound
	}
	if run.Status != from || !IsRankingTransitionAllowed(from, to) {
		return false, nil
	}

	run.Status = to
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.ModelName != nil {
		run.ModelName = *update.ModelName
	}
	if update.TotalCandidates != nil {
		run.TotalCandidates = *update.TotalCandidates
	}
	if update.ShortlistedCount != nil {
		run.ShortlistedCount = *update.ShortlistedCount
	}
	if update.Timings != nil {
		run.Timings = *update.Timings
	}
	if update.Results != nil {
		run.Results = update.Results
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	m.ranking[id] = copyRanking(run)
	return true, nil
}

func (m *MemoryStore) SetRankingProgress(_ context.Context, id string, total, processed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.ranking[id]
	if !ok {
		return ErrNotFound
	}
	run.TotalCandidates = total
	run.ProcessedCandidates = processed
	m.ranking[id] = run
	return nil
}

func (m *MemoryStore) AppendTrace(_ context.Context, event TraceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.traces[event.RunID] = append(m.traces[event.RunID], event)
	return nil
}

func (m *MemoryStore) ListTraces(_ context.Context, runID string) ([]TraceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.traces[runID]
	out := make([]TraceEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) UpsertActivePreference(_ context.Context, userID string, pref preference.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[userID] = pref
	return nil
}

func (m *MemoryStore) GetActivePreference(_ context.Context, userID string) (*preference.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pref, ok := m.preferences[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := pref
	return &out, nil
}

func (m *MemoryStore) ListStalePending(_ context.Context, cutoff time.Time) ([]StaleRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []StaleRun
	for _, run := range m.matching {
		if run.Status == StatusPending && run.CreatedAt.Before(cutoff) {
			stale = append(stale, StaleRun{ID: run.ID, Kind: "matching"})
		}
	}
	for _, run := range m.ranking {
		if run.Status == StatusPending && run.CreatedAt.Before(cutoff) {
			stale = append(stale, StaleRun{ID: run.ID, Kind: "ranking"})
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale, nil
}

// ─── copy helpers ────────────────────────────────────────────────────────────

func copyMatching(run MatchingRun) MatchingRun {
	out := run
	out.Results = append([]MatchingResult(nil), run.Results...)
	if run.Timings.DeterministicMetrics != nil {
		metrics := *run.Timings.DeterministicMetrics
		out.Timings.DeterministicMetrics = &metrics
	}
	return out
}

func copyRanking(run RankingRun) RankingRun {
	out := run
	out.Results = make([]RankingResult, len(run.Results))
	for i, r := range run.Results {
		out.Results[i] = r
		out.Results[i].FilterReasons = append([]string(nil), r.FilterReasons...)
	}
	return out
}

func sortNewestFirst[T any](runs []T, key func(T) (time.Time, string)) {
	sort.SliceStable(runs, func(i, j int) bool {
		ti, idi := key(runs[i])
		tj, idj := key(runs[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi > idj
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
