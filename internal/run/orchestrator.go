package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmatch/matching-service/internal/candidate"
	"jobmatch/matching-service/internal/corpus"
	"jobmatch/matching-service/internal/dispatch"
	"jobmatch/matching-service/internal/filtering"
	"jobmatch/matching-service/internal/model"
	"jobmatch/matching-service/internal/preference"
	"jobmatch/matching-service/internal/scoring"
)

// Pipeline error codes persisted on FAILED runs.
const (
	ErrCodeCorpusRead        = "CORPUS_READ_ERROR"
	ErrCodeAgentPipeline     = "AGENT_PIPELINE_ERROR"
	ErrCodeRankingPipeline   = "RANKING_PIPELINE_ERROR"
	ErrCodeMissingPreference = "MISSING_PREFERENCE"
)

// TopJobsCount is how many scored jobs a completed matching run retains.
const TopJobsCount = 5

// defaultScoreBatch bounds how many jobs go to the scorer per invocation.
const defaultScoreBatch = 50

// DefaultRankingBatchSize applies when a ranking submission omits batch_size.
const DefaultRankingBatchSize = 10

// maxRankingBatchSize bounds a submitted batch_size.
const maxRankingBatchSize = 100

// Orchestrator owns both run state machines: creation, stage transitions,
// timing capture, completion and failure recording, and reuse-on-request.
// It is the only component that mutates run records.
type Orchestrator struct {
	store      Store
	corpus     corpus.Source
	jobScorer  scoring.JobScorer
	candScorer scoring.CandidateScorer
	tiers      candidate.TierClassifier
	dispatcher dispatch.Dispatcher
	log        *zap.Logger
	modelName  string
	scoreBatch int
}

// NewOrchestrator wires an Orchestrator. The dispatcher is attached
// separately with SetDispatcher because the usual production dispatcher
// (queue with inline fallback) closes over the orchestrator itself.
func NewOrchestrator(store Store, src corpus.Source, jobScorer scoring.JobScorer, candScorer scoring.CandidateScorer, tiers candidate.TierClassifier, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		store:      store,
		corpus:     src,
		jobScorer:  jobScorer,
		candScorer: candScorer,
		tiers:      tiers,
		log:        log,
		modelName:  "heuristic-v1",
		scoreBatch: defaultScoreBatch,
	}
}

// SetDispatcher attaches the dispatch capability used after run creation.
func (o *Orchestrator) SetDispatcher(d dispatch.Dispatcher) { o.dispatcher = d }

// ─── Matching runs ───────────────────────────────────────────────────────────

// CreateMatchingRun validates the submission, persists a PENDING run and
// attempts dispatch. The returned record is the PENDING snapshot taken at
// creation regardless of which execution path the dispatcher takes.
func (o *Orchestrator) CreateMatchingRun(ctx context.Context, userID string, sub preference.Submission, profile scoring.CandidateProfile) (*MatchingRun, error) {
	pref, err := preference.Normalize(sub)
	if err != nil {
		return nil, err
	}

	if sub.Save() {
		if err := o.store.UpsertActivePreference(ctx, userID, *pref); err != nil {
			return nil, fmt.Errorf("upsert active preference: %w", err)
		}
	}

	run := &MatchingRun{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     StatusPending,
		Preference: *pref,
		Profile:    profile,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.CreateMatchingRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create matching run: %w", err)
	}
	snapshot := *run

	o.dispatch(ctx, dispatch.Task{Kind: dispatch.KindMatching, RunID: run.ID})
	return &snapshot, nil
}

// GetMatchingRun returns the run, scoped to its owner.
func (o *Orchestrator) GetMatchingRun(ctx context.Context, userID, id string) (*MatchingRun, error) {
	run, err := o.store.GetMatchingRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, ErrNotFound
	}
	return run, nil
}

// ListMatchingRuns returns the caller's runs, newest first.
func (o *Orchestrator) ListMatchingRuns(ctx context.Context, userID string, limit, offset int) ([]MatchingRun, int, error) {
	return o.store.ListMatchingRuns(ctx, userID, limit, offset)
}

// ExecuteMatching drives one matching run through the pipeline. Safe under
// duplicate delivery: every stage transition is a compare-and-set, so a
// second attempt finds the expected prior state gone and stops.
func (o *Orchestrator) ExecuteMatching(ctx context.Context, runID string) error {
	run, err := o.store.GetMatchingRun(ctx, runID)
	if errors.Is(err, ErrNotFound) {
		o.log.Warn("matching task for unknown run", zap.String("run_id", runID))
		return nil
	}
	if err != nil {
		return err
	}
	if IsTerminal(run.Status) {
		return nil
	}

	started := time.Now()
	startedAt := started.UTC()
	ok, err := o.store.TransitionMatching(ctx, runID, StatusPending, StatusFiltering, MatchingUpdate{StartedAt: &startedAt})
	if err != nil {
		return err
	}
	if !ok {
		o.log.Info("stale matching delivery ignored", zap.String("run_id", runID))
		return nil
	}

	filterStart := time.Now()
	jobs, err := o.corpus.Jobs(ctx)
	if err != nil {
		o.trace(ctx, runID, "", "deterministic_filter", "DeterministicFilterEngine", err, ms(filterStart))
		o.failMatching(ctx, runID, StatusFiltering, ErrCodeCorpusRead, err.Error())
		return nil
	}
	result := filtering.Filter(jobs, &run.Preference)
	filteringMS := ms(filterStart)
	o.trace(ctx, runID, "", "deterministic_filter", "DeterministicFilterEngine", nil, filteringMS)

	metrics := result.Metrics
	timings := MatchingTimings{
		FilteringMS:          filteringMS,
		DeterministicMetrics: &metrics,
	}

	if result.TotalConsidered == 0 {
		// An empty filter result is a valid outcome: the run completes with
		// zero results and no scoring stage.
		timings.TotalMS = ms(started)
		now := time.Now().UTC()
		zero := 0
		_, err := o.store.TransitionMatching(ctx, runID, StatusFiltering, StatusCompleted, MatchingUpdate{
			FilteredJobsCount: &zero,
			Timings:           &timings,
			Results:           []MatchingResult{},
			CompletedAt:       &now,
		})
		return err
	}

	filtered := result.TotalConsidered
	ok, err = o.store.TransitionMatching(ctx, runID, StatusFiltering, StatusAgentRunning, MatchingUpdate{
		FilteredJobsCount: &filtered,
		Timings:           &timings,
	})
	if err != nil {
		return err
	}
	if !ok {
		o.log.Info("stale matching delivery ignored", zap.String("run_id", runID))
		return nil
	}

	agentStart := time.Now()
	scored := make([]scoring.ScoredJob, 0, len(result.Jobs))
	for start := 0; start < len(result.Jobs); start += o.scoreBatch {
		end := start + o.scoreBatch
		if end > len(result.Jobs) {
			end = len(result.Jobs)
		}
		batch, err := o.jobScorer.ScoreBatch(ctx, result.Jobs[start:end], &run.Preference, run.Profile)
		if err != nil {
			o.trace(ctx, runID, "", "agent_scoring", "JobScoringAgent", err, ms(agentStart))
			o.failMatching(ctx, runID, StatusAgentRunning, ErrCodeAgentPipeline, err.Error())
			return nil
		}
		scored = append(scored, batch...)
	}
	o.trace(ctx, runID, "", "agent_scoring", "JobScoringAgent", nil, ms(agentStart))

	top := scoring.TopJobs(scored, TopJobsCount)
	results := make([]MatchingResult, 0, len(top))
	for i, s := range top {
		results = append(results, MatchingResult{
			Rank:                 i + 1,
			JobID:                s.Job.ID,
			SelectionProbability: s.SelectionProbability,
			FitScore:             s.FitScore,
			JobQualityScore:      s.QualityScore,
			Why:                  s.Why,
		})
	}

	timings.AgentMSTotal = ms(agentStart)
	timings.TotalMS = ms(started)
	now := time.Now().UTC()
	_, err = o.store.TransitionMatching(ctx, runID, StatusAgentRunning, StatusCompleted, MatchingUpdate{
		Timings:     &timings,
		Results:     results,
		CompletedAt: &now,
	})
	return err
}

// ─── Ranking runs ────────────────────────────────────────────────────────────

// CreateRankingRun validates the request, persists (or reuses) a run and
// attempts dispatch. A missing job yields ErrNotFound; a missing recruiter
// preference is a validation failure — no run record is created either way.
func (o *Orchestrator) CreateRankingRun(ctx context.Context, jobID string, batchSize int, forceRecompute bool) (*RankingRun, bool, error) {
	if jobID == "" {
		return nil, false, &preference.ValidationError{Fields: map[string]string{"job_id": "This field is required."}}
	}
	if _, err := o.corpus.TaskJob(ctx, jobID); err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	if _, err := o.corpus.RecruiterPreference(ctx, jobID); err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			return nil, false, &preference.ValidationError{Fields: map[string]string{
				"recruiter_preference": "Recruiter preference not found for the job.",
			}}
		}
		return nil, false, err
	}

	if batchSize == 0 {
		batchSize = DefaultRankingBatchSize
	}
	if batchSize < 1 || batchSize > maxRankingBatchSize {
		return nil, false, &preference.ValidationError{Fields: map[string]string{
			"batch_size": fmt.Sprintf("Must be between 1 and %d.", maxRankingBatchSize),
		}}
	}

	run := &RankingRun{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Status:    StatusPending,
		BatchSize: batchSize,
		CreatedAt: time.Now().UTC(),
	}
	stored, reused, err := o.store.CreateRankingRun(ctx, run, forceRecompute)
	if err != nil {
		return nil, false, fmt.Errorf("create ranking run: %w", err)
	}
	if reused {
		return stored, true, nil
	}

	o.dispatch(ctx, dispatch.Task{Kind: dispatch.KindRanking, RunID: stored.ID})
	return stored, false, nil
}

// GetRankingRun returns the run by id.
func (o *Orchestrator) GetRankingRun(ctx context.Context, id string) (*RankingRun, error) {
	return o.store.GetRankingRun(ctx, id)
}

// ListRankingRuns returns a job's runs, newest first.
func (o *Orchestrator) ListRankingRuns(ctx context.Context, jobID string, limit, offset int) ([]RankingRun, int, error) {
	return o.store.ListRankingRuns(ctx, jobID, limit, offset)
}

// ExecuteRanking drives one candidate ranking run through the pipeline.
func (o *Orchestrator) ExecuteRanking(ctx context.Context, runID string) error {
	run, err := o.store.GetRankingRun(ctx, runID)
	if errors.Is(err, ErrNotFound) {
		o.log.Warn("ranking task for unknown run", zap.String("run_id", runID))
		return nil
	}
	if err != nil {
		return err
	}
	if IsTerminal(run.Status) {
		return nil
	}

	pref, err := o.corpus.RecruiterPreference(ctx, run.JobID)
	if err != nil {
		// The precondition is re-checked at execution time: the preference
		// may have been deleted between creation and dispatch.
		code, msg := ErrCodeCorpusRead, err.Error()
		if errors.Is(err, corpus.ErrNotFound) {
			code, msg = ErrCodeMissingPreference, "Recruiter preference not found for the job."
		}
		o.failRanking(ctx, runID, StatusPending, code, msg)
		return nil
	}

	jobDescription := ""
	if job, err := o.corpus.TaskJob(ctx, run.JobID); err == nil {
		jobDescription = job.Description
	}

	started := time.Now()
	startedAt := started.UTC()
	ok, err := o.store.TransitionRanking(ctx, runID, StatusPending, StatusRunning, RankingUpdate{
		StartedAt: &startedAt,
		ModelName: &o.modelName,
	})
	if err != nil {
		return err
	}
	if !ok {
		o.log.Info("stale ranking delivery ignored", zap.String("run_id", runID))
		return nil
	}

	candidates, err := o.corpus.Candidates(ctx, run.JobID)
	if err != nil {
		o.failRanking(ctx, runID, StatusRunning, ErrCodeCorpusRead, err.Error())
		return nil
	}

	var timings RankingTimings
	rows := make([]scoredCandidate, 0, len(candidates))
	processed := 0

	for start := 0; start < len(candidates); start += run.BatchSize {
		end := start + run.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		for _, cand := range candidates[start:end] {
			row, err := o.rankOne(ctx, runID, cand, pref, jobDescription, &timings)
			if err != nil {
				o.failRanking(ctx, runID, StatusRunning, ErrCodeRankingPipeline, err.Error())
				return nil
			}
			rows = append(rows, row)

			processed++
			if err := o.store.SetRankingProgress(ctx, runID, len(candidates), processed); err != nil {
				o.log.Warn("ranking progress write failed", zap.String("run_id", runID), zap.Error(err))
			}
		}
	}

	rankerStart := time.Now()
	results := rankCandidates(rows, pref.NumberOfOpenings)
	timings.RankerMS = ms(rankerStart)
	timings.TotalMS = ms(started)

	shortlisted := 0
	for _, r := range results {
		if r.IsShortlisted {
			shortlisted++
		}
	}

	total := len(candidates)
	now := time.Now().UTC()
	_, err = o.store.TransitionRanking(ctx, runID, StatusRunning, StatusCompleted, RankingUpdate{
		TotalCandidates:  &total,
		ShortlistedCount: &shortlisted,
		Timings:          &timings,
		Results:          results,
		CompletedAt:      &now,
	})
	return err
}

// scoredCandidate keeps the per-candidate outcome plus the ordering keys
// the ranker breaks ties with.
type scoredCandidate struct {
	result    RankingResult
	codingFit int
	expFit    int
	createdAt time.Time
	id        string
}

// rankOne runs the per-candidate stages, appending a trace event per stage.
func (o *Orchestrator) rankOne(ctx context.Context, runID string, cand model.Candidate, pref *model.RecruiterPreference, jobDescription string, timings *RankingTimings) (scoredCandidate, error) {
	t := time.Now()
	normalized := candidate.Normalize(cand)
	timings.NormalizeMS += ms(t)
	o.trace(ctx, runID, cand.ID, "candidate_normalizer", "CandidateNormalizerAgent", nil, ms(t))

	t = time.Now()
	tier := o.tiers.Classify(ctx, normalized.EducationText)
	timings.TierMS += ms(t)
	o.trace(ctx, runID, cand.ID, "college_tier", "CollegeTierClassifierAgent", nil, ms(t))

	t = time.Now()
	years := candidate.ExperienceYears(normalized.ExperienceText)
	timings.ExperienceMS += ms(t)
	o.trace(ctx, runID, cand.ID, "experience", "ExperienceExtractionAgent", nil, ms(t))

	t = time.Now()
	signals := candidate.CodingSignals(normalized)
	comparisons := candidate.CompareCriteria(signals, pref.CodingCriteria)
	timings.CodingMS += ms(t)
	o.trace(ctx, runID, cand.ID, "coding_signal", "CodingProfileSignalAgent", nil, ms(t))

	t = time.Now()
	outcome := candidate.HardFilter(pref, tier.Tier, years, comparisons)
	timings.HardFilterMS += ms(t)
	o.trace(ctx, runID, cand.ID, "hard_filter", "HardFilterAgent", nil, ms(t))

	t = time.Now()
	score, err := o.candScorer.Score(ctx, scoring.CandidateInput{
		Normalized:     normalized,
		HardFilter:     outcome,
		Tier:           tier.Tier,
		Years:          years,
		Comparisons:    comparisons,
		Preference:     pref,
		JobDescription: jobDescription,
	})
	timings.FitScoringMS += ms(t)
	o.trace(ctx, runID, cand.ID, "fit_scoring", "FitScoringAgent", err, ms(t))
	if err != nil {
		return scoredCandidate{}, fmt.Errorf("fit scoring for candidate %s: %w", cand.ID, err)
	}

	return scoredCandidate{
		result: RankingResult{
			CandidateID:      cand.ID,
			PassesHardFilter: outcome.Passes,
			FinalScore:       score.FinalScore,
			SubScores:        score.SubScores,
			FilterReasons:    outcome.Reasons,
			Summary:          score.Summary,
		},
		codingFit: score.SubScores.CodingFit,
		expFit:    score.SubScores.ExperienceFit,
		createdAt: cand.CreatedAt,
		id:        cand.ID,
	}, nil
}

// rankCandidates orders candidates best-first and marks the top openings as
// shortlisted. Tie-breaks keep the order total and deterministic.
func rankCandidates(rows []scoredCandidate, openings int) []RankingResult {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].result.FinalScore != rows[j].result.FinalScore {
			return rows[i].result.FinalScore > rows[j].result.FinalScore
		}
		if rows[i].codingFit != rows[j].codingFit {
			return rows[i].codingFit > rows[j].codingFit
		}
		if rows[i].expFit != rows[j].expFit {
			return rows[i].expFit > rows[j].expFit
		}
		if !rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].createdAt.Before(rows[j].createdAt)
		}
		return rows[i].id < rows[j].id
	})

	results := make([]RankingResult, 0, len(rows))
	for i, row := range rows {
		r := row.result
		r.Rank = i + 1
		r.IsShortlisted = r.Rank <= openings
		results = append(results, r)
	}
	return results
}

// ─── Reconciliation ──────────────────────────────────────────────────────────

// ResubmitStalePending re-dispatches runs still PENDING since before cutoff.
// A process that crashed between persisting PENDING and completing dispatch
// leaves such runs behind; re-dispatch is safe because execution start is a
// compare-and-set, so a duplicate delivery cannot start a second attempt.
func (o *Orchestrator) ResubmitStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := o.store.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}
	for _, s := range stale {
		kind := dispatch.KindMatching
		if s.Kind == "ranking" {
			kind = dispatch.KindRanking
		}
		o.log.Info("resubmitting stale pending run", zap.String("run_id", s.ID), zap.String("kind", s.Kind))
		o.dispatch(ctx, dispatch.Task{Kind: kind, RunID: s.ID})
	}
	return len(stale), nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (o *Orchestrator) dispatch(ctx context.Context, task dispatch.Task) {
	if o.dispatcher == nil {
		o.log.Warn("no dispatcher attached, run left pending", zap.String("run_id", task.RunID))
		return
	}
	if err := o.dispatcher.Dispatch(ctx, task); err != nil {
		// Dispatch errors are recovered by the reconciliation sweep; the
		// client still gets its PENDING snapshot.
		o.log.Warn("dispatch failed", zap.String("task", task.Kind), zap.String("run_id", task.RunID), zap.Error(err))
	}
}

func (o *Orchestrator) failMatching(ctx context.Context, runID string, from Status, code, message string) {
	ok, err := o.store.TransitionMatching(ctx, runID, from, StatusFailed, MatchingUpdate{
		Error: &RunError{Code: code, Message: message},
	})
	if err != nil || !ok {
		o.log.Error("recording matching failure", zap.String("run_id", runID), zap.String("code", code), zap.Bool("applied", ok), zap.Error(err))
		return
	}
	o.log.Warn("matching run failed", zap.String("run_id", runID), zap.String("code", code), zap.String("message", message))
}

func (o *Orchestrator) failRanking(ctx context.Context, runID string, from Status, code, message string) {
	ok, err := o.store.TransitionRanking(ctx, runID, from, StatusFailed, RankingUpdate{
		Error: &RunError{Code: code, Message: message},
	})
	if err != nil || !ok {
		o.log.Error("recording ranking failure", zap.String("run_id", runID), zap.String("code", code), zap.Bool("applied", ok), zap.Error(err))
		return
	}
	o.log.Warn("ranking run failed", zap.String("run_id", runID), zap.String("code", code), zap.String("message", message))
}

func (o *Orchestrator) trace(ctx context.Context, runID, candidateID, stage, agent string, stageErr error, latencyMS int64) {
	event := TraceEvent{
		ID:          uuid.NewString(),
		RunID:       runID,
		CandidateID: candidateID,
		Stage:       stage,
		AgentName:   agent,
		Status:      "OK",
		LatencyMS:   latencyMS,
		CreatedAt:   time.Now().UTC(),
	}
	if stageErr != nil {
		event.Status = "ERROR"
		event.ErrorCode = "AGENT_STAGE_ERROR"
		event.ErrorMessage = stageErr.Error()
	}
	if err := o.store.AppendTrace(ctx, event); err != nil {
		o.log.Warn("trace append failed", zap.String("run_id", runID), zap.String("stage", stage), zap.Error(err))
	}
}

func ms(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
