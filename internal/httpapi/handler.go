// Package httpapi implements the HTTP surface of the matching service.
//
// All run routes expect an x-user-id header forwarded by the Gateway.
//
// Routes:
//
//	POST /matching/runs                    → submit a job-matching run (202)
//	GET  /matching/runs/list               → list caller's matching runs
//	GET  /matching/runs/{id}               → poll one matching run
//	POST /ranking/runs                     → submit a candidate-ranking run (202, 200 on reuse)
//	GET  /ranking/runs/list?job_id=…       → list a job's ranking runs
//	GET  /ranking/runs/{id}                → poll one ranking run
//	PUT  /recruiter-preferences/{job_id}   → upsert per-job recruiter preference
//	GET  /recruiter-preferences/{job_id}   → fetch per-job recruiter preference
//	GET  /health                           → liveness probe
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobmatch/matching-service/internal/corpus"
	"jobmatch/matching-service/internal/model"
	"jobmatch/matching-service/internal/preference"
	"jobmatch/matching-service/internal/run"
	"jobmatch/matching-service/internal/scoring"
)

// pageSize is the fixed page size of the list endpoints. Clients page with
// the offset query parameter only.
const pageSize = 10

// Flags gates the two pipelines independently. A disabled pipeline answers
// 503 without creating any run record.
type Flags struct {
	MatchingEnabled bool
	RankingEnabled  bool
}

// Handler holds shared dependencies.
type Handler struct {
	orch   *run.Orchestrator
	corpus corpus.Source
	flags  Flags
	log    *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(orch *run.Orchestrator, src corpus.Source, flags Flags, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{orch: orch, corpus: src, flags: flags, log: log}
}

// RegisterRoutes mounts all matching-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/matching/runs", h.handleMatchingRuns)
	mux.HandleFunc("/matching/runs/", h.handleMatchingRun)
	mux.HandleFunc("/ranking/runs", h.handleRankingRuns)
	mux.HandleFunc("/ranking/runs/", h.handleRankingRun)
	mux.HandleFunc("/recruiter-preferences/", h.handleRecruiterPreference)
	mux.HandleFunc("/health", h.handleHealth)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

func (h *Handler) handleMatchingRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.createMatchingRun(w, r)
}

// handleMatchingRun handles GET /matching/runs/list and GET /matching/runs/{id}.
func (h *Handler) handleMatchingRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tail := strings.TrimPrefix(r.URL.Path, "/matching/runs/")
	if tail == "list" {
		h.listMatchingRuns(w, r)
		return
	}
	h.getMatchingRun(w, r, tail)
}

func (h *Handler) handleRankingRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.createRankingRun(w, r)
}

// handleRankingRun handles GET /ranking/runs/list and GET /ranking/runs/{id}.
func (h *Handler) handleRankingRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tail := strings.TrimPrefix(r.URL.Path, "/ranking/runs/")
	if tail == "list" {
		h.listRankingRuns(w, r)
		return
	}
	h.getRankingRun(w, r, tail)
}

func (h *Handler) handleRecruiterPreference(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/recruiter-preferences/")
	if jobID == "" || strings.Contains(jobID, "/") {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPut:
		h.upsertRecruiterPreference(w, r, jobID)
	case http.MethodGet:
		h.getRecruiterPreference(w, r, jobID)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonWith(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Matching endpoints ───────────────────────────────────────────────────────

// matchingSubmission is the POST /matching/runs request body.
type matchingSubmission struct {
	preference.Submission
	Profile scoring.CandidateProfile `json:"profile"`
}

func (h *Handler) createMatchingRun(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}
	if !h.flags.MatchingEnabled {
		jsonError(w, "Job matching is currently disabled.", http.StatusServiceUnavailable)
		return
	}

	var body matchingSubmission
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	created, err := h.orch.CreateMatchingRun(r.Context(), userID, body.Submission, body.Profile)
	if err != nil {
		h.writeError(w, err, "createMatchingRun")
		return
	}
	jsonWith(w, http.StatusAccepted, matchingRunJSON(created))
}

func (h *Handler) listMatchingRuns(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}
	limit, offset := pageParams(r)

	runs, total, err := h.orch.ListMatchingRuns(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, err, "listMatchingRuns")
		return
	}
	items := make([]map[string]any, 0, len(runs))
	for i := range runs {
		items = append(items, matchingRunJSON(&runs[i]))
	}
	jsonWith(w, http.StatusOK, map[string]any{
		"runs":   items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) getMatchingRun(w http.ResponseWriter, r *http.Request, id string) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}
	record, err := h.orch.GetMatchingRun(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, err, "getMatchingRun")
		return
	}
	jsonWith(w, http.StatusOK, matchingRunJSON(record))
}

// ─── Ranking endpoints ────────────────────────────────────────────────────────

// rankingSubmission is the POST /ranking/runs request body.
type rankingSubmission struct {
	JobID          string `json:"job_id"`
	BatchSize      int    `json:"batch_size"`
	ForceRecompute bool   `json:"force_recompute"`
}

func (h *Handler) createRankingRun(w http.ResponseWriter, r *http.Request) {
	if !h.flags.RankingEnabled {
		jsonError(w, "Candidate ranking is currently disabled.", http.StatusServiceUnavailable)
		return
	}

	var body rankingSubmission
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	created, reused, err := h.orch.CreateRankingRun(r.Context(), body.JobID, body.BatchSize, body.ForceRecompute)
	if err != nil {
		h.writeError(w, err, "createRankingRun")
		return
	}

	payload := rankingRunJSON(created)
	payload["reused"] = reused
	status := http.StatusAccepted
	if reused {
		// A reused COMPLETED run is returned synchronously, nothing was enqueued.
		status = http.StatusOK
	}
	jsonWith(w, status, payload)
}

func (h *Handler) listRankingRuns(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		jsonError(w, "job_id query parameter is required", http.StatusBadRequest)
		return
	}
	limit, offset := pageParams(r)

	runs, total, err := h.orch.ListRankingRuns(r.Context(), jobID, limit, offset)
	if err != nil {
		h.writeError(w, err, "listRankingRuns")
		return
	}
	items := make([]map[string]any, 0, len(runs))
	for i := range runs {
		items = append(items, rankingRunJSON(&runs[i]))
	}
	jsonWith(w, http.StatusOK, map[string]any{
		"runs":   items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) getRankingRun(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.orch.GetRankingRun(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "getRankingRun")
		return
	}
	jsonWith(w, http.StatusOK, rankingRunJSON(record))
}

// ─── Recruiter preference endpoints ───────────────────────────────────────────

// recruiterPreferenceBody is the PUT /recruiter-preferences/{job_id} body.
type recruiterPreferenceBody struct {
	CollegeTiers       []string                `json:"college_tiers"`
	MinExperienceYears float64                 `json:"min_experience_years"`
	MaxExperienceYears float64                 `json:"max_experience_years"`
	CodingCriteria     []model.CodingCriterion `json:"coding_platform_criteria"`
	NumberOfOpenings   int                     `json:"number_of_openings"`
}

func (h *Handler) upsertRecruiterPreference(w http.ResponseWriter, r *http.Request, jobID string) {
	var body recruiterPreferenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if _, err := h.corpus.TaskJob(r.Context(), jobID); err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err, "upsertRecruiterPreference")
		return
	}

	pref := &model.RecruiterPreference{
		JobID:              jobID,
		CollegeTiers:       body.CollegeTiers,
		MinExperienceYears: body.MinExperienceYears,
		MaxExperienceYears: body.MaxExperienceYears,
		CodingCriteria:     body.CodingCriteria,
		NumberOfOpenings:   body.NumberOfOpenings,
	}
	if violations := pref.Validate(); len(violations) > 0 {
		jsonWith(w, http.StatusBadRequest, map[string]any{"errors": violations})
		return
	}

	if err := h.corpus.UpsertRecruiterPreference(r.Context(), pref); err != nil {
		h.writeError(w, err, "upsertRecruiterPreference")
		return
	}
	jsonWith(w, http.StatusOK, recruiterPreferenceJSON(pref))
}

func (h *Handler) getRecruiterPreference(w http.ResponseWriter, r *http.Request, jobID string) {
	pref, err := h.corpus.RecruiterPreference(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			jsonError(w, "recruiter preference not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err, "getRecruiterPreference")
		return
	}
	jsonWith(w, http.StatusOK, recruiterPreferenceJSON(pref))
}

// ─── Response shaping ─────────────────────────────────────────────────────────

func matchingRunJSON(record *run.MatchingRun) map[string]any {
	results := make([]map[string]any, 0, len(record.Results))
	for _, res := range record.Results {
		results = append(results, map[string]any{
			"rank":                  res.Rank,
			"job_id":                res.JobID,
			"selection_probability": dec(res.SelectionProbability),
			"fit_score":             dec(res.FitScore),
			"job_quality_score":     dec(res.JobQualityScore),
			"why":                   res.Why,
		})
	}
	out := map[string]any{
		"run_id":              record.ID,
		"status":              string(record.Status),
		"preference":          record.Preference,
		"filtered_jobs_count": record.FilteredJobsCount,
		"timings":             record.Timings,
		"results":             results,
		"submitted_at":        rfc3339(record.CreatedAt),
		"started_at":          rfc3339Ptr(record.StartedAt),
		"completed_at":        rfc3339Ptr(record.CompletedAt),
	}
	if record.Error != nil {
		out["error"] = record.Error
	}
	return out
}

func rankingRunJSON(record *run.RankingRun) map[string]any {
	results := make([]map[string]any, 0, len(record.Results))
	for _, res := range record.Results {
		results = append(results, map[string]any{
			"rank":               res.Rank,
			"candidate_id":       res.CandidateID,
			"is_shortlisted":     res.IsShortlisted,
			"passes_hard_filter": res.PassesHardFilter,
			"final_score":        dec(res.FinalScore),
			"sub_scores":         res.SubScores,
			"filter_reasons":     res.FilterReasons,
			"summary":            res.Summary,
		})
	}
	out := map[string]any{
		"run_id":               record.ID,
		"job_id":               record.JobID,
		"status":               string(record.Status),
		"batch_size":           record.BatchSize,
		"model_name":           record.ModelName,
		"total_candidates":     record.TotalCandidates,
		"processed_candidates": record.ProcessedCandidates,
		"shortlisted_count":    record.ShortlistedCount,
		"timings":              record.Timings,
		"results":              results,
		"submitted_at":         rfc3339(record.CreatedAt),
		"started_at":           rfc3339Ptr(record.StartedAt),
		"completed_at":         rfc3339Ptr(record.CompletedAt),
	}
	if record.Error != nil {
		out["error"] = record.Error
	}
	return out
}

func recruiterPreferenceJSON(pref *model.RecruiterPreference) map[string]any {
	return map[string]any{
		"job_id":                   pref.JobID,
		"college_tiers":            pref.CollegeTiers,
		"min_experience_years":     pref.MinExperienceYears,
		"max_experience_years":     pref.MaxExperienceYears,
		"coding_platform_criteria": pref.CodingCriteria,
		"number_of_openings":       pref.NumberOfOpenings,
	}
}

// writeError maps service errors to HTTP responses. Validation failures
// return the full field → message map.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var verr *preference.ValidationError
	if errors.As(err, &verr) {
		jsonWith(w, http.StatusBadRequest, map[string]any{"errors": verr.Fields})
		return
	}
	if errors.Is(err, run.ErrNotFound) {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	h.log.Error("request failed", zap.String("op", op), zap.Error(err))
	jsonError(w, "internal error", http.StatusInternalServerError)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func pageParams(r *http.Request) (limit, offset int) {
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return pageSize, offset
}

// dec renders a score as a fixed two-decimal string so clients never see
// float artifacts like 0.30000000000000004.
func dec(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func rfc3339Ptr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := rfc3339(*t)
	return &s
}

func jsonWith(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonWith(w, code, map[string]string{"error": msg})
}
