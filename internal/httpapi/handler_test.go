package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobmatch/matching-service/internal/candidate"
	"jobmatch/matching-service/internal/corpus"
	"jobmatch/matching-service/internal/dispatch"
	"jobmatch/matching-service/internal/httpapi"
	"jobmatch/matching-service/internal/model"
	"jobmatch/matching-service/internal/run"
	"jobmatch/matching-service/internal/scoring"
)

var apiTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, flags httpapi.Flags) (*httptest.Server, *corpus.Memory, *run.Orchestrator) {
	t.Helper()

	src := corpus.NewMemory()
	jobs := make([]model.Job, 0, 6)
	for i := 0; i < 6; i++ {
		jobs = append(jobs, model.Job{
			ID:             fmt.Sprintf("job-%d", i),
			Title:          "Backend Engineer",
			CompanyName:    "Acme",
			Location:       "Bangalore, India",
			WorkMode:       model.WorkModeRemote,
			EmploymentType: model.EmploymentFullTime,
			CompanySize:    model.CompanySizeStartup,
			PublishedAt:    apiTime.AddDate(0, 0, -i),
			CreatedAt:      apiTime.AddDate(0, 0, -i),
		})
	}
	src.SeedJobs(jobs)

	store := run.NewMemoryStore()
	orch := run.NewOrchestrator(store, src,
		scoring.HeuristicJobScorer{}, scoring.HeuristicCandidateScorer{},
		candidate.HeuristicTierClassifier{}, nil)
	orch.SetDispatcher(dispatch.NewInline(orch))

	mux := http.NewServeMux()
	httpapi.NewHandler(orch, src, flags, nil).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, src, orch
}

func allEnabled() httpapi.Flags {
	return httpapi.Flags{MatchingEnabled: true, RankingEnabled: true}
}

func doJSON(t *testing.T, method, url, userID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("x-user-id", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding %s %s response: %v", method, url, err)
	}
	return resp, decoded
}

const validMatchingBody = `{
	"work_mode": "REMOTE",
	"employment_type": "FULL_TIME",
	"location": "Bangalore",
	"company_size_preference": "STARTUP"
}`

// ── POST /matching/runs ────────────────────────────────────────────────────

func TestCreateMatchingRun_Returns202Pending(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "user-1", validMatchingBody)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "PENDING" {
		t.Errorf("status field = %v, want PENDING", body["status"])
	}
	if body["run_id"] == "" || body["run_id"] == nil {
		t.Error("response must carry run_id for polling")
	}
	if _, ok := body["submitted_at"].(string); !ok {
		t.Errorf("submitted_at = %T, want RFC 3339 string", body["submitted_at"])
	}
}

// Clients poll with the run_id field of the create response; the record's
// creation time goes out as submitted_at on every run payload.
func TestRunResponses_WireFieldNames(t *testing.T) {
	srv, src, _ := newTestServer(t, allEnabled())
	seedRankingFixtures(src)

	_, matching := doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "user-1", validMatchingBody)
	_, ranking := doJSON(t, http.MethodPost, srv.URL+"/ranking/runs", "", `{"job_id": "task-1"}`)

	for name, body := range map[string]map[string]any{"matching": matching, "ranking": ranking} {
		for _, key := range []string{"run_id", "submitted_at"} {
			if _, present := body[key]; !present {
				t.Errorf("%s create response missing %q, keys %v", name, key, keysOf(body))
			}
		}
		for _, key := range []string{"id", "created_at"} {
			if _, present := body[key]; present {
				t.Errorf("%s create response leaks internal key %q", name, key)
			}
		}
	}

	_, detail := doJSON(t, http.MethodGet, srv.URL+"/matching/runs/"+matching["run_id"].(string), "user-1", "")
	if detail["run_id"] != matching["run_id"] {
		t.Errorf("detail run_id = %v, want %v", detail["run_id"], matching["run_id"])
	}
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestCreateMatchingRun_ValidationReturns400FieldMap(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "user-1", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	fields, ok := body["errors"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want errors field map", body)
	}
	for _, f := range []string{"work_mode", "employment_type", "location", "company_size_preference"} {
		if _, present := fields[f]; !present {
			t.Errorf("missing violation for %q in %v", f, fields)
		}
	}
}

func TestCreateMatchingRun_MissingUserHeader(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "", validMatchingBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateMatchingRun_FeatureDisabled(t *testing.T) {
	srv, _, orch := newTestServer(t, httpapi.Flags{MatchingEnabled: false, RankingEnabled: true})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "user-1", validMatchingBody)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	_, total, err := orch.ListMatchingRuns(context.Background(), "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListMatchingRuns: %v", err)
	}
	if total != 0 {
		t.Error("disabled pipeline must not create run records")
	}
}

// ── GET /matching/runs/{id} and /matching/runs/list ────────────────────────

func TestGetMatchingRun_PollReturnsCompletedWithDecimalScores(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())

	_, created := doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "user-1", validMatchingBody)
	id := created["run_id"].(string)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/matching/runs/"+id, "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "COMPLETED" {
		t.Fatalf("status = %v, want COMPLETED", body["status"])
	}
	results := body["results"].([]any)
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}
	first := results[0].(map[string]any)
	score, ok := first["selection_probability"].(string)
	if !ok {
		t.Fatalf("selection_probability = %T, want decimal string", first["selection_probability"])
	}
	if len(score) < 4 || score[1] != '.' {
		t.Errorf("selection_probability = %q, want d.dd form", score)
	}
}

func TestGetMatchingRun_NotFoundAndWrongUser(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/matching/runs/nope", "user-1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", resp.StatusCode)
	}

	_, created := doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "owner", validMatchingBody)
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/matching/runs/"+created["run_id"].(string), "intruder", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-user status = %d, want 404", resp.StatusCode)
	}
}

func TestListMatchingRuns_FixedPageSize(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())

	for i := 0; i < 12; i++ {
		doJSON(t, http.MethodPost, srv.URL+"/matching/runs", "user-1", validMatchingBody)
	}

	// The page size is fixed; a limit query parameter is ignored.
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/matching/runs/list?limit=2", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["total"].(float64) != 12 {
		t.Errorf("total = %v, want 12", body["total"])
	}
	if runs := body["runs"].([]any); len(runs) != 10 {
		t.Errorf("len(runs) = %d, want page size 10", len(runs))
	}

	_, page2 := doJSON(t, http.MethodGet, srv.URL+"/matching/runs/list?offset=10", "user-1", "")
	if runs := page2["runs"].([]any); len(runs) != 2 {
		t.Errorf("len(second page) = %d, want 2", len(runs))
	}
}

// ── Ranking endpoints ──────────────────────────────────────────────────────

func seedRankingFixtures(src *corpus.Memory) {
	src.SeedTaskJob(model.TaskJob{ID: "task-1", Description: "golang postgres redis", CreatedAt: apiTime})
	src.UpsertRecruiterPreference(context.Background(), &model.RecruiterPreference{
		JobID:              "task-1",
		CollegeTiers:       []string{model.TierOne},
		MinExperienceYears: 0,
		MaxExperienceYears: 5,
		NumberOfOpenings:   1,
	})
	src.SeedCandidates("task-1", []model.Candidate{{
		ID: "cand-1", JobID: "task-1", Name: "Asha", CreatedAt: apiTime,
		ResumeData: `{"sections":{"Education":["IIT Bombay"],"Experience":["2 years golang"]}}`,
	}})
}

func TestCreateRankingRun_Returns202ThenReuses200(t *testing.T) {
	srv, src, _ := newTestServer(t, allEnabled())
	seedRankingFixtures(src)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/ranking/runs", "", `{"job_id": "task-1"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %v)", resp.StatusCode, body)
	}
	if body["reused"] != false {
		t.Errorf("reused = %v, want false", body["reused"])
	}
	firstID := body["run_id"].(string)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/ranking/runs", "", `{"job_id": "task-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reuse status = %d, want 200", resp.StatusCode)
	}
	if body["reused"] != true || body["run_id"].(string) != firstID {
		t.Errorf("expected reuse of %s, got %v (reused=%v)", firstID, body["run_id"], body["reused"])
	}
	if body["status"] != "COMPLETED" {
		t.Errorf("reused status = %v, want COMPLETED", body["status"])
	}
}

func TestCreateRankingRun_UnknownJob404(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/ranking/runs", "", `{"job_id": "nope"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateRankingRun_FeatureDisabled(t *testing.T) {
	srv, src, _ := newTestServer(t, httpapi.Flags{MatchingEnabled: true, RankingEnabled: false})
	seedRankingFixtures(src)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/ranking/runs", "", `{"job_id": "task-1"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestListRankingRuns_RequiresJobID(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/ranking/runs/list", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetRankingRun_PollCompleted(t *testing.T) {
	srv, src, _ := newTestServer(t, allEnabled())
	seedRankingFixtures(src)

	_, created := doJSON(t, http.MethodPost, srv.URL+"/ranking/runs", "", `{"job_id": "task-1"}`)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/ranking/runs/"+created["run_id"].(string), "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "COMPLETED" {
		t.Fatalf("status = %v, want COMPLETED", body["status"])
	}
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	first := results[0].(map[string]any)
	if _, ok := first["final_score"].(string); !ok {
		t.Errorf("final_score = %T, want decimal string", first["final_score"])
	}
	if first["is_shortlisted"] != true {
		t.Errorf("is_shortlisted = %v, want true", first["is_shortlisted"])
	}
}

// ── Recruiter preference endpoints ─────────────────────────────────────────

func TestUpsertRecruiterPreference(t *testing.T) {
	srv, src, _ := newTestServer(t, allEnabled())
	src.SeedTaskJob(model.TaskJob{ID: "task-1", CreatedAt: apiTime})

	body := `{
		"college_tiers": ["TIER_1", "TIER_2"],
		"min_experience_years": 0,
		"max_experience_years": 4,
		"number_of_openings": 2
	}`
	resp, decoded := doJSON(t, http.MethodPut, srv.URL+"/recruiter-preferences/task-1", "", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, decoded)
	}

	resp, decoded = doJSON(t, http.MethodGet, srv.URL+"/recruiter-preferences/task-1", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	if decoded["number_of_openings"].(float64) != 2 {
		t.Errorf("number_of_openings = %v, want 2", decoded["number_of_openings"])
	}
}

func TestUpsertRecruiterPreference_Validation(t *testing.T) {
	srv, src, _ := newTestServer(t, allEnabled())
	src.SeedTaskJob(model.TaskJob{ID: "task-1", CreatedAt: apiTime})

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/recruiter-preferences/task-1", "", `{"college_tiers": ["TIER_9"], "number_of_openings": 0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	fields, ok := body["errors"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want errors field map", body)
	}
	for _, f := range []string{"college_tiers", "number_of_openings"} {
		if _, present := fields[f]; !present {
			t.Errorf("missing violation for %q in %v", f, fields)
		}
	}
}

func TestUpsertRecruiterPreference_UnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())
	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/recruiter-preferences/ghost", "", `{"college_tiers": ["TIER_1"], "max_experience_years": 1, "number_of_openings": 1}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// ── Method handling ────────────────────────────────────────────────────────

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, allEnabled())
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/matching/runs", "user-1", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
