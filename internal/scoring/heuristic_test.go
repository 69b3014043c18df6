package scoring_test

import (
	"context"
	"testing"
	"time"

	"jobmatch/matching-service/internal/candidate"
	"jobmatch/matching-service/internal/model"
	"jobmatch/matching-service/internal/preference"
	"jobmatch/matching-service/internal/scoring"
)

var scoreTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func scoringPref() *preference.Preference {
	return &preference.Preference{
		WorkMode:       model.WorkModeRemote,
		EmploymentType: model.EmploymentFullTime,
		Location:       "bangalore",
		CompanySize:    model.CompanySizeStartup,
	}
}

func alignedJob(id string) model.Job {
	return model.Job{
		ID:             id,
		CompanyName:    "Acme",
		Location:       "Bangalore",
		WorkMode:       model.WorkModeRemote,
		EmploymentType: model.EmploymentFullTime,
		CompanySize:    model.CompanySizeStartup,
		ApplyURL:       "https://acme.example/apply",
		Description:    "We need a backend engineer comfortable with Go, PostgreSQL, Redis and distributed systems running in production environments at scale.",
		PublishedAt:    scoreTime,
		CreatedAt:      scoreTime,
	}
}

// ── Job scoring ────────────────────────────────────────────────────────────

func TestJobScorer_FullyAlignedJob(t *testing.T) {
	scored, err := scoring.HeuristicJobScorer{}.ScoreBatch(context.Background(), []model.Job{alignedJob("j1")}, scoringPref(), scoring.CandidateProfile{})
	if err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}
	s := scored[0]
	// 0.35 base + 0.20 work mode + 0.20 employment + 0.10 location + 0.10 size.
	if s.FitScore != 0.95 {
		t.Errorf("FitScore = %v, want 0.95", s.FitScore)
	}
	// 0.4 base + 0.2 long description + 0.2 apply URL + 0.2 company name.
	if s.QualityScore != 1.0 {
		t.Errorf("QualityScore = %v, want 1.0", s.QualityScore)
	}
	if s.SelectionProbability <= 0 || s.SelectionProbability > 1 {
		t.Errorf("SelectionProbability = %v, want (0,1]", s.SelectionProbability)
	}
	if s.Why == "" || s.Why == "General alignment with preferences" {
		t.Errorf("aligned job should explain its fit, got %q", s.Why)
	}
}

func TestJobScorer_MisalignedJobGetsGenericWhy(t *testing.T) {
	job := model.Job{ID: "j1", WorkMode: model.WorkModeOnsite, EmploymentType: model.EmploymentInternship, Location: "Pune", CompanySize: model.CompanySizeMNC}
	scored, err := scoring.HeuristicJobScorer{}.ScoreBatch(context.Background(), []model.Job{job}, scoringPref(), scoring.CandidateProfile{})
	if err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}
	if scored[0].Why != "General alignment with preferences" {
		t.Errorf("Why = %q", scored[0].Why)
	}
	if scored[0].FitScore != 0.35 {
		t.Errorf("FitScore = %v, want base 0.35", scored[0].FitScore)
	}
}

func TestJobScorer_Deterministic(t *testing.T) {
	jobs := []model.Job{alignedJob("a"), alignedJob("b")}
	first, _ := scoring.HeuristicJobScorer{}.ScoreBatch(context.Background(), jobs, scoringPref(), scoring.CandidateProfile{})
	second, _ := scoring.HeuristicJobScorer{}.ScoreBatch(context.Background(), jobs, scoringPref(), scoring.CandidateProfile{})
	for i := range first {
		if first[i].SelectionProbability != second[i].SelectionProbability {
			t.Fatal("identical inputs must yield identical scores")
		}
	}
}

// ── TopJobs ────────────────────────────────────────────────────────────────

func TestTopJobs_OrdersAndTruncates(t *testing.T) {
	scored := []scoring.ScoredJob{
		{Job: model.Job{ID: "low", PublishedAt: scoreTime}, SelectionProbability: 0.40},
		{Job: model.Job{ID: "high", PublishedAt: scoreTime}, SelectionProbability: 0.90},
		{Job: model.Job{ID: "mid", PublishedAt: scoreTime}, SelectionProbability: 0.70},
	}
	top := scoring.TopJobs(scored, 2)
	if len(top) != 2 || top[0].Job.ID != "high" || top[1].Job.ID != "mid" {
		t.Errorf("TopJobs = %v", jobIDs(top))
	}
}

func TestTopJobs_TieBreaksByRecencyThenID(t *testing.T) {
	older := scoreTime.Add(-time.Hour)
	scored := []scoring.ScoredJob{
		{Job: model.Job{ID: "b", PublishedAt: older}, SelectionProbability: 0.5},
		{Job: model.Job{ID: "c", PublishedAt: scoreTime}, SelectionProbability: 0.5},
		{Job: model.Job{ID: "a", PublishedAt: older}, SelectionProbability: 0.5},
	}
	top := scoring.TopJobs(scored, 3)
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if top[i].Job.ID != id {
			t.Fatalf("order = %v, want %v", jobIDs(top), want)
		}
	}
}

// ── Candidate scoring ──────────────────────────────────────────────────────

func candidateInput() scoring.CandidateInput {
	return scoring.CandidateInput{
		HardFilter: candidate.HardFilterOutcome{Passes: true},
		Tier:       model.TierOne,
		Years:      3,
		Preference: &model.RecruiterPreference{
			CollegeTiers:       []string{model.TierOne},
			MinExperienceYears: 1,
			MaxExperienceYears: 5,
			NumberOfOpenings:   2,
		},
	}
}

func TestCandidateScorer_RejectedScoresZero(t *testing.T) {
	in := candidateInput()
	in.HardFilter = candidate.HardFilterOutcome{Passes: false, Reasons: []string{"College tier mismatch: UNKNOWN"}}
	score, err := scoring.HeuristicCandidateScorer{}.Score(context.Background(), in)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.FinalScore != 0 || score.SubScores != (scoring.SubScores{}) {
		t.Errorf("rejected candidate should score zero, got %+v", score)
	}
	if score.Summary != "Rejected by hard filters" {
		t.Errorf("Summary = %q", score.Summary)
	}
}

func TestCandidateScorer_NoCriteriaNeutralCodingFit(t *testing.T) {
	score, err := scoring.HeuristicCandidateScorer{}.Score(context.Background(), candidateInput())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.SubScores.CodingFit != 70 {
		t.Errorf("CodingFit = %d, want neutral 70", score.SubScores.CodingFit)
	}
	// 0.25*100 + 0.25*100 + 0.30*70 + 0.20*0 = 71.
	if score.FinalScore != 71 {
		t.Errorf("FinalScore = %v, want 71", score.FinalScore)
	}
}

func TestCandidateScorer_CodingFitFromComparisons(t *testing.T) {
	in := candidateInput()
	in.Comparisons = []candidate.Comparison{{Matched: true}, {Matched: false}}
	score, err := scoring.HeuristicCandidateScorer{}.Score(context.Background(), in)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.SubScores.CodingFit != 50 {
		t.Errorf("CodingFit = %d, want 50", score.SubScores.CodingFit)
	}
}

func TestCandidateScorer_JDRelevance(t *testing.T) {
	in := candidateInput()
	in.JobDescription = "golang postgres redis kubernetes"
	in.Normalized = candidate.Normalized{SkillsText: "golang postgres"}
	score, err := scoring.HeuristicCandidateScorer{}.Score(context.Background(), in)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.SubScores.JDRelevance != 10 {
		t.Errorf("JDRelevance = %d, want 10 (2 token hits × 5)", score.SubScores.JDRelevance)
	}
}

func jobIDs(scored []scoring.ScoredJob) []string {
	out := make([]string, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.Job.ID)
	}
	return out
}
