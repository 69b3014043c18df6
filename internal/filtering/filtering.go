// Package filtering implements the deterministic, rule-based stage that
// narrows the job corpus against a canonical preference before any scoring.
//
// Stage order is fixed:
//
//	primary → internship duration → stipend overlap → refinements → order → cap
//
// Each stage records its surviving count so results are explainable and
// reproducible: the same corpus and preference always yield the same counts
// and the same ordering.
package filtering

import (
	"sort"
	"strings"

	"jobmatch/matching-service/internal/model"
	"jobmatch/matching-service/internal/preference"
)

// MaxAgentJobs caps how many filtered jobs are handed to the scoring stage.
const MaxAgentJobs = 300

// Metrics holds the count of surviving jobs after each filter stage.
// Optional stages are pointers so a stage that never ran is omitted from
// JSON while a stage that ran with zero survivors still reports 0.
type Metrics struct {
	InitialCount            int  `json:"initial_count"`
	AfterPrimaryFilters     int  `json:"after_primary_filters"`
	AfterInternshipDuration *int `json:"after_internship_duration,omitempty"`
	AfterStipendOverlap     *int `json:"after_stipend_overlap,omitempty"`
	AfterExperienceLevel    *int `json:"after_experience_level,omitempty"`
	AfterExcludedSectors    *int `json:"after_excluded_sectors,omitempty"`
	AfterPreferredSectors   *int `json:"after_preferred_sectors,omitempty"`
	AfterExcludedKeywords   *int `json:"after_excluded_keywords,omitempty"`
	AfterExcludedCompanies  *int `json:"after_excluded_companies,omitempty"`
	OrderedCount            int  `json:"ordered_count"`
	CappedCount             int  `json:"capped_count"`
}

func count(n int) *int { return &n }

// Result is the outcome of one deterministic filtering pass.
type Result struct {
	Jobs            []model.Job
	TotalConsidered int
	Metrics         Metrics
}

// Filter applies the ordered filter stages to jobs and returns the ranked,
// capped survivors plus stage-by-stage metrics. It never mutates jobs.
func Filter(jobs []model.Job, pref *preference.Preference) Result {
	metrics := Metrics{InitialCount: len(jobs)}

	kept := make([]model.Job, 0, len(jobs))
	for _, job := range jobs {
		if matchesPrimary(job, pref) {
			kept = append(kept, job)
		}
	}
	metrics.AfterPrimaryFilters = len(kept)

	if pref.EmploymentType == model.EmploymentInternship {
		kept = keep(kept, func(job model.Job) bool {
			return job.InternshipDurationWeeks != nil &&
				pref.InternshipDurationWeeks != nil &&
				*job.InternshipDurationWeeks == *pref.InternshipDurationWeeks
		})
		metrics.AfterInternshipDuration = count(len(kept))
	}

	if pref.StipendMin != nil && pref.StipendMax != nil {
		kept = keep(kept, func(job model.Job) bool {
			return overlapsStipend(job, pref)
		})
		metrics.AfterStipendOverlap = count(len(kept))
	}

	if pref.ExperienceLevel != "" {
		kept = keep(kept, func(job model.Job) bool {
			return job.ExperienceLevel == pref.ExperienceLevel
		})
		metrics.AfterExperienceLevel = count(len(kept))
	}

	if len(pref.ExcludedSectors) > 0 {
		kept = keep(kept, func(job model.Job) bool {
			return !containsAny(job.Sector, pref.ExcludedSectors)
		})
		metrics.AfterExcludedSectors = count(len(kept))
	}

	if len(pref.PreferredSectors) > 0 {
		kept = keep(kept, func(job model.Job) bool {
			return containsAny(job.Sector, pref.PreferredSectors)
		})
		metrics.AfterPreferredSectors = count(len(kept))
	}

	if len(pref.ExcludedKeywords) > 0 {
		kept = keep(kept, func(job model.Job) bool {
			return !containsAny(job.Title, pref.ExcludedKeywords)
		})
		metrics.AfterExcludedKeywords = count(len(kept))
	}

	if len(pref.ExcludedCompanies) > 0 {
		kept = keep(kept, func(job model.Job) bool {
			return !containsAny(job.CompanyName, pref.ExcludedCompanies)
		})
		metrics.AfterExcludedCompanies = count(len(kept))
	}

	// Stable sort: jobs with equal published_at preserve relative order by
	// created_at descending.
	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].PublishedAt.Equal(kept[j].PublishedAt) {
			return kept[i].PublishedAt.After(kept[j].PublishedAt)
		}
		return kept[i].CreatedAt.After(kept[j].CreatedAt)
	})
	metrics.OrderedCount = len(kept)

	total := len(kept)
	if len(kept) > MaxAgentJobs {
		kept = kept[:MaxAgentJobs]
	}
	metrics.CappedCount = len(kept)

	return Result{Jobs: kept, TotalConsidered: total, Metrics: metrics}
}

// matchesPrimary checks the exact-match fields plus case-insensitive
// substring containment of the normalized location.
func matchesPrimary(job model.Job, pref *preference.Preference) bool {
	if job.WorkMode != pref.WorkMode {
		return false
	}
	if job.EmploymentType != pref.EmploymentType {
		return false
	}
	if job.CompanySize != pref.CompanySize {
		return false
	}
	return strings.Contains(strings.ToLower(job.Location), pref.Location)
}

// overlapsStipend keeps jobs whose stipend range intersects the preferred
// range in the same currency. Jobs without a stipend range are dropped.
func overlapsStipend(job model.Job, pref *preference.Preference) bool {
	if job.StipendMin == nil || job.StipendMax == nil {
		return false
	}
	if job.StipendCurrency != pref.StipendCurrency {
		return false
	}
	return *job.StipendMax >= *pref.StipendMin && *job.StipendMin <= *pref.StipendMax
}

func containsAny(text string, terms []string) bool {
	lowered := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

func keep(jobs []model.Job, pred func(model.Job) bool) []model.Job {
	out := jobs[:0:0]
	for _, job := range jobs {
		if pred(job) {
			out = append(out, job)
		}
	}
	return out
}
