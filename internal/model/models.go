// Package model defines shared data structures for the matching service.
package model

import "time"

// Work mode, employment type and company size values mirror the enum
// columns in PostgreSQL.
const (
	WorkModeRemote = "REMOTE"
	WorkModeOnsite = "ONSITE"

	EmploymentFullTime   = "FULL_TIME"
	EmploymentInternship = "INTERNSHIP"

	CompanySizeSME     = "SME"
	CompanySizeStartup = "STARTUP"
	CompanySizeMNC     = "MNC"
)

// WorkModes lists every valid work_mode value.
var WorkModes = []string{WorkModeRemote, WorkModeOnsite}

// EmploymentTypes lists every valid employment_type value.
var EmploymentTypes = []string{EmploymentFullTime, EmploymentInternship}

// CompanySizes lists every valid company_size value.
var CompanySizes = []string{CompanySizeSME, CompanySizeStartup, CompanySizeMNC}

// Job is a posting from the job corpus. The corpus is read-only during
// filtering; no run mutates it.
type Job struct {
	ID                      string
	Title                   string
	CompanyName             string
	Location                string
	WorkMode                string
	EmploymentType          string
	InternshipDurationWeeks *int
	CompanySize             string
	StipendMin              *float64
	StipendMax              *float64
	StipendCurrency         string
	ExperienceLevel         string
	Sector                  string
	Description             string
	JobURL                  string
	ApplyURL                string
	ApplyType               string
	PublishedAt             time.Time
	CreatedAt               time.Time
}

// TaskJob is a recruiter-side job opening that candidates are ranked against.
type TaskJob struct {
	ID          string
	Description string
	CreatedAt   time.Time
}

// Candidate is an imported applicant for a TaskJob. ResumeData holds the
// parsed resume as JSON (sections keyed by heading); parsing itself is an
// upstream concern.
type Candidate struct {
	ID         string
	JobID      string
	Name       string
	Email      string
	ResumeData string
	CreatedAt  time.Time
}

// College tier values accepted in recruiter preferences. UNKNOWN is only a
// classification outcome, never an allowed tier.
const (
	TierOne     = "TIER_1"
	TierTwo     = "TIER_2"
	TierThree   = "TIER_3"
	TierUnknown = "UNKNOWN"
)

// CollegeTiers lists every tier a recruiter may require.
var CollegeTiers = []string{TierOne, TierTwo, TierThree}

// CodingCriterion is a single coding-platform eligibility rule,
// e.g. {codeforces, rating, gte, 1400}.
type CodingCriterion struct {
	Platform string  `json:"platform"`
	Metric   string  `json:"metric"`
	Operator string  `json:"operator"` // gte | lte | eq
	Value    float64 `json:"value"`
}

// RecruiterPreference is the per-job eligibility spec. It is a required
// precondition for any candidate ranking run.
type RecruiterPreference struct {
	JobID              string
	CollegeTiers       []string
	MinExperienceYears float64
	MaxExperienceYears float64
	CodingCriteria     []CodingCriterion
	NumberOfOpenings   int
	UpdatedAt          time.Time
}

// Validate checks the preference and returns a field → message map of every
// violation, empty when valid.
func (p *RecruiterPreference) Validate() map[string]string {
	errs := map[string]string{}

	if len(p.CollegeTiers) == 0 {
		errs["college_tiers"] = "At least one college tier is required."
	}
	seen := map[string]bool{}
	for _, tier := range p.CollegeTiers {
		if !validTier(tier) {
			errs["college_tiers"] = "Tiers must be one of: TIER_1, TIER_2, TIER_3."
			break
		}
		if seen[tier] {
			errs["college_tiers"] = "Tiers must not repeat."
			break
		}
		seen[tier] = true
	}

	if p.MinExperienceYears < 0 {
		errs["min_experience_years"] = "Must be at least 0."
	}
	if p.MaxExperienceYears < p.MinExperienceYears {
		errs["max_experience_years"] = "Must be greater than or equal to min_experience_years."
	}
	if p.NumberOfOpenings < 1 {
		errs["number_of_openings"] = "Must be at least 1."
	}

	for _, c := range p.CodingCriteria {
		if c.Platform == "" || c.Metric == "" {
			errs["coding_platform_criteria"] = "Each criterion requires platform and metric."
			break
		}
		switch c.Operator {
		case "gte", "lte", "eq":
		default:
			errs["coding_platform_criteria"] = "Operator must be one of: gte, lte, eq."
		}
	}

	return errs
}

func validTier(tier string) bool {
	for _, t := range CollegeTiers {
		if t == tier {
			return true
		}
	}
	return false
}
