// Package preference validates and normalizes job-seeker preference
// submissions into canonical records used by filtering and run snapshots.
package preference

import (
	"fmt"
	"sort"
	"strings"

	"jobmatch/matching-service/internal/model"
)

// DefaultCurrency is assumed when a submission omits stipend_currency.
const DefaultCurrency = "INR"

// maxLocationLength bounds the free-text location field.
const maxLocationLength = 200

// Preference is a canonical, validated preference record. It is immutable
// once snapshotted into a run.
type Preference struct {
	WorkMode                string   `json:"work_mode"`
	EmploymentType          string   `json:"employment_type"`
	InternshipDurationWeeks *int     `json:"internship_duration_weeks,omitempty"`
	Location                string   `json:"location"`
	CompanySize             string   `json:"company_size_preference"`
	StipendMin              *float64 `json:"stipend_min,omitempty"`
	StipendMax              *float64 `json:"stipend_max,omitempty"`
	StipendCurrency         string   `json:"stipend_currency"`

	// Optional refinement filters. Empty slices mean the corresponding
	// filter stage is skipped.
	ExperienceLevel   string   `json:"experience_level,omitempty"`
	PreferredSectors  []string `json:"preferred_sectors,omitempty"`
	ExcludedSectors   []string `json:"excluded_sectors,omitempty"`
	ExcludedKeywords  []string `json:"excluded_keywords,omitempty"`
	ExcludedCompanies []string `json:"excluded_companies,omitempty"`
}

// Submission is a raw preference payload as decoded from a request body.
// Optional fields are pointers so absence is distinguishable from zero.
type Submission struct {
	WorkMode                string   `json:"work_mode"`
	EmploymentType          string   `json:"employment_type"`
	InternshipDurationWeeks *int     `json:"internship_duration_weeks"`
	Location                string   `json:"location"`
	CompanySize             string   `json:"company_size_preference"`
	StipendMin              *float64 `json:"stipend_min"`
	StipendMax              *float64 `json:"stipend_max"`
	StipendCurrency         string   `json:"stipend_currency"`
	ExperienceLevel         string   `json:"experience_level"`
	PreferredSectors        []string `json:"preferred_sectors"`
	ExcludedSectors         []string `json:"excluded_sectors"`
	ExcludedKeywords        []string `json:"excluded_keywords"`
	ExcludedCompanies       []string `json:"excluded_companies"`
	SavePreference          *bool    `json:"save_preference"`
}

// ValidationError carries the complete set of field violations found in a
// submission. Callers always receive every violation in one response.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("invalid preference: %s", strings.Join(keys, ", "))
}

// Save reports whether the submission asked to persist the preference as the
// caller's active preference. Defaults to true when omitted.
func (s *Submission) Save() bool {
	if s.SavePreference == nil {
		return true
	}
	return *s.SavePreference
}

// Normalize validates a submission and returns the canonical preference.
// On failure it returns a ValidationError enumerating every violated field,
// never just the first.
func Normalize(s Submission) (*Preference, error) {
	errs := map[string]string{}

	if s.WorkMode == "" {
		errs["work_mode"] = "This field is required."
	} else if !oneOf(s.WorkMode, model.WorkModes) {
		errs["work_mode"] = fmt.Sprintf("Must be one of: %s", strings.Join(model.WorkModes, ", "))
	}

	if s.EmploymentType == "" {
		errs["employment_type"] = "This field is required."
	} else if !oneOf(s.EmploymentType, model.EmploymentTypes) {
		errs["employment_type"] = fmt.Sprintf("Must be one of: %s", strings.Join(model.EmploymentTypes, ", "))
	}

	location := strings.TrimSpace(s.Location)
	if location == "" {
		errs["location"] = "This field is required."
	} else if len(location) > maxLocationLength {
		errs["location"] = fmt.Sprintf("Max length is %d.", maxLocationLength)
	}

	if s.CompanySize == "" {
		errs["company_size_preference"] = "This field is required."
	} else if !oneOf(s.CompanySize, model.CompanySizes) {
		errs["company_size_preference"] = fmt.Sprintf("Must be one of: %s", strings.Join(model.CompanySizes, ", "))
	}

	if s.InternshipDurationWeeks != nil && *s.InternshipDurationWeeks < 1 {
		errs["internship_duration_weeks"] = "Must be at least 1."
	}
	if s.EmploymentType == model.EmploymentInternship && s.InternshipDurationWeeks == nil {
		errs["internship_duration_weeks"] = "Required for internship employment type."
	}
	if s.EmploymentType == model.EmploymentFullTime && s.InternshipDurationWeeks != nil {
		errs["internship_duration_weeks"] = "Must be empty for full-time employment type."
	}

	if (s.StipendMin != nil) != (s.StipendMax != nil) {
		errs["stipend"] = "Both stipend_min and stipend_max are required when stipend is provided."
	}
	if s.StipendMin != nil && s.StipendMax != nil && *s.StipendMin > *s.StipendMax {
		errs["stipend_min"] = "stipend_min must be less than or equal to stipend_max."
	}

	currency := strings.TrimSpace(s.StipendCurrency)
	if currency == "" {
		currency = DefaultCurrency
	} else if len(currency) > 3 {
		errs["stipend_currency"] = "Max length is 3."
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	return &Preference{
		WorkMode:                s.WorkMode,
		EmploymentType:          s.EmploymentType,
		InternshipDurationWeeks: s.InternshipDurationWeeks,
		Location:                strings.ToLower(location),
		CompanySize:             s.CompanySize,
		StipendMin:              s.StipendMin,
		StipendMax:              s.StipendMax,
		StipendCurrency:         currency,
		ExperienceLevel:         strings.TrimSpace(s.ExperienceLevel),
		PreferredSectors:        normalizeList(s.PreferredSectors),
		ExcludedSectors:         normalizeList(s.ExcludedSectors),
		ExcludedKeywords:        normalizeList(s.ExcludedKeywords),
		ExcludedCompanies:       normalizeList(s.ExcludedCompanies),
	}, nil
}

// normalizeList trims and lower-cases list entries, dropping empty ones.
func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func oneOf(value string, allowed []string) bool {
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}
