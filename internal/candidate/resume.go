// Package candidate turns imported candidate records into structured signals
// and applies recruiter eligibility criteria (the hard filter) ahead of
// scoring.
package candidate

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"jobmatch/matching-service/internal/model"
)

// Normalized is a candidate's resume flattened into the text blocks the
// signal extractors work on. Missing sections yield empty strings, never
// errors.
type Normalized struct {
	Name           string              `json:"name"`
	Email          string              `json:"email"`
	EducationText  string              `json:"education_text"`
	ExperienceText string              `json:"experience_text"`
	ProjectsText   string              `json:"projects_text"`
	SkillsText     string              `json:"skills_text"`
	RawSections    map[string][]string `json:"raw_sections,omitempty"`
}

// Normalize extracts the known resume sections from the candidate's parsed
// resume JSON. Malformed or absent resume data produces an empty (but valid)
// normalization.
func Normalize(c model.Candidate) Normalized {
	var parsed struct {
		Sections map[string][]string `json:"sections"`
	}
	// Best effort: a broken resume payload degrades to empty sections.
	_ = json.Unmarshal([]byte(c.ResumeData), &parsed)

	sections := parsed.Sections
	return Normalized{
		Name:           c.Name,
		Email:          c.Email,
		EducationText:  strings.Join(sections["Education"], "\n"),
		ExperienceText: strings.Join(sections["Experience"], "\n"),
		ProjectsText:   strings.Join(sections["Projects"], "\n"),
		SkillsText:     strings.Join(sections["Technical Skills"], "\n"),
		RawSections:    sections,
	}
}

var yearsPattern = regexp.MustCompile(`(\d+)\s*\+?\s*(?:years|yrs|year|yr)`)

// ExperienceYears extracts the largest year figure mentioned in the
// experience text. Zero when nothing matches.
func ExperienceYears(experienceText string) float64 {
	matches := yearsPattern.FindAllStringSubmatch(strings.ToLower(experienceText), -1)
	years := 0.0
	for _, m := range matches {
		if v, err := strconv.Atoi(m[1]); err == nil && float64(v) > years {
			years = float64(v)
		}
	}
	return years
}

// PlatformSignal is a coding-platform metric found in the resume text.
type PlatformSignal struct {
	Platform string  `json:"platform"`
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
}

var (
	codeforcesPattern = regexp.MustCompile(`codeforces\D*(\d{3,5})`)
	leetcodePattern   = regexp.MustCompile(`leetcode\D*(\d{1,7})`)
)

// CodingSignals scans skills, projects and experience text for recognized
// coding-platform metrics.
func CodingSignals(n Normalized) []PlatformSignal {
	text := strings.ToLower(n.SkillsText + " " + n.ProjectsText + " " + n.ExperienceText)

	var signals []PlatformSignal
	if m := codeforcesPattern.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		signals = append(signals, PlatformSignal{Platform: "codeforces", Metric: "rating", Value: v})
	}
	if m := leetcodePattern.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		signals = append(signals, PlatformSignal{Platform: "leetcode", Metric: "contest_rank", Value: v})
	}
	return signals
}
