package candidate

import (
	"fmt"
	"strings"

	"jobmatch/matching-service/internal/model"
)

// Comparison records how one coding-platform criterion fared against the
// candidate's extracted signals.
type Comparison struct {
	Criterion  model.CodingCriterion `json:"rule"`
	Matched    bool                  `json:"matched"`
	FoundValue *float64              `json:"found_value,omitempty"`
	Reason     string                `json:"reason,omitempty"`
}

// CompareCriteria evaluates every recruiter criterion against the extracted
// signals. A criterion with no matching signal fails with reason
// "signal_not_found" rather than erroring.
func CompareCriteria(signals []PlatformSignal, criteria []model.CodingCriterion) []Comparison {
	comparisons := make([]Comparison, 0, len(criteria))
	for _, rule := range criteria {
		platform := strings.ToLower(strings.TrimSpace(rule.Platform))
		metric := strings.ToLower(strings.TrimSpace(rule.Metric))

		var found *PlatformSignal
		for i := range signals {
			if strings.ToLower(signals[i].Platform) == platform && strings.ToLower(signals[i].Metric) == metric {
				found = &signals[i]
				break
			}
		}
		if found == nil {
			comparisons = append(comparisons, Comparison{Criterion: rule, Reason: "signal_not_found"})
			continue
		}

		value := found.Value
		var matched bool
		switch strings.ToLower(rule.Operator) {
		case "gte":
			matched = value >= rule.Value
		case "lte":
			matched = value <= rule.Value
		case "eq":
			matched = value == rule.Value
		default:
			comparisons = append(comparisons, Comparison{Criterion: rule, FoundValue: &value, Reason: "invalid_rule"})
			continue
		}
		comparisons = append(comparisons, Comparison{Criterion: rule, Matched: matched, FoundValue: &value})
	}
	return comparisons
}

// HardFilterOutcome is the pass/fail eligibility decision with
// human-readable reasons for each failed criterion.
type HardFilterOutcome struct {
	Passes  bool     `json:"passes_hard_filter"`
	Reasons []string `json:"filter_reasons"`
}

// HardFilter applies the recruiter's eligibility criteria: college tier in
// the allowed set, experience within [min,max], every coding criterion
// satisfied. Missing candidate data counts as a failed criterion with an
// explanatory reason; it never raises.
func HardFilter(pref *model.RecruiterPreference, tier string, years float64, comparisons []Comparison) HardFilterOutcome {
	reasons := []string{}
	passes := true

	allowed := false
	for _, t := range pref.CollegeTiers {
		if t == tier {
			allowed = true
			break
		}
	}
	if !allowed {
		passes = false
		reasons = append(reasons, fmt.Sprintf("College tier mismatch: %s", tier))
	}

	if years < pref.MinExperienceYears || years > pref.MaxExperienceYears {
		passes = false
		reasons = append(reasons, "Experience outside preferred range")
	}

	for _, c := range comparisons {
		if !c.Matched {
			passes = false
			reasons = append(reasons, "Coding criteria mismatch")
			break
		}
	}

	return HardFilterOutcome{Passes: passes, Reasons: reasons}
}
