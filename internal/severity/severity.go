// Package severity provides deterministic local logic over contamination
// levels. No LLM calls are made here.
package severity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/wateraudit/internal/schema"
)

// Ordinal returns the numeric ordinal for a level: Low=0, Moderate=1, High=2.
// Unknown levels return -1.
func Ordinal(l schema.Level) int {
	switch l {
	case schema.LevelLow:
		return 0
	case schema.LevelModerate:
		return 1
	case schema.LevelHigh:
		return 2
	default:
		return -1
	}
}

// Max returns the most severe of the given levels, or "" if none are valid.
func Max(levels ...schema.Level) schema.Level {
	var best schema.Level
	for _, l := range levels {
		if Ordinal(l) > Ordinal(best) {
			best = l
		}
	}
	return best
}

// CountByRisk aggregates causes by risk level.
func CountByRisk(causes []schema.ContaminationCause) (high, moderate, low int) {
	for _, c := range causes {
		switch c.RiskLevel {
		case schema.LevelHigh:
			high++
		case schema.LevelModerate:
			moderate++
		case schema.LevelLow:
			low++
		}
	}
	return
}

// Diverges reports whether the diagnosis severity sits two buckets away from
// the visual contamination level (Low vs High). Adjacent buckets are expected
// because the classifier also weighs the user's context.
func Diverges(f schema.VisualFindings, d schema.Diagnosis) bool {
	a, b := Ordinal(f.ContaminationLevel), Ordinal(d.Severity)
	if a < 0 || b < 0 {
		return false
	}
	diff := a - b
	return diff >= 2 || diff <= -2
}

// ValidateCause returns field-level error messages for a contamination cause.
func ValidateCause(c schema.ContaminationCause) []string {
	var errs []string
	if strings.TrimSpace(c.Type) == "" {
		errs = append(errs, "type is required")
	}
	if strings.TrimSpace(c.Source) == "" {
		errs = append(errs, "source is required")
	}
	if c.RiskLevel == "" {
		errs = append(errs, "risk_level is required")
	} else if Ordinal(c.RiskLevel) < 0 {
		errs = append(errs, fmt.Sprintf("risk_level %q is not valid", c.RiskLevel))
	}
	return errs
}

// emergencyRe matches wording that only belongs in an emergency-grade report.
var emergencyRe = regexp.MustCompile(`(?i)\b(emergency|urgent(ly)?|immediately|life[- ]threatening|evacuat\w*|call 911|seek medical attention)\b`)

// EmergencyTerms returns the distinct emergency phrases found in text, lower-cased,
// in order of first appearance.
func EmergencyTerms(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range emergencyRe.FindAllString(text, -1) {
		k := strings.ToLower(m)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// CalmExpected reports whether a report for this run should avoid emergency
// language: the photo looked clean and the user did not ask for emergency use.
func CalmExpected(f schema.VisualFindings, uc schema.UserContext) bool {
	return f.ContaminationLevel == schema.LevelLow && uc.Urgency != schema.UrgencyEmergency
}
