// Package schema defines the canonical data types passed between pipeline stages.
package schema

import (
	"fmt"
	"strings"
)

// Level is a contamination severity bucket.
type Level string

const (
	LevelLow      Level = "Low"
	LevelModerate Level = "Moderate"
	LevelHigh     Level = "High"
)

// Levels lists every valid Level in ascending order.
var Levels = []Level{LevelLow, LevelModerate, LevelHigh}

// levelAliases are common model wordings for the middle bucket.
var levelAliases = map[string]Level{
	"medium": LevelModerate,
	"med":    LevelModerate,
}

// ParseLevel converts a model-supplied string to a Level. Matching ignores case
// and surrounding whitespace, and "Medium" reads as Moderate; anything else
// outside the closed set is an error.
func ParseLevel(s string) (Level, error) {
	t := strings.TrimSpace(s)
	for _, l := range Levels {
		if strings.EqualFold(t, string(l)) {
			return l, nil
		}
	}
	if l, ok := levelAliases[strings.ToLower(t)]; ok {
		return l, nil
	}
	return "", fmt.Errorf("schema: unknown level %q", s)
}

// VisualFindings is the stage 1 output: what the photo shows.
type VisualFindings struct {
	DetectedFeatures   []string `json:"detected_features"`
	ContaminationLevel Level    `json:"contamination_level"`
	LikelyRisks        []string `json:"likely_risks"`
}

// ContaminationCause is one classified cause within a Diagnosis.
type ContaminationCause struct {
	Type      string `json:"type"`
	Source    string `json:"source"`
	RiskLevel Level  `json:"risk_level"`
}

// Diagnosis is the stage 2 output. It is analytic only and carries no advice.
type Diagnosis struct {
	Summary    string               `json:"summary"`
	Severity   Level                `json:"severity"`
	Causes     []ContaminationCause `json:"contamination_causes"`
	ActionNote string               `json:"action_note"`
}

// Category is one of the four fixed research buckets.
type Category string

const (
	CategoryDIY        Category = "diy_purification"
	CategoryGuidelines Category = "safety_guidelines"
	CategoryAdvisories Category = "public_advisories"
	CategoryFilters    Category = "filter_reviews"
)

// Categories lists the research buckets in the order they are searched and rendered.
var Categories = []Category{CategoryDIY, CategoryGuidelines, CategoryAdvisories, CategoryFilters}

// Title returns the human-readable heading for a category.
func (c Category) Title() string {
	switch c {
	case CategoryDIY:
		return "DIY Water Purification"
	case CategoryGuidelines:
		return "Water Safety & Hygiene Guidelines"
	case CategoryAdvisories:
		return "NGO or Public Advisories"
	case CategoryFilters:
		return "Water Filter Reviews & Recommendations"
	default:
		return string(c)
	}
}

// Valid reports whether c is one of the four fixed buckets.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Resource is one curated link.
type Resource struct {
	Category Category `json:"category"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
}

// ResearchLinks is the stage 3 output.
type ResearchLinks struct {
	Resources []Resource `json:"resources"`
}

// ByCategory groups resources by bucket, preserving order within each bucket.
func (r ResearchLinks) ByCategory() map[Category][]Resource {
	out := make(map[Category][]Resource, len(Categories))
	for _, res := range r.Resources {
		out[res.Category] = append(out[res.Category], res)
	}
	return out
}

// Report file constants for the downloadable artifact.
const (
	ReportFileName = "water_safety_report.md"
	ReportMIMEType = "text/markdown"
)

// Report is the terminal artifact of a successful run.
type Report struct {
	Markdown string `json:"markdown"`
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
}

// NewReport wraps composed markdown with the fixed file metadata.
func NewReport(markdown string) *Report {
	return &Report{Markdown: markdown, FileName: ReportFileName, MIMEType: ReportMIMEType}
}

// SearchHit is one web search result offered to the researcher as a candidate link.
type SearchHit struct {
	Category Category `json:"category"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Snippet  string   `json:"snippet,omitempty"`
}
