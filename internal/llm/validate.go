package llm

import (
	"fmt"
	"strings"

	"github.com/dshills/wateraudit/internal/mdparse"
	"github.com/dshills/wateraudit/internal/prompt"
	"github.com/dshills/wateraudit/internal/schema"
	"github.com/dshills/wateraudit/internal/severity"
)

// Bounds on the curated link count. Outside them the run continues with a warning.
const (
	MinResources = 12
	MaxResources = 16
)

func required(field string) ValidationError {
	return ValidationError{Field: "required_field", Message: field + " is missing", Fatal: true}
}

// ValidateFindings parses and validates a stage 1 response. Levels are
// normalized to their canonical casing. Returns nil findings on any fatal error.
func ValidateFindings(raw string) (*schema.VisualFindings, []ValidationError) {
	var f schema.VisualFindings
	if perr := decodeJSON(raw, &f); perr != nil {
		return nil, []ValidationError{*perr}
	}

	var errs []ValidationError
	if f.DetectedFeatures == nil {
		errs = append(errs, required("detected_features"))
	}
	if f.LikelyRisks == nil {
		errs = append(errs, required("likely_risks"))
	}
	if f.ContaminationLevel == "" {
		errs = append(errs, required("contamination_level"))
	} else if lvl, err := schema.ParseLevel(string(f.ContaminationLevel)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "contamination_level",
			Message: fmt.Sprintf("invalid level %q", f.ContaminationLevel),
			Fatal:   true,
		})
	} else {
		f.ContaminationLevel = lvl
	}
	if needsRepair(errs) {
		return nil, errs
	}

	f.DetectedFeatures = compact(f.DetectedFeatures)
	f.LikelyRisks = compact(f.LikelyRisks)
	return &f, errs
}

// ValidateDiagnosis parses and validates a stage 2 response against the
// findings it was derived from. An empty cause list alongside detected visual
// features is recorded as a warning.
func ValidateDiagnosis(raw string, findings *schema.VisualFindings) (*schema.Diagnosis, []ValidationError) {
	var d schema.Diagnosis
	if perr := decodeJSON(raw, &d); perr != nil {
		return nil, []ValidationError{*perr}
	}

	var errs []ValidationError
	if strings.TrimSpace(d.Summary) == "" {
		errs = append(errs, required("summary"))
	}
	if d.Causes == nil {
		errs = append(errs, required("contamination_causes"))
	}
	if d.Severity == "" {
		errs = append(errs, required("severity"))
	} else if lvl, err := schema.ParseLevel(string(d.Severity)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "severity",
			Message: fmt.Sprintf("invalid level %q", d.Severity),
			Fatal:   true,
		})
	} else {
		d.Severity = lvl
	}

	// An unreadable cause risk level falls back to the overall severity with a
	// warning; only the overall severity is fatal when unreadable.
	for i := range d.Causes {
		c := &d.Causes[i]
		field := fmt.Sprintf("contamination_causes[%d]", i)
		if lvl, err := schema.ParseLevel(string(c.RiskLevel)); err == nil {
			c.RiskLevel = lvl
		} else if severity.Ordinal(d.Severity) >= 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid risk_level %q; using overall severity %s", c.RiskLevel, d.Severity),
			})
			c.RiskLevel = d.Severity
		}
		for _, msg := range severity.ValidateCause(*c) {
			errs = append(errs, ValidationError{Field: field, Message: msg, Fatal: true})
		}
	}
	if needsRepair(errs) {
		return nil, errs
	}

	levels := make([]schema.Level, len(d.Causes))
	for i, c := range d.Causes {
		levels[i] = c.RiskLevel
	}
	if top := severity.Max(levels...); severity.Ordinal(d.Severity) < severity.Ordinal(top) {
		errs = append(errs, ValidationError{
			Field:   "severity",
			Message: fmt.Sprintf("overall severity %s is below the highest cause risk %s", d.Severity, top),
		})
	}

	if strings.TrimSpace(d.ActionNote) == "" {
		errs = append(errs, ValidationError{Field: "action_note", Message: "empty"})
	}
	if findings != nil && len(findings.DetectedFeatures) > 0 && len(d.Causes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "contamination_causes",
			Message: "no causes listed although visual features were detected",
		})
	}
	return &d, errs
}

// ValidateResources parses and validates a stage 3 response. Every kept link
// must come from candidates; others are dropped with a warning, as are
// duplicates. An invalid category is fatal.
func ValidateResources(raw string, candidates []schema.SearchHit) (*schema.ResearchLinks, []ValidationError) {
	var links schema.ResearchLinks
	if perr := decodeJSON(raw, &links); perr != nil {
		return nil, []ValidationError{*perr}
	}
	if links.Resources == nil {
		return nil, []ValidationError{required("resources")}
	}

	var errs []ValidationError
	for i, r := range links.Resources {
		if !schema.Category(strings.TrimSpace(string(r.Category))).Valid() {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("resources[%d].category", i),
				Message: fmt.Sprintf("invalid category %q", r.Category),
				Fatal:   true,
			})
		}
	}
	if needsRepair(errs) {
		return nil, errs
	}

	known := make(map[string]schema.SearchHit, len(candidates))
	for _, c := range candidates {
		known[normalizeURL(c.URL)] = c
	}
	seen := map[string]bool{}
	kept := make([]schema.Resource, 0, len(links.Resources))
	for i, r := range links.Resources {
		key := normalizeURL(r.URL)
		hit, ok := known[key]
		switch {
		case key == "":
			errs = append(errs, ValidationError{Field: fmt.Sprintf("resources[%d].url", i), Message: "empty url; dropped"})
			continue
		case !ok:
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("resources[%d].url", i),
				Message: fmt.Sprintf("url %q not among search results; dropped", r.URL),
			})
			continue
		case seen[key]:
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("resources[%d].url", i),
				Message: fmt.Sprintf("duplicate url %q; dropped", r.URL),
			})
			continue
		}
		seen[key] = true
		r.Category = schema.Category(strings.TrimSpace(string(r.Category)))
		r.URL = hit.URL
		r.Title = strings.TrimSpace(r.Title)
		if r.Title == "" {
			r.Title = hit.Title
		}
		kept = append(kept, r)
	}
	links.Resources = kept
	if len(kept) == 0 {
		errs = append(errs, ValidationError{Field: "resources", Message: "no usable links", Fatal: true})
		return nil, errs
	}

	if n := len(kept); n < MinResources || n > MaxResources {
		errs = append(errs, ValidationError{
			Field:   "resources",
			Message: fmt.Sprintf("%d links curated, expected %d to %d", n, MinResources, MaxResources),
		})
	}
	groups := links.ByCategory()
	for _, c := range schema.Categories {
		if len(groups[c]) == 0 {
			errs = append(errs, ValidationError{
				Field:   "resources",
				Message: fmt.Sprintf("no links for category %s", c),
			})
		}
	}
	return &links, errs
}

// ValidateReport checks a stage 4 response for the required headings in order.
// When calm is set, emergency wording in the Do's and Don'ts section is
// recorded as a warning.
func ValidateReport(raw string, calm bool) (*schema.Report, []ValidationError) {
	md := stripMarkdownFences(raw)
	if md == "" {
		return nil, []ValidationError{required("report")}
	}

	doc := mdparse.Parse([]byte(md))
	var errs []ValidationError
	for _, p := range doc.CheckOrder(prompt.ReportSections) {
		errs = append(errs, ValidationError{Field: "section", Message: p, Fatal: true})
	}
	if needsRepair(errs) {
		return nil, errs
	}

	if doc.Find("Water Quality Report") == nil {
		errs = append(errs, ValidationError{Field: "title", Message: "report title heading missing"})
	}
	if len(doc.Links) == 0 {
		errs = append(errs, ValidationError{Field: "links", Message: "report contains no links"})
	}
	if calm {
		if dos := doc.Find("Do's and Don'ts"); dos != nil {
			if terms := severity.EmergencyTerms(dos.Body); len(terms) > 0 {
				errs = append(errs, ValidationError{
					Field:   "dos_and_donts",
					Message: "emergency wording in a low-risk report: " + strings.Join(terms, ", "),
				})
			}
		}
	}
	return schema.NewReport(md), errs
}

// compact trims entries and drops empty ones.
func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeURL makes URLs comparable across trivial formatting differences.
func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
