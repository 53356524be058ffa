// Package render turns stage outputs into the text handed to the next stage,
// and produces the final report output.
package render

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/dshills/wateraudit/internal/schema"
)

// FindingsText renders stage 1 output for the risk classifier prompt.
func FindingsText(f *schema.VisualFindings) string {
	if f == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("🔍 **Visual Water Inspection Summary**\n\n")
	fmt.Fprintf(&sb, "**Detected Contaminants**: %s  \n", joinOr(f.DetectedFeatures, "None visible"))
	fmt.Fprintf(&sb, "**Contamination Level**: `%s`  \n", f.ContaminationLevel)
	fmt.Fprintf(&sb, "**Likely Risks**: %s\n", joinOr(f.LikelyRisks, "None identified"))
	return sb.String()
}

// DiagnosisText renders stage 2 output for the researcher and composer prompts.
func DiagnosisText(d *schema.Diagnosis) string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("🧪 **Water Contamination Diagnosis**\n\n")
	fmt.Fprintf(&sb, "**Summary**: %s\n", inline(d.Summary))
	fmt.Fprintf(&sb, "**Severity**: `%s`\n\n", d.Severity)

	sb.WriteString("🔬 **Identified Contamination Causes:**\n")
	if len(d.Causes) == 0 {
		sb.WriteString("- None identified\n")
	}
	for _, c := range d.Causes {
		fmt.Fprintf(&sb, "- **Type**: %s\n", inline(c.Type))
		fmt.Fprintf(&sb, "  • Source: %s\n", inline(c.Source))
		fmt.Fprintf(&sb, "  • Risk Level: `%s`\n", c.RiskLevel)
	}
	if d.ActionNote != "" {
		fmt.Fprintf(&sb, "\n⚠️ **Note**: %s\n", inline(d.ActionNote))
	}
	return sb.String()
}

// ContextText renders the questionnaire answers.
func ContextText(uc schema.UserContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Water Source**: %s\n", schema.OrUnset(uc.SourceType))
	fmt.Fprintf(&sb, "**Usage**: %s\n", schema.OrUnset(uc.Usage))
	fmt.Fprintf(&sb, "**Surrounding Area**: %s\n", schema.OrUnset(uc.Surroundings))
	fmt.Fprintf(&sb, "**User-Noticed Issues**: %s\n", uc.IssuesText())
	fmt.Fprintf(&sb, "**Open to Purification**: %s\n", schema.OrUnset(uc.PurificationPreference))
	fmt.Fprintf(&sb, "**Urgency Level**: %s\n", schema.OrUnset(uc.Urgency))
	return sb.String()
}

// RiskInput is the stage 2 user prompt: visual findings plus context.
func RiskInput(f *schema.VisualFindings, uc schema.UserContext) string {
	var sb strings.Builder
	sb.WriteString("💧 **Water Risk Mapping Input**\n\n")
	sb.WriteString(FindingsText(f))
	sb.WriteString("\n")
	sb.WriteString(ContextText(uc))
	return sb.String()
}

// ResourcesMarkdown renders curated links grouped under the four fixed
// category subheadings. Empty categories are listed with a placeholder so the
// composer always sees all four groups.
func ResourcesMarkdown(links *schema.ResearchLinks) string {
	var sb strings.Builder
	var groups map[schema.Category][]schema.Resource
	if links != nil {
		groups = links.ByCategory()
	}
	for i, c := range schema.Categories {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "#### %s\n", c.Title())
		if len(groups[c]) == 0 {
			sb.WriteString("- No links found\n")
			continue
		}
		for _, r := range groups[c] {
			fmt.Fprintf(&sb, "- [%s](%s)\n", linkText(r.Title), r.URL)
		}
	}
	return sb.String()
}

// CandidatesText renders search hits for the researcher prompt.
func CandidatesText(hits []schema.SearchHit) string {
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. [%s] %s\n   URL: %s\n", i+1, h.Category, inline(h.Title), h.URL)
		if h.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", inline(h.Snippet))
		}
	}
	return sb.String()
}

// ReportContext concatenates every upstream rendering for the report composer.
func ReportContext(f *schema.VisualFindings, d *schema.Diagnosis, links *schema.ResearchLinks, uc schema.UserContext) string {
	var sb strings.Builder
	sb.WriteString(FindingsText(f))
	sb.WriteString("\n")
	sb.WriteString(ContextText(uc))
	sb.WriteString("\n")
	sb.WriteString(DiagnosisText(d))
	sb.WriteString("\n🔬 **Curated Web Resources**\n\n")
	sb.WriteString(ResourcesMarkdown(links))
	return sb.String()
}

// RenderJSON produces a pretty-printed JSON representation of v.
func RenderJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("render: nil value")
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// Terminal renders markdown for display in a terminal. Style "auto" detects
// the terminal background; any other value names a glamour standard style
// (e.g. "dark", "light", "notty").
func Terminal(markdown string, width int, style string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("render: terminal renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render: terminal: %w", err)
	}
	return out, nil
}

// WriteReport writes the report markdown to path.
func WriteReport(path string, report *schema.Report) error {
	if report == nil {
		return fmt.Errorf("render: nil report")
	}
	if err := os.WriteFile(path, []byte(report.Markdown), 0o644); err != nil {
		return fmt.Errorf("render: write %s: %w", path, err)
	}
	return nil
}

// joinOr joins items with commas, or returns fallback for an empty list.
func joinOr(items []string, fallback string) string {
	var kept []string
	for _, it := range items {
		if s := inline(it); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return fallback
	}
	return strings.Join(kept, ", ")
}

// inline flattens model text onto a single line so it cannot break list layout.
func inline(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// linkText escapes characters that would end a Markdown link label early.
func linkText(s string) string {
	s = inline(s)
	s = strings.ReplaceAll(s, "[", "(")
	s = strings.ReplaceAll(s, "]", ")")
	return s
}
