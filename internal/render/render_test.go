package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/wateraudit/internal/schema"
)

func sampleFindings() *schema.VisualFindings {
	return &schema.VisualFindings{
		DetectedFeatures:   []string{"green surface film", "  ", "floating debris"},
		ContaminationLevel: schema.LevelHigh,
		LikelyRisks:        []string{"cyanotoxins"},
	}
}

func sampleDiagnosis() *schema.Diagnosis {
	return &schema.Diagnosis{
		Summary:  "Algal bloom with\nrunoff signs.",
		Severity: schema.LevelHigh,
		Causes: []schema.ContaminationCause{
			{Type: "Biological", Source: "algal bloom", RiskLevel: schema.LevelHigh},
		},
		ActionNote: "Avoid all contact.",
	}
}

func TestFindingsText(t *testing.T) {
	got := FindingsText(sampleFindings())
	want := "🔍 **Visual Water Inspection Summary**\n\n" +
		"**Detected Contaminants**: green surface film, floating debris  \n" +
		"**Contamination Level**: `High`  \n" +
		"**Likely Risks**: cyanotoxins\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindingsText mismatch (-want +got):\n%s", diff)
	}
}

func TestFindingsText_Empty(t *testing.T) {
	got := FindingsText(&schema.VisualFindings{ContaminationLevel: schema.LevelLow})
	if !strings.Contains(got, "None visible") || !strings.Contains(got, "None identified") {
		t.Errorf("expected fallbacks for empty lists, got:\n%s", got)
	}
	if FindingsText(nil) != "" {
		t.Error("expected empty string for nil findings")
	}
}

func TestDiagnosisText(t *testing.T) {
	got := DiagnosisText(sampleDiagnosis())
	for _, want := range []string{
		"**Summary**: Algal bloom with runoff signs.",
		"**Severity**: `High`",
		"- **Type**: Biological",
		"  • Source: algal bloom",
		"  • Risk Level: `High`",
		"⚠️ **Note**: Avoid all contact.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("DiagnosisText missing %q:\n%s", want, got)
		}
	}
}

func TestDiagnosisText_NoCauses(t *testing.T) {
	got := DiagnosisText(&schema.Diagnosis{Summary: "Clear.", Severity: schema.LevelLow})
	if !strings.Contains(got, "- None identified") {
		t.Errorf("expected placeholder cause line, got:\n%s", got)
	}
	if strings.Contains(got, "**Note**") {
		t.Errorf("empty action note should be omitted, got:\n%s", got)
	}
}

func TestContextText_Unset(t *testing.T) {
	got := ContextText(schema.UserContext{Urgency: schema.DefaultUrgency})
	for _, want := range []string{
		"**Water Source**: Not specified",
		"**User-Noticed Issues**: None",
		"**Urgency Level**: " + string(schema.DefaultUrgency),
	} {
		if !strings.Contains(got, want) {
			t.Errorf("ContextText missing %q:\n%s", want, got)
		}
	}
}

func TestRiskInput_Order(t *testing.T) {
	got := RiskInput(sampleFindings(), schema.UserContext{SourceType: "River/Pond"})
	iFind := strings.Index(got, "Visual Water Inspection Summary")
	iCtx := strings.Index(got, "**Water Source**: River/Pond")
	if iFind < 0 || iCtx < 0 || iFind > iCtx {
		t.Errorf("expected findings before context, got:\n%s", got)
	}
}

func TestResourcesMarkdown(t *testing.T) {
	links := &schema.ResearchLinks{Resources: []schema.Resource{
		{Category: schema.CategoryFilters, Title: "Best [2024] filters", URL: "https://example.org/f"},
		{Category: schema.CategoryDIY, Title: "Boiling water", URL: "https://example.org/boil"},
		{Category: schema.CategoryDIY, Title: "SODIS", URL: "https://example.org/sodis"},
	}}
	got := ResourcesMarkdown(links)
	want := "#### DIY Water Purification\n" +
		"- [Boiling water](https://example.org/boil)\n" +
		"- [SODIS](https://example.org/sodis)\n" +
		"\n#### Water Safety & Hygiene Guidelines\n" +
		"- No links found\n" +
		"\n#### NGO or Public Advisories\n" +
		"- No links found\n" +
		"\n#### Water Filter Reviews & Recommendations\n" +
		"- [Best (2024) filters](https://example.org/f)\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResourcesMarkdown mismatch (-want +got):\n%s", diff)
	}
}

func TestResourcesMarkdown_Nil(t *testing.T) {
	got := ResourcesMarkdown(nil)
	if n := strings.Count(got, "- No links found"); n != len(schema.Categories) {
		t.Errorf("expected %d placeholder lines, got %d:\n%s", len(schema.Categories), n, got)
	}
}

func TestCandidatesText(t *testing.T) {
	got := CandidatesText([]schema.SearchHit{
		{Category: schema.CategoryDIY, Title: "Boil it", URL: "https://example.org/a", Snippet: "Rolling boil\nfor one minute."},
		{Category: schema.CategoryFilters, Title: "Filters", URL: "https://example.org/b"},
	})
	want := "1. [diy_purification] Boil it\n   URL: https://example.org/a\n   Rolling boil for one minute.\n" +
		"2. [filter_reviews] Filters\n   URL: https://example.org/b\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CandidatesText mismatch (-want +got):\n%s", diff)
	}
}

func TestReportContext_ContainsEveryStage(t *testing.T) {
	got := ReportContext(sampleFindings(), sampleDiagnosis(), &schema.ResearchLinks{}, schema.UserContext{})
	for _, want := range []string{
		"Visual Water Inspection Summary",
		"**Water Source**",
		"Water Contamination Diagnosis",
		"Curated Web Resources",
		"#### DIY Water Purification",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("ReportContext missing %q", want)
		}
	}
}

func TestRenderJSON_PrettyPrinted(t *testing.T) {
	b, err := RenderJSON(sampleFindings())
	if err != nil {
		t.Fatalf("RenderJSON error: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "\n  \"contamination_level\": \"High\"") {
		t.Errorf("expected indented JSON, got:\n%s", s)
	}
}

func TestRenderJSON_Nil(t *testing.T) {
	if _, err := RenderJSON(nil); err == nil {
		t.Error("expected error for nil value, got nil")
	}
}

func TestTerminal_NoTTY(t *testing.T) {
	out, err := Terminal("## Water Quality Report\n\n- boil first\n", 80, "notty")
	if err != nil {
		t.Fatalf("Terminal error: %v", err)
	}
	if !strings.Contains(out, "Water Quality Report") || !strings.Contains(out, "boil first") {
		t.Errorf("rendered output lost content:\n%s", out)
	}
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), schema.ReportFileName)
	if err := WriteReport(path, schema.NewReport("## 🚱 Water Quality Report\n")); err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "## 🚱 Water Quality Report\n" {
		t.Errorf("unexpected file content %q", b)
	}
}

func TestWriteReport_Nil(t *testing.T) {
	if err := WriteReport(filepath.Join(t.TempDir(), "x.md"), nil); err == nil {
		t.Error("expected error for nil report, got nil")
	}
}
