package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/wateraudit/internal/prompt"
	"github.com/dshills/wateraudit/internal/render"
	"github.com/dshills/wateraudit/internal/schema"
	"github.com/dshills/wateraudit/internal/severity"
)

// ExtractFindings runs the visual extractor over the photo.
func ExtractFindings(ctx context.Context, p Provider, img *schema.Image, opts Options) (*schema.VisualFindings, []ValidationError, error) {
	if img.Empty() {
		return nil, nil, fmt.Errorf("llm: %s: no image", prompt.StageVisual)
	}
	req := Request{
		System:      prompt.MustLoad(prompt.StageVisual).System(),
		User:        "Analyze this water photo for visible contamination and respond in the required JSON format.",
		Image:       img,
		Schema:      findingsSchema,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	return call(ctx, p, prompt.StageVisual, req, opts, ValidateFindings)
}

// ClassifyRisk maps the visual findings and user context to a diagnosis.
func ClassifyRisk(ctx context.Context, p Provider, f *schema.VisualFindings, uc schema.UserContext, opts Options) (*schema.Diagnosis, []ValidationError, error) {
	req := Request{
		System:      prompt.MustLoad(prompt.StageRisk).System(),
		User:        render.RiskInput(f, uc),
		Schema:      diagnosisSchema,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	return call(ctx, p, prompt.StageRisk, req, opts, func(raw string) (*schema.Diagnosis, []ValidationError) {
		return ValidateDiagnosis(raw, f)
	})
}

// CurateResources asks the model to pick a typed link list from the search hits.
func CurateResources(ctx context.Context, p Provider, d *schema.Diagnosis, uc schema.UserContext, hits []schema.SearchHit, opts Options) (*schema.ResearchLinks, []ValidationError, error) {
	if len(hits) == 0 {
		return nil, nil, fmt.Errorf("llm: %s: no search results to curate", prompt.StageResearch)
	}
	var sb strings.Builder
	sb.WriteString(render.DiagnosisText(d))
	fmt.Fprintf(&sb, "\n**Water Source**: %s\n", schema.OrUnset(uc.SourceType))
	sb.WriteString("\nSEARCH RESULTS:\n")
	sb.WriteString(render.CandidatesText(hits))

	req := Request{
		System:      prompt.MustLoad(prompt.StageResearch).System(),
		User:        sb.String(),
		Schema:      resourcesSchema,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	return call(ctx, p, prompt.StageResearch, req, opts, func(raw string) (*schema.ResearchLinks, []ValidationError) {
		return ValidateResources(raw, hits)
	})
}

// ComposeReport writes the final markdown report from every upstream output.
// now is stated in the system prompt so the model can date the report.
func ComposeReport(
	ctx context.Context,
	p Provider,
	f *schema.VisualFindings,
	d *schema.Diagnosis,
	links *schema.ResearchLinks,
	uc schema.UserContext,
	now time.Time,
	opts Options,
) (*schema.Report, []ValidationError, error) {
	calm := f != nil && severity.CalmExpected(*f, uc)
	tone := ""
	if calm {
		tone = "The water looked clean and this is not emergency use. Keep the tone calm and do not use emergency wording."
	}
	user := render.ReportContext(f, d, links, uc) +
		"\nGenerate a markdown-formatted, personalized water safety report using the content and structure above."

	req := Request{
		System:      prompt.MustLoad(prompt.StageReport).System(tone, "Today's date is "+now.Format("2006-01-02")+"."),
		User:        user,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	return call(ctx, p, prompt.StageReport, req, opts, func(raw string) (*schema.Report, []ValidationError) {
		return ValidateReport(raw, calm)
	})
}
