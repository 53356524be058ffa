package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/wateraudit/internal/config"
	"github.com/dshills/wateraudit/internal/llm"
	"github.com/dshills/wateraudit/internal/mdparse"
	"github.com/dshills/wateraudit/internal/prompt"
	"github.com/dshills/wateraudit/internal/schema"
	"github.com/dshills/wateraudit/internal/severity"
)

func TestMain(m *testing.M) {
	restore := zap.ReplaceGlobals(zap.NewNop())
	code := m.Run()
	restore()
	os.Exit(code)
}

// scriptedProvider answers by stage, keyed on the requested schema name;
// the markdown report request has no schema and is keyed "report".
type scriptedProvider struct {
	byStage map[string]string
	errOn   string
	calls   []llm.Request
}

func (s *scriptedProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls = append(s.calls, req)
	key := "report"
	if req.Schema != nil {
		key = req.Schema.Name
	}
	if key == s.errOn {
		return "", errors.New("model service unavailable")
	}
	out, ok := s.byStage[key]
	if !ok {
		return "", fmt.Errorf("scriptedProvider: no response for %s", key)
	}
	return out, nil
}

// stubSearcher returns four hits per bucket.
type stubSearcher struct {
	err   error
	calls int
}

func (s *stubSearcher) Search(_ context.Context, c schema.Category, _ string) ([]schema.SearchHit, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var hits []schema.SearchHit
	for i := 1; i <= 4; i++ {
		hits = append(hits, schema.SearchHit{
			Category: c,
			Title:    fmt.Sprintf("%s %d", c, i),
			URL:      fmt.Sprintf("https://example.org/%s/%d", c, i),
		})
	}
	return hits, nil
}

func resourcesJSON(t *testing.T) string {
	t.Helper()
	links := schema.ResearchLinks{}
	for _, c := range schema.Categories {
		for i := 1; i <= 3; i++ {
			links.Resources = append(links.Resources, schema.Resource{
				Category: c,
				Title:    fmt.Sprintf("%s link %d", c, i),
				URL:      fmt.Sprintf("https://example.org/%s/%d", c, i),
			})
		}
	}
	b, err := json.Marshal(links)
	require.NoError(t, err)
	return string(b)
}

const reportTemplate = `## 🚱 Water Quality Report

### 🔍 Visual Contamination Summary
- %s
- Contamination level: **%s**

### 🧪 Diagnosis & Risk Mapping
Overall severity: **%s**.

### 💧 Suggested Purification Methods
- [Boil water safely at home](https://example.org/diy_purification/1)

### 🚫 Do's and Don'ts
- %s

### 🔗 Curated Resources
#### 🛠️ DIY Water Purification
- [Boil water safely at home](https://example.org/diy_purification/1)
#### 📘 Water Safety & Hygiene Guidelines
- [Guidelines](https://example.org/safety_guidelines/1)
#### 🏥 NGO or Public Advisories
- [Advisory](https://example.org/public_advisories/1)
#### 🧪 Water Filter Reviews & Recommendations
- [Filters](https://example.org/filter_reviews/1)
`

func algaeScript(t *testing.T) map[string]string {
	return map[string]string{
		"visual_findings": `{"detected_features":["green algae","murky water"],"contamination_level":"High","likely_risks":["bacterial"]}`,
		"diagnosis": `{"summary":"Algal bloom in stagnant water.","severity":"High",` +
			`"contamination_causes":[{"type":"Biological","source":"algae","risk_level":"High"}],` +
			`"action_note":"High level of concern."}`,
		"research_links": resourcesJSON(t),
		"report": fmt.Sprintf(reportTemplate, "Green algae and murky water.", "High", "High",
			"Do not drink untreated. Seek medical attention immediately if anyone feels ill."),
	}
}

func clearScript(t *testing.T) map[string]string {
	return map[string]string{
		"visual_findings": `{"detected_features":[],"contamination_level":"Low","likely_risks":[]}`,
		"diagnosis":       `{"summary":"Clear water.","severity":"Low","contamination_causes":[],"action_note":"Low concern."}`,
		"research_links":  resourcesJSON(t),
		"report": fmt.Sprintf(reportTemplate, "Clear water, no visible particles.", "Low", "Low",
			"Do keep the tap outlet clean and store water covered."),
	}
}

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.APIKey = "model-key"
	cfg.Search.APIKey = "search-key"
	return cfg
}

func pngImage() *schema.Image {
	return &schema.Image{
		Name: "water.png",
		Data: []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'},
	}
}

type harness struct {
	general   *scriptedProvider
	reasoning *scriptedProvider
	searcher  *stubSearcher
	pipeline  *Pipeline
}

func newHarness(cfg *config.Config, script map[string]string) *harness {
	h := &harness{
		general:   &scriptedProvider{byStage: script},
		reasoning: &scriptedProvider{byStage: script},
		searcher:  &stubSearcher{},
	}
	h.pipeline = New(cfg,
		WithProviders(h.general, h.reasoning),
		WithSearcher(h.searcher),
		WithClock(func() time.Time { return fixedNow }),
	)
	return h
}

func (h *harness) externalCalls() int {
	return len(h.general.calls) + len(h.reasoning.calls) + h.searcher.calls
}

func TestRun_AlgaePondEmergency(t *testing.T) {
	h := newHarness(testConfig(), algaeScript(t))
	run, err := h.pipeline.Run(context.Background(), Submission{
		Image: pngImage(),
		Answers: schema.Answers{
			SourceType: "River/Pond",
			Usage:      "Drinking",
			Issues:     []string{"Floating particles", "Color change"},
			Urgency:    "Emergency use",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, run.State)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, fixedNow, run.StartedAt)
	assert.Equal(t, schema.LevelHigh, run.Findings.ContaminationLevel)
	assert.Equal(t, schema.LevelHigh, run.Diagnosis.Severity)
	assert.Equal(t, "Biological", run.Diagnosis.Causes[0].Type)
	assert.Equal(t, 4, run.SearchCalls)
	assert.Equal(t, 16, run.Candidates)
	assert.Len(t, run.Links.Resources, 12)
	assert.Len(t, run.Timings, 4)

	require.NotNil(t, run.Report)
	assert.Equal(t, schema.ReportFileName, run.Report.FileName)
	doc := mdparse.Parse([]byte(run.Report.Markdown))
	assert.Empty(t, doc.CheckOrder(prompt.ReportSections))
	assert.Contains(t, doc.Find("Diagnosis & Risk Mapping").Body, "High")

	// Stages 1-3 use the general model, stage 4 the reasoning model.
	assert.Len(t, h.general.calls, 3)
	require.Len(t, h.reasoning.calls, 1)
	assert.NotNil(t, h.general.calls[0].Image)
	assert.Equal(t, "image/png", h.general.calls[0].Image.MIME)
	assert.Contains(t, h.reasoning.calls[0].System, "2026-10-19")
}

func TestRun_ClearTapRoutine(t *testing.T) {
	h := newHarness(testConfig(), clearScript(t))
	run, err := h.pipeline.Run(context.Background(), Submission{
		Image:   pngImage(),
		Answers: schema.Answers{SourceType: "Tap", Usage: "Drinking", Issues: []string{"No visible issue"}},
	})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, run.State)
	assert.Equal(t, schema.LevelLow, run.Findings.ContaminationLevel)
	assert.Equal(t, schema.DefaultUrgency, run.Context.Urgency)
	dos := mdparse.Parse([]byte(run.Report.Markdown)).Find("Do's and Don'ts")
	require.NotNil(t, dos)
	assert.Empty(t, severity.EmergencyTerms(dos.Body))
	assert.Contains(t, h.reasoning.calls[0].System, "do not use emergency wording")
}

func TestRun_FromImagePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.png")
	require.NoError(t, os.WriteFile(path, pngImage().Data, 0o644))

	h := newHarness(testConfig(), clearScript(t))
	run, err := h.pipeline.Run(context.Background(), Submission{ImagePath: path})
	require.NoError(t, err)
	assert.Equal(t, "sample.png", run.ImageName)
}

func TestRun_PreflightFailuresMakeNoExternalCalls(t *testing.T) {
	noSearchKey := testConfig()
	noSearchKey.Search.APIKey = ""
	noModelKey := testConfig()
	noModelKey.LLM.APIKey = "  "

	gif := &schema.Image{Name: "x.gif", Data: []byte("GIF89a\x01\x00\x01\x00")}

	cases := []struct {
		name     string
		cfg      *config.Config
		sub      Submission
		kind     Kind
		sentinel error
	}{
		{"no image", testConfig(), Submission{}, KindMissingInput, ErrMissingInput},
		{"missing image file", testConfig(), Submission{ImagePath: filepath.Join(t.TempDir(), "nope.png")}, KindMissingInput, ErrMissingInput},
		{"no search key", noSearchKey, Submission{Image: pngImage()}, KindMissingCredential, ErrMissingCredential},
		{"no model key", noModelKey, Submission{}, KindMissingCredential, ErrMissingCredential},
		{"gif image", testConfig(), Submission{Image: gif}, KindInvalidInput, ErrInvalidInput},
		{"bad choice", testConfig(), Submission{Image: pngImage(), Answers: schema.Answers{SourceType: "Ocean"}}, KindInvalidInput, ErrInvalidInput},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(c.cfg, clearScript(t))
			run, err := h.pipeline.Run(context.Background(), c.sub)
			require.Error(t, err)
			assert.ErrorIs(t, err, c.sentinel)
			assert.Equal(t, c.kind, KindOf(err))
			assert.Equal(t, StateFailed, run.State)
			assert.Equal(t, StateAwaitingInputs, run.FailedStage)
			assert.Nil(t, run.Report)
			assert.Zero(t, h.externalCalls())
		})
	}
}

func TestRun_StageFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(h *harness, script map[string]string)
		stage  State
		kind   Kind
	}{
		{
			name:   "stage 2 schema failure",
			mutate: func(_ *harness, s map[string]string) { s["diagnosis"] = `{"summary":"x"}` },
			stage:  StateRisk,
			kind:   KindSchemaValidation,
		},
		{
			name:   "stage 1 invalid level",
			mutate: func(_ *harness, s map[string]string) { s["visual_findings"] = strings.Replace(s["visual_findings"], "High", "Severe", 1) },
			stage:  StateVisual,
			kind:   KindSchemaValidation,
		},
		{
			name:   "search outage",
			mutate: func(h *harness, _ map[string]string) { h.searcher.err = errors.New("503") },
			stage:  StateResearch,
			kind:   KindExternalService,
		},
		{
			name:   "report model outage",
			mutate: func(h *harness, _ map[string]string) { h.reasoning.errOn = "report" },
			stage:  StateReport,
			kind:   KindExternalService,
		},
		{
			name: "report missing a section",
			mutate: func(_ *harness, s map[string]string) {
				s["report"] = strings.Replace(s["report"], "### 🚫 Do's and Don'ts", "### Tips", 1)
			},
			stage: StateReport,
			kind:  KindSchemaValidation,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			script := algaeScript(t)
			h := newHarness(testConfig(), script)
			c.mutate(h, script)

			run, err := h.pipeline.Run(context.Background(), Submission{Image: pngImage()})
			require.Error(t, err)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, c.stage, se.Stage)
			assert.Equal(t, c.kind, se.Kind)
			assert.Equal(t, StateFailed, run.State)
			assert.Equal(t, c.stage, run.FailedStage)
			assert.Equal(t, c.kind, run.FailureKind)
			assert.NotEmpty(t, run.Error)
			assert.Nil(t, run.Report, "a failed run never carries a report")
			assert.Equal(t, fixedNow, run.FinishedAt)
		})
	}
}

func TestRun_StopsAfterFailedStage(t *testing.T) {
	script := algaeScript(t)
	script["visual_findings"] = "not json"
	h := newHarness(testConfig(), script)

	_, err := h.pipeline.Run(context.Background(), Submission{Image: pngImage()})
	assert.ErrorIs(t, err, ErrSchemaValidation)
	assert.ErrorIs(t, err, llm.ErrInvalidModelOutput)
	assert.Len(t, h.general.calls, 1, "no retry and no later stage")
	assert.Zero(t, h.searcher.calls)
	assert.Empty(t, h.reasoning.calls)
}

func TestRun_RepairWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Repair = true
	script := algaeScript(t)
	script["diagnosis"] = `{"summary":"x"}`
	h := newHarness(cfg, script)

	_, err := h.pipeline.Run(context.Background(), Submission{Image: pngImage()})
	require.Error(t, err)
	// Stage 1 once, stage 2 plus its single repair call.
	assert.Len(t, h.general.calls, 3)
}

func TestRun_Warnings(t *testing.T) {
	script := algaeScript(t)
	// Clean-looking photo classified High: severity diverges, and the
	// missing causes list for detected features is flagged.
	script["visual_findings"] = `{"detected_features":["foam"],"contamination_level":"Low","likely_risks":[]}`
	script["diagnosis"] = `{"summary":"s","severity":"High","contamination_causes":[],"action_note":"n"}`
	h := newHarness(testConfig(), script)

	run, err := h.pipeline.Run(context.Background(), Submission{Image: pngImage()})
	require.NoError(t, err)

	fields := map[string]bool{}
	for _, w := range run.Warnings {
		fields[w.Field] = true
	}
	assert.True(t, fields["severity"], "warnings: %+v", run.Warnings)
	assert.True(t, fields["contamination_causes"], "warnings: %+v", run.Warnings)
	// Low visual level with routine urgency expects calm wording; the
	// scripted report uses emergency language.
	assert.True(t, fields["dos_and_donts"], "warnings: %+v", run.Warnings)
}

func TestRun_JSONShape(t *testing.T) {
	h := newHarness(testConfig(), clearScript(t))
	run, err := h.pipeline.Run(context.Background(), Submission{Image: pngImage()})
	require.NoError(t, err)

	b, err := json.Marshal(run)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"run_id", "state", "visual_findings", "diagnosis", "research_links", "report"} {
		assert.Contains(t, m, k)
	}
	assert.NotContains(t, m, "failed_stage")
}

func TestProviderFor_FollowsPromptTier(t *testing.T) {
	general, reasoning := &scriptedProvider{}, &scriptedProvider{}
	for s, ps := range stagePrompts {
		want := llm.Provider(general)
		if prompt.MustLoad(ps).Tier == prompt.TierReasoning {
			want = reasoning
		}
		assert.Same(t, want, providerFor(s, general, reasoning), "stage %s", s)
	}
	assert.Same(t, reasoning, providerFor(StateReport, general, reasoning))
}

func TestRun_LogsCauseCountsAndStepNames(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	script := algaeScript(t)
	script["diagnosis"] = `{"summary":"Algal bloom.","severity":"High","contamination_causes":[` +
		`{"type":"Biological","source":"algae","risk_level":"High"},` +
		`{"type":"Vector-borne","source":"larvae","risk_level":"Moderate"},` +
		`{"type":"Chemical","source":"runoff","risk_level":"Moderate"}],"action_note":"n"}`
	h := newHarness(testConfig(), script)
	_, err := h.pipeline.Run(context.Background(), Submission{Image: pngImage()})
	require.NoError(t, err)

	done := logs.FilterMessage("pipeline: run complete").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "High", fields["severity"])
	assert.EqualValues(t, 1, fields["high_risk_causes"])
	assert.EqualValues(t, 2, fields["moderate_risk_causes"])
	assert.EqualValues(t, 0, fields["low_risk_causes"])

	var steps []any
	for _, e := range logs.FilterMessage("pipeline: stage complete").All() {
		steps = append(steps, e.ContextMap()["step"])
	}
	assert.Equal(t, []any{
		prompt.MustLoad(prompt.StageVisual).Name,
		prompt.MustLoad(prompt.StageRisk).Name,
		prompt.MustLoad(prompt.StageResearch).Name,
		prompt.MustLoad(prompt.StageReport).Name,
	}, steps)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateAwaitingInputs))
	assert.True(t, CanTransition(StateResearch, StateReport))
	assert.True(t, CanTransition(StateRisk, StateFailed))
	assert.False(t, CanTransition(StateVisual, StateResearch), "stages cannot be skipped")
	assert.False(t, CanTransition(StateComplete, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateVisual))
}

func TestStageError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &StageError{Kind: KindExternalService, Stage: StateVisual, Err: cause})
	assert.ErrorIs(t, err, ErrExternalService)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSchemaValidation)
	assert.Equal(t, KindExternalService, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(cause))
}
