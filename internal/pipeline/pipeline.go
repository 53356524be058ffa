// Package pipeline runs one water audit: input checks first, then the four
// model stages in strict sequence. Each stage's output feeds the next; any
// failure ends the run with no report.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/wateraudit/internal/config"
	"github.com/dshills/wateraudit/internal/intake"
	"github.com/dshills/wateraudit/internal/llm"
	"github.com/dshills/wateraudit/internal/prompt"
	"github.com/dshills/wateraudit/internal/schema"
	"github.com/dshills/wateraudit/internal/search"
	"github.com/dshills/wateraudit/internal/severity"
)

// Submission is the user's input for one run. ImagePath wins over Image.
type Submission struct {
	ImagePath string
	Image     *schema.Image
	Answers   schema.Answers
}

// Pipeline holds the collaborators shared by runs. It keeps no per-run state.
type Pipeline struct {
	cfg       *config.Config
	general   llm.Provider
	reasoning llm.Provider
	searcher  search.Searcher
	now       func() time.Time
	debug     bool
	debugOut  io.Writer
	progress  func(State)
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithProviders sets the model providers instead of building them from config.
// general serves the first three stages, reasoning the report composer.
func WithProviders(general, reasoning llm.Provider) Option {
	return func(p *Pipeline) {
		p.general = general
		p.reasoning = reasoning
	}
}

// WithSearcher sets the web searcher instead of building a SerpAPI client.
func WithSearcher(s search.Searcher) Option {
	return func(p *Pipeline) { p.searcher = s }
}

// WithClock sets the time source used for timestamps and the report date.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithDebug prints every prompt to w.
func WithDebug(w io.Writer) Option {
	return func(p *Pipeline) {
		p.debug = true
		p.debugOut = w
	}
}

// WithProgress calls fn as the run enters each model stage.
func WithProgress(fn func(State)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// New returns a Pipeline for cfg.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes one submission. The returned Run is never nil; on failure it is
// in StateFailed and the error is a *StageError.
func (p *Pipeline) Run(ctx context.Context, sub Submission) (*Run, error) {
	run := &Run{ID: uuid.NewString(), State: StateIdle, StartedAt: p.now()}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: run started")
	if err := run.advance(StateAwaitingInputs); err != nil {
		return run, p.failRun(run, log, &StageError{Kind: KindInvalidInput, Stage: run.State, Err: err})
	}

	img, uc, serr := p.preflight(sub)
	if serr != nil {
		return run, p.failRun(run, log, serr)
	}
	run.ImageName = img.Name
	run.Context = uc

	general, reasoning, searcher, closeFn, serr := p.clients()
	if serr != nil {
		return run, p.failRun(run, log, serr)
	}
	defer closeFn()
	budget := search.NewBudget(searcher, p.cfg.Search.MaxCalls)
	opts := p.llmOptions()

	err := p.stage(run, log, StateVisual, func() error {
		f, warns, err := llm.ExtractFindings(ctx, providerFor(StateVisual, general, reasoning), img, opts)
		if err != nil {
			return err
		}
		run.Findings = f
		run.addWarnings(StateVisual, warns)
		return nil
	})
	if err != nil {
		return run, err
	}

	err = p.stage(run, log, StateRisk, func() error {
		d, warns, err := llm.ClassifyRisk(ctx, providerFor(StateRisk, general, reasoning), run.Findings, uc, opts)
		if err != nil {
			return err
		}
		run.Diagnosis = d
		run.addWarnings(StateRisk, warns)
		if severity.Diverges(*run.Findings, *d) {
			run.warn(StateRisk, "severity", "diagnosis severity "+string(d.Severity)+
				" is far from visual contamination level "+string(run.Findings.ContaminationLevel))
		}
		return nil
	})
	if err != nil {
		return run, err
	}

	err = p.stage(run, log, StateResearch, func() error {
		hits, err := search.Collect(ctx, budget, run.Diagnosis, uc)
		run.SearchCalls = budget.Used()
		if err != nil {
			return err
		}
		run.Candidates = len(hits)
		links, warns, err := llm.CurateResources(ctx, providerFor(StateResearch, general, reasoning), run.Diagnosis, uc, hits, opts)
		if err != nil {
			return err
		}
		run.Links = links
		run.addWarnings(StateResearch, warns)
		return nil
	})
	if err != nil {
		return run, err
	}

	err = p.stage(run, log, StateReport, func() error {
		report, warns, err := llm.ComposeReport(ctx, providerFor(StateReport, general, reasoning), run.Findings, run.Diagnosis, run.Links, uc, p.now(), opts)
		if err != nil {
			return err
		}
		run.Report = report
		run.addWarnings(StateReport, warns)
		return nil
	})
	if err != nil {
		return run, err
	}

	if err := run.advance(StateComplete); err != nil {
		return run, p.failRun(run, log, &StageError{Kind: KindSchemaValidation, Stage: run.State, Err: err})
	}
	run.FinishedAt = p.now()
	for _, w := range run.Warnings {
		log.Warn("pipeline: validation warning",
			zap.String("stage", string(w.Stage)),
			zap.String("field", w.Field),
			zap.String("message", w.Message),
		)
	}
	high, moderate, low := severity.CountByRisk(run.Diagnosis.Causes)
	log.Info("pipeline: run complete",
		zap.String("severity", string(run.Diagnosis.Severity)),
		zap.Int("high_risk_causes", high),
		zap.Int("moderate_risk_causes", moderate),
		zap.Int("low_risk_causes", low),
		zap.Int("warnings", len(run.Warnings)),
		zap.Int("search_calls", run.SearchCalls),
		zap.Int64("duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds()),
	)
	return run, nil
}

// stage advances run into s, runs fn and records its duration. A failure is
// classified, recorded on the run and returned as a *StageError.
func (p *Pipeline) stage(run *Run, log *zap.Logger, s State, fn func() error) error {
	if err := run.advance(s); err != nil {
		return p.failRun(run, log, &StageError{Kind: KindSchemaValidation, Stage: run.State, Err: err})
	}
	if p.progress != nil {
		p.progress(s)
	}
	start := p.now()
	err := fn()
	duration := p.now().Sub(start).Milliseconds()
	run.Timings = append(run.Timings, StageTiming{Stage: s, DurationMS: duration})
	if err != nil {
		return p.failRun(run, log, &StageError{Kind: classify(err), Stage: s, Err: err})
	}
	log.Info("pipeline: stage complete",
		zap.String("stage", string(s)),
		zap.String("step", prompt.MustLoad(stagePrompts[s]).Name),
		zap.Int64("duration_ms", duration),
	)
	return nil
}

func (p *Pipeline) failRun(run *Run, log *zap.Logger, serr *StageError) error {
	run.fail(serr, p.now())
	log.Error("pipeline: run failed",
		zap.String("stage", string(serr.Stage)),
		zap.String("kind", string(serr.Kind)),
		zap.Error(serr.Err),
	)
	return serr
}

// preflight checks credentials, then the image, then the questionnaire
// answers. Nothing external is called before it passes.
func (p *Pipeline) preflight(sub Submission) (*schema.Image, schema.UserContext, *StageError) {
	fail := func(k Kind, err error) (*schema.Image, schema.UserContext, *StageError) {
		return nil, schema.UserContext{}, &StageError{Kind: k, Stage: StateAwaitingInputs, Err: err}
	}

	if err := p.cfg.RequireCredentials(); err != nil {
		return fail(KindMissingCredential, err)
	}

	var img *schema.Image
	var err error
	switch {
	case sub.ImagePath != "":
		img, err = intake.LoadImage(sub.ImagePath)
	case !sub.Image.Empty():
		img, err = intake.FromBytes(sub.Image.Name, sub.Image.Data)
	default:
		err = intake.ErrMissingImage
	}
	if err != nil {
		if errors.Is(err, intake.ErrUnsupportedImage) {
			return fail(KindInvalidInput, err)
		}
		return fail(KindMissingInput, err)
	}

	uc, err := schema.NewUserContext(sub.Answers)
	if err != nil {
		return fail(KindInvalidInput, err)
	}
	return img, uc, nil
}

// clients returns the providers and searcher for a run, building any not
// injected. The returned func releases what was built here.
func (p *Pipeline) clients() (general, reasoning llm.Provider, s search.Searcher, closeFn func(), serr *StageError) {
	closeFn = func() {}
	fail := func(err error) (llm.Provider, llm.Provider, search.Searcher, func(), *StageError) {
		k := KindExternalService
		if errors.Is(err, config.ErrMissingCredential) {
			k = KindMissingCredential
		}
		return nil, nil, nil, closeFn, &StageError{Kind: k, Stage: StateAwaitingInputs, Err: err}
	}

	general, reasoning, s = p.general, p.reasoning, p.searcher
	var err error
	if general == nil {
		if general, err = llm.NewProvider(p.cfg.LLM.Provider, p.cfg.LLM.APIKey, p.cfg.LLM.Model); err != nil {
			return fail(err)
		}
	}
	if reasoning == nil {
		if reasoning, err = llm.NewProvider(p.cfg.LLM.Provider, p.cfg.LLM.APIKey, p.cfg.LLM.ReportModel); err != nil {
			return fail(err)
		}
	}
	if s == nil {
		serp, err := search.NewSerpAPI(p.cfg.Search)
		if err != nil {
			return fail(err)
		}
		s, closeFn = serp, serp.Close
	}
	return general, reasoning, s, closeFn, nil
}

func (p *Pipeline) llmOptions() llm.Options {
	return llm.Options{
		MaxTokens:   p.cfg.LLM.MaxTokens,
		Temperature: p.cfg.LLM.Temperature,
		Repair:      p.cfg.LLM.Repair,
		Debug:       p.debug,
		DebugOut:    p.debugOut,
	}
}

// stagePrompts maps each model stage to its prompt definition.
var stagePrompts = map[State]prompt.Stage{
	StateVisual:   prompt.StageVisual,
	StateRisk:     prompt.StageRisk,
	StateResearch: prompt.StageResearch,
	StateReport:   prompt.StageReport,
}

// providerFor returns the provider serving s, chosen by its prompt's model tier.
func providerFor(s State, general, reasoning llm.Provider) llm.Provider {
	if prompt.MustLoad(stagePrompts[s]).Tier == prompt.TierReasoning {
		return reasoning
	}
	return general
}

// classify maps a stage error to its Kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, llm.ErrInvalidModelOutput):
		return KindSchemaValidation
	case errors.Is(err, config.ErrMissingCredential):
		return KindMissingCredential
	default:
		return KindExternalService
	}
}

func (r *Run) addWarnings(s State, errs []llm.ValidationError) {
	for _, e := range errs {
		r.warn(s, e.Field, e.Message)
	}
}

func (r *Run) warn(s State, field, msg string) {
	r.Warnings = append(r.Warnings, Warning{Stage: s, Field: field, Message: msg})
}
