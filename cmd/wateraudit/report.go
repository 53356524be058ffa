package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/wateraudit/internal/config"
	"github.com/dshills/wateraudit/internal/pipeline"
	"github.com/dshills/wateraudit/internal/render"
	"github.com/dshills/wateraudit/internal/schema"
)

// reportFlags holds the parsed flags of the report command.
type reportFlags struct {
	configPath   string
	image        string
	source       string
	usage        string
	surroundings string
	issues       []string
	purification string
	urgency      string
	out          string
	format       string
	render       bool
	style        string
	provider     string
	model        string
	reportModel  string
	apiKey       string
	serpKey      string
	repair       bool
	debug        bool
}

func newReportCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Analyze a water photo and write a markdown safety report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.configPath = configPath
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runReport(ctx, f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.image, "image", "", "path to the water photo (jpg, jpeg, png)")
	fl.StringVar(&f.source, "source", "", "water source type (list values with: wateraudit options)")
	fl.StringVar(&f.usage, "usage", "", "intended water usage")
	fl.StringVar(&f.surroundings, "surroundings", "", "surrounding area")
	fl.StringArrayVar(&f.issues, "issue", nil, "noticed issue; repeat for several")
	fl.StringVar(&f.purification, "purification", "", "open to purification: Yes, No, Unsure")
	fl.StringVar(&f.urgency, "urgency", "", "urgency level")
	fl.StringVarP(&f.out, "out", "o", "", "output path, or - for stdout (default from config)")
	fl.StringVar(&f.format, "format", "", "output format: markdown or json")
	fl.BoolVar(&f.render, "render", false, "also render the report for the terminal")
	fl.StringVar(&f.style, "style", "auto", "terminal style for --render: auto, dark, light, notty")
	fl.StringVar(&f.provider, "provider", "", "model provider: openai, anthropic, google")
	fl.StringVar(&f.model, "model", "", "model for the extraction, classification and research stages")
	fl.StringVar(&f.reportModel, "report-model", "", "reasoning model for the report stage")
	fl.StringVar(&f.apiKey, "api-key", "", "model-service API key")
	fl.StringVar(&f.apiKey, "openai-key", "", "alias of --api-key")
	fl.StringVar(&f.serpKey, "serp-key", "", "SerpAPI key")
	fl.BoolVar(&f.repair, "repair", false, "allow one corrective model call when a stage's output is invalid")
	fl.BoolVar(&f.debug, "debug", false, "print prompts to stderr")
	return cmd
}

// runReport executes one audit and writes its output. Errors carry the exit
// code for their failure kind.
func runReport(ctx context.Context, f reportFlags, stdout, stderr io.Writer) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return &exitError{code: exitCodeBadInput, err: err}
	}
	if err := applyFlags(cfg, f); err != nil {
		return &exitError{code: exitCodeBadInput, err: err}
	}

	opts := []pipeline.Option{
		pipeline.WithProgress(func(s pipeline.State) {
			fmt.Fprintln(stderr, stageStyle.Render("● "+stageLabel(s)+"…"))
		}),
	}
	if f.debug {
		opts = append(opts, pipeline.WithDebug(stderr))
	}

	run, err := pipeline.New(cfg, opts...).Run(ctx, pipeline.Submission{
		ImagePath: f.image,
		Answers: schema.Answers{
			SourceType:   f.source,
			Usage:        f.usage,
			Surroundings: f.surroundings,
			Issues:       f.issues,
			Purification: f.purification,
			Urgency:      f.urgency,
		},
	})
	if err != nil {
		return &exitError{code: exitCodeFor(pipeline.KindOf(err)), err: err}
	}

	for _, w := range run.Warnings {
		fmt.Fprintln(stderr, warnStyle.Render(fmt.Sprintf("! %s: %s: %s", w.Stage, w.Field, w.Message)))
	}

	if err := writeOutput(cfg, run, stdout); err != nil {
		return err
	}
	if f.render {
		out, err := render.Terminal(run.Report.Markdown, cfg.Output.Width, f.style)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, out)
	}

	dest := cfg.Output.Path
	if dest == "-" {
		dest = "stdout"
	}
	fmt.Fprintln(stderr, okStyle.Render(fmt.Sprintf("✓ Report written to %s (run %s)", dest, run.ID)))
	return nil
}

// applyFlags layers command-line overrides onto cfg.
func applyFlags(cfg *config.Config, f reportFlags) error {
	if f.provider != "" {
		cfg.SetProvider(f.provider)
	}
	if f.model != "" {
		cfg.LLM.Model = f.model
	}
	if f.reportModel != "" {
		cfg.LLM.ReportModel = f.reportModel
	}
	if f.apiKey != "" {
		cfg.LLM.APIKey = f.apiKey
	}
	if f.serpKey != "" {
		cfg.Search.APIKey = f.serpKey
	}
	if f.repair {
		cfg.LLM.Repair = true
	}
	if f.format != "" {
		cfg.Output.Format = strings.ToLower(f.format)
	}
	if f.out != "" {
		cfg.Output.Path = f.out
	} else if cfg.Output.Format == "json" && cfg.Output.Path == schema.ReportFileName {
		cfg.Output.Path = strings.TrimSuffix(schema.ReportFileName, ".md") + ".json"
	}
	return cfg.Validate()
}

// writeOutput writes the report markdown or the full run as JSON.
func writeOutput(cfg *config.Config, run *pipeline.Run, stdout io.Writer) error {
	var body []byte
	switch cfg.Output.Format {
	case "json":
		b, err := render.RenderJSON(run)
		if err != nil {
			return err
		}
		body = append(b, '\n')
	default:
		if cfg.Output.Path != "-" {
			return render.WriteReport(cfg.Output.Path, run.Report)
		}
		body = []byte(run.Report.Markdown)
	}

	if cfg.Output.Path == "-" {
		_, err := stdout.Write(body)
		return err
	}
	if err := os.WriteFile(cfg.Output.Path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cfg.Output.Path, err)
	}
	return nil
}

func exitCodeFor(k pipeline.Kind) int {
	switch k {
	case pipeline.KindMissingCredential:
		return exitCodeCredential
	case pipeline.KindMissingInput, pipeline.KindInvalidInput:
		return exitCodeBadInput
	case pipeline.KindSchemaValidation:
		return exitCodeBadOutput
	case pipeline.KindExternalService:
		return exitCodeAPIError
	default:
		return 1
	}
}

func stageLabel(s pipeline.State) string {
	switch s {
	case pipeline.StateVisual:
		return "Analyzing the photo"
	case pipeline.StateRisk:
		return "Classifying contamination risk"
	case pipeline.StateResearch:
		return "Researching purification and safety resources"
	case pipeline.StateReport:
		return "Composing the report"
	default:
		return string(s)
	}
}
