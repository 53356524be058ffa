// Package llm handles model provider communication, stage prompt construction,
// response validation, and the optional repair attempt.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/dshills/wateraudit/internal/prompt"
	"github.com/dshills/wateraudit/internal/schema"
)

// ErrInvalidModelOutput is returned when a stage's response fails validation
// and no repair was attempted or the repair also failed.
var ErrInvalidModelOutput = errors.New("llm: invalid model output")

// Provider is the interface for model backends.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single model call.
type Request struct {
	System string
	User   string
	// Image, when set, is attached to the user message.
	Image *schema.Image
	// Schema, when set, asks the provider for JSON conforming to it.
	Schema      *OutputSchema
	MaxTokens   int
	Temperature float64
}

// OutputSchema is a named JSON Schema for structured output.
type OutputSchema struct {
	Name       string
	Definition map[string]any
}

// NewProvider is the factory for creating model providers. It is a
// package-level variable so tests can replace it with a mock without modifying
// the call site. Tests must restore the original value; use t.Cleanup.
var NewProvider func(providerName, apiKey, model string) (Provider, error) = defaultNewProvider

// Options configures a stage call.
type Options struct {
	MaxTokens   int
	Temperature float64
	// Repair allows one corrective call after a fatal validation failure.
	Repair bool
	Debug  bool
	// DebugOut receives prompts when Debug is set. Defaults to os.Stderr.
	DebugOut io.Writer
}

// ValidationError records a single validation failure on a model response.
// Fatal errors reject the response; the rest are warnings that were applied
// in place.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// OutputError reports a stage whose response was rejected.
type OutputError struct {
	Stage  prompt.Stage
	Errors []ValidationError
}

func (e *OutputError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		if v.Fatal {
			msgs = append(msgs, v.Field+": "+v.Message)
		}
	}
	return fmt.Sprintf("llm: %s: invalid model output: %s", e.Stage, strings.Join(msgs, "; "))
}

func (e *OutputError) Unwrap() error { return ErrInvalidModelOutput }

// Warnings returns the non-fatal entries of errs.
func Warnings(errs []ValidationError) []ValidationError {
	var out []ValidationError
	for _, e := range errs {
		if !e.Fatal {
			out = append(out, e)
		}
	}
	return out
}

// needsRepair returns true when validation errors include a fatal failure.
func needsRepair(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// call sends req, validates the response and, when opts.Repair is set, makes
// one corrective call on fatal validation failure.
func call[T any](
	ctx context.Context,
	p Provider,
	stage prompt.Stage,
	req Request,
	opts Options,
	validate func(raw string) (*T, []ValidationError),
) (*T, []ValidationError, error) {
	opts.debug(stage, req)

	raw, err := p.Complete(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("llm: %s: complete: %w", stage, err)
	}
	out, errs := validate(raw)
	if out != nil && !needsRepair(errs) {
		return out, Warnings(errs), nil
	}
	if !opts.Repair {
		return nil, errs, &OutputError{Stage: stage, Errors: errs}
	}

	// The repair prompt carries the original request and the rejected
	// response so the model has full context.
	repair := req
	repair.User = buildRepairPrompt(req.User, raw, errs, req.Schema != nil)
	raw2, err := p.Complete(ctx, repair)
	if err != nil {
		return nil, nil, fmt.Errorf("llm: %s: repair complete: %w", stage, err)
	}
	out2, errs2 := validate(raw2)
	if out2 != nil && !needsRepair(errs2) {
		return out2, Warnings(errs2), nil
	}
	return nil, errs2, &OutputError{Stage: stage, Errors: errs2}
}

func (o Options) debug(stage prompt.Stage, req Request) {
	if !o.Debug {
		return
	}
	w := o.DebugOut
	if w == nil {
		w = os.Stderr
	}
	// Image bytes are never printed; only the attachment's name and type.
	fmt.Fprintf(w, "=== DEBUG: %s stage: %s ===\n", stage, prompt.MustLoad(stage).Name)
	fmt.Fprintf(w, "=== DEBUG: %s system prompt ===\n%s\n", stage, req.System)
	fmt.Fprintf(w, "=== DEBUG: %s user prompt ===\n%s\n", stage, req.User)
	if req.Image != nil {
		fmt.Fprintf(w, "=== DEBUG: %s image: %s (%s, %d bytes) ===\n", stage, req.Image.Name, req.Image.MIME, len(req.Image.Data))
	}
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line. Used to strip orphaned
// opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes a code fence that models sometimes wrap around
// their whole output (e.g., "```json\n...\n```"). If only an opening fence is
// present, the opening line is stripped.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is not
// a valid JSON string escape character ("\/bfnrtu).
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// fixInvalidJSONEscapes replaces invalid JSON escape sequences in s with their
// correctly double-escaped equivalents.
func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// decodeJSON strips fences and unmarshals raw into v, retrying once with
// invalid escapes repaired.
func decodeJSON(raw string, v any) *ValidationError {
	raw = stripMarkdownFences(raw)
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	if err2 := json.Unmarshal([]byte(fixInvalidJSONEscapes(raw)), v); err2 == nil {
		return nil
	}
	return &ValidationError{Field: "json_parse", Message: err.Error(), Fatal: true}
}

// buildRepairPrompt constructs the repair message.
func buildRepairPrompt(originalUserPrompt, previousResponse string, errs []ValidationError, jsonOut bool) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		if e.Fatal {
			fmt.Fprintf(&sb, "  - %s\n", e.Error())
		}
	}
	if jsonOut {
		sb.WriteString("\nPlease output only the corrected JSON conforming to the schema. Do not repeat the error.")
	} else {
		sb.WriteString("\nPlease output only the corrected markdown report. Do not repeat the error.")
	}
	return sb.String()
}

// schemaInstructions renders s for inclusion in a system prompt. Providers
// without native schema enforcement rely on it.
func schemaInstructions(s *OutputSchema) string {
	if s == nil {
		return ""
	}
	b, err := json.MarshalIndent(s.Definition, "", "  ")
	if err != nil {
		return ""
	}
	return "Output ONLY valid JSON conforming to the JSON Schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n" + string(b)
}

// ── Provider dispatch ─────────────────────────────────────────────────────────

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(providerName, apiKey, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: %s: api key not set", providerName)
	}
	switch strings.ToLower(providerName) {
	case "openai", "":
		return newOpenAIProvider(apiKey, model)
	case "anthropic":
		return newAnthropicProvider(apiKey, model)
	case "google":
		return newGoogleProvider(apiKey, model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", providerName)
	}
}
