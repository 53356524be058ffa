package pipeline

import (
	"fmt"
	"time"

	"github.com/dshills/wateraudit/internal/schema"
)

// State is a run's position in the stage sequence.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingInputs State = "awaiting_inputs"
	StateVisual         State = "visual_extraction"
	StateRisk           State = "risk_classification"
	StateResearch       State = "resource_research"
	StateReport         State = "report_composition"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

// successor is the only forward transition out of each state.
var successor = map[State]State{
	StateIdle:           StateAwaitingInputs,
	StateAwaitingInputs: StateVisual,
	StateVisual:         StateRisk,
	StateRisk:           StateResearch,
	StateResearch:       StateReport,
	StateReport:         StateComplete,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether a run may move from one state to another.
// Any non-terminal state may fail.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return successor[from] == to
}

// Warning is a non-fatal finding recorded during a run.
type Warning struct {
	Stage   State  `json:"stage"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// StageTiming records how long one stage ran.
type StageTiming struct {
	Stage      State `json:"stage"`
	DurationMS int64 `json:"duration_ms"`
}

// Run is the state of one submission. All intermediate outputs live here;
// nothing is shared between runs.
type Run struct {
	ID          string                 `json:"run_id"`
	State       State                  `json:"state"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at,omitempty"`
	ImageName   string                 `json:"image,omitempty"`
	Context     schema.UserContext     `json:"context"`
	Findings    *schema.VisualFindings `json:"visual_findings,omitempty"`
	Diagnosis   *schema.Diagnosis      `json:"diagnosis,omitempty"`
	Candidates  int                    `json:"search_candidates,omitempty"`
	SearchCalls int                    `json:"search_calls,omitempty"`
	Links       *schema.ResearchLinks  `json:"research_links,omitempty"`
	Report      *schema.Report         `json:"report,omitempty"`
	Warnings    []Warning              `json:"warnings,omitempty"`
	Timings     []StageTiming          `json:"timings,omitempty"`
	FailedStage State                  `json:"failed_stage,omitempty"`
	FailureKind Kind                   `json:"failure_kind,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// advance moves the run to the next state.
func (r *Run) advance(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("pipeline: invalid transition %s -> %s", r.State, to)
	}
	r.State = to
	return nil
}

// fail records err against the current stage and moves the run to Failed.
// Any report is discarded so a failed run never carries a partial one.
func (r *Run) fail(err *StageError, at time.Time) {
	r.FailedStage = err.Stage
	r.FailureKind = err.Kind
	r.Error = err.Error()
	r.Report = nil
	r.State = StateFailed
	r.FinishedAt = at
}
