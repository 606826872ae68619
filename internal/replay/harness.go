// Package replay re-runs recorded readiness events through the gate in memory,
// so a sequence of progress events can be checked against expected outcomes.
package replay

import (
	"errors"

	"github.com/danielpatrickdp/photophys-triage/internal/gate"
)

// #region types
// Step is one recorded event.
type Step struct {
	StepID string
	Event  gate.Event
}

// Result captures the outcome of replaying one step.
type Result struct {
	StepID          string      `json:"step_id"`
	Action          string      `json:"action"` // "applied" | "stale" | "illegal" | "error"
	Reason          string      `json:"reason"`
	Ready           bool        `json:"ready"`
	Version         int         `json:"version"`
	NextAction      gate.Action `json:"next_action"` // first action of the plan after this step
	Inconsistencies []string    `json:"inconsistencies,omitempty"`
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	TotalSteps int
	Applied    int
	Stale      int
	Illegal    int
	Errors     int
	ReadyAt    string // first step after which the state was ready, "" if never
	FinalState gate.State
}

// #endregion types

// #region replay
// Replay applies steps in order starting from start. Rejected events leave
// the state unchanged and replay continues.
func Replay(start gate.State, steps []Step, cfg gate.Config) ([]Result, gate.State) {
	current := start
	results := make([]Result, 0, len(steps))

	for _, step := range steps {
		next, err := gate.Apply(current, step.Event, cfg)
		res := Result{StepID: step.StepID}

		var te *gate.TransitionError
		switch {
		case err == nil:
			current = next
			res.Action = "applied"
		case errors.Is(err, gate.ErrStaleEvent):
			res.Action = "stale"
		case errors.As(err, &te):
			res.Action = "illegal"
		default:
			res.Action = "error"
		}

		eval := gate.Evaluate(current, cfg)
		res.Ready = eval.Ready
		if err != nil {
			res.Reason = err.Error()
		} else {
			res.Reason = eval.Reason
		}
		res.Version = current.Version
		res.NextAction = eval.ActionPlan[0]
		res.Inconsistencies = gate.Inconsistencies(current)
		results = append(results, res)
	}

	return results, current
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result, finalState gate.State) Summary {
	s := Summary{
		TotalSteps: len(results),
		FinalState: finalState,
	}
	for _, r := range results {
		switch r.Action {
		case "applied":
			s.Applied++
		case "stale":
			s.Stale++
		case "illegal":
			s.Illegal++
		case "error":
			s.Errors++
		}
		if r.Ready && s.ReadyAt == "" {
			s.ReadyAt = r.StepID
		}
	}
	return s
}

// #endregion replay
