package gate

import (
	"fmt"
	"slices"
	"strings"
)

// #region evaluate
// Evaluate decides readiness:
//
//	ready = (physical == success && all required fields present) || primary observable
//
// When not ready the reason names the first unmet condition and the plan is
// ordered by a fixed priority: computation, retry, literature, observable.
func Evaluate(s State, cfg Config) Evaluation {
	missing := missingFields(s.Physical.Fields, cfg.RequiredFields)
	physOK := s.Physical.Status == PhysicalSuccess && len(missing) == 0

	if physOK {
		return Evaluation{
			Ready:      true,
			Reason:     "physical computation succeeded with all required fields",
			ActionPlan: []Action{ActionHandoff},
		}
	}
	if s.Experiment.Observables.HasPrimary() {
		return Evaluation{
			Ready:      true,
			Reason:     "primary observable (emission) available",
			ActionPlan: []Action{ActionHandoff},
		}
	}

	var reason string
	if s.Physical.Status != PhysicalSuccess {
		reason = fmt.Sprintf("physical computation is %s, need success", s.Physical.Status)
	} else {
		reason = fmt.Sprintf("physical computation missing required fields: %s", strings.Join(missing, ", "))
	}

	return Evaluation{
		Ready:      false,
		Reason:     reason,
		ActionPlan: actionPlan(s, len(missing) > 0),
	}
}

func actionPlan(s State, fieldsMissing bool) []Action {
	var plan []Action

	// 1-2. Computation: request, wait, or retry once per workflow
	switch s.Physical.Status {
	case PhysicalAbsent:
		plan = append(plan, ActionRequestComputation)
	case PhysicalPending:
		if s.Physical.Request == RequestNotRequested {
			plan = append(plan, ActionRequestComputation)
		} else {
			plan = append(plan, ActionAwaitComputation)
		}
	case PhysicalFailed, PhysicalPartial:
		if s.Physical.Request != RequestDone {
			plan = append(plan, ActionRetryComputation)
		}
	case PhysicalSuccess:
		if fieldsMissing && s.Physical.Request != RequestDone {
			plan = append(plan, ActionRetryComputation)
		}
	}

	// 3. Literature while computation is unavailable
	if s.Literature == LiteratureNotStarted {
		plan = append(plan, ActionLiteratureSearch)
	}

	// 4. Cheapest missing minimal observable
	for _, obs := range ObservableCostOrder {
		if !s.Experiment.Observables.Has(obs) {
			plan = append(plan, RequestObservable(obs))
			break
		}
	}
	return plan
}

func missingFields(present, required []string) []string {
	var missing []string
	for _, f := range required {
		if !slices.Contains(present, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// #endregion evaluate

// #region apply
// Apply advances s by one event and re-derives readiness. The input state is
// not modified.
func Apply(s State, ev Event, cfg Config) (State, error) {
	if ev.At.IsZero() {
		return s, fmt.Errorf("gate: event %s has no timestamp", ev.Kind)
	}
	if !s.UpdatedAt.IsZero() && !ev.At.After(s.UpdatedAt) {
		return s, ErrStaleEvent
	}

	next := s
	next.Physical.Fields = slices.Clone(s.Physical.Fields)

	switch ev.Kind {
	case EventComputationCached:
		if s.Physical.Status != PhysicalAbsent || !isOutcome(ev.Physical) {
			return s, &TransitionError{Axis: "physical", From: string(s.Physical.Status), To: string(ev.Physical)}
		}
		next.Physical.Status = ev.Physical
		next.Physical.Fields = normalizeFields(ev.Fields)

	case EventComputationRequested:
		if err := movePhysical(&next, PhysicalPending); err != nil {
			return s, err
		}
		// A request after the workflow is done is a manual retry; the flag stays done.
		if next.Physical.Request == RequestNotRequested {
			if err := moveRequest(&next, RequestRequested); err != nil {
				return s, err
			}
		}

	case EventComputationResult:
		if s.Physical.Status != PhysicalPending || !isOutcome(ev.Physical) {
			return s, &TransitionError{Axis: "physical", From: string(s.Physical.Status), To: string(ev.Physical)}
		}
		if err := movePhysical(&next, ev.Physical); err != nil {
			return s, err
		}
		next.Physical.Fields = normalizeFields(ev.Fields)
		if next.Physical.Request == RequestRequested {
			if err := moveRequest(&next, RequestDone); err != nil {
				return s, err
			}
		}

	case EventLiteratureStarted:
		if err := moveLiterature(&next, LiteraturePending); err != nil {
			return s, err
		}

	case EventLiteratureResult:
		if ev.Literature != LiteratureFound && ev.Literature != LiteratureNotFound {
			return s, &TransitionError{Axis: "literature", From: string(s.Literature), To: string(ev.Literature)}
		}
		if err := moveLiterature(&next, ev.Literature); err != nil {
			return s, err
		}

	case EventExperimentRequested:
		if err := moveExperiment(&next, ExperimentRequested); err != nil {
			return s, err
		}

	case EventExperimentReceived:
		if ev.Experiment != ExperimentReceivedPartial && ev.Experiment != ExperimentReceivedFull {
			return s, &TransitionError{Axis: "experiment", From: string(s.Experiment.Status), To: string(ev.Experiment)}
		}
		if err := moveExperiment(&next, ev.Experiment); err != nil {
			return s, err
		}
		for _, obs := range ev.Observables {
			if err := next.Experiment.Observables.set(obs); err != nil {
				return s, err
			}
		}

	default:
		return s, fmt.Errorf("gate: unknown event kind %q", ev.Kind)
	}

	eval := Evaluate(next, cfg)
	next.Ready = eval.Ready
	next.Justification = eval.Reason
	next.Version = s.Version + 1
	next.UpdatedAt = ev.At
	return next, nil
}

func isOutcome(p PhysicalStatus) bool {
	return p == PhysicalSuccess || p == PhysicalFailed || p == PhysicalPartial
}

func movePhysical(s *State, to PhysicalStatus) error {
	if !slices.Contains(physicalTransitions[s.Physical.Status], to) {
		return &TransitionError{Axis: "physical", From: string(s.Physical.Status), To: string(to)}
	}
	s.Physical.Status = to
	return nil
}

func moveRequest(s *State, to ComputeRequest) error {
	if !slices.Contains(requestTransitions[s.Physical.Request], to) {
		return &TransitionError{Axis: "request", From: string(s.Physical.Request), To: string(to)}
	}
	s.Physical.Request = to
	return nil
}

func moveLiterature(s *State, to LiteratureStatus) error {
	if !slices.Contains(literatureTransitions[s.Literature], to) {
		return &TransitionError{Axis: "literature", From: string(s.Literature), To: string(to)}
	}
	s.Literature = to
	return nil
}

func moveExperiment(s *State, to ExperimentStatus) error {
	if !slices.Contains(experimentTransitions[s.Experiment.Status], to) {
		return &TransitionError{Axis: "experiment", From: string(s.Experiment.Status), To: string(to)}
	}
	s.Experiment.Status = to
	return nil
}

func normalizeFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	out := slices.Clone(fields)
	slices.Sort(out)
	return slices.Compact(out)
}

// #endregion apply

// #region inconsistencies
// Inconsistencies lists combinations that are representable but suspicious.
// None of them blocks Apply or Evaluate.
func Inconsistencies(s State) []string {
	var out []string
	switch s.Physical.Request {
	case RequestNotRequested:
		if isOutcome(s.Physical.Status) {
			out = append(out, fmt.Sprintf("physical status %s recorded without a computation request", s.Physical.Status))
		}
	case RequestRequested:
		switch s.Physical.Status {
		case PhysicalAbsent:
			out = append(out, "computation requested but status never left absent")
		case PhysicalSuccess, PhysicalFailed, PhysicalPartial:
			out = append(out, fmt.Sprintf("physical status %s recorded while request is still open", s.Physical.Status))
		}
	case RequestDone:
		if s.Physical.Status == PhysicalAbsent {
			out = append(out, "computation request done but no result recorded")
		}
	}
	if len(s.Physical.Fields) > 0 && s.Physical.Status != PhysicalSuccess && s.Physical.Status != PhysicalPartial {
		out = append(out, fmt.Sprintf("computed fields present with physical status %s", s.Physical.Status))
	}

	switch s.Experiment.Status {
	case ExperimentReceivedPartial, ExperimentReceivedFull:
		if !s.Experiment.Observables.Any() {
			out = append(out, fmt.Sprintf("experiment %s without any observable", s.Experiment.Status))
		}
		if s.Experiment.Status == ExperimentReceivedFull && !s.Experiment.Observables.HasPrimary() {
			out = append(out, "experiment received_full without primary observable")
		}
	default:
		if s.Experiment.Observables.Any() {
			out = append(out, fmt.Sprintf("observables recorded while experiment is %s", s.Experiment.Status))
		}
	}
	return out
}

// #endregion inconsistencies
