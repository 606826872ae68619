// Package gate decides whether a molecule has enough computed or experimental
// evidence to proceed to reasoning. Its state is advanced only by external
// progress events; evaluation is a pure function of the current state.
package gate

import (
	"errors"
	"fmt"
	"time"
)

// ErrStaleEvent is returned when an event is not newer than the state it targets.
var ErrStaleEvent = errors.New("gate: event timestamp is not after the last update")

// #region physical
// PhysicalStatus is the historical outcome of the physical computation.
type PhysicalStatus string

const (
	PhysicalAbsent  PhysicalStatus = "absent"
	PhysicalPending PhysicalStatus = "pending"
	PhysicalSuccess PhysicalStatus = "success"
	PhysicalFailed  PhysicalStatus = "failed"
	PhysicalPartial PhysicalStatus = "partial"
)

// absent may move straight to an outcome when it is read from the
// computation cache rather than produced by this workflow.
var physicalTransitions = map[PhysicalStatus][]PhysicalStatus{
	PhysicalAbsent:  {PhysicalPending, PhysicalSuccess, PhysicalFailed, PhysicalPartial},
	PhysicalPending: {PhysicalSuccess, PhysicalFailed, PhysicalPartial},
	PhysicalFailed:  {PhysicalPending},
	PhysicalPartial: {PhysicalPending},
	PhysicalSuccess: {},
}

// ComputeRequest is the workflow flag: has this case asked for computation.
// It is tracked apart from PhysicalStatus on purpose: a cached failure and an
// already-spent retry are different facts.
type ComputeRequest string

const (
	RequestNotRequested ComputeRequest = "not_requested"
	RequestRequested    ComputeRequest = "requested"
	RequestDone         ComputeRequest = "done"
)

var requestTransitions = map[ComputeRequest][]ComputeRequest{
	RequestNotRequested: {RequestRequested},
	RequestRequested:    {RequestDone},
	RequestDone:         {},
}

// #endregion physical

// #region literature
// LiteratureStatus tracks the literature search.
type LiteratureStatus string

const (
	LiteratureNotStarted LiteratureStatus = "not_started"
	LiteraturePending    LiteratureStatus = "pending"
	LiteratureFound      LiteratureStatus = "found"
	LiteratureNotFound   LiteratureStatus = "not_found"
)

var literatureTransitions = map[LiteratureStatus][]LiteratureStatus{
	LiteratureNotStarted: {LiteraturePending},
	LiteraturePending:    {LiteratureFound, LiteratureNotFound},
	LiteratureFound:      {},
	LiteratureNotFound:   {},
}

// #endregion literature

// #region experiment
// ExperimentStatus tracks the minimal experiment request.
type ExperimentStatus string

const (
	ExperimentNotRequested    ExperimentStatus = "not_requested"
	ExperimentRequested       ExperimentStatus = "requested"
	ExperimentReceivedPartial ExperimentStatus = "received_partial"
	ExperimentReceivedFull    ExperimentStatus = "received_full"
)

var experimentTransitions = map[ExperimentStatus][]ExperimentStatus{
	ExperimentNotRequested:    {ExperimentRequested},
	ExperimentRequested:       {ExperimentReceivedPartial, ExperimentReceivedFull},
	ExperimentReceivedPartial: {ExperimentReceivedPartial, ExperimentReceivedFull},
	ExperimentReceivedFull:    {},
}

// Observable is one minimal observable class.
type Observable string

const (
	ObservableEmission     Observable = "emission"
	ObservableAbsorption   Observable = "absorption"
	ObservableQuantumYield Observable = "quantum_yield"
	ObservableLifetime     Observable = "lifetime"
)

// ObservableCostOrder lists observables from cheapest to most expensive to measure.
var ObservableCostOrder = []Observable{
	ObservableEmission,
	ObservableAbsorption,
	ObservableQuantumYield,
	ObservableLifetime,
}

// Observables records which classes have at least one reading.
type Observables struct {
	Emission     bool `json:"emission"`
	Absorption   bool `json:"absorption"`
	QuantumYield bool `json:"quantum_yield"`
	Lifetime     bool `json:"lifetime"`
}

// Has reports whether the class has a reading.
func (o Observables) Has(obs Observable) bool {
	switch obs {
	case ObservableEmission:
		return o.Emission
	case ObservableAbsorption:
		return o.Absorption
	case ObservableQuantumYield:
		return o.QuantumYield
	case ObservableLifetime:
		return o.Lifetime
	}
	return false
}

// Any reports whether any class has a reading.
func (o Observables) Any() bool {
	return o.Emission || o.Absorption || o.QuantumYield || o.Lifetime
}

// HasPrimary reports whether the primary observable (emission) is available.
func (o Observables) HasPrimary() bool {
	return o.Emission
}

func (o *Observables) set(obs Observable) error {
	switch obs {
	case ObservableEmission:
		o.Emission = true
	case ObservableAbsorption:
		o.Absorption = true
	case ObservableQuantumYield:
		o.QuantumYield = true
	case ObservableLifetime:
		o.Lifetime = true
	default:
		return fmt.Errorf("gate: unknown observable %q", obs)
	}
	return nil
}

// #endregion experiment

// #region state
// Physical is the computation axis: historical status, workflow flag and the
// computed fields that came back.
type Physical struct {
	Status  PhysicalStatus `json:"status"`
	Request ComputeRequest `json:"request"`
	Fields  []string       `json:"fields,omitempty"`
}

// Experiment is the minimal-experiment axis.
type Experiment struct {
	Status      ExperimentStatus `json:"status"`
	Observables Observables      `json:"observables"`
}

// State is one molecule's evidence-readiness record.
type State struct {
	Key           string           `json:"key"`
	Physical      Physical         `json:"physical"`
	Literature    LiteratureStatus `json:"literature"`
	Experiment    Experiment       `json:"experiment"`
	Ready         bool             `json:"ready"`
	Justification string           `json:"justification"`
	Version       int              `json:"version"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewState returns the initial record for key.
func NewState(key string) State {
	return State{
		Key:        key,
		Physical:   Physical{Status: PhysicalAbsent, Request: RequestNotRequested},
		Literature: LiteratureNotStarted,
		Experiment: Experiment{Status: ExperimentNotRequested},
	}
}

// #endregion state

// #region config
// Config holds the computed fields a successful computation must provide.
type Config struct {
	RequiredFields []string
}

// DefaultConfig requires the gap, dihedral and volume deltas.
func DefaultConfig() Config {
	return Config{RequiredFields: []string{"delta_gap", "delta_dihedral", "delta_volume"}}
}

// #endregion config

// #region actions
// Action is one step of the action plan.
type Action string

const (
	ActionRequestComputation Action = "request_computation"
	ActionAwaitComputation   Action = "await_computation"
	ActionRetryComputation   Action = "retry_computation"
	ActionLiteratureSearch   Action = "literature_search"
	ActionHandoff            Action = "handoff_to_reasoning"
)

// RequestObservable is the action asking for one minimal observable.
func RequestObservable(obs Observable) Action {
	return Action("request_observable:" + string(obs))
}

// Evaluation is the gate output.
type Evaluation struct {
	Ready      bool     `json:"ready"`
	Reason     string   `json:"reason"`
	ActionPlan []Action `json:"action_plan"`
}

// #endregion actions

// #region events
// EventKind names an external progress event.
type EventKind string

const (
	EventComputationCached    EventKind = "computation_cached"
	EventComputationRequested EventKind = "computation_requested"
	EventComputationResult    EventKind = "computation_result"
	EventLiteratureStarted    EventKind = "literature_started"
	EventLiteratureResult     EventKind = "literature_result"
	EventExperimentRequested  EventKind = "experiment_requested"
	EventExperimentReceived   EventKind = "experiment_received"
)

// Event moves one axis of a State. Only the fields relevant to Kind are read.
type Event struct {
	Kind        EventKind        `json:"kind"`
	At          time.Time        `json:"at"`
	Actor       string           `json:"actor,omitempty"`
	Physical    PhysicalStatus   `json:"physical,omitempty"`
	Fields      []string         `json:"fields,omitempty"`
	Literature  LiteratureStatus `json:"literature,omitempty"`
	Experiment  ExperimentStatus `json:"experiment,omitempty"`
	Observables []Observable     `json:"observables,omitempty"`
	Note        string           `json:"note,omitempty"`
}

// #endregion events

// #region errors
// TransitionError reports an illegal move on one axis.
type TransitionError struct {
	Axis string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("gate: illegal %s transition %s -> %s", e.Axis, e.From, e.To)
}

// #endregion errors
