package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/photophys-triage/internal/gate"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a readiness replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Key             string                  `json:"key"`
	Config          FixtureConfig           `json:"config"`
	Steps           []FixtureStep           `json:"steps"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig mirrors gate.Config with JSON tags. An empty list means defaults.
type FixtureConfig struct {
	RequiredFields []string `json:"required_fields"`
}

// FixtureStep is one recorded event.
type FixtureStep struct {
	StepID string     `json:"step_id"`
	Event  gate.Event `json:"event"`
}

// FixtureExpectedResult captures the expected outcome per step.
type FixtureExpectedResult struct {
	StepID     string `json:"step_id"`
	Action     string `json:"action"`
	Ready      bool   `json:"ready"`
	NextAction string `json:"next_action"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToGateConfig converts the fixture config to a gate.Config.
func (fc *FixtureConfig) ToGateConfig() gate.Config {
	if len(fc.RequiredFields) == 0 {
		return gate.DefaultConfig()
	}
	return gate.Config{RequiredFields: fc.RequiredFields}
}

// ToSteps converts the fixture steps to domain steps.
func (f *Fixture) ToSteps() []Step {
	steps := make([]Step, len(f.Steps))
	for i, s := range f.Steps {
		steps[i] = Step{StepID: s.StepID, Event: s.Event}
	}
	return steps
}

// SaveFixture writes f as indented JSON.
func SaveFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-loader

// #region fixture-export

// Export builds a fixture from recorded steps. Expected results are what the
// gate produces for them today, so the fixture pins current behavior.
func Export(description, key string, steps []Step, cfg gate.Config) *Fixture {
	f := &Fixture{
		Description: description,
		Key:         key,
		Config:      FixtureConfig{RequiredFields: cfg.RequiredFields},
	}
	results, _ := Replay(gate.NewState(key), steps, cfg)
	for i, st := range steps {
		f.Steps = append(f.Steps, FixtureStep{StepID: st.StepID, Event: st.Event})
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			StepID:     st.StepID,
			Action:     results[i].Action,
			Ready:      results[i].Ready,
			NextAction: string(results[i].NextAction),
		})
	}
	return f
}

// #endregion fixture-export

// #region compare

// Divergence is one step whose replayed outcome differs from the expectation.
type Divergence struct {
	StepID   string `json:"step_id"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Replayed string `json:"replayed"`
}

// Compare matches replayed results against expected ones by position. Missing
// results on either side are reported as divergences on "step".
func Compare(results []Result, expected []FixtureExpectedResult) []Divergence {
	var out []Divergence
	n := max(len(results), len(expected))
	for i := 0; i < n; i++ {
		if i >= len(results) {
			out = append(out, Divergence{StepID: expected[i].StepID, Field: "step", Expected: "present", Replayed: "missing"})
			continue
		}
		if i >= len(expected) {
			out = append(out, Divergence{StepID: results[i].StepID, Field: "step", Expected: "missing", Replayed: "present"})
			continue
		}
		r, e := results[i], expected[i]
		if e.Action != "" && r.Action != e.Action {
			out = append(out, Divergence{StepID: r.StepID, Field: "action", Expected: e.Action, Replayed: r.Action})
		}
		if r.Ready != e.Ready {
			out = append(out, Divergence{StepID: r.StepID, Field: "ready", Expected: fmt.Sprint(e.Ready), Replayed: fmt.Sprint(r.Ready)})
		}
		if e.NextAction != "" && string(r.NextAction) != e.NextAction {
			out = append(out, Divergence{StepID: r.StepID, Field: "next_action", Expected: e.NextAction, Replayed: string(r.NextAction)})
		}
	}
	return out
}

// #endregion compare
