package router

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danielpatrickdp/photophys-triage/internal/calibrate"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
)

func thresholds() calibrate.ThresholdSet {
	return calibrate.Fixed("snap", 0.39, 0.62, 0.8, 0.7, true, nil)
}

func grid() []float64 {
	var out []float64
	for v := 0.0; v <= 1.0001; v += 0.05 {
		out = append(out, v)
	}
	return out
}

func TestPriorityOneWins(t *testing.T) {
	d := Route(Input{Resolvable: true, Coverage: 0.3, Novelty: 0.95, Entropy: 0.99, EntropyAvailable: true}, thresholds())
	if d.Verdict != EvidenceInsufficient {
		t.Fatalf("expected evidence_insufficient, got %s: %s", d.Verdict, d.Reason)
	}
	if d.Rule != 1 {
		t.Errorf("expected rule 1, got %d", d.Rule)
	}
}

func TestZeroCoverageAlwaysInsufficient(t *testing.T) {
	th := thresholds()
	for _, n := range grid() {
		for _, e := range grid() {
			for _, avail := range []bool{true, false} {
				d := Route(Input{Resolvable: true, Coverage: 0, Novelty: n, Entropy: e, EntropyAvailable: avail}, th)
				if d.Verdict != EvidenceInsufficient {
					t.Fatalf("novelty=%.2f entropy=%.2f: got %s", n, e, d.Verdict)
				}
			}
		}
	}
}

func TestNoveltyRequiresCorroboration(t *testing.T) {
	th := thresholds()
	for _, c := range grid() {
		for _, n := range grid() {
			for _, e := range grid() {
				if c < th.CoverageHigh || e >= th.EntropyHigh {
					continue
				}
				d := Route(Input{Resolvable: true, Coverage: c, Novelty: n, Entropy: e, EntropyAvailable: true}, th)
				if d.Verdict == NoveltyCandidate {
					t.Fatalf("coverage=%.2f novelty=%.2f entropy=%.2f flagged novel without corroboration", c, n, e)
				}
			}
		}
	}
}

func TestCascade(t *testing.T) {
	th := thresholds()
	tests := []struct {
		name string
		in   Input
		want Verdict
		rule int
	}{
		{"unresolvable", Input{Resolvable: false, Coverage: 1}, EvidenceInsufficient, 0},
		{"low coverage", Input{Resolvable: true, Coverage: 0.2, EntropyAvailable: true}, EvidenceInsufficient, 1},
		{"novel by coverage", Input{Resolvable: true, Coverage: 0.5, Novelty: 0.9, EntropyAvailable: true}, NoveltyCandidate, 2},
		{"novel by entropy", Input{Resolvable: true, Coverage: 0.9, Novelty: 0.9, Entropy: 0.8, EntropyAvailable: true}, NoveltyCandidate, 2},
		{"outlier but well covered", Input{Resolvable: true, Coverage: 0.9, Novelty: 0.9, Entropy: 0.1, EntropyAvailable: true}, KnownStable, 4},
		{"ambiguous", Input{Resolvable: true, Coverage: 0.5, Novelty: 0.2, Entropy: 0.75, EntropyAvailable: true}, InDomainAmbiguous, 3},
		{"stable", Input{Resolvable: true, Coverage: 0.5, Novelty: 0.2, Entropy: 0.1, EntropyAvailable: true}, KnownStable, 4},
		{"boundary coverage_low is not insufficient", Input{Resolvable: true, Coverage: 0.39, Novelty: 0.1, EntropyAvailable: true}, KnownStable, 4},
		{"boundary novelty_high counts", Input{Resolvable: true, Coverage: 0.5, Novelty: 0.8, EntropyAvailable: true}, NoveltyCandidate, 2},
		{"boundary entropy_high counts", Input{Resolvable: true, Coverage: 0.5, Entropy: 0.7, EntropyAvailable: true}, InDomainAmbiguous, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Route(tt.in, th)
			if d.Verdict != tt.want || d.Rule != tt.rule {
				t.Fatalf("expected %s/rule %d, got %s/rule %d: %s", tt.want, tt.rule, d.Verdict, d.Rule, d.Reason)
			}
		})
	}
}

func TestUnavailableEntropyIsNotZero(t *testing.T) {
	th := thresholds()
	// high entropy value must be ignored when not computable
	d := Route(Input{Resolvable: true, Coverage: 0.5, Novelty: 0.1, Entropy: 0.99, EntropyAvailable: false}, th)
	if d.Verdict != KnownStable || d.EntropyUsed {
		t.Fatalf("expected known_stable without entropy, got %s (entropy used=%v)", d.Verdict, d.EntropyUsed)
	}
	// novelty with high coverage cannot be corroborated by missing entropy
	d = Route(Input{Resolvable: true, Coverage: 0.9, Novelty: 0.95, Entropy: 0.99, EntropyAvailable: false}, th)
	if d.Verdict != KnownStable {
		t.Fatalf("expected known_stable, got %s", d.Verdict)
	}
	// thresholds without entropy disable the clause too
	noEntropy := calibrate.Fixed("snap", 0.39, 0.62, 0.8, 0, false, nil)
	d = Route(Input{Resolvable: true, Coverage: 0.5, Novelty: 0.1, Entropy: 0.5, EntropyAvailable: true}, noEntropy)
	if d.Verdict != KnownStable {
		t.Fatalf("expected known_stable with uncalibrated entropy, got %s", d.Verdict)
	}
}

func TestRouteDeterministic(t *testing.T) {
	th := thresholds()
	for _, c := range grid() {
		for _, n := range grid() {
			for _, e := range grid() {
				in := Input{Resolvable: true, Coverage: c, Novelty: n, Entropy: e, EntropyAvailable: true}
				first := Route(in, th)
				for i := 0; i < 3; i++ {
					if again := Route(in, th); !reflect.DeepEqual(first, again) {
						t.Fatalf("non-deterministic decision for %+v", in)
					}
				}
			}
		}
	}
}

func TestNextSteps(t *testing.T) {
	for _, v := range []Verdict{EvidenceInsufficient, NoveltyCandidate, InDomainAmbiguous} {
		if len(NextSteps(v)) == 0 {
			t.Errorf("%s must carry next steps", v)
		}
	}
	if len(NextSteps(KnownStable)) != 0 {
		t.Error("known_stable must carry no next steps")
	}
	d := Route(Input{Resolvable: true, Coverage: 0.5, EntropyAvailable: true}, thresholds())
	if d.NextSteps == nil {
		t.Error("next steps should be an empty list, not nil")
	}
}

func TestVerdictNames(t *testing.T) {
	for _, v := range []Verdict{EvidenceInsufficient, NoveltyCandidate, InDomainAmbiguous, KnownStable} {
		got, err := ParseVerdict(v.String())
		if err != nil || got != v {
			t.Errorf("round trip %s: got %v, %v", v, got, err)
		}
	}
	if _, err := ParseVerdict("bogus"); err == nil {
		t.Error("expected error for unknown verdict")
	}
}

func TestRouteBundle(t *testing.T) {
	th := thresholds()
	b := score.Bundle{
		SnapshotID:    "snap",
		Resolvable:    true,
		Coverage:      0.5,
		Novelty:       0.2,
		NoveltyRanked: true,
		Label:         score.LabelEntropy{Computable: true, Value: 0.9, MEff: 2},
	}
	if d, err := RouteBundle(b, th); err != nil || d.Verdict != InDomainAmbiguous {
		t.Fatalf("expected in_domain_ambiguous, got %s (%v)", d.Verdict, err)
	}
	b.Label.Computable = false
	if d, err := RouteBundle(b, th); err != nil || d.Verdict != KnownStable {
		t.Fatalf("expected known_stable, got %s (%v)", d.Verdict, err)
	}
	if d, err := RouteBundle(score.Bundle{Key: "x", SnapshotID: "snap"}, th); err != nil || d.Verdict != EvidenceInsufficient {
		t.Fatalf("expected evidence_insufficient for unresolvable, got %s (%v)", d.Verdict, err)
	}
}

func TestRouteBundleRefusesUnrankedNovelty(t *testing.T) {
	th := calibrate.Fixed("snap", 0.39, 0.62, 0.8, 0.7, true, []float64{0.1, 0.2, 0.3})
	b := score.Bundle{
		Key:        "q",
		SnapshotID: "snap",
		Resolvable: true,
		Coverage:   0.5,
		NoveltyRaw: 0.9,
	}
	if _, err := RouteBundle(b, th); !errors.Is(err, ErrUnranked) {
		t.Fatalf("expected ErrUnranked, got %v", err)
	}

	if err := th.Rank(&b); err != nil {
		t.Fatalf("Rank: %v", err)
	}
	d, err := RouteBundle(b, th)
	if err != nil {
		t.Fatalf("RouteBundle: %v", err)
	}
	if d.Verdict != NoveltyCandidate {
		t.Fatalf("expected novelty_candidate once ranked, got %s: %s", d.Verdict, d.Reason)
	}
}

func TestRouteBundleRefusesStaleThresholds(t *testing.T) {
	th := thresholds()
	b := score.Bundle{Key: "q", SnapshotID: "other", Resolvable: true, NoveltyRanked: true, Coverage: 0.9}
	_, err := RouteBundle(b, th)
	var stale *calibrate.StaleThresholdError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleThresholdError, got %v", err)
	}
	if stale.Calibrated != "snap" || stale.Current != "other" {
		t.Errorf("unexpected snapshots %q / %q", stale.Calibrated, stale.Current)
	}
}
