// Package router maps a molecule's scores onto one of four verdicts with a
// deterministic, conservative cascade.
package router

import "fmt"

// #region verdict
// Verdict is the routing outcome.
type Verdict int

const (
	EvidenceInsufficient Verdict = iota + 1
	NoveltyCandidate
	InDomainAmbiguous
	KnownStable
)

func (v Verdict) String() string {
	switch v {
	case EvidenceInsufficient:
		return "evidence_insufficient"
	case NoveltyCandidate:
		return "novelty_candidate"
	case InDomainAmbiguous:
		return "in_domain_ambiguous"
	case KnownStable:
		return "known_stable"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// MarshalText renders the verdict by name.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ParseVerdict is the inverse of Verdict.String.
func ParseVerdict(s string) (Verdict, error) {
	for _, v := range []Verdict{EvidenceInsufficient, NoveltyCandidate, InDomainAmbiguous, KnownStable} {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown verdict %q", s)
}

// #endregion verdict

// #region input
// Input is the subset of a score bundle the cascade reads.
type Input struct {
	Resolvable       bool
	Coverage         float64
	Novelty          float64
	Entropy          float64
	EntropyAvailable bool // false when label entropy was not computable
}

// #endregion input

// #region decision
// Decision is the output of Route.
type Decision struct {
	Verdict   Verdict  `json:"verdict"`
	Rule      int      `json:"rule"` // 0 for unresolvable structure, else 1-4
	Reason    string   `json:"reason"`
	NextSteps []string `json:"next_steps"`
	// EntropyUsed is false when the entropy clauses were skipped.
	EntropyUsed bool `json:"entropy_used"`
}

// #endregion decision

// #region next-steps
// NextSteps returns the fixed recommended actions for a verdict. Known/Stable
// has none.
func NextSteps(v Verdict) []string {
	switch v {
	case EvidenceInsufficient:
		return []string{
			"request_physical_computation",
			"complete_missing_experimental_metadata",
			"search_literature_for_analogues",
		}
	case NoveltyCandidate:
		return []string{
			"request_physical_computation",
			"request_minimal_experiment",
			"flag_for_expert_review",
		}
	case InDomainAmbiguous:
		return []string{
			"compare_top_neighbor_mechanisms",
			"request_discriminating_observable",
		}
	default:
		return []string{}
	}
}

// #endregion next-steps
