package router

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/photophys-triage/internal/calibrate"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
)

// ErrUnranked is returned when a resolvable bundle reaches the router before
// its novelty was ranked against the threshold set.
var ErrUnranked = errors.New("router: novelty not ranked")

// #region route
// Route evaluates the cascade in strict priority order; the first matching
// rule wins:
//  1. coverage < coverage_low: evidence_insufficient
//  2. novelty >= novelty_high and (coverage < coverage_high or
//     entropy >= entropy_high): novelty_candidate
//  3. entropy >= entropy_high: in_domain_ambiguous
//  4. otherwise: known_stable
//
// When entropy is unavailable every entropy clause is false; it is never
// treated as zero. Route is pure.
func Route(in Input, th calibrate.ThresholdSet) Decision {
	if !in.Resolvable {
		return decide(EvidenceInsufficient, 0, "structure unresolvable: cannot score", false)
	}

	entropyUsed := in.EntropyAvailable && th.EntropyAvailable
	entropyHigh := entropyUsed && in.Entropy >= th.EntropyHigh

	// 1. Not enough evidence to judge anything else
	if in.Coverage < th.CoverageLow {
		return decide(EvidenceInsufficient, 1,
			fmt.Sprintf("coverage %.4f < coverage_low %.4f", in.Coverage, th.CoverageLow), entropyUsed)
	}

	// 2. Novelty needs corroboration from low coverage or high ambiguity
	if in.Novelty >= th.NoveltyHigh {
		lowCoverage := in.Coverage < th.CoverageHigh
		if lowCoverage || entropyHigh {
			corroboration := fmt.Sprintf("coverage %.4f < coverage_high %.4f", in.Coverage, th.CoverageHigh)
			if !lowCoverage {
				corroboration = fmt.Sprintf("entropy %.4f >= entropy_high %.4f", in.Entropy, th.EntropyHigh)
			}
			return decide(NoveltyCandidate, 2,
				fmt.Sprintf("novelty %.4f >= novelty_high %.4f and %s", in.Novelty, th.NoveltyHigh, corroboration),
				entropyUsed)
		}
	}

	// 3. Ambiguous neighborhood labels
	if entropyHigh {
		return decide(InDomainAmbiguous, 3,
			fmt.Sprintf("entropy %.4f >= entropy_high %.4f", in.Entropy, th.EntropyHigh), entropyUsed)
	}

	reason := "no uncertainty rule matched"
	if !entropyUsed {
		reason += " (entropy unavailable)"
	}
	return decide(KnownStable, 4, reason, entropyUsed)
}

// RouteBundle routes a scored bundle. The bundle must come from the population
// th was calibrated on and, when resolvable, be ranked by th.Rank.
func RouteBundle(b score.Bundle, th calibrate.ThresholdSet) (Decision, error) {
	if err := th.CheckBundle(b); err != nil {
		return Decision{}, err
	}
	if b.Resolvable && !b.NoveltyRanked {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnranked, b.Key)
	}
	h, ok := b.Entropy()
	return Route(Input{
		Resolvable:       b.Resolvable,
		Coverage:         b.Coverage,
		Novelty:          b.Novelty,
		Entropy:          h,
		EntropyAvailable: ok,
	}, th), nil
}

func decide(v Verdict, rule int, reason string, entropyUsed bool) Decision {
	return Decision{
		Verdict:     v,
		Rule:        rule,
		Reason:      reason,
		NextSteps:   NextSteps(v),
		EntropyUsed: entropyUsed,
	}
}

// #endregion route
