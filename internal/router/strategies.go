package router

import (
	"math/rand"
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"
)

// StrategyName is the closed set of routing strategies.
type StrategyName string

const (
	StrategyQualityFirst    StrategyName = "quality-first"
	StrategyCostOptimized   StrategyName = "cost-optimized"
	StrategySpeedPriority   StrategyName = "speed-priority"
	StrategyBalanced        StrategyName = "balanced"
	StrategyRandom          StrategyName = "random"
	StrategyRoundRobin      StrategyName = "round-robin"
	StrategyLeastLoaded     StrategyName = "least-loaded"
	StrategyCapabilityMatch StrategyName = "capability-match"
	StrategyExplicit        StrategyName = "explicit"
)

// Strategy picks one candidate from the given slice, which is guaranteed
// non-empty and pre-filtered to healthy, capability-matching candidates.
type Strategy interface {
	Select(candidates []Candidate) Candidate
}

// StrategyFor resolves a StrategyName to its Strategy implementation, or
// (nil, false) for an unrecognized name.
func StrategyFor(name StrategyName, explicitID string) (Strategy, bool) {
	switch name {
	case StrategyQualityFirst:
		return qualityFirstStrategy{}, true
	case StrategyCostOptimized:
		return costOptimizedStrategy{}, true
	case StrategySpeedPriority:
		return speedPriorityStrategy{}, true
	case StrategyBalanced:
		return balancedStrategy{}, true
	case StrategyRandom:
		return randomStrategy{}, true
	case StrategyRoundRobin:
		return &roundRobinStrategy{}, true
	case StrategyLeastLoaded:
		return leastLoadedStrategy{}, true
	case StrategyCapabilityMatch:
		return capabilityMatchStrategy{}, true
	case StrategyExplicit:
		return explicitStrategy{id: explicitID}, true
	default:
		return nil, false
	}
}

func best(candidates []Candidate, score func(Candidate) float64) Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, byScoreThenRecencyThenID(sorted, score))
	return sorted[0]
}

type qualityFirstStrategy struct{}

func (qualityFirstStrategy) Select(candidates []Candidate) Candidate {
	return best(candidates, func(c Candidate) float64 { return c.QualityScore })
}

type costOptimizedStrategy struct{}

func (costOptimizedStrategy) Select(candidates []Candidate) Candidate {
	// Lower cost is better, so invert into a score the shared tie-break can
	// sort descending.
	return best(candidates, func(c Candidate) float64 {
		if c.CostPerMillion <= 0 {
			return 0 // free/unknown-cost models sort last among cost-ranked peers
		}
		return 1.0 / c.CostPerMillion
	})
}

type speedPriorityStrategy struct{}

func (speedPriorityStrategy) Select(candidates []Candidate) Candidate {
	return best(candidates, func(c Candidate) float64 {
		if c.AvgLatencyMs <= 0 {
			return 0
		}
		return 1.0 / c.AvgLatencyMs
	})
}

// balancedStrategy scores quality 0.4, cost 0.3, latency 0.3 after
// normalizing each dimension across the candidate set, using
// gonum/floats for the min-max normalization each dimension needs before
// the weights can be combined into one comparable score.
type balancedStrategy struct{}

func (balancedStrategy) Select(candidates []Candidate) Candidate {
	if len(candidates) == 1 {
		return candidates[0]
	}

	quality := make([]float64, len(candidates))
	invCost := make([]float64, len(candidates))
	invLatency := make([]float64, len(candidates))
	for i, c := range candidates {
		quality[i] = c.QualityScore
		if c.CostPerMillion > 0 {
			invCost[i] = 1.0 / c.CostPerMillion
		}
		if c.AvgLatencyMs > 0 {
			invLatency[i] = 1.0 / c.AvgLatencyMs
		}
	}

	normQuality := normalize(quality)
	normCost := normalize(invCost)
	normLatency := normalize(invLatency)

	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = 0.4*normQuality[i] + 0.3*normCost[i] + 0.3*normLatency[i]
	}

	return best(candidates, func(c Candidate) float64 {
		for i, cand := range candidates {
			if cand.ID == c.ID {
				return scores[i]
			}
		}
		return 0
	})
}

// normalize min-max scales values into [0, 1]; a constant series maps to
// all-zeros rather than dividing by zero.
func normalize(values []float64) []float64 {
	min, max := floats.Min(values), floats.Max(values)
	out := make([]float64, len(values))
	if max == min {
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}

type randomStrategy struct{}

func (randomStrategy) Select(candidates []Candidate) Candidate {
	return candidates[rand.Intn(len(candidates))]
}

// roundRobinStrategy keeps an atomic rotation counter. Each Router holds
// one instance for its lifetime, so rotation advances across requests;
// the state lives on that instance, not the registry, so multiple routers
// never share a pointer.
type roundRobinStrategy struct {
	counter uint64
}

func (s *roundRobinStrategy) Select(candidates []Candidate) Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	idx := atomic.AddUint64(&s.counter, 1) - 1
	return sorted[idx%uint64(len(sorted))]
}

type leastLoadedStrategy struct{}

func (leastLoadedStrategy) Select(candidates []Candidate) Candidate {
	// "Load" is approximated by recency: the candidate idle longest is
	// least loaded. The shared tie-break already sorts by lastUsedAt asc,
	// so a flat zero score just defers entirely to that tie-break.
	return best(candidates, func(Candidate) float64 { return 0 })
}

type capabilityMatchStrategy struct{}

func (capabilityMatchStrategy) Select(candidates []Candidate) Candidate {
	// By the time Select runs, candidates are already filtered to those
	// superseting the request's required capabilities; among
	// the remaining ties, prefer the narrowest capability set so a
	// single-purpose model is chosen over an overprovisioned generalist.
	return best(candidates, func(c Candidate) float64 {
		return -float64(len(c.Descriptor.Capabilities))
	})
}

type explicitStrategy struct {
	id string
}

func (s explicitStrategy) Select(candidates []Candidate) Candidate {
	for _, c := range candidates {
		if c.ID == s.id {
			return c
		}
	}
	return best(candidates, func(c Candidate) float64 { return c.QualityScore })
}

