package router

import (
	"context"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// Source abstracts the Registry enough for Router to collect and score
// candidates without owning model lifecycle itself.
type Source interface {
	List() []registry.Snapshot
	GetByCapability(tag descriptor.Capability) []registry.Snapshot
}

// Router selects a candidate model id for a request.
type Router struct {
	source          Source
	health          *HealthTracker
	defaultStrategy StrategyName
	roundRobin      *roundRobinStrategy
}

// New builds a Router over source with the given default strategy, used
// when a request does not name one explicitly.
func New(source Source, health *HealthTracker, defaultStrategy StrategyName) *Router {
	return &Router{source: source, health: health, defaultStrategy: defaultStrategy, roundRobin: &roundRobinStrategy{}}
}

// SelectionRequest names what the caller needs from a routed model.
type SelectionRequest struct {
	RequiredCapabilities []descriptor.Capability
	Strategy             StrategyName
	ExplicitModelID      string
	Excluded             map[string]struct{}
}

// Select runs the named (or default) strategy over healthy, capability-
// matching candidates and returns the chosen model id.
func (r *Router) Select(ctx context.Context, req SelectionRequest) (string, error) {
	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = r.defaultStrategy
	}
	strategy, ok := StrategyFor(strategyName, req.ExplicitModelID)
	if !ok {
		return "", routererr.New(routererr.KindValidation, "unknown routing strategy \""+string(strategyName)+"\"")
	}
	if strategyName == StrategyRoundRobin && r.roundRobin != nil {
		strategy = r.roundRobin
	}

	candidates := r.candidates(req)
	if len(candidates) == 0 {
		return "", routererr.New(routererr.KindCapabilityUnavailable, "no healthy model satisfies the requested capabilities")
	}

	chosen := strategy.Select(candidates)
	return chosen.ID, nil
}

// candidates gathers the snapshot set restricted to the requested
// capabilities, filters out excluded/unhealthy entries, and scores each.
func (r *Router) candidates(req SelectionRequest) []Candidate {
	var snapshots []registry.Snapshot
	if len(req.RequiredCapabilities) == 0 {
		snapshots = r.source.List()
	} else {
		byID := make(map[string]registry.Snapshot)
		for i, tag := range req.RequiredCapabilities {
			matches := r.source.GetByCapability(tag)
			if i == 0 {
				for _, m := range matches {
					byID[m.Descriptor.ID] = m
				}
				continue
			}
			presentInBoth := make(map[string]registry.Snapshot, len(matches))
			matchIDs := make(map[string]struct{}, len(matches))
			for _, m := range matches {
				matchIDs[m.Descriptor.ID] = struct{}{}
			}
			for id, snap := range byID {
				if _, ok := matchIDs[id]; ok {
					presentInBoth[id] = snap
				}
			}
			byID = presentInBoth
		}
		for _, snap := range byID {
			snapshots = append(snapshots, snap)
		}
	}

	out := make([]Candidate, 0, len(snapshots))
	for _, snap := range snapshots {
		if _, excluded := req.Excluded[snap.Descriptor.ID]; excluded {
			continue
		}
		if snap.Status == registry.StatusError {
			continue
		}
		if r.health != nil && !r.health.Healthy(snap.Descriptor.ID) {
			continue
		}
		out = append(out, Candidate{
			ID:             snap.Descriptor.ID,
			Descriptor:     snap.Descriptor,
			QualityScore:   qualityScoreOf(snap.Descriptor),
			CostPerMillion: snap.Descriptor.Provider.CostPerMillion,
			AvgLatencyMs:   snap.Metrics.AvgLatencyMs,
			LastUsedAt:     snap.Metrics.LastUsedAt,
			Healthy:        true,
		})
	}
	return out
}

// qualityScoreOf derives a quality score from the descriptor's declared
// parameters when no explicit quality signal exists yet: a larger context
// window and a higher quantization bit depth are treated as weak proxies
// for model capability absent a supplied quality benchmark.
func qualityScoreOf(d descriptor.Descriptor) float64 {
	score := 0.0
	if d.Parameters.ContextWindow > 0 {
		score += float64(d.Parameters.ContextWindow) / 1000.0
	}
	if d.Parameters.QuantizationBits > 0 {
		score += float64(d.Parameters.QuantizationBits)
	}
	return score
}
