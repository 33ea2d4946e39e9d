// Package router implements the Router module: selecting a
// model id from the Registry's candidates according to a named strategy,
// with deterministic tie-breaks and a closed, circuit-breaker-gated health
// view. Adapted from internal/router/router.go's provider-candidate
// collection + sort.Slice selection idiom, generalized from a fixed set of
// hardcoded providers to whatever models the Registry currently exposes.
package router

import (
	"time"

	"github.com/aiserve/modelrouter/internal/descriptor"
)

// Candidate is everything a Strategy needs to score and rank one model,
// gathered from the registry snapshot plus live health state.
type Candidate struct {
	ID             string
	Descriptor     descriptor.Descriptor
	QualityScore   float64
	CostPerMillion float64
	AvgLatencyMs   float64
	LastUsedAt     time.Time
	Healthy        bool
}

// byScoreThenRecencyThenID implements the shared deterministic tie-break
//: "(score desc, lastUsedAt asc, id asc)".
func byScoreThenRecencyThenID(candidates []Candidate, score func(Candidate) float64) func(i, j int) bool {
	return func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		if !candidates[i].LastUsedAt.Equal(candidates[j].LastUsedAt) {
			return candidates[i].LastUsedAt.Before(candidates[j].LastUsedAt)
		}
		return candidates[i].ID < candidates[j].ID
	}
}
