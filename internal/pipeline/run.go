package pipeline

import (
	"context"

	"github.com/aiserve/modelrouter/internal/cache"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/router"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// Executor wires the stage functions into the full request flow:
// validate → authorize → (route → cacheLookup → invoke)* →
// cacheStore → metrics, retrying the routing step after an invoke failure
// other than a permanent backend error or cancellation, up to MaxFallbacks
// times, before surfacing an aggregated NoViableModel error.
type Executor struct {
	Registry     *registry.Registry
	Router       *router.Router
	Cache        *cache.MultiLayerCache
	Health       *router.HealthTracker
	Authorize    AuthorizeFunc
	MaxFallbacks int
}

// Run executes one request end to end and returns the populated Context.
func (e *Executor) Run(ctx context.Context, pc *Context) error {
	pc.Ctx = ctx

	if err := ctx.Err(); err != nil {
		return routererr.Wrap(routererr.KindCancelled, "request cancelled before pipeline start", err)
	}

	if err := Validate(pc); err != nil {
		return err
	}
	if err := Authorize(e.Authorize)(pc); err != nil {
		return err
	}

	maxAttempts := e.MaxFallbacks + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	routeStage := Route(e.Router, e.MaxFallbacks)
	cacheLookup := CacheLookup(e.Cache)
	invoke := Invoke(e.Registry)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return routererr.Wrap(routererr.KindCancelled, "request cancelled mid-pipeline", err)
		}
		if err := routeStage(pc); err != nil {
			return err
		}

		if err := cacheLookup(pc); err != nil {
			return err
		}
		if pc.CacheHit {
			break
		}

		if err := invoke(pc); err != nil {
			kind, _ := routererr.KindOf(err)
			pc.Attempts = append(pc.Attempts, routererr.Attempt{ModelID: pc.ModelID, Kind: kind, Err: err})
			if e.Health != nil {
				e.Health.RecordFailure(pc.ModelID)
			}
			if metrics, ok := e.Registry.Metrics(pc.ModelID); ok {
				metrics.RecordError()
			}
			lastErr = err
			if kind == routererr.KindPermanentBackend || kind == routererr.KindCancelled {
				return err
			}
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		if len(pc.Attempts) > 0 {
			return routererr.NoViableModel(pc.Attempts)
		}
		return lastErr
	}

	if !pc.Request.Stream {
		if err := CacheStore(e.Cache)(pc); err != nil {
			return err
		}
	}
	return RecordMetrics(e.Registry, e.Health)(pc)
}
