package pipeline

import (
	"strings"
	"time"

	"github.com/aiserve/modelrouter/internal/cache"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/router"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// AuthorizeFunc is the external collaborator hook: auth/quota enforcement is injected, not owned, by the pipeline.
type AuthorizeFunc func(pc *Context) (bool, error)

// Validate rejects structurally invalid requests before any routing work
// happens.
func Validate(pc *Context) error {
	if strings.TrimSpace(pc.Request.Prompt) == "" {
		return routererr.New(routererr.KindValidation, "prompt must not be empty")
	}
	if pc.Request.MaxTokens < 0 {
		return routererr.New(routererr.KindValidation, "max_tokens must not be negative")
	}
	return nil
}

// Authorize wraps an external AuthorizeFunc collaborator; a nil fn means
// the deployment has no auth/quota layer configured and every request
// passes.
func Authorize(fn AuthorizeFunc) Stage {
	return func(pc *Context) error {
		if fn == nil {
			pc.Authorized = true
			return nil
		}
		ok, err := fn(pc)
		if err != nil {
			return routererr.Wrap(routererr.KindPermanentBackend, "authorization check failed", err)
		}
		if !ok {
			return routererr.New(routererr.KindValidation, "request not authorized")
		}
		pc.Authorized = true
		return nil
	}
}

// Route selects a model id via the Router, excluding every id already
// recorded in pc.Attempts, so each repeated call picks the next-best
// candidate after an "invoke" failure. Route makes one selection per call;
// the number of repeats is bounded by Executor.Run, not by maxFallbacks.
func Route(rt *router.Router, maxFallbacks int) Stage {
	return func(pc *Context) error {
		excluded := make(map[string]struct{}, len(pc.Attempts))
		for _, a := range pc.Attempts {
			excluded[a.ModelID] = struct{}{}
		}

		id, err := rt.Select(pc.Ctx, router.SelectionRequest{
			RequiredCapabilities: pc.RequestedCaps,
			Strategy:             router.StrategyName(pc.Strategy),
			ExplicitModelID:      pc.ExplicitModel,
			Excluded:             excluded,
		})
		if err != nil {
			if len(pc.Attempts) > 0 {
				return routererr.NoViableModel(pc.Attempts)
			}
			return err
		}
		pc.ModelID = id
		return nil
	}
}

// CacheLookup computes the request fingerprint and checks the cache; a hit
// short-circuits the remaining invoke/cacheStore stages by setting
// pc.CacheHit (Executor.Run checks CacheHit and skips the invoke stage).
func CacheLookup(c *cache.MultiLayerCache) Stage {
	return func(pc *Context) error {
		if c == nil || !cache.IsCacheable(pc.Request.Temperature, nil) {
			return nil
		}
		pc.Fingerprint = cache.Fingerprint(pc.ModelID, map[string]any{
			"prompt":      pc.Request.Prompt,
			"max_tokens":  pc.Request.MaxTokens,
			"temperature": pc.Request.Temperature,
			"stop":        pc.Request.Stop,
		})

		var cached loader.Result
		if err := c.Get(pc.Ctx, pc.Fingerprint, &cached); err == nil {
			pc.Result = cached
			pc.CacheHit = true
		}
		return nil
	}
}

// Invoke borrows the registry's live handle for pc.ModelID and generates
// (or streams) a response.
func Invoke(reg *registry.Registry) Stage {
	return func(pc *Context) error {
		handle, ok := reg.Handle(pc.ModelID)
		if !ok {
			return routererr.New(routererr.KindNotFound, "model \""+pc.ModelID+"\" has no loaded handle")
		}
		pc.Handle = handle

		if pc.Request.Stream {
			chunks, err := handle.Stream(pc.Ctx, pc.Request)
			if err != nil {
				return classifyInvokeError(pc.ModelID, err)
			}
			pc.StreamChunks = chunks
			return nil
		}

		result, err := handle.Generate(pc.Ctx, pc.Request)
		if err != nil {
			return classifyInvokeError(pc.ModelID, err)
		}
		pc.Result = result
		return nil
	}
}

func classifyInvokeError(modelID string, err error) error {
	kind, ok := routererr.KindOf(err)
	if !ok {
		kind = routererr.KindTransientBackend
	}
	return routererr.Wrap(kind, "invoke failed for model \""+modelID+"\"", err)
}

// CacheStore writes a successful non-streaming result back into the cache
// for future lookups. A no-op when the request was cacheable-ineligible
// or already served from cache.
func CacheStore(c *cache.MultiLayerCache) Stage {
	return func(pc *Context) error {
		if c == nil || pc.CacheHit || pc.Fingerprint == "" || pc.Request.Stream {
			return nil
		}
		return c.Set(pc.Ctx, pc.Fingerprint, pc.Result)
	}
}

// RecordMetrics folds a successful outcome into the registry's per-model
// metrics and the router's health tracker. Executor.Run calls it last and
// only when the request succeeded; failed attempts are recorded inside
// Executor.Run's attempt loop instead.
func RecordMetrics(reg *registry.Registry, health *router.HealthTracker) Stage {
	return func(pc *Context) error {
		latency := time.Since(pc.StartedAt)
		metrics, ok := reg.Metrics(pc.ModelID)
		if !ok {
			return nil
		}
		if pc.CacheHit {
			metrics.Touch()
			return nil
		}
		metrics.RecordSuccess(pc.Result.Tokens, latency)
		if health != nil {
			health.RecordSuccess(pc.ModelID)
		}
		return nil
	}
}
