// Package pipeline implements the Execution Pipeline: a fixed
// sequence of stages a request passes through from validation to metrics
// recording. Grounded on the internal/middleware chain-of-
// http.Handler idiom, generalized from the HTTP middleware stack to a
// stage chain operating on a single Context value rather than
// (ResponseWriter, *Request).
package pipeline

import (
	"context"
	"time"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// Context carries one request through every stage. Stages mutate it in
// place and return an error to short-circuit the remaining chain.
type Context struct {
	Ctx context.Context

	Request       loader.Request
	RequestedCaps []descriptor.Capability
	Strategy      string
	ExplicitModel string
	APIKey        string

	ModelID       string
	Handle        loader.Handle
	Fingerprint   string
	CacheHit      bool
	Result        loader.Result
	StreamChunks  <-chan loader.Chunk
	Authorized    bool

	StartedAt time.Time
	Attempts  []routererr.Attempt
}

// Stage is one step of the pipeline. It mutates the Context in place and
// returns an error; a non-nil error stops the chain.
type Stage func(*Context) error

// Pipeline runs an ordered list of stages against one Context.
type Pipeline struct {
	stages []Stage
}

// New builds a Pipeline from stages, run in the given order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run executes every stage in order, stopping at the first error.
func (p *Pipeline) Run(pc *Context) error {
	pc.StartedAt = time.Now()
	for _, stage := range p.stages {
		if err := pc.Ctx.Err(); err != nil {
			return routererr.Wrap(routererr.KindCancelled, "pipeline cancelled", err)
		}
		if err := stage(pc); err != nil {
			return err
		}
	}
	return nil
}
