// Package loader implements the Model Handle lifecycle and the format
// dispatcher that turns a Descriptor into a live Handle.
// Rather than one interface per format, this
// package collapses every format into a single closed Loader interface
// dispatched on descriptor.Format, per the design note that a router
// serving heterogeneous backends should hide "real vs mock" behind one
// seam instead of duplicating it per backend.
package loader

import (
	"context"
	"time"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// Chunk is one piece of a streamed generation.
type Chunk struct {
	Text     string
	Done     bool
	Tokens   int
	Metadata map[string]string
}

// Result is the outcome of a non-streaming generate() call.
type Result struct {
	Text         string `json:"text"`
	Tokens       int    `json:"tokens"`
	FinishReason string `json:"finish_reason"`
}

// Request is the normalized generation request every Handle implementation
// receives, independent of wire format (HTTP/gRPC/SDK).
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Stop        []string
	Stream      bool
	Extra       map[string]any
}

// Handle is a live, loaded model ready to serve requests. It
// satisfies registry.Handle structurally (Close, LastUsedAt) so the
// registry package never imports this one.
type Handle interface {
	ID() string
	Generate(ctx context.Context, req Request) (Result, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	Close(ctx context.Context) error
	LastUsedAt() time.Time
}

// Loader binds one descriptor.Format to the code that can produce a Handle
// for it. Implementations live in the formats subpackage.
type Loader interface {
	// Supports reports whether this loader can serve the given format.
	Supports(format descriptor.Format) bool
	// Load produces a live Handle for d, or a typed routererr on failure.
	Load(ctx context.Context, d descriptor.Descriptor) (Handle, error)
}

// Dispatcher routes a descriptor to the Loader registered for its format.
type Dispatcher struct {
	loaders []Loader
}

// NewDispatcher builds a dispatcher trying loaders in registration order;
// the first one whose Supports() returns true handles the load.
func NewDispatcher(loaders ...Loader) *Dispatcher {
	return &Dispatcher{loaders: loaders}
}

// Load finds a loader for d.Format and delegates to it.
func (disp *Dispatcher) Load(ctx context.Context, d descriptor.Descriptor) (Handle, error) {
	for _, l := range disp.loaders {
		if l.Supports(d.Format) {
			h, err := l.Load(ctx, d)
			if err != nil {
				return nil, routererr.Wrap(routererr.KindTransientBackend, "loader failed for model \""+d.ID+"\"", err)
			}
			return h, nil
		}
	}
	return nil, routererr.New(routererr.KindValidation, "no loader registered for format \""+string(d.Format)+"\"")
}
