// Package formats holds one Loader implementation per descriptor.Format
// family. mock.go is the single fake backend used by tests and by the
// "mock" format in development configs; every other format loader in this
// package talks to a real backend.
package formats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/loader"
)

// MockLoader produces deterministic handles with no external dependency,
// grounded on the closed-variant design note: the router serves
// dev/test traffic through the exact same Loader/Handle seam as production
// backends, never a parallel "test mode" code path.
type MockLoader struct{}

func (MockLoader) Supports(format descriptor.Format) bool {
	return format == descriptor.FormatMock
}

func (MockLoader) Load(ctx context.Context, d descriptor.Descriptor) (loader.Handle, error) {
	return &mockHandle{id: d.ID, lastUsed: time.Now()}, nil
}

type mockHandle struct {
	mu       sync.Mutex
	id       string
	lastUsed time.Time
	closed   bool
}

func (h *mockHandle) ID() string { return h.id }

func (h *mockHandle) touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

func (h *mockHandle) Generate(ctx context.Context, req loader.Request) (loader.Result, error) {
	h.touch()
	words := len(strings.Fields(req.Prompt))
	text := fmt.Sprintf("mock response from %s (%d words in, max_tokens=%d)", h.id, words, req.MaxTokens)
	return loader.Result{Text: text, Tokens: words + 8, FinishReason: "stop"}, nil
}

func (h *mockHandle) Stream(ctx context.Context, req loader.Request) (<-chan loader.Chunk, error) {
	h.touch()
	out := make(chan loader.Chunk)
	tokens := strings.Fields(fmt.Sprintf("mock streamed response from %s for prompt of length %d", h.id, len(req.Prompt)))

	go func() {
		defer close(out)
		for _, tok := range tokens {
			select {
			case <-ctx.Done():
				return
			case out <- loader.Chunk{Text: tok + " ", Tokens: 1, Done: false}:
			}
		}
		select {
		case <-ctx.Done():
		case out <- loader.Chunk{Done: true}:
		}
	}()

	return out, nil
}

func (h *mockHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *mockHandle) LastUsedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}
