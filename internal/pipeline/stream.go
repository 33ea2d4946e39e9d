package pipeline

import (
	"context"

	"github.com/aiserve/modelrouter/internal/loader"
)

// CollectStream drains a chunk channel into a single concatenated result,
// honoring ctx cancellation.
func CollectStream(ctx context.Context, chunks <-chan loader.Chunk) (loader.Result, error) {
	var text string
	var tokens int
	var finish string

	for {
		select {
		case <-ctx.Done():
			return loader.Result{}, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return loader.Result{Text: text, Tokens: tokens, FinishReason: finish}, nil
			}
			text += chunk.Text
			tokens += chunk.Tokens
			if chunk.Done {
				finish = "stop"
			}
		}
	}
}
