package formats

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/routererr"
)

func TestMockLoaderGenerateIsDeterministicShape(t *testing.T) {
	l := MockLoader{}
	require.True(t, l.Supports(descriptor.FormatMock))
	require.False(t, l.Supports(descriptor.FormatGGUF))

	h, err := l.Load(context.Background(), descriptor.Descriptor{ID: "m1", Format: descriptor.FormatMock})
	require.NoError(t, err)

	result, err := h.Generate(context.Background(), loader.Request{Prompt: "hello world", MaxTokens: 16})
	require.NoError(t, err)
	assert.Contains(t, result.Text, "m1")
	assert.Equal(t, "stop", result.FinishReason)
}

func TestMockLoaderStreamEmitsDoneTerminal(t *testing.T) {
	l := MockLoader{}
	h, err := l.Load(context.Background(), descriptor.Descriptor{ID: "m1", Format: descriptor.FormatMock})
	require.NoError(t, err)

	ch, err := h.Stream(context.Background(), loader.Request{Prompt: "hi"})
	require.NoError(t, err)

	var sawDone bool
	for chunk := range ch {
		if chunk.Done {
			sawDone = true
		}
	}
	assert.True(t, sawDone, "stream must terminate with a Done chunk")
}

func TestMockHandleCloseIsIdempotent(t *testing.T) {
	l := MockLoader{}
	h, err := l.Load(context.Background(), descriptor.Descriptor{ID: "m1", Format: descriptor.FormatMock})
	require.NoError(t, err)
	require.NoError(t, h.Close(context.Background()))
	require.NoError(t, h.Close(context.Background()))
}

func TestAPILoaderRejectsMissingBaseURL(t *testing.T) {
	l := NewAPILoader(nil)
	_, err := l.Load(context.Background(), descriptor.Descriptor{ID: "m1", Format: descriptor.FormatAPI})
	require.Error(t, err)
	assert.True(t, routererr.Is(err, routererr.KindValidation))
}

func TestDetectFormatByExtension(t *testing.T) {
	format, ok := DetectFormat("/models/llama.gguf")
	require.True(t, ok)
	assert.Equal(t, descriptor.FormatGGUF, format)

	format, ok = DetectFormat("/models/weights.safetensors")
	require.True(t, ok)
	assert.Equal(t, descriptor.FormatSafetensors, format)
}

func TestDetectFormatByMagicBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("GGUFrestofcontent"), 0o644))

	format, ok := DetectFormat(path)
	require.True(t, ok)
	assert.Equal(t, descriptor.FormatGGUF, format)
}

func TestDetectFormatByHFCheckout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o644))

	format, ok := DetectFormat(dir)
	require.True(t, ok)
	assert.Equal(t, descriptor.FormatHF, format)
}

func TestDetectFormatUnknownReturnsFalse(t *testing.T) {
	_, ok := DetectFormat("/models/weird.xyz123")
	assert.False(t, ok)
}
