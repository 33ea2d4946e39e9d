package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiserve/modelrouter/internal/cache"
	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/loader/formats"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/router"
)

func setupExecutor(t *testing.T, ids ...string) (*Executor, *registry.Registry) {
	t.Helper()
	reg := registry.New(0, nil)
	dispatcher := loader.NewDispatcher(formats.MockLoader{})

	for _, id := range ids {
		d := descriptor.Descriptor{ID: id, Name: id, Format: descriptor.FormatMock, Source: "mock://" + id}
		_, err := reg.Register(context.Background(), d)
		require.NoError(t, err)
		h, err := dispatcher.Load(context.Background(), d)
		require.NoError(t, err)
		require.NoError(t, reg.AttachHandle(id, h, 0))
	}

	rt := router.New(reg, router.NewHealthTracker(), router.StrategyQualityFirst)
	c, err := cache.NewMultiLayerCache(nil, cache.Config{LocalEnabled: true, LocalSizeMB: 8, LocalTTL: 5 * time.Minute, LocalEviction: time.Minute, KeyPrefix: "pipeline-test:"})
	require.NoError(t, err)

	return &Executor{Registry: reg, Router: rt, Cache: c, Health: router.NewHealthTracker(), MaxFallbacks: 3}, reg
}

func TestExecutorRunsEndToEnd(t *testing.T) {
	exec, _ := setupExecutor(t, "m1")
	pc := &Context{Request: loader.Request{Prompt: "hello", MaxTokens: 16}}

	err := exec.Run(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, "m1", pc.ModelID)
	assert.Contains(t, pc.Result.Text, "m1")
}

func TestExecutorRejectsEmptyPrompt(t *testing.T) {
	exec, _ := setupExecutor(t, "m1")
	pc := &Context{Request: loader.Request{Prompt: ""}}

	err := exec.Run(context.Background(), pc)
	require.Error(t, err)
}

func TestExecutorServesSecondIdenticalCallFromCache(t *testing.T) {
	exec, _ := setupExecutor(t, "m1")

	first := &Context{Request: loader.Request{Prompt: "same prompt", MaxTokens: 8, Temperature: 0}}
	require.NoError(t, exec.Run(context.Background(), first))
	assert.False(t, first.CacheHit)

	second := &Context{Request: loader.Request{Prompt: "same prompt", MaxTokens: 8, Temperature: 0}}
	require.NoError(t, exec.Run(context.Background(), second))
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Result.Text, second.Result.Text)
}

func TestExecutorDoesNotCacheNonZeroTemperature(t *testing.T) {
	exec, _ := setupExecutor(t, "m1")

	first := &Context{Request: loader.Request{Prompt: "varies", MaxTokens: 8, Temperature: 0.8}}
	require.NoError(t, exec.Run(context.Background(), first))

	second := &Context{Request: loader.Request{Prompt: "varies", MaxTokens: 8, Temperature: 0.8}}
	require.NoError(t, exec.Run(context.Background(), second))
	assert.False(t, second.CacheHit)
}

func TestExecutorPropagatesCancellation(t *testing.T) {
	exec, _ := setupExecutor(t, "m1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pc := &Context{Request: loader.Request{Prompt: "hello"}}
	err := exec.Run(ctx, pc)
	require.Error(t, err)
}

func TestExecutorAuthorizeHookRejectsRequest(t *testing.T) {
	exec, _ := setupExecutor(t, "m1")
	exec.Authorize = func(pc *Context) (bool, error) { return false, nil }

	pc := &Context{Request: loader.Request{Prompt: "hello"}}
	err := exec.Run(context.Background(), pc)
	require.Error(t, err)
}

func TestExecutorAuthorizeHookPropagatesError(t *testing.T) {
	exec, _ := setupExecutor(t, "m1")
	exec.Authorize = func(pc *Context) (bool, error) { return false, errors.New("quota service unreachable") }

	pc := &Context{Request: loader.Request{Prompt: "hello"}}
	err := exec.Run(context.Background(), pc)
	require.Error(t, err)
}
