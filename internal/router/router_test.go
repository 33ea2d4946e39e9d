package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/routererr"
)

func setupRegistry(t *testing.T, descriptors ...descriptor.Descriptor) *registry.Registry {
	t.Helper()
	r := registry.New(0, nil)
	for _, d := range descriptors {
		_, err := r.Register(context.Background(), d)
		require.NoError(t, err)
	}
	return r
}

func TestSelectQualityFirstPicksHighestContextWindow(t *testing.T) {
	small := descriptor.Descriptor{ID: "small", Name: "small", Format: descriptor.FormatMock, Source: "mock://small", Parameters: descriptor.Parameters{ContextWindow: 4096}}
	large := descriptor.Descriptor{ID: "large", Name: "large", Format: descriptor.FormatMock, Source: "mock://large", Parameters: descriptor.Parameters{ContextWindow: 128000}}

	reg := setupRegistry(t, small, large)
	rt := New(reg, NewHealthTracker(), StrategyQualityFirst)

	chosen, err := rt.Select(context.Background(), SelectionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "large", chosen)
}

func TestSelectCapabilityMatchFiltersByRequiredCapability(t *testing.T) {
	chatOnly := descriptor.Descriptor{ID: "chat-only", Name: "chat-only", Format: descriptor.FormatMock, Source: "mock://chat-only", Capabilities: descriptor.NewCapabilitySet(descriptor.CapChat)}
	embeddingOnly := descriptor.Descriptor{ID: "embed-only", Name: "embed-only", Format: descriptor.FormatMock, Source: "mock://embed-only", Capabilities: descriptor.NewCapabilitySet(descriptor.CapEmbedding)}

	reg := setupRegistry(t, chatOnly, embeddingOnly)
	rt := New(reg, NewHealthTracker(), StrategyQualityFirst)

	chosen, err := rt.Select(context.Background(), SelectionRequest{RequiredCapabilities: []descriptor.Capability{descriptor.CapEmbedding}})
	require.NoError(t, err)
	assert.Equal(t, "embed-only", chosen)
}

func TestSelectExplicitStrategyHonorsRequestedID(t *testing.T) {
	a := descriptor.Descriptor{ID: "a", Name: "a", Format: descriptor.FormatMock, Source: "mock://a"}
	b := descriptor.Descriptor{ID: "b", Name: "b", Format: descriptor.FormatMock, Source: "mock://b"}
	reg := setupRegistry(t, a, b)
	rt := New(reg, NewHealthTracker(), StrategyQualityFirst)

	chosen, err := rt.Select(context.Background(), SelectionRequest{Strategy: StrategyExplicit, ExplicitModelID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", chosen)
}

func TestSelectFailsWhenNoHealthyCandidate(t *testing.T) {
	a := descriptor.Descriptor{ID: "a", Name: "a", Format: descriptor.FormatMock, Source: "mock://a"}
	reg := setupRegistry(t, a)
	health := NewHealthTracker()
	for i := 0; i < 20; i++ {
		health.RecordFailure("a")
	}
	rt := New(reg, health, StrategyQualityFirst)

	_, err := rt.Select(context.Background(), SelectionRequest{})
	assert.True(t, routererr.Is(err, routererr.KindCapabilityUnavailable))
}

func TestSelectUnknownStrategyReturnsValidationError(t *testing.T) {
	a := descriptor.Descriptor{ID: "a", Name: "a", Format: descriptor.FormatMock, Source: "mock://a"}
	reg := setupRegistry(t, a)
	rt := New(reg, NewHealthTracker(), StrategyQualityFirst)

	_, err := rt.Select(context.Background(), SelectionRequest{Strategy: "not-a-real-strategy"})
	assert.True(t, routererr.Is(err, routererr.KindValidation))
}

func TestTieBreakOrdersByScoreThenRecencyThenID(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{ID: "z", QualityScore: 1, LastUsedAt: now},
		{ID: "a", QualityScore: 1, LastUsedAt: now.Add(-time.Minute)},
		{ID: "m", QualityScore: 2, LastUsedAt: now},
	}
	chosen := (qualityFirstStrategy{}).Select(candidates)
	assert.Equal(t, "m", chosen.ID, "highest score wins regardless of recency/id")

	tied := []Candidate{
		{ID: "z", QualityScore: 1, LastUsedAt: now},
		{ID: "a", QualityScore: 1, LastUsedAt: now.Add(-time.Minute)},
	}
	chosen = (qualityFirstStrategy{}).Select(tied)
	assert.Equal(t, "a", chosen.ID, "equal score breaks on least-recently-used first")
}

func TestRoundRobinRotatesAcrossCalls(t *testing.T) {
	candidates := []Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	strategy := &roundRobinStrategy{}

	first := strategy.Select(candidates)
	second := strategy.Select(candidates)
	third := strategy.Select(candidates)
	fourth := strategy.Select(candidates)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID, fourth.ID, "rotation must wrap back around after a full cycle")
	_ = third
}
