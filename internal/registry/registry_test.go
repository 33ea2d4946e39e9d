package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/routererr"
)

type fakeHandle struct {
	closed   bool
	lastUsed time.Time
}

func (h *fakeHandle) Close(ctx context.Context) error {
	h.closed = true
	return nil
}

func (h *fakeHandle) LastUsedAt() time.Time { return h.lastUsed }

func newDescriptor(id string, caps ...descriptor.Capability) descriptor.Descriptor {
	return descriptor.Descriptor{
		ID:           id,
		Name:         id,
		Format:       descriptor.FormatMock,
		Source:       "mock://" + id,
		Capabilities: descriptor.NewCapabilitySet(caps...),
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()

	_, err := r.Register(ctx, newDescriptor("m1"))
	require.NoError(t, err)

	_, err = r.Register(ctx, newDescriptor("m1"))
	require.Error(t, err)
	assert.True(t, routererr.Is(err, routererr.KindDuplicateID))
}

func TestRegisterRejectsInvalidDescriptor(t *testing.T) {
	r := New(0, nil)
	_, err := r.Register(context.Background(), descriptor.Descriptor{})
	require.Error(t, err)
	assert.True(t, routererr.Is(err, routererr.KindValidation))
}

func TestCapabilityIndexConsistencyAcrossRegisterUnregister(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()

	_, err := r.Register(ctx, newDescriptor("m1", descriptor.CapChat, descriptor.CapStreaming))
	require.NoError(t, err)
	_, err = r.Register(ctx, newDescriptor("m2", descriptor.CapChat))
	require.NoError(t, err)

	chatModels := r.GetByCapability(descriptor.CapChat)
	assert.Len(t, chatModels, 2)

	require.NoError(t, r.Unregister(ctx, "m1"))

	chatModels = r.GetByCapability(descriptor.CapChat)
	assert.Len(t, chatModels, 1)
	assert.Equal(t, "m2", chatModels[0].Descriptor.ID)

	streamingModels := r.GetByCapability(descriptor.CapStreaming)
	assert.Empty(t, streamingModels, "empty capability buckets must be removed, not left dangling")
}

func TestUnregisterClosesLoadedHandle(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()

	_, err := r.Register(ctx, newDescriptor("m1"))
	require.NoError(t, err)

	h := &fakeHandle{lastUsed: time.Now()}
	require.NoError(t, r.AttachHandle("m1", h, 10*time.Millisecond))

	require.NoError(t, r.Unregister(ctx, "m1"))
	assert.True(t, h.closed)

	_, err = r.Get("m1")
	assert.True(t, routererr.Is(err, routererr.KindNotFound))
}

func TestUnregisterUnknownIDReturnsNotFound(t *testing.T) {
	r := New(0, nil)
	err := r.Unregister(context.Background(), "missing")
	assert.True(t, routererr.Is(err, routererr.KindNotFound))
}

func TestCapacityEnforcementEvictsLRU(t *testing.T) {
	r := New(2, nil)
	ctx := context.Background()

	_, err := r.Register(ctx, newDescriptor("old"))
	require.NoError(t, err)
	oldHandle := &fakeHandle{lastUsed: time.Now().Add(-time.Hour)}
	require.NoError(t, r.AttachHandle("old", oldHandle, 0))

	_, err = r.Register(ctx, newDescriptor("new"))
	require.NoError(t, err)
	newHandle := &fakeHandle{lastUsed: time.Now()}
	require.NoError(t, r.AttachHandle("new", newHandle, 0))

	// registry is now at capacity (2); registering a third must evict "old"
	// since it is the least recently used loaded handle.
	_, err = r.Register(ctx, newDescriptor("third"))
	require.NoError(t, err)

	assert.True(t, oldHandle.closed)
	assert.False(t, newHandle.closed)
	assert.Equal(t, 3, r.Size())

	snap, err := r.Get("old")
	require.NoError(t, err)
	assert.False(t, snap.Loaded)
	assert.Equal(t, StatusRegistered, snap.Status)
}

func TestCapacityExceededWhenNothingEvictable(t *testing.T) {
	r := New(1, nil)
	ctx := context.Background()

	_, err := r.Register(ctx, newDescriptor("m1"))
	require.NoError(t, err)
	// m1 has no loaded handle, so nothing is evictable.

	_, err = r.Register(ctx, newDescriptor("m2"))
	assert.True(t, routererr.Is(err, routererr.KindCapacityExceeded))
}

func TestGetByFormatAndSource(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, newDescriptor("m1"))
	require.NoError(t, err)

	byFormat := r.GetByFormat(descriptor.FormatMock)
	require.Len(t, byFormat, 1)

	bySource := r.GetBySource("mock://m1")
	require.Len(t, bySource, 1)
	assert.Equal(t, "m1", bySource[0].Descriptor.ID)
}

func TestEvictLRUWithNoLoadedEntriesIsNoop(t *testing.T) {
	r := New(0, nil)
	_, err := r.Register(context.Background(), newDescriptor("m1"))
	require.NoError(t, err)

	id := r.EvictLRU(context.Background())
	assert.Empty(t, id)
}

func TestListReturnsStableSnapshotsNotLiveReferences(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, newDescriptor("m1"))
	require.NoError(t, err)

	snap, err := r.Get("m1")
	require.NoError(t, err)

	metrics, ok := r.Metrics("m1")
	require.True(t, ok)
	metrics.RecordSuccess(100, 5*time.Millisecond)

	assert.Equal(t, int64(0), snap.Metrics.InferenceCount, "prior snapshot must not observe later mutation")

	fresh, err := r.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.Metrics.InferenceCount)
}
