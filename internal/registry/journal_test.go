package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiserve/modelrouter/internal/descriptor"
)

func TestJournalPersistThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	ctx := context.Background()

	r1 := New(0, NewJournal(path))
	_, err := r1.Register(ctx, newDescriptor("m1", descriptor.CapChat))
	require.NoError(t, err)
	metrics, ok := r1.Metrics("m1")
	require.True(t, ok)
	metrics.RecordSuccess(42, 7*time.Millisecond)

	// persistLocked already ran inside Register; force another explicit
	// persist so the recorded metrics above are reflected on disk too.
	r1.mu.Lock()
	err = r1.persistLocked()
	r1.mu.Unlock()
	require.NoError(t, err)

	r2 := New(0, NewJournal(path))
	require.NoError(t, r2.Load(ctx))

	snap, err := r2.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", snap.Descriptor.ID)
	assert.True(t, snap.Descriptor.Capabilities.Has(descriptor.CapChat))
	assert.Equal(t, int64(42), snap.Metrics.TotalTokens)
	assert.False(t, snap.Loaded, "reload must not resurrect a live handle")
	assert.Equal(t, StatusRegistered, snap.Status)

	chatModels := r2.GetByCapability(descriptor.CapChat)
	assert.Len(t, chatModels, 1, "secondary indexes must be rebuilt on load")
}

func TestJournalLoadMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")

	r := New(0, NewJournal(path))
	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, 0, r.Size())
}

func TestJournalLoadCorruptFileQuarantinesAndStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	r := New(0, NewJournal(path))
	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, 0, r.Size())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var foundQuarantine bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != "registry.json.lock" {
			foundQuarantine = true
		}
	}
	assert.True(t, foundQuarantine, "corrupt journal must be renamed aside, not silently discarded")
}

func TestJournalEvictedEntryPersistsAsRegisteredNotLoaded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	ctx := context.Background()

	r := New(1, NewJournal(path))
	_, err := r.Register(ctx, newDescriptor("m1"))
	require.NoError(t, err)
	h := &fakeHandle{lastUsed: time.Now()}
	require.NoError(t, r.AttachHandle("m1", h, 0))

	_, err = r.Register(ctx, newDescriptor("m2"))
	require.NoError(t, err)
	assert.True(t, h.closed)

	r2 := New(0, NewJournal(path))
	require.NoError(t, r2.Load(ctx))
	snap, err := r2.Get("m1")
	require.NoError(t, err)
	assert.False(t, snap.Loaded)
	assert.Equal(t, StatusRegistered, snap.Status)
}
