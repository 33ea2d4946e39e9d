package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a := Fingerprint("m1", map[string]any{"prompt": "hi", "max_tokens": 10})
	b := Fingerprint("m1", map[string]any{"max_tokens": 10, "prompt": "hi"})
	assert.Equal(t, a, b)
}

func TestFingerprintNormalizesIntVsFloat(t *testing.T) {
	a := Fingerprint("m1", map[string]any{"max_tokens": 10})
	b := Fingerprint("m1", map[string]any{"max_tokens": 10.0})
	assert.Equal(t, a, b)
}

func TestFingerprintDiffersByModel(t *testing.T) {
	a := Fingerprint("m1", map[string]any{"prompt": "hi"})
	b := Fingerprint("m2", map[string]any{"prompt": "hi"})
	assert.NotEqual(t, a, b)
}

func TestIsCacheableBoundary(t *testing.T) {
	assert.True(t, IsCacheable(0, nil))
	assert.False(t, IsCacheable(0.7, nil))

	yes := true
	no := false
	assert.True(t, IsCacheable(0.9, &yes), "explicit opt-in overrides temperature")
	assert.False(t, IsCacheable(0, &no), "explicit opt-out overrides temperature")
}

func newTestCache() *MultiLayerCache {
	c, err := NewMultiLayerCache(nil, Config{LocalEnabled: true, LocalSizeMB: 8, LocalTTL: 5 * time.Minute, LocalEviction: time.Minute, KeyPrefix: "test:"})
	if err != nil {
		panic(err)
	}
	return c
}

func TestDedupCollapsesConcurrentBuilds(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	var buildCount int64
	var wg sync.WaitGroup
	d := &Dedup{}

	results := make([]json.RawMessage, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := d.GetOrBuild(context.Background(), c, "shared-key", func() (any, error) {
				atomic.AddInt64(&buildCount, 1)
				return map[string]string{"text": "built once"}, nil
			})
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&buildCount), "concurrent callers sharing a fingerprint must trigger exactly one build")
	for _, r := range results {
		assert.JSONEq(t, `{"text":"built once"}`, string(r))
	}
}

func TestDedupServesFromCacheOnSubsequentCall(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	var buildCount int64
	d := &Dedup{}
	build := func() (any, error) {
		atomic.AddInt64(&buildCount, 1)
		return map[string]string{"text": "x"}, nil
	}

	_, err := d.GetOrBuild(context.Background(), c, "k", build)
	require.NoError(t, err)
	_, err = d.GetOrBuild(context.Background(), c, "k", build)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&buildCount))
}
