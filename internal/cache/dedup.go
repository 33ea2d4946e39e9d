package cache

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/singleflight"
)

// Dedup collapses concurrent cache-miss builds for the same fingerprint
// into a single in-flight call, using
// golang.org/x/sync/singleflight rather than a hand-rolled in-flight map:
// this idiom shows up elsewhere in the ecosystem for the same coalescing
// purpose rather than a hand-rolled sync.Map of in-flight channels.
type Dedup struct {
	group singleflight.Group
}

// GetOrBuild returns the cached value for key if present; otherwise it
// calls build exactly once per concurrent burst of callers sharing key and
// fans the single result out to all of them.
func (d *Dedup) GetOrBuild(ctx context.Context, c *MultiLayerCache, key string, build func() (any, error)) (json.RawMessage, error) {
	var cached json.RawMessage
	if err := c.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if err != ErrCacheMiss {
		return nil, err
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		result, err := build()
		if err != nil {
			return nil, err
		}
		if setErr := c.Set(ctx, key, result); setErr != nil {
			return nil, setErr
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}
