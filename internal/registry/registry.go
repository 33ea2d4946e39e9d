// Package registry implements the Model Registry: the
// authoritative, persistable catalog of models with secondary indexes,
// capacity enforcement, and LRU eviction, built around a sync.RWMutex and
// id-keyed maps with by-format/by-capability/by-source secondary indexes.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/routererr"
)

// Status is the closed set of states a Registry Entry may be in.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusAvailable  Status = "available"
	StatusLoaded     Status = "loaded"
	StatusUnloading  Status = "unloading"
	StatusError      Status = "error"
)

// Handle is the subset of the loader's live Model Handle that the Registry
// needs to manage lifecycle and LRU eviction. Kept narrow on purpose —
// handles are owned only by the Registry, the Router holds ids, and the
// Pipeline borrows read-only — so this package never imports
// internal/loader and loader never imports registry; both depend only on
// this interface.
type Handle interface {
	Close(ctx context.Context) error
	LastUsedAt() time.Time
}

// Entry is one (descriptor, optional handle, status, ...) tuple.
type Entry struct {
	Descriptor   descriptor.Descriptor
	Handle       Handle
	Status       Status
	RegisteredAt time.Time
	Metrics      *Metrics
}

// Snapshot is a read-only copy of an Entry safe to hand to callers outside
// any lock/getByFormat()/getByCapability()).
type Snapshot struct {
	Descriptor   descriptor.Descriptor
	Status       Status
	RegisteredAt time.Time
	Metrics      Metrics
	Loaded       bool
}

func (e *Entry) snapshot() Snapshot {
	return Snapshot{
		Descriptor:   e.Descriptor,
		Status:       e.Status,
		RegisteredAt: e.RegisteredAt,
		Metrics:      e.Metrics.Snapshot(),
		Loaded:       e.Handle != nil,
	}
}

// Registry is the indexed catalog of descriptors + handles.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*Entry

	byFormat     map[descriptor.Format]map[string]struct{}
	byCapability map[descriptor.Capability]map[string]struct{}
	bySource     map[string]map[string]struct{}

	journal *Journal
}

// New creates a registry with the given capacity (0 = unbounded) and
// optional journal for persist()/load().
func New(capacity int, journal *Journal) *Registry {
	return &Registry{
		capacity:     capacity,
		entries:      make(map[string]*Entry),
		byFormat:     make(map[descriptor.Format]map[string]struct{}),
		byCapability: make(map[descriptor.Capability]map[string]struct{}),
		bySource:     make(map[string]map[string]struct{}),
		journal:      journal,
	}
}

// Register validates and inserts a descriptor.
func (r *Registry) Register(ctx context.Context, d descriptor.Descriptor) (Snapshot, error) {
	if err := d.Validate(); err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.ID]; exists {
		return Snapshot{}, routererr.New(routererr.KindDuplicateID, "model id \""+d.ID+"\" is already registered")
	}

	if r.capacity > 0 && len(r.entries) >= r.capacity {
		if _, evicted := r.evictLRULocked(ctx); !evicted {
			return Snapshot{}, routererr.New(routererr.KindCapacityExceeded, "registry at capacity and no loaded entry is evictable")
		}
	}

	entry := &Entry{
		Descriptor:   d,
		Status:       StatusRegistered,
		RegisteredAt: time.Now(),
		Metrics:      &Metrics{},
	}
	r.entries[d.ID] = entry
	r.indexLocked(d)

	if err := r.persistLocked(); err != nil {
		delete(r.entries, d.ID)
		r.unindexLocked(d)
		return Snapshot{}, routererr.Wrap(routererr.KindInternal, "failed to persist registry", err)
	}

	return entry.snapshot(), nil
}

// Unregister tears down any loaded handle and removes the entry from every index.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return routererr.New(routererr.KindNotFound, "model id \""+id+"\" is not registered")
	}

	handle := entry.Handle
	d := entry.Descriptor
	delete(r.entries, id)
	r.unindexLocked(d)
	persistErr := r.persistLocked()
	r.mu.Unlock()

	if handle != nil {
		_ = handle.Close(ctx)
	}

	if persistErr != nil {
		return routererr.Wrap(routererr.KindInternal, "failed to persist registry", persistErr)
	}
	return nil
}

// Get returns a stable snapshot of one entry.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return Snapshot{}, routererr.New(routererr.KindNotFound, "model id \""+id+"\" not found")
	}
	return entry.snapshot(), nil
}

// GetByFormat returns every entry registered under the given format.
func (r *Registry) GetByFormat(format descriptor.Format) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byFormat[format]
	out := make([]Snapshot, 0, len(ids))
	for id := range ids {
		out = append(out, r.entries[id].snapshot())
	}
	sortByID(out)
	return out
}

// GetByCapability returns every entry whose capability set contains tag.
func (r *Registry) GetByCapability(tag descriptor.Capability) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCapability[tag]
	out := make([]Snapshot, 0, len(ids))
	for id := range ids {
		out = append(out, r.entries[id].snapshot())
	}
	sortByID(out)
	return out
}

// GetBySource returns every entry registered against the given source locator.
func (r *Registry) GetBySource(source string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.bySource[source]
	out := make([]Snapshot, 0, len(ids))
	for id := range ids {
		out = append(out, r.entries[id].snapshot())
	}
	sortByID(out)
	return out
}

// List returns every entry in the registry.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	sortByID(out)
	return out
}

// Size returns the number of registered entries.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AttachHandle records a freshly loaded handle for id, transitioning the
// entry to loaded. Called by the load handlers once the loader dispatcher
// has returned a handle.
func (r *Registry) AttachHandle(id string, h Handle, loadTime time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return routererr.New(routererr.KindNotFound, "model id \""+id+"\" not found")
	}
	entry.Handle = h
	entry.Status = StatusLoaded
	entry.Metrics.RecordLoad(loadTime)
	return nil
}

// DetachHandle clears a previously attached handle without tearing it down
// (the caller already closed it) and restores the descriptor to registered.
func (r *Registry) DetachHandle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	entry.Handle = nil
	entry.Status = StatusRegistered
}

// MarkError marks an entry's status as error (e.g. after a permanent backend
// failure observed by the router's health tracker).
func (r *Registry) MarkError(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok {
		entry.Status = StatusError
	}
}

// Handle returns the live handle for id, if currently loaded.
func (r *Registry) Handle(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.Handle == nil {
		return nil, false
	}
	return entry.Handle, true
}

// Metrics returns the live metrics pointer for id so callers (the pipeline)
// can record outcomes without a round-trip through Register/snapshot copies.
func (r *Registry) Metrics(id string) (*Metrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return entry.Metrics, true
}

// EvictLRU evicts the loaded entry whose handle was least recently used.
// Returns the evicted id, or "" if nothing was evictable.
func (r *Registry) EvictLRU(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := r.evictLRULocked(ctx)
	return id
}

// evictLRULocked must be called while holding r.mu. It tears down the
// loaded entry with the oldest handle LastUsedAt() and restores it to
// registered; only an explicit Unregister removes the descriptor entirely.
// Returns the evicted id and whether anything was
// evicted.
func (r *Registry) evictLRULocked(ctx context.Context) (string, bool) {
	var oldestID string
	var oldestAt time.Time

	for id, e := range r.entries {
		if e.Handle == nil {
			continue
		}
		at := e.Handle.LastUsedAt()
		if oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}

	if oldestID == "" {
		return "", false
	}

	entry := r.entries[oldestID]
	handle := entry.Handle
	entry.Handle = nil
	entry.Status = StatusRegistered

	// Closing the backend can block; since we hold the write lock, keep this
	// deliberately fast (loaders must make Close non-blocking-on-I/O or this
	// should be swapped for an async teardown in a future revision).
	_ = handle.Close(ctx)
	return oldestID, true
}

func (r *Registry) indexLocked(d descriptor.Descriptor) {
	addToIndex(r.byFormat, d.Format, d.ID)
	for tag := range d.Capabilities {
		addToIndex(r.byCapability, tag, d.ID)
	}
	addToIndex(r.bySource, d.Source, d.ID)
}

func (r *Registry) unindexLocked(d descriptor.Descriptor) {
	removeFromIndex(r.byFormat, d.Format, d.ID)
	for tag := range d.Capabilities {
		removeFromIndex(r.byCapability, tag, d.ID)
	}
	removeFromIndex(r.bySource, d.Source, d.ID)
}

func addToIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	bucket, ok := index[key]
	if !ok {
		bucket = make(map[string]struct{})
		index[key] = bucket
	}
	bucket[id] = struct{}{}
}

func removeFromIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	bucket, ok := index[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(index, key) // empty buckets must be dropped (invariant 1)
	}
}

func sortByID(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Descriptor.ID < snaps[j].Descriptor.ID })
}
