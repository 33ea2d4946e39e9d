package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/aiserve/modelrouter/internal/descriptor"
	"github.com/aiserve/modelrouter/internal/routererr"
)

const journalVersion = 1

// journalModel is the on-disk representation of one entry: descriptor plus
// a point-in-time metrics summary. Live handles are never serialized.
type journalModel struct {
	Descriptor   descriptor.Descriptor `json:"descriptor"`
	Status       Status                `json:"status"`
	RegisteredAt time.Time             `json:"registered_at"`
	Metrics      Metrics               `json:"metrics"`
}

type journalDocument struct {
	Version int            `json:"version"`
	Models  []journalModel `json:"models"`
}

// Journal persists a Registry's entries to a single JSON file using a
// write-temp-then-rename sequence for crash safety, guarded by an
// inter-process file lock (github.com/gofrs/flock).
type Journal struct {
	path string
	lock *flock.Flock
}

// NewJournal returns a Journal backed by path. The directory must exist.
func NewJournal(path string) *Journal {
	return &Journal{path: path, lock: flock.New(path + ".lock")}
}

// persistLocked serializes the current entry set to disk. Must be called
// while r.mu is held (write lock), since it reads r.entries directly.
func (r *Registry) persistLocked() error {
	if r.journal == nil {
		return nil
	}

	doc := journalDocument{Version: journalVersion, Models: make([]journalModel, 0, len(r.entries))}
	for _, e := range r.entries {
		doc.Models = append(doc.Models, journalModel{
			Descriptor:   e.Descriptor,
			Status:       e.Status,
			RegisteredAt: e.RegisteredAt,
			Metrics:      e.Metrics.Snapshot(),
		})
	}

	return r.journal.write(doc)
}

func (j *Journal) write(doc journalDocument) error {
	if err := j.lock.Lock(); err != nil {
		return fmt.Errorf("registry journal: acquire lock: %w", err)
	}
	defer j.lock.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry journal: marshal: %w", err)
	}

	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, ".journal-*.tmp")
	if err != nil {
		return fmt.Errorf("registry journal: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("registry journal: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("registry journal: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry journal: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry journal: rename temp file: %w", err)
	}
	return nil
}

// Load populates a freshly constructed Registry from its journal file. A
// missing file is not an error (fresh start, empty registry). A corrupt
// file is quarantined by renaming it to a .bad-<timestamp> sibling so the
// registry still starts empty rather than refusing to boot.
func (r *Registry) Load(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}

	doc, err := r.journal.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return routererr.Wrap(routererr.KindInternal, "failed to load registry journal", err)
	}
	if doc == nil {
		return nil // corrupt file was quarantined; start empty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, jm := range doc.Models {
		m := jm.Metrics
		entry := &Entry{
			Descriptor:   jm.Descriptor,
			Status:       demoteLoaded(jm.Status),
			RegisteredAt: jm.RegisteredAt,
			Metrics:      &m,
		}
		r.entries[jm.Descriptor.ID] = entry
		r.indexLocked(jm.Descriptor)
	}
	return nil
}

// demoteLoaded maps a persisted "loaded" status back to "registered" on
// reload, since no live handle survives a process restart.
func demoteLoaded(s Status) Status {
	if s == StatusLoaded || s == StatusUnloading {
		return StatusRegistered
	}
	return s
}

func (j *Journal) read() (*journalDocument, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	var doc journalDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		quarantinePath := fmt.Sprintf("%s.bad-%d", j.path, time.Now().UnixNano())
		if renameErr := os.Rename(j.path, quarantinePath); renameErr != nil {
			return nil, fmt.Errorf("registry journal: quarantine corrupt file: %w (original parse error: %v)", renameErr, err)
		}
		return nil, nil
	}
	return &doc, nil
}
