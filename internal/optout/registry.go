package optout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// IsOptedOut reports whether id is in the set, loading the file on
// first call. A load failure is logged and treated as an empty set so
// a corrupt or missing file never blocks legitimate users.
func (r *FileRegistry) IsOptedOut(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx)
	_, ok := r.set[id]
	return ok
}

// OptOut adds id to the set and persists it before returning.
// Idempotent. A save failure propagates: losing an opt-out write is a
// compliance violation, so callers must see it.
func (r *FileRegistry) OptOut(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx)
	if _, ok := r.set[id]; ok {
		return nil
	}

	r.set[id] = struct{}{}
	if err := r.save(); err != nil {
		delete(r.set, id)
		return fmt.Errorf("persist opt-out: %w", err)
	}
	return nil
}

// OptIn removes id from the set and persists it. Idempotent.
func (r *FileRegistry) OptIn(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx)
	if _, ok := r.set[id]; !ok {
		return nil
	}

	delete(r.set, id)
	if err := r.save(); err != nil {
		r.set[id] = struct{}{}
		return fmt.Errorf("persist opt-in: %w", err)
	}
	return nil
}

// ensureLoaded reads the file once. Caller holds r.mu.
func (r *FileRegistry) ensureLoaded(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true
	r.set = make(map[string]struct{})

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Error(ctx, "Failed to load opt-out file %s, starting empty: %v", r.path, err)
		}
		return
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		r.logger.Error(ctx, "Failed to parse opt-out file %s, starting empty: %v", r.path, err)
		return
	}

	for _, id := range ids {
		r.set[id] = struct{}{}
	}
	r.logger.Debug(ctx, "Loaded %d opted-out users from %s", len(ids), r.path)
}

// save writes the full set atomically (temp file + rename).
// Caller holds r.mu.
func (r *FileRegistry) save() error {
	ids := make([]string, 0, len(r.set))
	for id := range r.set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal opt-out set: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace opt-out file: %w", err)
	}
	return nil
}

// reload replaces the in-memory set from disk. Used by the file
// watcher when an operator edits the file out-of-band.
func (r *FileRegistry) reload(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loaded = false
	r.ensureLoaded(ctx)
}
