package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

// MemoryRepository is an in-process manifest catalog. It is lost when the
// process exits; use the SQLite store to keep ids across runs.
type MemoryRepository struct {
	mu        sync.RWMutex
	manifests map[string]*engine.BackupManifest
	order     []string
}

// NewMemoryRepository creates an empty catalog.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{manifests: make(map[string]*engine.BackupManifest)}
}

// Save stores a new manifest.
func (r *MemoryRepository) Save(_ context.Context, m *engine.BackupManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.manifests[m.ID]; ok {
		return fmt.Errorf("backup %s already exists", m.ID)
	}
	r.manifests[m.ID] = m
	r.order = append(r.order, m.ID)
	return nil
}

// Get returns the manifest with the given id.
func (r *MemoryRepository) Get(_ context.Context, id string) (*engine.BackupManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownBackup, id)
	}
	return m, nil
}

// Latest returns the most recently created manifest.
func (r *MemoryRepository) Latest(ctx context.Context) (*engine.BackupManifest, error) {
	list, _ := r.List(ctx)
	if len(list) == 0 {
		return nil, engine.ErrNoBackups
	}
	return list[0], nil
}

// List returns all manifests, newest first. Manifests created at the same
// instant are ordered by insertion, later first.
func (r *MemoryRepository) List(_ context.Context) ([]*engine.BackupManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*engine.BackupManifest, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.manifests[r.order[i]])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a manifest from the catalog.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.manifests[id]; !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownBackup, id)
	}
	delete(r.manifests, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
