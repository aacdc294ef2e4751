package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tutu-network/pana/internal/domain"
	"github.com/tutu-network/pana/internal/infra/catalog"
	"github.com/tutu-network/pana/internal/infra/sqlite"
)

// Manager implements domain.ModelRegistry.
// Model artifacts live in <dir>/bin; catalog metadata is tracked in SQLite.
type Manager struct {
	dir         string // Root models directory (contains bin/)
	catalogFile string // Optional catalog.toml overlay
	db          *sqlite.DB
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir, catalogFile string, db *sqlite.DB) *Manager {
	return &Manager{dir: dir, catalogFile: catalogFile, db: db}
}

// Init ensures the directory structure exists.
func (m *Manager) Init() error {
	if err := os.MkdirAll(m.TargetDir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", m.TargetDir(), err)
	}
	return nil
}

// Dir returns the models root.
func (m *Manager) Dir() string { return m.dir }

// TargetDir returns where artifacts are downloaded to.
func (m *Manager) TargetDir() string {
	return filepath.Join(m.dir, "bin")
}

// Sync writes the built-in catalog, overlaid with the catalog file,
// into the models table. Returns the number of entries.
func (m *Manager) Sync() (int, error) {
	extra, err := catalog.LoadFile(m.catalogFile)
	if err != nil {
		return 0, err
	}
	entries := catalog.Merge(catalog.Catalog, extra)
	for _, e := range entries {
		if err := m.db.UpsertModel(e.Descriptor()); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", e.Name, err)
		}
	}
	return len(entries), nil
}

// Descriptor resolves name (or a built-in alias) to its catalog entry.
func (m *Manager) Descriptor(name string) (domain.ModelDescriptor, error) {
	info, err := m.lookup(name)
	if err != nil {
		return domain.ModelDescriptor{}, err
	}
	return info.ModelDescriptor, nil
}

// ArtifactPath returns the local weights file for a downloaded model.
func (m *Manager) ArtifactPath(name string) (string, error) {
	info, err := m.lookup(name)
	if err != nil {
		return "", err
	}

	path := filepath.Join(m.TargetDir(), info.FileName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s is not downloaded: %w", info.Name, domain.ErrModelNotFound)
	}

	// Touch to update last-used
	_ = m.db.TouchModel(info.Name)
	return path, nil
}

// MarkPulled records a finished download.
func (m *Manager) MarkPulled(name string, sizeBytes int64) error {
	return m.db.MarkPulled(name, sizeBytes)
}

// List returns all catalog entries with their local state.
func (m *Manager) List() ([]domain.ModelInfo, error) {
	return m.db.ListModels()
}

// Remove deletes a model's artifact and forgets it was pulled.
// The catalog entry stays so the model can be downloaded again.
func (m *Manager) Remove(name string) error {
	info, err := m.lookup(name)
	if err != nil {
		return err
	}

	path := filepath.Join(m.TargetDir(), info.FileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return m.db.ClearPulled(info.Name)
}

// --- Internal helpers ---

func (m *Manager) lookup(name string) (*domain.ModelInfo, error) {
	info, err := m.db.GetModel(name)
	if err != nil {
		return nil, fmt.Errorf("query model %s: %w", name, err)
	}
	if info != nil {
		return info, nil
	}
	if e := catalog.Lookup(name); e != nil && e.Name != name {
		info, err = m.db.GetModel(e.Name)
		if err != nil {
			return nil, fmt.Errorf("query model %s: %w", e.Name, err)
		}
		if info != nil {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, domain.ErrModelNotFound)
}
