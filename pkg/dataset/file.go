package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// File is a bounded Store kept in a YAML file readable only by the owner.
// The file uses the seed layout, most recently seen first, so a snapshot
// can also be loaded with LoadSeed.
type File struct {
	path     string
	capacity int
	mu       sync.Mutex
}

// NewFile creates a store backed by path holding at most capacity items.
// The file is created on first write.
func NewFile(path string, capacity int) *File {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &File{path: path, capacity: capacity}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Upsert implements Store.
func (f *File) Upsert(ctx context.Context, items ...pesantren.Pesantren) error {
	if len(items) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.read()
	if err != nil {
		return err
	}
	mem := NewMemory(f.capacity)
	if err := mem.Upsert(ctx, existing...); err != nil {
		return err
	}
	if err := mem.Upsert(ctx, items...); err != nil {
		return err
	}
	all, err := mem.All(ctx)
	if err != nil {
		return err
	}
	return f.write(all)
}

// All implements Store.
func (f *File) All(context.Context) ([]pesantren.Pesantren, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *File) read() ([]pesantren.Pesantren, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading dataset file: %w", err)
	}
	items, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("dataset file %s: %w", f.path, err)
	}
	return items, nil
}

func (f *File) write(items []pesantren.Pesantren) error {
	data, err := yaml.Marshal(SeedFile{Pesantren: items})
	if err != nil {
		return fmt.Errorf("encoding dataset file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating dataset directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing dataset file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing dataset file: %w", err)
	}
	return nil
}

var _ Store = (*File)(nil)
