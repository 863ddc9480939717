package dataset

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// SeedFile is the on-disk layout of a seed file.
type SeedFile struct {
	Pesantren []pesantren.Pesantren `yaml:"pesantren"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) ([]pesantren.Pesantren, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML. Entries without an id are rejected.
func ParseSeed(data []byte) ([]pesantren.Pesantren, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	for i, p := range seed.Pesantren {
		if p.ID == "" {
			return nil, fmt.Errorf("seed entry %d: id is required", i)
		}
	}
	return seed.Pesantren, nil
}

// Seed loads path into store.
func Seed(ctx context.Context, store Store, path string) (int, error) {
	items, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	if err := store.Upsert(ctx, items...); err != nil {
		return 0, fmt.Errorf("seeding dataset: %w", err)
	}
	return len(items), nil
}
