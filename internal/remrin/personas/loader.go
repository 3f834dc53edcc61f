package personas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bdobrica/Remrin/common/spec/persona"
)

// LoadFile parses and validates one persona document.
func LoadFile(path string) (*persona.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("personas: read %s: %w", path, err)
	}
	cfg, err := persona.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("personas: %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// LoadDir imports every *.yaml and *.yml document in dir, in name order.
// Every file is validated before anything is written.
func (r *Repository) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("personas: read dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	cfgs := make([]*persona.Config, 0, len(paths))
	for _, p := range paths {
		cfg, err := LoadFile(p)
		if err != nil {
			return 0, err
		}
		cfgs = append(cfgs, cfg)
	}
	for _, cfg := range cfgs {
		seeded, err := r.Import(ctx, cfg)
		if err != nil {
			return 0, err
		}
		r.logger.Info("persona loaded", "persona", cfg.ID, "seeded_locket", seeded)
	}
	return len(cfgs), nil
}
