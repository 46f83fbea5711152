package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/espresso-controller/internal/control"
)

// YAMLFile keeps settings in a YAML document. Every write rewrites the whole
// file through a temporary file and rename.
type YAMLFile struct {
	fields
	path     string
	defaults control.Configuration

	mu sync.Mutex
}

// OpenYAML returns a store backed by path. The file is created on the first
// write.
func OpenYAML(path string, defaults control.Configuration) (*YAMLFile, error) {
	if path == "" {
		return nil, fmt.Errorf("yaml store: path not configured")
	}
	y := &YAMLFile{path: path, defaults: defaults}
	y.fields = fields{y}
	if _, err := y.read(); err != nil {
		return nil, err
	}
	return y, nil
}

func (y *YAMLFile) read() (map[string]float64, error) {
	data, err := os.ReadFile(y.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", y.path, err)
	}
	v := map[string]float64{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", y.path, err)
	}
	return v, nil
}

// LoadConfiguration reads the file, using defaults for missing keys.
func (y *YAMLFile) LoadConfiguration(ctx context.Context) (control.Configuration, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	v, err := y.read()
	if err != nil {
		return control.Configuration{}, err
	}
	return configuration(v, y.defaults), nil
}

func (y *YAMLFile) set(ctx context.Context, key string, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	y.mu.Lock()
	defer y.mu.Unlock()

	v, err := y.read()
	if err != nil {
		return err
	}
	v[key] = value

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(y.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storing %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), y.path); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the file is not held open.
func (y *YAMLFile) Close() error { return nil }
