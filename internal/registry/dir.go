package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"deployd/internal/common/fsutil"
)

// Dir is a model registry laid out on disk as <root>/<model>/<version>/.
// The run reference of a version is its absolute directory, so a model URI
// template of "{run}" points the serving runtime straight at it.
type Dir struct {
	root string
}

// NewDir resolves root ('~' expanded, made absolute) and checks it exists.
func NewDir(root string) (*Dir, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.IsDir(abs) {
		return nil, fmt.Errorf("model dir %s: not a directory", abs)
	}
	return &Dir{root: abs}, nil
}

// Root is the absolute registry directory.
func (d *Dir) Root() string { return d.root }

func subdirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name()[0] != '.' {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (d *Dir) ListModels(_ context.Context) ([]string, error) {
	names, err := subdirs(d.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir: %v", ErrUnavailable, err)
	}
	sort.Strings(names)
	return names, nil
}

// ListVersions orders numeric versions numerically, then the rest lexically.
func (d *Dir) ListVersions(_ context.Context, name string) ([]string, error) {
	if !validSegment(name) {
		return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	vs, err := subdirs(filepath.Join(d.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: read dir: %v", ErrUnavailable, err)
	}
	sort.Slice(vs, func(i, j int) bool {
		a, aerr := strconv.Atoi(vs[i])
		b, berr := strconv.Atoi(vs[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		}
		return vs[i] < vs[j]
	})
	return vs, nil
}

func (d *Dir) Resolve(_ context.Context, name, version string) (ModelVersion, error) {
	if !validSegment(name) || !validSegment(version) {
		return ModelVersion{}, fmt.Errorf("model %q version %q: %w", name, version, ErrNotFound)
	}
	p := filepath.Join(d.root, name, version)
	if !fsutil.IsDir(p) {
		return ModelVersion{}, fmt.Errorf("model %q version %q: %w", name, version, ErrNotFound)
	}
	return ModelVersion{Name: name, Version: version, RunReference: p}, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && filepath.Base(s) == s
}
