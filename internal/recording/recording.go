// Package recording finds raw electrode recordings and selects which of them a
// batch processes.
package recording

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"spikeflow/internal/services"
)

// Ref identifies one raw recording file.
type Ref struct {
	// Path is absolute.
	Path string
	// RelPath is Path relative to the input root, or the base name when the
	// file lives outside it.
	RelPath string
	// DisplayName is the file's base name, used for plot titles and logs.
	DisplayName string
	StreamID    string
}

// NewRef builds a reference for path discovered under root.
func NewRef(root, path, streamID string) (Ref, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Ref{}, fmt.Errorf("resolve recording path %q: %w", path, err)
	}
	rel := filepath.Base(abs)
	if strings.TrimSpace(root) != "" {
		if absRoot, err := filepath.Abs(root); err == nil {
			if r, err := filepath.Rel(absRoot, abs); err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) {
				rel = r
			}
		}
	}
	return Ref{Path: abs, RelPath: rel, DisplayName: filepath.Base(abs), StreamID: streamID}, nil
}

// Discover walks root and returns every regular file whose name ends in
// suffix, sorted lexicographically. Directories whose names match are ignored.
func Discover(root, suffix, streamID string) ([]Ref, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "discover", "stat input",
				fmt.Sprintf("input directory %q does not exist", root), err)
		}
		return nil, services.Wrap(services.ErrConfiguration, "discover", "stat input", "cannot read input directory", err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "discover", "stat input",
			fmt.Sprintf("input path %q is not a directory", root), nil)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), suffix) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "discover", "walk input", "scan input directory", err)
	}
	sort.Strings(paths)

	refs := make([]Ref, 0, len(paths))
	for _, path := range paths {
		ref, err := NewRef(root, path, streamID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Selection controls which discovered recordings a batch processes.
type Selection struct {
	DisableBatch bool
	// File is processed alone when DisableBatch is set, regardless of discovery.
	File string
}

// Select applies the single-item override. With batch mode enabled every
// discovered recording is returned. With batch mode disabled, an explicit file
// is returned alone, otherwise only the first discovered recording.
func Select(root string, discovered []Ref, sel Selection, streamID string) ([]Ref, error) {
	if !sel.DisableBatch {
		return discovered, nil
	}
	if file := strings.TrimSpace(sel.File); file != "" {
		info, err := os.Stat(file)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "discover", "select",
				fmt.Sprintf("recording file %q not found", file), err)
		}
		if info.IsDir() {
			return nil, services.Wrap(services.ErrValidation, "discover", "select",
				fmt.Sprintf("recording file %q is a directory", file), nil)
		}
		ref, err := NewRef(root, file, streamID)
		if err != nil {
			return nil, err
		}
		return []Ref{ref}, nil
	}
	if len(discovered) == 0 {
		return nil, nil
	}
	return discovered[:1], nil
}
