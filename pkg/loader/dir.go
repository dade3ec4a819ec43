// Package loader resolves template names against the filesystem and
// watches template directories for changes.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/neurodesk/viewc/pkg/tpl"
)

// DefaultExt is appended to names that have no extension.
const DefaultExt = ".tpl"

// Dir loads templates from a directory tree. Names are slash separated and
// relative to Root; names escaping Root are rejected.
type Dir struct {
	Root string
	Ext  string
}

func NewDir(root string) *Dir {
	return &Dir{Root: root, Ext: DefaultExt}
}

// Path returns the file a template name resolves to.
func (d *Dir) Path(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty template name")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("template name %q must be relative", name)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("template name %q escapes the template root", name)
	}
	if filepath.Ext(clean) == "" && d.Ext != "" {
		clean += d.Ext
	}
	return filepath.Join(d.Root, clean), nil
}

func (d *Dir) Load(name string) (string, error) {
	path, err := d.Path(name)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", tpl.ErrTemplateNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}
	return string(b), nil
}

// List returns the names of every template under Root, sorted. Names carry
// no extension when it equals Ext.
func (d *Dir) List() ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.Root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		if d.Ext != "" && filepath.Ext(path) != d.Ext {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(strings.TrimSuffix(rel, d.Ext)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}
