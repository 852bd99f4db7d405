package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Category is a top-level asset folder and the file extensions packed from it
type Category struct {
	Name       string   `yaml:"name"`
	Extensions []string `yaml:"extensions"`
}

// DefaultCategories returns the standard category table in processing order
func DefaultCategories() []Category {
	return []Category{
		{Name: "materials", Extensions: []string{".vmt", ".vtf"}},
		{Name: "models", Extensions: []string{".mdl", ".phy", ".ani", ".vtx", ".vvd"}},
		{Name: "sound", Extensions: []string{".wav", ".mp3", ".txt"}},
		{Name: "particles", Extensions: []string{".pcf", ".txt"}},
		{Name: "scripts", Extensions: []string{".res", ".txt"}},
		{Name: "resource", Extensions: []string{".res", ".txt", ".png"}},
		{Name: "classes", Extensions: []string{".res"}},
		{Name: "shaders", Extensions: []string{".vcs"}},
	}
}

// Matches returns true if path has one of the category's extensions.
// Comparison is case-insensitive.
func (c Category) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, valid := range c.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}

// Validate checks a category table for empty names, bad extensions and
// duplicate names
func Validate(categories []Category) error {
	if len(categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}

	seen := make(map[string]bool, len(categories))
	for i, c := range categories {
		if c.Name == "" {
			return fmt.Errorf("category %d: name is required", i)
		}
		if strings.ContainsAny(c.Name, `/\`) {
			return fmt.Errorf("category %q: name must be a single folder name", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("category %q declared more than once", c.Name)
		}
		seen[c.Name] = true

		if len(c.Extensions) == 0 {
			return fmt.Errorf("category %q: at least one extension is required", c.Name)
		}
		for _, ext := range c.Extensions {
			if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
				return fmt.Errorf("category %q: invalid extension %q (must start with a dot)", c.Name, ext)
			}
		}
	}
	return nil
}

// Discover finds all files under root/<category> matching the category's
// extensions, ordered by path component (see lessByComponent). A missing category
// directory yields no files and no error.
func Discover(fsys afero.Fs, root string, c Category) ([]string, error) {
	dir := filepath.Join(root, c.Name)

	info, err := fsys.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []string
	err = afero.Walk(fsys, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if info.IsDir() {
			return nil
		}

		if c.Matches(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return lessByComponent(files[i], files[j])
	})
	return files, nil
}

// lessByComponent compares paths one element at a time, so a directory's
// contents sort before a sibling that merely shares its name as a prefix
// ("a/x.vmt" < "a-b.vmt"). A path sorts before any path it is a prefix of.
func lessByComponent(a, b string) bool {
	pa := strings.Split(filepath.ToSlash(a), "/")
	pb := strings.Split(filepath.ToSlash(b), "/")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return len(pa) < len(pb)
}

// DestPath returns the path of file relative to root using forward slashes
func DestPath(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
