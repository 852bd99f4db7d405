package codec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schaermu/vpkpipe/internal/fsutil"
	"github.com/spf13/afero"
)

// FirstPartSuffix marks the first volume of a split archive
const FirstPartSuffix = ".001"

// ArchivePath returns the single-file archive path for a container
func ArchivePath(dir, container, ext string) string {
	return filepath.Join(dir, container+ext)
}

// PartName returns the path of volume n (1-based) of archive
func PartName(archive string, n int) string {
	return fmt.Sprintf("%s.%03d", archive, n)
}

// PartNumber parses the numeric volume suffix of name relative to archive.
// It returns false if name is not a volume of archive.
func PartNumber(archive, name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, archive+".")
	if !ok || len(suffix) < 3 {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Parts returns the consecutive volumes of archive starting at .001
func Parts(fs afero.Fs, archive string) ([]string, error) {
	var parts []string
	for n := 1; ; n++ {
		part := PartName(archive, n)
		ok, err := fsutil.Exists(fs, part)
		if err != nil {
			return nil, err
		}
		if !ok {
			return parts, nil
		}
		parts = append(parts, part)
	}
}

// Exists reports whether archive is present either as a single file or as
// a split set
func Exists(fs afero.Fs, archive string) (bool, error) {
	ok, err := fsutil.Exists(fs, archive)
	if err != nil || ok {
		return ok, err
	}
	return fsutil.Exists(fs, PartName(archive, 1))
}

// Size returns the total bytes of archive across all of its files
func Size(fs afero.Fs, archive string) (int64, error) {
	files, err := outputs(fs, archive)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		info, err := fs.Stat(f)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Remove deletes the single-file archive and every volume belonging to it
func Remove(fs afero.Fs, archive string) error {
	files, err := outputs(fs, archive)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := fs.Remove(f); err != nil {
			return fmt.Errorf("failed to remove %s: %w", f, err)
		}
	}
	return nil
}

// outputs lists the existing files that make up archive, including
// non-consecutive volumes left behind by an earlier run
func outputs(fs afero.Fs, archive string) ([]string, error) {
	var files []string
	if ok, err := fsutil.Exists(fs, archive); err != nil {
		return nil, err
	} else if ok {
		files = append(files, archive)
	}

	entries, err := afero.ReadDir(fs, filepath.Dir(archive))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return files, nil
		}
		return nil, err
	}
	base := filepath.Base(archive)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := PartNumber(base, entry.Name()); ok {
			files = append(files, filepath.Join(filepath.Dir(archive), entry.Name()))
		}
	}
	return files, nil
}
