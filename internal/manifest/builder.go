package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schaermu/vpkpipe/internal/assets"
	"github.com/schaermu/vpkpipe/internal/fingerprint"
	"github.com/spf13/afero"
)

// ErrBuildFailed is returned when any file cannot be included. A partial
// manifest is never valid input for the packer.
var ErrBuildFailed = errors.New("manifest build failed")

// Builder walks an asset tree and writes the control file
type Builder struct {
	fs     afero.Fs
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder creates a new manifest builder
func NewBuilder(fs afero.Fs, logger *slog.Logger) *Builder {
	return &Builder{
		fs:     fs,
		logger: logger,
		now:    time.Now,
	}
}

// Build writes a fresh manifest for root to manifestPath and returns it.
// Categories are processed in the given order and files within a category in
// lexicographic path order. Any existing file at manifestPath is truncated.
func (b *Builder) Build(ctx context.Context, root, manifestPath string, categories []assets.Category) (*Manifest, error) {
	f, err := b.fs.OpenFile(manifestPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrBuildFailed, manifestPath, err)
	}
	defer func() {
		_ = f.Close()
	}()

	m := &Manifest{
		Label:   filepath.Base(manifestPath),
		Created: b.now(),
	}

	w, err := NewWriter(f, m.Label, m.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: write header: %w", ErrBuildFailed, err)
	}

	seen := make(map[string]string)
	for _, category := range categories {
		files, err := assets.Discover(b.fs, root, category)
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s: %w", ErrBuildFailed, category.Name, err)
		}
		if len(files) == 0 {
			b.logger.Debug("skipping empty category", "category", category.Name)
			continue
		}

		b.logger.Info("processing category", "category", category.Name, "files", len(files))

		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
			}

			dest, err := assets.DestPath(root, path)
			if err != nil {
				return nil, fmt.Errorf("%w: relative path for %s: %w", ErrBuildFailed, path, err)
			}
			if prev, dup := seen[dest]; dup {
				return nil, fmt.Errorf("%w: destination %s claimed by both %s and %s", ErrBuildFailed, dest, prev, path)
			}
			seen[dest] = path

			sum, err := fingerprint.File(b.fs, path)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
			}

			entry := Entry{SourcePath: path, DestPath: dest, Fingerprint: sum}
			if err := w.WriteEntry(entry); err != nil {
				return nil, fmt.Errorf("%w: write entry %s: %w", ErrBuildFailed, dest, err)
			}
			m.Entries = append(m.Entries, entry)
		}
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync %s: %w", ErrBuildFailed, manifestPath, err)
	}

	b.logger.Info("manifest written", "path", manifestPath, "entries", len(m.Entries))
	return m, nil
}
