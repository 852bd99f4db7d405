package codec

import (
	"context"
	"fmt"
)

// Options tune a single compression
type Options struct {
	// VolumeSize splits the archive into numbered parts of at most this
	// many bytes. Zero writes a single archive file.
	VolumeSize int64
}

// Codec compresses one container into an archive and restores it
type Codec interface {
	// Name identifies the codec in logs and reports
	Name() string
	// Ext is the archive extension including the leading dot (".7z")
	Ext() string
	// Available reports whether the codec can run on this host
	Available(ctx context.Context) error
	// Compress writes src into archive (or archive.001, .002, ... when split)
	Compress(ctx context.Context, src, archive string, opts Options) error
	// Extract restores the file stored in a single-file archive into outDir
	Extract(ctx context.Context, archive, outDir string) error
	// ExtractSplit restores a split archive given its first part into outDir
	ExtractSplit(ctx context.Context, firstPart, outDir string) error
}

// Error is a failure reported by the codec itself (bad archive, non-zero
// exit from the archiver) as opposed to an environment failure such as a
// missing binary or an unwritable output directory.
type Error struct {
	Op      string
	Archive string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Archive, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
