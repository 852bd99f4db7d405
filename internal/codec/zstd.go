package codec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

// Zstd implements Codec natively with a zstd stream per container. The
// stored file name is the archive name without its extension, and split
// archives are the stream cut into numbered volumes.
type Zstd struct {
	fs    afero.Fs
	level zstd.EncoderLevel
}

// NewZstd creates a zstd codec on fs. level uses the zstd numeric scale
// (1-22) and is mapped to the closest encoder preset.
func NewZstd(fs afero.Fs, level int) *Zstd {
	return &Zstd{fs: fs, level: zstd.EncoderLevelFromZstd(level)}
}

// Name returns the codec name
func (z *Zstd) Name() string { return "zstd" }

// Ext returns the archive extension
func (z *Zstd) Ext() string { return ".zst" }

// Available always succeeds; the codec has no external requirements
func (z *Zstd) Available(_ context.Context) error { return nil }

// Compress streams src through the encoder into archive or its volumes
func (z *Zstd) Compress(ctx context.Context, src, archive string, opts Options) (err error) {
	in, err := z.fs.Open(src)
	if err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	defer func() {
		_ = in.Close()
	}()

	var out io.WriteCloser
	if opts.VolumeSize > 0 {
		out = &volumeWriter{fs: z.fs, archive: archive, size: opts.VolumeSize}
	} else {
		f, err := z.fs.Create(archive)
		if err != nil {
			return fmt.Errorf("compress %s: %w", archive, err)
		}
		out = f
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("compress %s: %w", archive, cerr)
		}
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return &Error{Op: "compress", Archive: archive, Err: err}
	}
	if _, err := io.Copy(enc, ctxReader{ctx: ctx, r: in}); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compress %s: %w", archive, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", archive, err)
	}
	return nil
}

// Extract decodes a single-file archive into outDir
func (z *Zstd) Extract(ctx context.Context, archive, outDir string) error {
	f, err := z.fs.Open(archive)
	if err != nil {
		return &Error{Op: "extract", Archive: archive, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	name := strings.TrimSuffix(filepath.Base(archive), z.Ext())
	return z.decode(ctx, "extract", archive, f, filepath.Join(outDir, name))
}

// ExtractSplit concatenates every volume starting at firstPart and decodes
// the result into outDir
func (z *Zstd) ExtractSplit(ctx context.Context, firstPart, outDir string) error {
	archive, ok := strings.CutSuffix(firstPart, FirstPartSuffix)
	if !ok {
		return &Error{Op: "extract split", Archive: firstPart, Err: fmt.Errorf("not a first volume")}
	}

	parts, err := Parts(z.fs, archive)
	if err != nil {
		return fmt.Errorf("extract split %s: %w", firstPart, err)
	}
	if len(parts) == 0 {
		return &Error{Op: "extract split", Archive: firstPart, Err: os.ErrNotExist}
	}

	readers := make([]io.Reader, 0, len(parts))
	for _, part := range parts {
		f, err := z.fs.Open(part)
		if err != nil {
			return &Error{Op: "extract split", Archive: part, Err: err}
		}
		defer func() {
			_ = f.Close()
		}()
		readers = append(readers, f)
	}

	name := strings.TrimSuffix(filepath.Base(archive), z.Ext())
	return z.decode(ctx, "extract split", firstPart, io.MultiReader(readers...), filepath.Join(outDir, name))
}

// decode writes the decompressed stream to a temp file and renames it to
// target so an aborted extraction never leaves a partial container behind
func (z *Zstd) decode(ctx context.Context, op, archive string, r io.Reader, target string) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return &Error{Op: op, Archive: archive, Err: err}
	}
	defer dec.Close()

	if err := z.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%s %s: %w", op, archive, err)
	}
	tmp, err := afero.TempFile(z.fs, filepath.Dir(target), ".vpkpipe-tmp-*")
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, archive, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = z.fs.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: dec}); err != nil {
		_ = tmp.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Op: op, Archive: archive, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s %s: %w", op, archive, err)
	}
	if err := z.fs.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("%s %s: %w", op, archive, err)
	}
	return nil
}

// volumeWriter spreads writes over archive.001, archive.002, ... each at
// most size bytes. Volumes are created lazily.
type volumeWriter struct {
	fs      afero.Fs
	archive string
	size    int64

	n       int
	current afero.File
	written int64
}

func (v *volumeWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if v.current == nil || v.written == v.size {
			if err := v.next(); err != nil {
				return total, err
			}
		}
		chunk := p
		if room := v.size - v.written; int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		n, err := v.current.Write(chunk)
		total += n
		v.written += int64(n)
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

func (v *volumeWriter) next() error {
	if v.current != nil {
		if err := v.current.Close(); err != nil {
			return err
		}
	}
	v.n++
	f, err := v.fs.Create(PartName(v.archive, v.n))
	if err != nil {
		return err
	}
	v.current = f
	v.written = 0
	return nil
}

func (v *volumeWriter) Close() error {
	if v.current == nil {
		// Empty stream still needs a first volume
		if err := v.next(); err != nil {
			return err
		}
	}
	return v.current.Close()
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var (
	_ Codec = (*Zstd)(nil)
	_ Codec = (*SevenZip)(nil)
)
