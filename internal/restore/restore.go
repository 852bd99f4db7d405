package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/schaermu/vpkpipe/internal/codec"
	"github.com/schaermu/vpkpipe/internal/fsutil"
	"github.com/spf13/afero"
)

// Status is the outcome for one archive
type Status string

const (
	StatusRestored Status = "restored"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
	StatusMissing  Status = "missing" // extraction ran but the container is absent
)

// Archive is one logical archive found in the directory
type Archive struct {
	Part
	Base   string // archive file name without volume suffix, e.g. pak01_000.vpk.7z
	Split  bool   // a .001 volume is present
	Single bool   // a plain single-file archive is present
}

// Result records what happened to one archive
type Result struct {
	Archive   Archive
	Container string // path of the container that should exist afterwards
	Status    Status
	FellBack  bool // split extraction failed and the single archive was used
	Err       error
}

// Report lists results in processing order
type Report struct {
	Results []Result
	Empty   bool // no archives were found
}

// Count returns the number of results with status st
func (r *Report) Count(st Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == st {
			n++
		}
	}
	return n
}

// Resolver restores containers sequentially
type Resolver struct {
	fs       afero.Fs
	codec    codec.Codec
	indexTag string
	logger   *slog.Logger
}

// NewResolver creates a new resolver. An empty indexTag uses DefaultIndexTag.
func NewResolver(fs afero.Fs, c codec.Codec, indexTag string, logger *slog.Logger) *Resolver {
	if indexTag == "" {
		indexTag = DefaultIndexTag
	}
	return &Resolver{fs: fs, codec: c, indexTag: indexTag, logger: logger}
}

// Discover finds the archives in dir in processing order. A split set wins
// over a same-named single archive so each container appears once.
func (r *Resolver) Discover(dir string) ([]Archive, error) {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, err
	}

	ext := r.codec.Ext()
	index := make(map[string]int)
	var archives []Archive

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var base string
		split := false
		switch {
		case strings.HasSuffix(name, ext+codec.FirstPartSuffix):
			base = strings.TrimSuffix(name, codec.FirstPartSuffix)
			split = true
		case strings.HasSuffix(name, ext):
			base = name
		default:
			continue
		}

		container := strings.TrimSuffix(base, ext)
		if container == "" {
			continue
		}

		i, seen := index[base]
		if !seen {
			i = len(archives)
			index[base] = i
			archives = append(archives, Archive{
				Part: Classify(container, r.indexTag),
				Base: base,
			})
		}
		if split {
			archives[i].Split = true
		} else {
			archives[i].Single = true
		}
	}

	parts := make([]Part, len(archives))
	byName := make(map[string]Archive, len(archives))
	for i, a := range archives {
		parts[i] = a.Part
		byName[a.Name] = a
	}
	Order(parts)

	ordered := make([]Archive, len(parts))
	for i, p := range parts {
		ordered[i] = byName[p.Name]
	}
	return ordered, nil
}

// Restore extracts every archive in dir whose container is not already
// present. Failures and missing outputs are recorded and processing moves on
// to the next archive; only an unreadable dir or cancellation returns an
// error.
func (r *Resolver) Restore(ctx context.Context, dir string) (*Report, error) {
	archives, err := r.Discover(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	report := &Report{}
	if len(archives) == 0 {
		r.logger.Warn("no archives found", "dir", dir, "ext", r.codec.Ext())
		report.Empty = true
		return report, nil
	}

	for _, a := range archives {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, r.restoreOne(ctx, dir, a))
	}

	r.logger.Info("decompression finished",
		"restored", report.Count(StatusRestored),
		"skipped", report.Count(StatusSkipped),
		"failed", report.Count(StatusFailed),
		"missing", report.Count(StatusMissing))
	return report, nil
}

func (r *Resolver) restoreOne(ctx context.Context, dir string, a Archive) Result {
	target := filepath.Join(dir, a.Name)
	res := Result{Archive: a, Container: target}
	logger := r.logger.With("archive", a.Base, "container", a.Name, "split", a.Split)

	exists, err := fsutil.Exists(r.fs, target)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		logger.Error("failed to check container", "error", err)
		return res
	}
	if exists {
		logger.Info("container already exists, skipping")
		res.Status = StatusSkipped
		return res
	}

	logger.Info("decompressing", "kind", a.Kind.String())

	if a.Split {
		err = r.codec.ExtractSplit(ctx, filepath.Join(dir, a.Base+codec.FirstPartSuffix), dir)
		var codecErr *codec.Error
		if err != nil && a.Single && errors.As(err, &codecErr) {
			logger.Warn("split extraction failed, falling back to single archive", "error", err)
			res.FellBack = true
			err = r.codec.Extract(ctx, filepath.Join(dir, a.Base), dir)
		}
	} else {
		err = r.codec.Extract(ctx, filepath.Join(dir, a.Base), dir)
	}
	if err != nil {
		logger.Error("failed to decompress archive", "error", err)
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	exists, err = fsutil.Exists(r.fs, target)
	if err != nil || !exists {
		logger.Warn("container not found after decompression", "path", target)
		res.Status = StatusMissing
		res.Err = fmt.Errorf("%s not found after extracting %s", a.Name, a.Base)
		return res
	}

	res.Status = StatusRestored
	return res
}
