package compress

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schaermu/vpkpipe/internal/changegate"
	"github.com/schaermu/vpkpipe/internal/codec"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent maximum-ratio compressions
const DefaultWorkers = 4

// Options configures a Scheduler
type Options struct {
	Workers      int
	ContainerExt string // e.g. ".vpk"
	VolumeSize   int64  // split archives into volumes of this size, 0 = single file
}

// Scheduler compresses every changed container in a directory
type Scheduler struct {
	fs     afero.Fs
	codec  codec.Codec
	gate   *changegate.Gate
	opts   Options
	logger *slog.Logger
}

// NewScheduler creates a new compression scheduler
func NewScheduler(fs afero.Fs, c codec.Codec, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.ContainerExt == "" {
		opts.ContainerExt = ".vpk"
	}
	return &Scheduler{
		fs:     fs,
		codec:  c,
		gate:   changegate.New(fs),
		opts:   opts,
		logger: logger,
	}
}

// Run processes all containers in containerDir, writing archives and hash
// sidecars to archiveDir. A failing container is recorded in the report and
// does not stop the others; the returned error covers batch-level problems
// and cancellation only.
func (s *Scheduler) Run(ctx context.Context, containerDir, archiveDir string) (*Report, error) {
	containers, err := s.discover(containerDir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover containers: %w", err)
	}

	if err := s.fs.MkdirAll(archiveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	s.logger.Info("found containers",
		"count", len(containers),
		"source", containerDir,
		"dest", archiveDir,
		"codec", s.codec.Name(),
		"workers", s.opts.Workers)

	// Every task owns exactly one slot, its sidecar and its archive
	results := make([]Result, len(containers))

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)
	for i, name := range containers {
		g.Go(func() error {
			results[i] = s.process(ctx, containerDir, archiveDir, name)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Results: results}
	s.logger.Info("compression finished",
		"compressed", report.Count(OutcomeCompressed),
		"skipped", report.Count(OutcomeSkipped),
		"failed", report.Count(OutcomeFailed))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// discover lists container files (non-recursive) in name order
func (s *Scheduler) discover(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), s.opts.ContainerExt) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Scheduler) process(ctx context.Context, containerDir, archiveDir, name string) Result {
	src := filepath.Join(containerDir, name)
	archive := codec.ArchivePath(archiveDir, name, s.codec.Ext())
	sidecar := filepath.Join(archiveDir, changegate.SidecarName(name))
	res := Result{Container: name, Archive: archive}
	logger := s.logger.With("container", name, "archive", archive)

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeCanceled
		res.Err = err
		return res
	}

	present, err := codec.Exists(s.fs, archive)
	if err != nil {
		return s.fail(logger, res, fmt.Errorf("failed to stat archive: %w", err))
	}

	decision, err := s.gate.Check(src, sidecar, present)
	if err != nil {
		return s.fail(logger, res, err)
	}
	res.Reason = decision.Reason

	if !decision.Rebuild {
		logger.Debug("container unchanged, skipping")
		res.Outcome = OutcomeSkipped
		res.Size, _ = codec.Size(s.fs, archive)
		return res
	}

	logger.Info("compressing container", "reason", decision.Reason)

	if err := codec.Remove(s.fs, archive); err != nil {
		return s.fail(logger, res, fmt.Errorf("failed to delete stale archive: %w", err))
	}

	if err := s.codec.Compress(ctx, src, archive, codec.Options{VolumeSize: s.opts.VolumeSize}); err != nil {
		// Leave no partial output; the next run sees the archive missing
		_ = codec.Remove(s.fs, archive)
		return s.fail(logger, res, err)
	}

	if err := s.gate.Commit(sidecar, decision.Fingerprint); err != nil {
		return s.fail(logger, res, err)
	}

	res.Outcome = OutcomeCompressed
	res.Size, _ = codec.Size(s.fs, archive)
	logger.Info("container compressed", "bytes", res.Size)
	return res
}

func (s *Scheduler) fail(logger *slog.Logger, res Result, err error) Result {
	logger.Error("container failed", "error", err)
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}
