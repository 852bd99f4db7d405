package packer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/schaermu/vpkpipe/internal/assets"
	"github.com/schaermu/vpkpipe/internal/compress"
	"github.com/schaermu/vpkpipe/internal/fsutil"
	"github.com/schaermu/vpkpipe/internal/manifest"
	"github.com/spf13/afero"
)

// ErrInputMissing is returned when the asset root does not exist
var ErrInputMissing = errors.New("input directory not found")

// Compressor compresses the containers of one directory into another
type Compressor interface {
	Run(ctx context.Context, containerDir, archiveDir string) (*compress.Report, error)
}

// Options configures a pack pipeline run
type Options struct {
	WorkDir      string
	Input        string
	ChunkSize    int
	ContainerExt string
	Categories   []assets.Category

	// MoveDir receives the containers and the manifest backup after packing.
	// Empty disables staging and moving.
	MoveDir   string
	BackupDir string

	// Key files are used only when both exist
	PrivateKey string
	PublicKey  string

	// CompressDest receives archives when a Compressor is configured
	CompressDest string
}

// Result summarizes a pipeline run
type Result struct {
	Manifest *manifest.Manifest
	Signed   bool
	Staged   []string
	Rotation manifest.Rotation
	Moved    []string
	Compress *compress.Report
}

// Pipeline builds the manifest, runs the packer and handles the files around it
type Pipeline struct {
	fs         afero.Fs
	packager   Packager
	compressor Compressor
	builder    *manifest.Builder
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline creates a pack pipeline. compressor may be nil to skip
// chained compression.
func NewPipeline(fs afero.Fs, packager Packager, compressor Compressor, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		fs:         fs,
		packager:   packager,
		compressor: compressor,
		builder:    manifest.NewBuilder(fs, logger),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// absolute returns a copy of o with every directory and key path made
// absolute. Empty paths stay empty.
func (o Options) absolute() (Options, error) {
	for _, path := range []*string{&o.WorkDir, &o.MoveDir, &o.BackupDir, &o.PrivateKey, &o.PublicKey, &o.CompressDest} {
		if *path == "" {
			continue
		}
		abs, err := filepath.Abs(*path)
		if err != nil {
			return o, fmt.Errorf("failed to resolve %s: %w", *path, err)
		}
		*path = abs
	}
	return o, nil
}

func (p *Pipeline) inputDir() string {
	return filepath.Join(p.opts.WorkDir, p.opts.Input)
}

func (p *Pipeline) manifestPath() string {
	return filepath.Join(p.opts.WorkDir, p.opts.Input+".kv.txt")
}

// Run executes one pack: preconditions, staging, rotation of a stale
// manifest, build, pack, rotation of the consumed manifest, moving outputs
// and optional compression. Nothing is touched when a precondition fails.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	// The packer runs inside the work dir, so every path handed to it and
	// every source key in the manifest must not depend on the caller's cwd
	opts, err := p.opts.absolute()
	if err != nil {
		return nil, err
	}
	p.opts = opts

	res := &Result{}
	manifestPath := p.manifestPath()

	// Preconditions
	if err := p.packager.Available(ctx); err != nil {
		return nil, err
	}
	if ok, err := fsutil.Exists(p.fs, p.inputDir()); err != nil {
		return nil, fmt.Errorf("failed to stat input directory: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, p.inputDir())
	}

	// Bring back what the previous run moved away
	if p.opts.MoveDir != "" {
		staged, err := p.stage()
		if err != nil {
			return nil, fmt.Errorf("failed to stage from %s: %w", p.opts.MoveDir, err)
		}
		res.Staged = staged
	}

	// A manifest left behind by an interrupted run is retired first
	if ok, err := fsutil.Exists(p.fs, manifestPath); err != nil {
		return nil, err
	} else if ok {
		p.logger.Warn("found stale manifest, rotating", "path", manifestPath)
		if _, err := manifest.Rotate(p.fs, manifestPath, p.opts.BackupDir, p.now()); err != nil {
			return nil, fmt.Errorf("failed to rotate stale manifest: %w", err)
		}
	}

	m, err := p.builder.Build(ctx, p.inputDir(), manifestPath, p.opts.Categories)
	if err != nil {
		return nil, err
	}
	res.Manifest = m
	p.logger.Info("manifest built", "path", manifestPath, "entries", len(m.Entries))

	req, err := p.request(manifestPath)
	if err != nil {
		return nil, err
	}
	res.Signed = req.Signed()

	p.logger.Info("running packer", "manifest", manifestPath, "chunk_size", req.ChunkSize, "signed", req.Signed())
	if err := p.packager.Pack(ctx, req); err != nil {
		return nil, err
	}

	rot, err := manifest.Rotate(p.fs, manifestPath, p.opts.BackupDir, p.now())
	if err != nil {
		return nil, fmt.Errorf("failed to rotate manifest: %w", err)
	}
	res.Rotation = rot
	if rot.Archived != "" {
		p.logger.Info("archived previous manifest", "path", rot.Archived)
	}

	containerDir := p.opts.WorkDir
	if p.opts.MoveDir != "" {
		moved, err := p.moveOutputs()
		if err != nil {
			return nil, fmt.Errorf("failed to move outputs to %s: %w", p.opts.MoveDir, err)
		}
		res.Moved = moved
		containerDir = p.opts.MoveDir
	}

	if p.compressor != nil {
		p.logger.Info("compressing containers", "source", containerDir, "dest", p.opts.CompressDest)
		report, err := p.compressor.Run(ctx, containerDir, p.opts.CompressDest)
		if err != nil {
			return nil, fmt.Errorf("compression failed: %w", err)
		}
		res.Compress = report
	}

	return res, nil
}

// request assembles the packer request, attaching keys only when both exist
func (p *Pipeline) request(manifestPath string) (Request, error) {
	req := Request{
		WorkDir:   p.opts.WorkDir,
		Root:      p.inputDir(),
		Manifest:  manifestPath,
		ChunkSize: p.opts.ChunkSize,
	}
	if p.opts.PrivateKey == "" || p.opts.PublicKey == "" {
		return req, nil
	}

	hasPrivate, err := fsutil.Exists(p.fs, p.opts.PrivateKey)
	if err != nil {
		return req, err
	}
	hasPublic, err := fsutil.Exists(p.fs, p.opts.PublicKey)
	if err != nil {
		return req, err
	}
	if hasPrivate && hasPublic {
		req.PrivateKey = p.opts.PrivateKey
		req.PublicKey = p.opts.PublicKey
	} else if hasPrivate || hasPublic {
		p.logger.Warn("only one signing key present, packing unsigned",
			"private", p.opts.PrivateKey, "public", p.opts.PublicKey)
	}
	return req, nil
}

// stage moves <input>_*<ext> containers and the manifest backup from the
// move dir into the work dir
func (p *Pipeline) stage() ([]string, error) {
	bakName := filepath.Base(manifest.BackupPath(p.manifestPath()))
	names, err := p.list(p.opts.MoveDir, func(name string) bool {
		if name == bakName {
			return true
		}
		ok, _ := filepath.Match(p.opts.Input+"_*"+p.opts.ContainerExt, name)
		return ok
	})
	if err != nil {
		return nil, err
	}

	staged := make([]string, 0, len(names))
	for _, name := range names {
		if err := p.move(filepath.Join(p.opts.MoveDir, name), filepath.Join(p.opts.WorkDir, name)); err != nil {
			return staged, err
		}
		p.logger.Debug("staged", "path", name)
		staged = append(staged, name)
	}
	return staged, nil
}

// moveOutputs moves every container and the manifest backup to the move dir
func (p *Pipeline) moveOutputs() ([]string, error) {
	bakName := filepath.Base(manifest.BackupPath(p.manifestPath()))
	names, err := p.list(p.opts.WorkDir, func(name string) bool {
		return name == bakName || filepath.Ext(name) == p.opts.ContainerExt
	})
	if err != nil {
		return nil, err
	}

	moved := make([]string, 0, len(names))
	for _, name := range names {
		if err := p.move(filepath.Join(p.opts.WorkDir, name), filepath.Join(p.opts.MoveDir, name)); err != nil {
			return moved, err
		}
		moved = append(moved, name)
	}
	p.logger.Info("moved outputs", "dest", p.opts.MoveDir, "files", len(moved))
	return moved, nil
}

// list returns the sorted names of regular files in dir accepted by match.
// A missing dir yields no names.
func (p *Pipeline) list(dir string, match func(string) bool) ([]string, error) {
	entries, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !match(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// move replaces dst with src
func (p *Pipeline) move(src, dst string) error {
	if err := p.fs.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return fsutil.Move(p.fs, src, dst)
}
