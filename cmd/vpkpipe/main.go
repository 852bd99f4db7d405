package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/schaermu/vpkpipe/internal/codec"
	"github.com/schaermu/vpkpipe/internal/compress"
	"github.com/schaermu/vpkpipe/internal/config"
	"github.com/schaermu/vpkpipe/internal/packer"
	"github.com/schaermu/vpkpipe/internal/restore"
	"github.com/schaermu/vpkpipe/internal/runlock"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Pack command flags
	packFlags struct {
		workDir      string
		input        string
		packer       string
		chunkSize    int
		moveDir      string
		compress     bool
		compressDest string
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vpkpipe",
	Short: "Build, pack and compress game content archives",
	Long: `vpkpipe builds the control file for a content folder, hands it to the
packaging executable, and incrementally compresses the resulting containers.

Compression is gated by a per-container MD5 sidecar, so unchanged containers
are never recompressed. Decompression restores every container from its
archive, index container last.`,
	SilenceUsage: true,
}

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Build the control file and run the packer",
	Long: `Pack walks the input folder by asset category, writes a fresh control file
with an MD5 per asset, and runs the packer on it. The consumed control file is
kept as <manifest>.bak and older backups are archived with a timestamp.

With --move-dir, containers from the previous run are staged back before
packing and all outputs are moved there afterwards. With --compress, the
containers are compressed right after packing.`,
	Args: cobra.NoArgs,
	RunE: runPack,
}

var compressCmd = &cobra.Command{
	Use:   "compress <source-dir> <dest-dir>",
	Short: "Compress changed containers from source-dir into dest-dir",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompress,
}

var decompressCmd = &cobra.Command{
	Use:   "decompress [dir]",
	Short: "Restore containers from the archives in dir (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDecompress,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vpkpipe %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/vpkpipe/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Pack command flags
	packCmd.Flags().StringVar(&packFlags.workDir, "work-dir", "", "directory containing the input folder")
	packCmd.Flags().StringVar(&packFlags.input, "input", "", "input folder name (default pak01)")
	packCmd.Flags().StringVar(&packFlags.packer, "packer", "", "path to the packaging executable")
	packCmd.Flags().IntVar(&packFlags.chunkSize, "chunk-size", 0, "maximum container chunk size in MB (default 100)")
	packCmd.Flags().StringVar(&packFlags.moveDir, "move-dir", "", "move containers and manifest backups here after packing")
	packCmd.Flags().BoolVar(&packFlags.compress, "compress", false, "compress containers after packing")
	packCmd.Flags().StringVar(&packFlags.compressDest, "compress-dest", "", "archive directory for --compress (default ../<input>_compiled)")

	// Add commands
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(decompressCmd)
	rootCmd.AddCommand(versionCmd)
}

func runPack(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyPackFlags(cmd, cfg)
	if err := cfg.ValidatePack(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lock, err := runlock.Acquire(cfg.Pack.WorkDir)
	if err != nil {
		return err
	}
	defer releaseLock(lock, logger)

	fs := afero.NewOsFs()

	var compressor packer.Compressor
	if cfg.Pack.Compress {
		c := newCodec(cfg, fs)
		if err := c.Available(ctx); err != nil {
			return err
		}
		compressor = newScheduler(cfg, fs, c, logger)
	}

	privateKey, publicKey := cfg.KeyPaths()
	pipeline := packer.NewPipeline(fs, packer.NewShellPackager(cfg.Pack.Packer), compressor, packer.Options{
		WorkDir:      cfg.Pack.WorkDir,
		Input:        cfg.Pack.Input,
		ChunkSize:    cfg.Pack.ChunkSize,
		ContainerExt: cfg.Compress.ContainerExt,
		Categories:   cfg.Categories,
		MoveDir:      cfg.Pack.MoveDir,
		BackupDir:    cfg.BackupDirPath(),
		PrivateKey:   privateKey,
		PublicKey:    publicKey,
		CompressDest: cfg.CompressDestDir(),
	}, logger)

	logger.Info("starting pack", "input", cfg.InputDir(), "packer", cfg.Pack.Packer)
	res, err := pipeline.Run(ctx)
	if err != nil {
		logger.Error("pack failed", "error", err)
		return err
	}

	logger.Info("pack finished",
		"entries", len(res.Manifest.Entries),
		"signed", res.Signed,
		"backup", res.Rotation.Backup,
		"moved", len(res.Moved))
	if res.Compress != nil {
		printCompressReport(os.Stdout, res.Compress, logger)
	}
	return nil
}

func runCompress(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	src, dest := args[0], args[1]
	if filepath.Clean(src) == filepath.Clean(dest) {
		return fmt.Errorf("source and destination must differ: %s", src)
	}

	fs := afero.NewOsFs()
	c := newCodec(cfg, fs)
	if err := c.Available(ctx); err != nil {
		return err
	}

	lock, err := runlock.Acquire(dest)
	if err != nil {
		return err
	}
	defer releaseLock(lock, logger)

	report, err := newScheduler(cfg, fs, c, logger).Run(ctx, src, dest)
	if report != nil {
		printCompressReport(os.Stdout, report, logger)
	}
	if err != nil {
		logger.Error("compression failed", "error", err)
		return err
	}
	return nil
}

func runDecompress(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	fs := afero.NewOsFs()
	c := newCodec(cfg, fs)
	if err := c.Available(ctx); err != nil {
		return err
	}

	lock, err := runlock.Acquire(dir)
	if err != nil {
		return err
	}
	defer releaseLock(lock, logger)

	resolver := restore.NewResolver(fs, c, cfg.Restore.IndexTag, logger)
	report, err := resolver.Restore(ctx, dir)
	if report != nil {
		printRestoreReport(os.Stdout, report, logger)
	}
	if err != nil {
		logger.Error("decompression failed", "error", err)
		return err
	}
	return nil
}

// applyPackFlags lets explicitly set pack flags override file values
func applyPackFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("work-dir") {
		cfg.Pack.WorkDir = packFlags.workDir
	}
	if flags.Changed("input") {
		cfg.Pack.Input = packFlags.input
	}
	if flags.Changed("packer") {
		cfg.Pack.Packer = packFlags.packer
	}
	if flags.Changed("chunk-size") {
		cfg.Pack.ChunkSize = packFlags.chunkSize
	}
	if flags.Changed("move-dir") {
		cfg.Pack.MoveDir = packFlags.moveDir
	}
	if flags.Changed("compress") {
		cfg.Pack.Compress = packFlags.compress
	}
	if flags.Changed("compress-dest") {
		cfg.Pack.CompressDest = packFlags.compressDest
	}
}

func newCodec(cfg *config.Config, fs afero.Fs) codec.Codec {
	switch cfg.Compress.Codec {
	case config.CodecZstd:
		return codec.NewZstd(fs, cfg.Compress.Level)
	default:
		return codec.NewSevenZip(cfg.Compress.SevenZip, cfg.Compress.Level)
	}
}

func newScheduler(cfg *config.Config, fs afero.Fs, c codec.Codec, logger *slog.Logger) *compress.Scheduler {
	return compress.NewScheduler(fs, c, compress.Options{
		Workers:      cfg.Compress.Workers,
		ContainerExt: cfg.Compress.ContainerExt,
		VolumeSize:   cfg.VolumeSize(),
	}, logger)
}

func releaseLock(lock *runlock.Lock, logger *slog.Logger) {
	if err := lock.Release(); err != nil {
		logger.Warn("failed to release lock", "path", lock.Path(), "error", err)
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr so report tables stay clean on stdout
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler).With("run_id", uuid.NewString())
}

// loadConfig reads --config, or the default path when unset. A missing
// default file yields the built-in defaults.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "vpkpipe", "config.yaml")
	}

	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			logger.Debug("no config file, using defaults", "path", configPath)
			return config.Default(), nil
		}
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"work_dir", cfg.Pack.WorkDir,
		"input", cfg.Pack.Input,
		"codec", cfg.Compress.Codec,
		"workers", cfg.Compress.Workers)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
