package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/vpkpipe/internal/assets"
	"gopkg.in/yaml.v3"
)

// CodecKind selects the archive codec
type CodecKind string

const (
	CodecSevenZip CodecKind = "7z"
	CodecZstd     CodecKind = "zstd"
)

// Config represents the complete vpkpipe configuration
type Config struct {
	Pack       PackConfig        `yaml:"pack"`
	Compress   CompressConfig    `yaml:"compress"`
	Restore    RestoreConfig     `yaml:"restore"`
	Categories []assets.Category `yaml:"categories"`
}

// PackConfig configures manifest building and the packer
type PackConfig struct {
	WorkDir        string `yaml:"work_dir"`
	Input          string `yaml:"input"`
	Packer         string `yaml:"packer"`
	ChunkSize      int    `yaml:"chunk_size"`
	MoveDir        string `yaml:"move_dir"`
	BackupDir      string `yaml:"backup_dir"`
	PrivateKeyFile string `yaml:"private_key_file"`
	PublicKeyFile  string `yaml:"public_key_file"`
	Compress       bool   `yaml:"compress"`
	CompressDest   string `yaml:"compress_dest"`
}

// CompressConfig configures archive compression
type CompressConfig struct {
	Workers      int       `yaml:"workers"`
	Codec        CodecKind `yaml:"codec"`
	SevenZip     string    `yaml:"sevenzip"`
	Level        int       `yaml:"level"`
	VolumeSizeMB int       `yaml:"volume_size_mb"`
	ContainerExt string    `yaml:"container_ext"`
}

// RestoreConfig configures decompression
type RestoreConfig struct {
	IndexTag string `yaml:"index_tag"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path fields
func (c *Config) expandEnv() {
	c.Pack.WorkDir = os.ExpandEnv(c.Pack.WorkDir)
	c.Pack.Packer = os.ExpandEnv(c.Pack.Packer)
	c.Pack.MoveDir = os.ExpandEnv(c.Pack.MoveDir)
	c.Pack.BackupDir = os.ExpandEnv(c.Pack.BackupDir)
	c.Pack.PrivateKeyFile = os.ExpandEnv(c.Pack.PrivateKeyFile)
	c.Pack.PublicKeyFile = os.ExpandEnv(c.Pack.PublicKeyFile)
	c.Pack.CompressDest = os.ExpandEnv(c.Pack.CompressDest)
	c.Compress.SevenZip = os.ExpandEnv(c.Compress.SevenZip)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Pack.WorkDir == "" {
		c.Pack.WorkDir = "."
	}
	if c.Pack.Input == "" {
		c.Pack.Input = "pak01"
	}
	if c.Pack.ChunkSize == 0 {
		c.Pack.ChunkSize = 100
	}
	if c.Pack.PrivateKeyFile == "" {
		c.Pack.PrivateKeyFile = "my.privatekey.vdf"
	}
	if c.Pack.PublicKeyFile == "" {
		c.Pack.PublicKeyFile = "my.publickey.vdf"
	}
	if c.Compress.Workers == 0 {
		c.Compress.Workers = 4
	}
	if c.Compress.Codec == "" {
		c.Compress.Codec = CodecSevenZip
	}
	if c.Compress.SevenZip == "" {
		c.Compress.SevenZip = "7za"
	}
	if c.Compress.Level == 0 {
		c.Compress.Level = 9
	}
	if c.Compress.ContainerExt == "" {
		c.Compress.ContainerExt = ".vpk"
	}
	if c.Restore.IndexTag == "" {
		c.Restore.IndexTag = "dir"
	}
	if len(c.Categories) == 0 {
		c.Categories = assets.DefaultCategories()
	}
}

// Validate checks the configuration for errors. The packer path is checked
// separately by ValidatePack since only the pack command needs it.
func (c *Config) Validate() error {
	// Validate pack settings
	if strings.ContainsAny(c.Pack.Input, `/\`) {
		return fmt.Errorf("pack.input must be a folder name, not a path: %s", c.Pack.Input)
	}
	if c.Pack.ChunkSize < 1 {
		return fmt.Errorf("pack.chunk_size must be positive: %d", c.Pack.ChunkSize)
	}

	// Validate compression settings
	if c.Compress.Workers < 1 {
		return fmt.Errorf("compress.workers must be at least 1: %d", c.Compress.Workers)
	}
	switch c.Compress.Codec {
	case CodecSevenZip, CodecZstd:
		// valid
	default:
		return fmt.Errorf("invalid compress.codec: %s (must be 7z or zstd)", c.Compress.Codec)
	}
	if c.Compress.VolumeSizeMB < 0 {
		return fmt.Errorf("compress.volume_size_mb must not be negative: %d", c.Compress.VolumeSizeMB)
	}
	if !strings.HasPrefix(c.Compress.ContainerExt, ".") {
		return fmt.Errorf("compress.container_ext must start with a dot: %s", c.Compress.ContainerExt)
	}

	// Validate categories
	if err := assets.Validate(c.Categories); err != nil {
		return fmt.Errorf("categories: %w", err)
	}

	return nil
}

// ValidatePack checks the settings required by the pack command
func (c *Config) ValidatePack() error {
	if c.Pack.Packer == "" {
		return fmt.Errorf("pack.packer is required")
	}
	if c.Pack.Compress && c.Pack.MoveDir != "" && filepath.Clean(c.CompressDestDir()) == filepath.Clean(c.Pack.MoveDir) {
		return fmt.Errorf("pack.compress_dest must differ from pack.move_dir")
	}
	return c.Validate()
}

// InputDir returns the asset root handed to the packer
func (c *Config) InputDir() string {
	return filepath.Join(c.Pack.WorkDir, c.Pack.Input)
}

// ManifestName returns the control file name for the configured input
func (c *Config) ManifestName() string {
	return c.Pack.Input + ".kv.txt"
}

// ManifestPath returns the path of the live control file
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Pack.WorkDir, c.ManifestName())
}

// BackupDirPath returns where retired manifest backups are kept
func (c *Config) BackupDirPath() string {
	if c.Pack.BackupDir != "" {
		return c.Pack.BackupDir
	}
	if c.Pack.MoveDir != "" {
		return filepath.Join(c.Pack.MoveDir, "oldkvfiles")
	}
	return filepath.Join(c.Pack.WorkDir, "oldkvfiles")
}

// CompressDestDir returns where chained compression writes archives
func (c *Config) CompressDestDir() string {
	if c.Pack.CompressDest != "" {
		return c.Pack.CompressDest
	}
	return filepath.Join(c.Pack.WorkDir, "..", c.Pack.Input+"_compiled")
}

// KeyPaths returns the signing key paths resolved against the work dir
func (c *Config) KeyPaths() (private, public string) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Pack.WorkDir, p)
	}
	return resolve(c.Pack.PrivateKeyFile), resolve(c.Pack.PublicKeyFile)
}

// VolumeSize returns the archive volume size in bytes, 0 when splitting is off
func (c *Config) VolumeSize() int64 {
	return int64(c.Compress.VolumeSizeMB) * 1024 * 1024
}
