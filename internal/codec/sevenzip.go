package codec

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSevenZip is the archiver binary looked up on PATH
const DefaultSevenZip = "7za"

// SevenZip implements Codec by shelling out to a 7-Zip command line binary.
// It works on the host filesystem only.
type SevenZip struct {
	bin   string
	level int
}

// NewSevenZip creates a 7-Zip codec. level is the -mx compression level (0-9).
func NewSevenZip(bin string, level int) *SevenZip {
	if bin == "" {
		bin = DefaultSevenZip
	}
	return &SevenZip{bin: bin, level: level}
}

// Name returns the codec name
func (s *SevenZip) Name() string { return "7z" }

// Ext returns the archive extension
func (s *SevenZip) Ext() string { return ".7z" }

// Available checks that the 7-Zip binary can be found
func (s *SevenZip) Available(_ context.Context) error {
	if _, err := exec.LookPath(s.bin); err != nil {
		return fmt.Errorf("7-zip binary %q not found: %w", s.bin, err)
	}
	return nil
}

// Compress adds src to a new archive with LZMA2 at the configured level
func (s *SevenZip) Compress(ctx context.Context, src, archive string, opts Options) error {
	absArchive, err := filepath.Abs(archive)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, s.bin, s.compressArgs(filepath.Base(src), absArchive, opts)...)
	// Run next to the source so only the base name is stored
	cmd.Dir = filepath.Dir(src)
	return s.run(cmd, "compress", archive)
}

// Extract restores a single-file archive into outDir
func (s *SevenZip) Extract(ctx context.Context, archive, outDir string) error {
	cmd := exec.CommandContext(ctx, s.bin, extractArgs(archive, outDir)...)
	return s.run(cmd, "extract", archive)
}

// ExtractSplit restores a split archive; 7-Zip follows the volumes itself
// once pointed at the first part
func (s *SevenZip) ExtractSplit(ctx context.Context, firstPart, outDir string) error {
	cmd := exec.CommandContext(ctx, s.bin, extractArgs(firstPart, outDir)...)
	return s.run(cmd, "extract split", firstPart)
}

func (s *SevenZip) compressArgs(name, archive string, opts Options) []string {
	args := []string{"a", "-t7z", "-m0=lzma2", "-mx=" + strconv.Itoa(s.level), "-y"}
	if opts.VolumeSize > 0 {
		args = append(args, "-v"+strconv.FormatInt(opts.VolumeSize, 10)+"b")
	}
	return append(args, archive, name)
}

func extractArgs(archive, outDir string) []string {
	return []string{"x", archive, "-o" + outDir, "-y"}
}

// run executes cmd; a non-zero exit becomes a codec Error, anything else
// (binary missing, cannot start) is returned as is
func (s *SevenZip) run(cmd *exec.Cmd, op, archive string) error {
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &Error{
			Op:      op,
			Archive: archive,
			Err:     fmt.Errorf("%s exited with %d: %s", s.bin, exitErr.ExitCode(), strings.TrimSpace(string(output))),
		}
	}
	return fmt.Errorf("%s %s: %w", op, archive, err)
}
