package packer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrPackerNotFound is returned when the packaging executable cannot be run
var ErrPackerNotFound = errors.New("packer executable not found")

// Request describes a single packer invocation
type Request struct {
	WorkDir    string // directory the packer runs in; outputs land here
	Root       string // asset root listed in the manifest
	Manifest   string // control file consumed by the packer
	ChunkSize  int    // maximum chunk size in MB
	PrivateKey string // signing keys, both set or both empty
	PublicKey  string
}

// Signed reports whether the request carries a signing key pair
func (r Request) Signed() bool {
	return r.PrivateKey != "" && r.PublicKey != ""
}

// Packager turns a manifest into container files
type Packager interface {
	// Available checks that the packer can be invoked at all
	Available(ctx context.Context) error
	// Pack runs the packer for the given request
	Pack(ctx context.Context, req Request) error
}

// ShellPackager implements Packager by running the packaging executable
type ShellPackager struct {
	bin string
}

// NewShellPackager creates a packager for the executable at bin
func NewShellPackager(bin string) *ShellPackager {
	return &ShellPackager{bin: bin}
}

// Available checks that the executable exists and is runnable
func (p *ShellPackager) Available(_ context.Context) error {
	if p.bin == "" {
		return fmt.Errorf("%w: no executable configured", ErrPackerNotFound)
	}
	_, err := p.path()
	return err
}

// path resolves the executable. A relative path with a separator is taken
// against the current directory, not the work dir the packer runs in.
func (p *ShellPackager) path() (string, error) {
	bin, err := exec.LookPath(p.bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPackerNotFound, p.bin, err)
	}
	abs, err := filepath.Abs(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPackerNotFound, p.bin, err)
	}
	return abs, nil
}

// Pack runs the packer in the request's work directory. Only the exit status
// is interpreted; output is attached to the error on failure.
func (p *ShellPackager) Pack(ctx context.Context, req Request) error {
	bin, err := p.path()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, bin, buildArgs(req)...)
	cmd.Dir = req.WorkDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("packer failed for %s: %w: %s", req.Manifest, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// buildArgs returns: -P -c <chunk> [-K <private> -k <public>] k <root> <manifest>
func buildArgs(req Request) []string {
	args := []string{"-P", "-c", strconv.Itoa(req.ChunkSize)}
	if req.Signed() {
		args = append(args, "-K", req.PrivateKey, "-k", req.PublicKey)
	}
	return append(args, "k", req.Root, req.Manifest)
}
