package changegate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/schaermu/vpkpipe/internal/fingerprint"
	"github.com/schaermu/vpkpipe/internal/fsutil"
	"github.com/spf13/afero"
)

// Reason explains a decision
type Reason string

const (
	ReasonFirstBuild     Reason = "first-build"
	ReasonChanged        Reason = "changed"
	ReasonArchiveMissing Reason = "archive-missing"
	ReasonUnchanged      Reason = "unchanged"
)

// Decision is the outcome of Check
type Decision struct {
	Rebuild     bool
	Reason      Reason
	Fingerprint string // current fingerprint of the container
	Previous    string // fingerprint stored in the sidecar, if any
}

// Gate reads and writes hash sidecars
type Gate struct {
	fs afero.Fs
}

// New creates a gate operating on fs
func New(fs afero.Fs) *Gate {
	return &Gate{fs: fs}
}

// SidecarName returns the sidecar file name for a container
func SidecarName(container string) string {
	return container + ".txt"
}

// Check fingerprints container and compares it with the sidecar. A sidecar
// only counts while its archive exists. Check never writes.
func (g *Gate) Check(container, sidecar string, archivePresent bool) (Decision, error) {
	current, err := fingerprint.File(g.fs, container)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Fingerprint: current}

	stored, err := afero.ReadFile(g.fs, sidecar)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.Rebuild = true
			d.Reason = ReasonFirstBuild
			return d, nil
		}
		return Decision{}, fmt.Errorf("failed to read hash sidecar %s: %w", sidecar, err)
	}
	d.Previous = strings.TrimSpace(string(stored))

	switch {
	case d.Previous != current:
		d.Rebuild = true
		d.Reason = ReasonChanged
	case !archivePresent:
		d.Rebuild = true
		d.Reason = ReasonArchiveMissing
	default:
		d.Reason = ReasonUnchanged
	}
	return d, nil
}

// Commit records fp as the container's fingerprint
func (g *Gate) Commit(sidecar, fp string) error {
	if err := fsutil.WriteFileAtomic(g.fs, sidecar, []byte(fp), 0644); err != nil {
		return fmt.Errorf("failed to write hash sidecar %s: %w", sidecar, err)
	}
	return nil
}
