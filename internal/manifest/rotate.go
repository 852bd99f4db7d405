package manifest

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/schaermu/vpkpipe/internal/fsutil"
	"github.com/spf13/afero"
)

// BackupTimestampLayout prefixes retired backups in the backup directory
const BackupTimestampLayout = "20060102-150405"

// Rotation describes what Rotate moved
type Rotation struct {
	Archived string // previous .bak, now in the backup directory
	Backup   string // manifest, now <manifest>.bak
}

// BackupPath returns the path of the most recent backup for manifestPath
func BackupPath(manifestPath string) string {
	return manifestPath + ".bak"
}

// Rotate retires manifestPath: an existing <manifest>.bak is moved into
// backupDir under a timestamped name, the manifest is renamed to
// <manifest>.bak, and any remaining manifest file is removed. Existing files
// in backupDir are never overwritten.
func Rotate(fs afero.Fs, manifestPath, backupDir string, now time.Time) (Rotation, error) {
	var rot Rotation
	bak := BackupPath(manifestPath)

	hasBak, err := fsutil.Exists(fs, bak)
	if err != nil {
		return rot, err
	}
	if hasBak {
		if err := fs.MkdirAll(backupDir, 0755); err != nil {
			return rot, fmt.Errorf("failed to create backup directory: %w", err)
		}
		dst, err := freeBackupName(fs, backupDir, now.Format(BackupTimestampLayout), filepath.Base(bak))
		if err != nil {
			return rot, err
		}
		if err := fsutil.Move(fs, bak, dst); err != nil {
			return rot, fmt.Errorf("failed to archive %s: %w", bak, err)
		}
		rot.Archived = dst
	}

	hasManifest, err := fsutil.Exists(fs, manifestPath)
	if err != nil {
		return rot, err
	}
	if hasManifest {
		if err := fsutil.Move(fs, manifestPath, bak); err != nil {
			return rot, fmt.Errorf("failed to back up %s: %w", manifestPath, err)
		}
		rot.Backup = bak
	}

	if err := fs.Remove(manifestPath); err != nil {
		if ok, _ := fsutil.Exists(fs, manifestPath); ok {
			return rot, fmt.Errorf("failed to remove %s: %w", manifestPath, err)
		}
	}

	return rot, nil
}

func freeBackupName(fs afero.Fs, dir, stamp, name string) (string, error) {
	candidate := filepath.Join(dir, stamp+"_"+name)
	for i := 1; ; i++ {
		exists, err := fsutil.Exists(fs, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = filepath.Join(dir, stamp+"-"+strconv.Itoa(i)+"_"+name)
	}
}
