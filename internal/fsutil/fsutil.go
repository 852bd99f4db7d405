package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Exists reports whether path exists on fsys
func Exists(fsys afero.Fs, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place
func WriteFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpFile, err := afero.TempFile(fsys, filepath.Dir(path), ".vpkpipe-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fsys.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := fsys.Chmod(tmpPath, perm); err != nil {
		return err
	}

	return fsys.Rename(tmpPath, path)
}

// CopyFile copies a file from src to dst with atomic write, keeping the
// source permissions
func CopyFile(fsys afero.Fs, src, dst string) error {
	// Ensure parent directory exists
	if err := fsys.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := afero.TempFile(fsys, filepath.Dir(dst), ".vpkpipe-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fsys.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := fsys.Chmod(tmpPath, srcInfo.Mode()); err != nil {
		return err
	}

	return fsys.Rename(tmpPath, dst)
}

// Move renames src to dst, falling back to copy and delete when a plain
// rename is not possible (e.g. across filesystems)
func Move(fsys afero.Fs, src, dst string) error {
	if err := fsys.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	renameErr := fsys.Rename(src, dst)
	if renameErr == nil {
		return nil
	}

	if ok, _ := Exists(fsys, src); !ok {
		return renameErr
	}
	if err := CopyFile(fsys, src, dst); err != nil {
		return fmt.Errorf("move %s -> %s: %w (copy fallback: %v)", src, dst, renameErr, err)
	}
	return fsys.Remove(src)
}
