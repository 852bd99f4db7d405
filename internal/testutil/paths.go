package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// FindProjectRoot walks up the directory tree from this package to find go.mod
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}
	return findRoot(filepath.Dir(filename))
}

func findRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// BuildCLI compiles cmd/vpkpipe into a temp dir and returns the binary path
func BuildCLI(t *testing.T) string {
	t.Helper()

	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("find project root: %v", err)
	}

	bin := filepath.Join(t.TempDir(), "vpkpipe")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/vpkpipe")
	cmd.Dir = root
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build failed: %v\n%s", err, output)
	}
	return bin
}

// WriteScript writes an executable shell script and returns its path
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nset -e\n"+body), 0755); err != nil {
		t.Fatalf("write script %s: %v", path, err)
	}
	return path
}
