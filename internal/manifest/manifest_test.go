package manifest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/vpkpipe/internal/assets"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const root = "/work/pak01"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedBuilder(fs afero.Fs) *Builder {
	b := NewBuilder(fs, testLogger())
	b.now = func() time.Time { return time.Date(2026, 10, 17, 12, 30, 45, 120000000, time.Local) }
	return b
}

func writeTree(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(root, p), []byte(content), 0644))
	}
}

func TestBuild_CategoryThenPathOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"models/c.mdl":    "model",
		"materials/b.vtf": "texture",
		"materials/a.vmt": "material",
	})

	categories := []assets.Category{
		{Name: "materials", Extensions: []string{".vmt", ".vtf"}},
		{Name: "models", Extensions: []string{".mdl"}},
	}

	m, err := fixedBuilder(fs).Build(context.Background(), root, "/work/pak01.kv.txt", categories)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)

	var dests []string
	for _, e := range m.Entries {
		dests = append(dests, e.DestPath)
		require.Len(t, e.Fingerprint, 32)
	}
	require.Equal(t, []string{"materials/a.vmt", "materials/b.vtf", "models/c.mdl"}, dests)
	require.Equal(t, filepath.Join(root, "materials/a.vmt"), m.Entries[0].SourcePath)
	require.Equal(t, "pak01.kv.txt", m.Label)
}

func TestBuild_Deterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"materials/z.vmt":        "z",
		"materials/nested/y.vtf": "y",
		"sound/x.wav":            "x",
		"sound/notes.txt":        "n",
		"scripts/game.res":       "r",
	})

	b := fixedBuilder(fs)
	_, err := b.Build(context.Background(), root, "/work/first.kv.txt", assets.DefaultCategories())
	require.NoError(t, err)
	_, err = b.Build(context.Background(), root, "/work/second.kv.txt", assets.DefaultCategories())
	require.NoError(t, err)

	first, err := afero.ReadFile(fs, "/work/first.kv.txt")
	require.NoError(t, err)
	second, err := afero.ReadFile(fs, "/work/second.kv.txt")
	require.NoError(t, err)

	// Labels differ, entries must not
	body := func(b []byte) string {
		_, rest, _ := strings.Cut(string(b), "//\n\n")
		return rest
	}
	require.NotEmpty(t, body(first))
	require.Equal(t, body(first), body(second))
}

func TestBuild_OverwritesStaleManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"materials/a.vmt": "a"})
	require.NoError(t, afero.WriteFile(fs, "/work/pak01.kv.txt", []byte("\"stale\"\n{\n\"destpath\" \"old.vmt\"\n\"MD5\" \"x\"\n}\n"), 0644))

	_, err := fixedBuilder(fs).Build(context.Background(), root, "/work/pak01.kv.txt", assets.DefaultCategories())
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/work/pak01.kv.txt")
	require.NoError(t, err)
	require.NotContains(t, string(data), "old.vmt")

	parsed, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 1)
	require.Equal(t, "materials/a.vmt", parsed.Entries[0].DestPath)
}

func TestBuild_Format(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"materials/a.vmt": "hello"})

	_, err := fixedBuilder(fs).Build(context.Background(), root, "/work/pak01.kv.txt", assets.DefaultCategories())
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/work/pak01.kv.txt")
	require.NoError(t, err)

	want := "//\n" +
		"//        Keyvalues Control File = \"pak01.kv.txt\"\n" +
		"//        made = 10/17/2026-12:30:45.12\n" +
		"//\n\n" +
		"\"/work/pak01/materials/a.vmt\"\n" +
		"{\n" +
		"    \"destpath\"    \"materials/a.vmt\"\n" +
		"    \"MD5\"         \"5d41402abc4b2a76b9719d911017c592\"\n" +
		"}\n"
	require.Equal(t, want, string(data))
}

// failingFs fails to open one specific file
type failingFs struct {
	afero.Fs
	path string
}

func (f *failingFs) Open(name string) (afero.File, error) {
	if name == f.path {
		return nil, os.ErrPermission
	}
	return f.Fs.Open(name)
}

func TestBuild_HashingFailureAborts(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeTree(t, mem, map[string]string{
		"materials/a.vmt": "a",
		"materials/b.vmt": "b",
	})
	fs := &failingFs{Fs: mem, path: filepath.Join(root, "materials/b.vmt")}

	_, err := fixedBuilder(fs).Build(context.Background(), root, "/work/pak01.kv.txt", assets.DefaultCategories())
	require.ErrorIs(t, err, ErrBuildFailed)
	require.ErrorIs(t, err, os.ErrPermission)
	require.Contains(t, err.Error(), "b.vmt")
}

func TestBuild_CanceledLeavesParseableFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"materials/a.vmt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fixedBuilder(fs).Build(ctx, root, "/work/pak01.kv.txt", assets.DefaultCategories())
	require.ErrorIs(t, err, ErrBuildFailed)
	require.True(t, errors.Is(err, context.Canceled))

	data, err := afero.ReadFile(fs, "/work/pak01.kv.txt")
	require.NoError(t, err)
	parsed, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)
	require.Empty(t, parsed.Entries)
	require.Equal(t, "pak01.kv.txt", parsed.Label)
}

func TestParse_Truncated(t *testing.T) {
	_, err := Parse(strings.NewReader("\"a\"\n{\n    \"destpath\"    \"a\"\n"))
	require.Error(t, err)

	_, err = Parse(strings.NewReader("}\n"))
	require.Error(t, err)
}

func TestParse_Header(t *testing.T) {
	m, err := Parse(strings.NewReader("//\n//        Keyvalues Control File = \"x.kv.txt\"\n//        made = 01/02/2026-03:04:05.06\n//\n\n"))
	require.NoError(t, err)
	require.Equal(t, "x.kv.txt", m.Label)
	require.Equal(t, 2026, m.Created.Year())
	require.Equal(t, 60*time.Millisecond, time.Duration(m.Created.Nanosecond()))
}
