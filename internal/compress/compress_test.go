package compress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schaermu/vpkpipe/internal/changegate"
	"github.com/schaermu/vpkpipe/internal/codec"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fakeCodec copies the container into the archive and records calls
type fakeCodec struct {
	fs       afero.Fs
	failFor  map[string]bool
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeCodec) Name() string { return "fake" }
func (f *fakeCodec) Ext() string { return ".7z" }
func (f *fakeCodec) Available(_ context.Context) error { return nil }
func (f *fakeCodec) Extract(_ context.Context, _, _ string) error { return nil }
func (f *fakeCodec) ExtractSplit(_ context.Context, _, _ string) error { return nil }

func (f *fakeCodec) Compress(_ context.Context, src, archive string, _ codec.Options) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(src))
	f.mu.Unlock()

	if f.failFor[filepath.Base(src)] {
		// Partial output that the scheduler must clean up
		_ = afero.WriteFile(f.fs, archive, []byte("partial"), 0644)
		return &codec.Error{Op: "compress", Archive: archive, Err: errors.New("boom")}
	}
	data, err := afero.ReadFile(f.fs, src)
	if err != nil {
		return err
	}
	return afero.WriteFile(f.fs, archive, append([]byte("7z:"), data...), 0644)
}

func (f *fakeCodec) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, containers map[string]string) (afero.Fs, *fakeCodec) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range containers {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("/vpk", name), []byte(content), 0644))
	}
	require.NoError(t, afero.WriteFile(fs, "/vpk/notes.txt", []byte("ignored"), 0644))
	return fs, &fakeCodec{fs: fs}
}

func TestRun_FirstRunCompressesEverything(t *testing.T) {
	fs, fc := setup(t, map[string]string{
		"pak01_000.vpk": "zero",
		"pak01_001.vpk": "one",
		"pak01_dir.vpk": "dir",
	})

	report, err := NewScheduler(fs, fc, Options{}, testLogger()).Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	require.Equal(t, 3, report.Count(OutcomeCompressed))
	require.ElementsMatch(t, []string{"pak01_000.vpk", "pak01_001.vpk", "pak01_dir.vpk"}, fc.calls)

	for _, res := range report.Results {
		require.Equal(t, changegate.ReasonFirstBuild, res.Reason)
		require.Positive(t, res.Size)
	}

	sidecar, err := afero.ReadFile(fs, "/out/pak01_001.vpk.txt")
	require.NoError(t, err)
	require.Len(t, string(sidecar), 32)
}

func TestRun_Idempotent(t *testing.T) {
	fs, fc := setup(t, map[string]string{
		"pak01_000.vpk": "zero",
		"pak01_001.vpk": "one",
	})
	s := NewScheduler(fs, fc, Options{}, testLogger())

	_, err := s.Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/out/pak01_000.vpk.txt", old, old))
	before, err := afero.ReadFile(fs, "/out/pak01_000.vpk.txt")
	require.NoError(t, err)

	fc.reset()
	report, err := s.Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, 2, report.Count(OutcomeSkipped))
	require.Empty(t, fc.calls)

	after, err := afero.ReadFile(fs, "/out/pak01_000.vpk.txt")
	require.NoError(t, err)
	require.Equal(t, before, after)
	info, err := fs.Stat("/out/pak01_000.vpk.txt")
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(old))
}

func TestRun_ChangedContainerIsReplaced(t *testing.T) {
	fs, fc := setup(t, map[string]string{
		"pak01_000.vpk": "zero",
		"pak01_001.vpk": "one",
	})
	s := NewScheduler(fs, fc, Options{}, testLogger())

	_, err := s.Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	oldSidecar, err := afero.ReadFile(fs, "/out/pak01_001.vpk.txt")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/vpk/pak01_001.vpk", []byte("one, patched"), 0644))

	fc.reset()
	report, err := s.Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, []string{"pak01_001.vpk"}, fc.calls)
	require.Equal(t, 1, report.Count(OutcomeCompressed))
	require.Equal(t, 1, report.Count(OutcomeSkipped))

	newSidecar, err := afero.ReadFile(fs, "/out/pak01_001.vpk.txt")
	require.NoError(t, err)
	require.NotEqual(t, oldSidecar, newSidecar)

	archive, err := afero.ReadFile(fs, "/out/pak01_001.vpk.7z")
	require.NoError(t, err)
	require.Equal(t, "7z:one, patched", string(archive))
}

func TestRun_MissingArchiveForcesRebuild(t *testing.T) {
	fs, fc := setup(t, map[string]string{"pak01_000.vpk": "zero"})
	s := NewScheduler(fs, fc, Options{}, testLogger())

	_, err := s.Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.NoError(t, fs.Remove("/out/pak01_000.vpk.7z"))

	fc.reset()
	report, err := s.Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, changegate.ReasonArchiveMissing, report.Results[0].Reason)
	require.Equal(t, []string{"pak01_000.vpk"}, fc.calls)
}

func TestRun_StaleSplitVolumesAreDeleted(t *testing.T) {
	fs, fc := setup(t, map[string]string{"pak01_000.vpk": "zero"})
	for _, p := range []string{"/out/pak01_000.vpk.7z.001", "/out/pak01_000.vpk.7z.002"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte("old volume"), 0644))
	}

	_, err := NewScheduler(fs, fc, Options{}, testLogger()).Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)

	for _, p := range []string{"/out/pak01_000.vpk.7z.001", "/out/pak01_000.vpk.7z.002"} {
		exists, err := afero.Exists(fs, p)
		require.NoError(t, err)
		require.False(t, exists, p)
	}
}

func TestRun_FailureIsIsolated(t *testing.T) {
	fs, fc := setup(t, map[string]string{
		"pak01_000.vpk": "zero",
		"pak01_001.vpk": "one",
		"pak01_002.vpk": "two",
	})
	fc.failFor = map[string]bool{"pak01_001.vpk": true}

	report, err := NewScheduler(fs, fc, Options{}, testLogger()).Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, 2, report.Count(OutcomeCompressed))

	failed := report.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "pak01_001.vpk", failed[0].Container)
	var codecErr *codec.Error
	require.ErrorAs(t, failed[0].Err, &codecErr)

	// No partial archive and no sidecar for the failed container
	for _, p := range []string{"/out/pak01_001.vpk.7z", "/out/pak01_001.vpk.txt"} {
		exists, err := afero.Exists(fs, p)
		require.NoError(t, err)
		require.False(t, exists, p)
	}

	// Next run retries only the failed one
	fc.failFor = nil
	fc.reset()
	report, err = NewScheduler(fs, fc, Options{}, testLogger()).Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, []string{"pak01_001.vpk"}, fc.calls)
	require.Equal(t, 1, report.Count(OutcomeCompressed))
}

func TestRun_BoundedParallelism(t *testing.T) {
	containers := make(map[string]string)
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		containers["pak01_"+n+".vpk"] = n
	}
	fs, fc := setup(t, containers)
	fc.delay = 20 * time.Millisecond

	report, err := NewScheduler(fs, fc, Options{Workers: 2}, testLogger()).Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, 8, report.Count(OutcomeCompressed))
	require.LessOrEqual(t, fc.peak.Load(), int32(2))
}

func TestRun_Canceled(t *testing.T) {
	fs, fc := setup(t, map[string]string{"pak01_000.vpk": "zero"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewScheduler(fs, fc, Options{}, testLogger()).Run(ctx, "/vpk", "/out")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, report.Count(OutcomeCanceled))
	require.Empty(t, fc.calls)
}

func TestRun_MissingSourceDir(t *testing.T) {
	_, err := NewScheduler(afero.NewMemMapFs(), &fakeCodec{}, Options{}, testLogger()).Run(context.Background(), "/nope", "/out")
	require.Error(t, err)
}

func TestRun_ZstdSplitEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i * 7 % 251)
	}
	require.NoError(t, afero.WriteFile(fs, "/vpk/pak01_000.vpk", data, 0644))

	z := codec.NewZstd(fs, 3)
	report, err := NewScheduler(fs, z, Options{VolumeSize: 512}, testLogger()).Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(OutcomeCompressed))

	present, err := codec.Exists(fs, "/out/pak01_000.vpk.zst")
	require.NoError(t, err)
	require.True(t, present)

	report, err = NewScheduler(fs, z, Options{VolumeSize: 512}, testLogger()).Run(context.Background(), "/vpk", "/out")
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(OutcomeSkipped))
}
