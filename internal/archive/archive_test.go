package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aDarkMaker/MP42PNG/internal/events"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = data
	}
	return out
}

func entryNames(t *testing.T, path string) []string {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
		if strings.HasSuffix(f.Name, "/") {
			require.Equal(t, zip.Store, f.Method, f.Name)
		} else {
			require.Equal(t, zip.Deflate, f.Method, f.Name)
		}
	}
	return names
}

func TestExportRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "frames")
	writeFile(t, filepath.Join(src, "a.png"), []byte("frame a"))
	writeFile(t, filepath.Join(src, "sub", "b.png"), []byte("frame b"))

	dest := filepath.Join(t.TempDir(), "out.zip")
	rec := &events.Recorder{}

	result, err := MustNew(Config{}).Export(context.Background(), src, dest, rec)
	require.NoError(t, err)
	require.Equal(t, 3, result.Entries)
	require.Equal(t, 2, result.Files)
	require.Equal(t, int64(14), result.Bytes)
	require.Equal(t, dest, result.Destination)

	require.Equal(t, []string{"a.png", "sub/", "sub/b.png"}, entryNames(t, dest))
	require.Equal(t, map[string][]byte{
		"a.png":     []byte("frame a"),
		"sub/":      {},
		"sub/b.png": []byte("frame b"),
	}, readArchive(t, dest))

	require.Equal(t, []int{33, 66, 100}, rec.Percents(events.ExportProgress))
	require.Empty(t, rec.Percents(events.ConversionProgress))

	_, err = os.Stat(src)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExportProgressIsMonotonic(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 7; i++ {
		writeFile(t, filepath.Join(src, string(rune('a'+i))+".png"), []byte{byte(i)})
	}

	rec := &events.Recorder{}
	_, err := MustNew(Config{}).Export(context.Background(), src, filepath.Join(t.TempDir(), "x.zip"), rec)
	require.NoError(t, err)

	percents := rec.Percents(events.ExportProgress)
	require.Len(t, percents, 7)
	for i := 1; i < len(percents); i++ {
		require.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	require.Equal(t, 100, percents[len(percents)-1])
}

func TestExportSmallBuffer(t *testing.T) {
	src := t.TempDir()
	data := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	writeFile(t, filepath.Join(src, "big.png"), data)

	dest := filepath.Join(t.TempDir(), "big.zip")
	level := 9
	_, err := MustNew(Config{BufferSize: 16, Level: &level}).Export(context.Background(), src, dest, nil)
	require.NoError(t, err)

	require.Equal(t, data, readArchive(t, dest)["big.png"])
}

func TestExportEmptyDirectory(t *testing.T) {
	src := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.Mkdir(src, 0o755))

	dest := filepath.Join(t.TempDir(), "empty.zip")
	rec := &events.Recorder{}

	result, err := MustNew(Config{}).Export(context.Background(), src, dest, rec)
	require.NoError(t, err)
	require.Zero(t, result.Entries)
	require.Empty(t, rec.Events())
	require.Empty(t, entryNames(t, dest))

	_, err = os.Stat(src)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExportMissingSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.zip")

	_, err := MustNew(Config{}).Export(context.Background(), filepath.Join(t.TempDir(), "nope"), dest, nil)
	require.ErrorIs(t, err, ErrSourceMissing)

	_, err = os.Stat(dest)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExportSourceIsFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "file.png")
	writeFile(t, src, []byte("x"))

	_, err := MustNew(Config{}).Export(context.Background(), src, filepath.Join(t.TempDir(), "out.zip"), nil)
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestExportUnwritableDestinationKeepsSource(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), []byte("a"))

	dest := filepath.Join(t.TempDir(), "missing", "out.zip")
	rec := &events.Recorder{}

	_, err := MustNew(Config{}).Export(context.Background(), src, dest, rec)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "create archive: "))
	require.Empty(t, rec.Events())

	_, err = os.Stat(filepath.Join(src, "a.png"))
	require.NoError(t, err)
}

func TestExportCanceledKeepsSource(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "out.zip")
	_, err := MustNew(Config{}).Export(ctx, src, dest, nil)
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(filepath.Join(src, "a.png"))
	require.NoError(t, err)
	_, err = os.Stat(dest)
	require.NoError(t, err)
	_, err = zip.OpenReader(dest)
	require.ErrorIs(t, err, zip.ErrFormat)
}

func TestExportReadFailureLeavesUnfinishedArchive(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), []byte("frame a"))
	writeFile(t, filepath.Join(src, "b.png"), []byte("frame b"))

	// after a.png is written, b.png turns into a directory and can no longer be read
	var swapped bool
	sink := events.SinkFunc(func(stream events.Stream, percent int) {
		if swapped {
			return
		}
		swapped = true
		b := filepath.Join(src, "b.png")
		require.NoError(t, os.Remove(b))
		require.NoError(t, os.Mkdir(b, 0o755))
	})

	dest := filepath.Join(t.TempDir(), "out.zip")
	_, err := MustNew(Config{}).Export(context.Background(), src, dest, sink)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "write b.png: "), err.Error())

	_, err = zip.OpenReader(dest)
	require.ErrorIs(t, err, zip.ErrFormat)

	_, err = os.Stat(filepath.Join(src, "a.png"))
	require.NoError(t, err)
}

func TestNewValidatesLevel(t *testing.T) {
	for _, level := range []int{-3, 10, 12} {
		_, err := New(Config{Level: &level})
		require.ErrorIs(t, err, ErrInvalidLevel, level)
	}

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), []byte("frame a"))
	dest := filepath.Join(t.TempDir(), "stored.zip")

	level := 0
	e, err := New(Config{Level: &level})
	require.NoError(t, err)
	_, err = e.Export(context.Background(), src, dest, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("frame a"), readArchive(t, dest)["a.png"])
}

func TestDestinationPath(t *testing.T) {
	require.Equal(t, "/out/frames.zip", DestinationPath("/out/frames"))
	require.Equal(t, "/out/frames.zip", DestinationPath("/out/frames.zip"))
	require.Equal(t, "/out/frames.ZIP", DestinationPath("/out/frames.ZIP"))
	require.Equal(t, "/out/frames.tar.zip", DestinationPath("/out/frames.tar"))
}
