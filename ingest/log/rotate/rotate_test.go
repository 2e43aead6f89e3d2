package rotate

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	pth := filepath.Join(dir, "agent.log")

	fr, err := Open(pth, 0640, Options{})
	require.NoError(t, err)
	defer fr.Close()

	_, err = fr.Write([]byte("hello\n"))
	require.NoError(t, err)

	b, err := os.ReadFile(pth)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(b))
}

func TestOpenRejectsExtensionlessPath(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "agent"), 0640, Options{})
	require.Error(t, err)
}

func TestWriteRotatesWhenOverSizeAndNewlineTerminated(t *testing.T) {
	dir := t.TempDir()
	pth := filepath.Join(dir, "agent.log")

	fr, err := Open(pth, 0640, Options{MaxSizeMB: 0, MaxHistory: 2})
	require.NoError(t, err)
	defer fr.Close()
	// force a tiny threshold directly so the test doesn't need a megabyte of writes
	fr.maxSize = 8

	_, err = fr.Write([]byte("0123456789\n"))
	require.NoError(t, err)

	// the rollover should have produced a gzip'd history file
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawHistory bool
	for _, e := range entries {
		if e.Name() != "agent.log" {
			sawHistory = true
		}
	}
	require.True(t, sawHistory, "expected a rotated history file in %v", entries)
}

func TestWriteDoesNotRotateMidLine(t *testing.T) {
	dir := t.TempDir()
	pth := filepath.Join(dir, "agent.log")

	fr, err := Open(pth, 0640, Options{})
	require.NoError(t, err)
	defer fr.Close()
	fr.maxSize = 4

	_, err = fr.Write([]byte("no-newline-here"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "a write not terminated by a newline must not trigger rotation")
}

func TestRotateHistoryDeletesOldestBeyondMaxHistory(t *testing.T) {
	dir := t.TempDir()
	pth := filepath.Join(dir, "agent.log")

	fr, err := Open(pth, 0640, Options{MaxHistory: 2})
	require.NoError(t, err)
	defer fr.Close()
	fr.maxSize = 4

	for i := 0; i < 4; i++ {
		_, err = fr.Write([]byte("xxxxx\n"))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	// current file + at most maxHistory retained generations
	require.LessOrEqual(t, len(entries), 3)
}

func TestCompressFileProducesValidGzip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.log")
	dst := filepath.Join(dir, "dst.log.gz")
	require.NoError(t, os.WriteFile(src, []byte("payload\n"), 0640))

	require.NoError(t, compressFile(src, dst, 0640))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	var buf bytes.Buffer
	_, err = io.Copy(&buf, gz)
	require.NoError(t, err)
	require.Equal(t, "payload\n", buf.String())
}

func TestGetExtHandlesGzAndHistoryID(t *testing.T) {
	base, ext, ok := getExt("agent.2.log.gz")
	require.True(t, ok)
	require.Equal(t, "agent.2", base)
	require.Equal(t, ".log.gz", ext)
}

func TestResolveHistoryExtractsID(t *testing.T) {
	h, ok := resolveHistory("/var/log", "agent.3.log.gz")
	require.True(t, ok)
	require.Equal(t, "agent", h.baseName)
	require.Equal(t, uint(3), h.historyID)
	require.Equal(t, ".log.gz", h.ext)
}
