package log

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type closeBuf struct {
	bytes.Buffer
	closed bool
}

func (c *closeBuf) Close() error {
	c.closed = true
	return nil
}

func TestLevelFromStringRoundTrips(t *testing.T) {
	for _, lvl := range []Level{OFF, DEBUG, INFO, WARN, ERROR, CRITICAL, FATAL} {
		got, err := LevelFromString(lvl.String())
		require.NoError(t, err)
		require.Equal(t, lvl, got)
	}
}

func TestLevelFromStringRejectsUnknown(t *testing.T) {
	_, err := LevelFromString("NOISY")
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestLevelFromStringCaseInsensitive(t *testing.T) {
	got, err := LevelFromString("warn")
	require.NoError(t, err)
	require.Equal(t, WARN, got)
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf closeBuf
	l := New(&buf)
	require.NoError(t, l.SetLevel(WARN))

	require.NoError(t, l.Infof("should not appear"))
	require.Empty(t, buf.String())

	require.NoError(t, l.Warnf("should appear"))
	require.Contains(t, buf.String(), "should appear")
}

func TestLoggerSetLevelStringRejectsInvalid(t *testing.T) {
	l := New(&closeBuf{})
	require.Error(t, l.SetLevelString("bogus"))
}

func TestLoggerAddWriterFansOutToAll(t *testing.T) {
	var a, b closeBuf
	l := New(&a)
	require.NoError(t, l.AddWriter(&b))
	require.NoError(t, l.Infof("hello %d", 1))
	require.Contains(t, a.String(), "hello 1")
	require.Contains(t, b.String(), "hello 1")
}

func TestLoggerAddWriterRejectsNil(t *testing.T) {
	l := New(&closeBuf{})
	require.Error(t, l.AddWriter(nil))
}

func TestLoggerCloseClosesWriters(t *testing.T) {
	var buf closeBuf
	l := New(&buf)
	require.NoError(t, l.Close())
	require.True(t, buf.closed)
	require.ErrorIs(t, l.Close(), ErrNotOpen)
}

func TestLoggerWriteAfterCloseFails(t *testing.T) {
	l := New(&closeBuf{})
	require.NoError(t, l.Close())
	require.ErrorIs(t, l.Infof("nope"), ErrNotOpen)
}

func TestLoggerImplementsIoWriter(t *testing.T) {
	var buf closeBuf
	l := New(&buf)
	var w io.Writer = l
	n, err := w.Write([]byte("raw bytes"))
	require.NoError(t, err)
	require.Equal(t, len("raw bytes"), n)
	require.Contains(t, buf.String(), "raw bytes")
}

func TestFormatRFC5424IncludesHostnameAndMessage(t *testing.T) {
	l := New(&closeBuf{})
	l.hostname = "ilog-host"
	l.appname = "ilog-agent"
	line, err := l.formatRFC5424(time.Now(), INFO, "main.go:10", "starting up")
	require.NoError(t, err)
	require.True(t, strings.Contains(line, "ilog-host"))
	require.True(t, strings.Contains(line, "ilog-agent"))
	require.True(t, strings.Contains(line, "starting up"))
}
