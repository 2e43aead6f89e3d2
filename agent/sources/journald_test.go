package sources

import (
	"context"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"
	"github.com/stretchr/testify/require"
)

// fakeJournal replays a fixed slice of entries, then returns io.EOF-style
// behavior by reporting no further entries once exhausted.
type fakeJournal struct {
	entries []*sdjournal.JournalEntry
	pos     int
	closed  bool
}

func (f *fakeJournal) SeekTail() error { return nil }

func (f *fakeJournal) Next() (uint64, error) {
	if f.pos >= len(f.entries) {
		return 0, nil
	}
	f.pos++
	return 1, nil
}

func (f *fakeJournal) Wait(timeout time.Duration) int {
	// Signal the caller should stop polling once every canned entry has
	// been consumed, by having the test's context do the cancelling.
	return 0
}

func (f *fakeJournal) GetEntry() (*sdjournal.JournalEntry, error) {
	return f.entries[f.pos-1], nil
}

func (f *fakeJournal) Close() error {
	f.closed = true
	return nil
}

func entry(fields map[string]string, realtimeMicros uint64) *sdjournal.JournalEntry {
	return &sdjournal.JournalEntry{Fields: fields, RealtimeTimestamp: realtimeMicros}
}

func TestJournaldLevelMapping(t *testing.T) {
	cases := map[string]string{
		"0": "ERROR", "3": "ERROR",
		"4": "WARN",
		"5": "INFO", "6": "INFO",
		"7":  "DEBUG",
		"99": "INFO",
	}
	for p, want := range cases {
		require.Equal(t, want, journaldLevel(p), "priority=%s", p)
	}
}

func TestJournaldConsumeFiltersByUnitSubstring(t *testing.T) {
	src := &JournaldSource{Units: []string{"nginx"}}
	jr := &fakeJournal{entries: []*sdjournal.JournalEntry{
		entry(map[string]string{"MESSAGE": "hello from nginx", "PRIORITY": "6", "_SYSTEMD_UNIT": "nginx.service"}, 1700000000000000),
		entry(map[string]string{"MESSAGE": "unrelated", "PRIORITY": "6", "_SYSTEMD_UNIT": "sshd.service"}, 1700000000000000),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(RecordChan, 10)
	done := make(chan struct{})
	go func() {
		src.consume(ctx, jr, out)
		close(done)
	}()

	// consume() blocks polling past the last canned entry (Next returns
	// 0, nil forever); cancel once both entries have had a chance to be
	// processed.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	bodies := drainRecords(out)
	require.Equal(t, []string{"hello from nginx"}, bodies)
}

func TestJournaldTimestampParsesRealtimeMicros(t *testing.T) {
	ts := journaldTimestamp(1700000000000000)
	require.Equal(t, int64(1700000000), ts.Unix())
}

func TestJournaldTimestampFallsBackToNowOnZero(t *testing.T) {
	ts := journaldTimestamp(0)
	require.False(t, ts.IsZero())
}

func TestJournaldMatchUnitFallsBackToUNITField(t *testing.T) {
	src := &JournaldSource{Units: []string{"sshd"}}
	unit, ok := src.matchUnit(map[string]string{"UNIT": "sshd.service"})
	require.True(t, ok)
	require.Equal(t, "sshd.service", unit)
}

func TestJournaldMatchUnitNoFieldsNoMatch(t *testing.T) {
	src := &JournaldSource{Units: []string{"sshd"}}
	_, ok := src.matchUnit(map[string]string{})
	require.False(t, ok)
}
