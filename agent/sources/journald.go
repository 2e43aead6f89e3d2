package sources

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"

	"github.com/mati-cloud/ilog/ingest"
	"github.com/mati-cloud/ilog/ingest/log"
)

const journalWaitTimeout = time.Second

// journalReader is the subset of *sdjournal.Journal this source depends
// on, narrowed so tests can drive consume against a canned sequence of
// entries instead of a live journal.
type journalReader interface {
	SeekTail() error
	Next() (uint64, error)
	Wait(timeout time.Duration) int
	GetEntry() (*sdjournal.JournalEntry, error)
	Close() error
}

// JournaldSource subscribes to the host journal and forwards entries whose
// _SYSTEMD_UNIT or UNIT field contains one of the configured substrings.
type JournaldSource struct {
	Units  []string
	Logger *log.Logger

	// newJournal is overridable in tests.
	newJournal func() (journalReader, error)
}

func (j *JournaldSource) Name() string { return "journald" }

func (j *JournaldSource) Start(ctx context.Context, out RecordChan) error {
	if len(j.Units) == 0 {
		return nil
	}
	newJournal := j.newJournal
	if newJournal == nil {
		newJournal = func() (journalReader, error) { return sdjournal.NewJournal() }
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		jr, err := newJournal()
		if err != nil {
			j.logf("opening journal: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
				continue
			}
		}
		if err := jr.SeekTail(); err != nil {
			j.logf("seeking journal tail: %v", err)
			jr.Close()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
				continue
			}
		}
		j.consume(ctx, jr, out)
		jr.Close()
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (j *JournaldSource) logf(format string, args ...interface{}) {
	if j.Logger != nil {
		j.Logger.Errorf(format, args...)
	}
}

func (j *JournaldSource) matchUnit(fields map[string]string) (string, bool) {
	unit := fields["_SYSTEMD_UNIT"]
	if unit == "" {
		unit = fields["UNIT"]
	}
	if unit == "" {
		return "", false
	}
	for _, want := range j.Units {
		if strings.Contains(unit, want) {
			return unit, true
		}
	}
	return "", false
}

func journaldLevel(priority string) string {
	switch priority {
	case "0", "1", "2", "3":
		return "ERROR"
	case "4":
		return "WARN"
	case "5", "6":
		return "INFO"
	case "7":
		return "DEBUG"
	default:
		return "INFO"
	}
}

// journaldTimestamp converts a journal entry's RealtimeTimestamp (a
// microsecond count since the epoch) to a time.Time. It is a local
// best-effort read of the journal's own clock, not the strict
// reject-on-failure rule that applies to a batch's transmitted
// time_unix_nano.
func journaldTimestamp(micros uint64) time.Time {
	if micros == 0 {
		return time.Now()
	}
	return time.UnixMicro(int64(micros)).UTC()
}

// consume reads entries from jr until Next returns an error (the journal
// connection dropped) or ctx is cancelled, forwarding matched entries and
// blocking on Wait between polls when nothing new is available.
func (j *JournaldSource) consume(ctx context.Context, jr journalReader, out RecordChan) {
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := jr.Next()
		if err != nil {
			j.logf("reading journal: %v", err)
			return
		}
		if n == 0 {
			jr.Wait(journalWaitTimeout)
			continue
		}
		entry, err := jr.GetEntry()
		if err != nil {
			continue
		}
		msg := entry.Fields["MESSAGE"]
		if msg == "" {
			continue
		}
		unit, ok := j.matchUnit(entry.Fields)
		if !ok {
			continue
		}
		attrs := logAttributes("journald", map[string]string{
			"unit": unit,
			"pid":  entry.Fields["_PID"],
			"uid":  entry.Fields["_UID"],
		})
		rec := ingest.Record{
			TimeUnixNano:  ingest.TimeUnixNanoFromTime(journaldTimestamp(entry.RealtimeTimestamp)),
			ServiceName:   unit,
			Body:          msg,
			SeverityText:  journaldLevel(entry.Fields["PRIORITY"]),
			LogAttributes: attrs,
		}
		push(ctx, out, rec)
	}
}
