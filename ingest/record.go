package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Severity buckets on the OTEL numeric scale: 1-4 TRACE, 5-8 DEBUG, 9-12
// INFO, 13-16 WARN, 17-20 ERROR, 21-24 FATAL.
const (
	SeverityTrace = "TRACE"
	SeverityDebug = "DEBUG"
	SeverityInfo  = "INFO"
	SeverityWarn  = "WARN"
	SeverityError = "ERROR"
	SeverityFatal = "FATAL"
)

// SeverityFromNumber maps an OTEL severity_number to its textual bucket.
// Numbers outside 1-24 map to the empty string.
func SeverityFromNumber(n int) string {
	switch {
	case n > 24:
		return ""
	case n >= 21:
		return SeverityFatal
	case n >= 17:
		return SeverityError
	case n >= 13:
		return SeverityWarn
	case n >= 9:
		return SeverityInfo
	case n >= 5:
		return SeverityDebug
	case n >= 1:
		return SeverityTrace
	default:
		return ""
	}
}

// Record is the canonical LogRecord shape shared by agent and server. JSON
// field names on the wire are camelCase; optional fields are omitted when
// absent rather than sent as null.
type Record struct {
	TimeUnixNano string `json:"timeUnixNano"`
	ServiceName  string `json:"serviceName"`
	Body         string `json:"body"`

	SeverityText   string `json:"severityText,omitempty"`
	SeverityNumber int    `json:"severityNumber,omitempty"`

	TraceID    string `json:"traceId,omitempty"`
	SpanID     string `json:"spanId,omitempty"`
	TraceFlags int    `json:"traceFlags,omitempty"`

	ResourceAttributes json.RawMessage `json:"resourceAttributes,omitempty"`
	LogAttributes      json.RawMessage `json:"logAttributes,omitempty"`
	ScopeAttributes    json.RawMessage `json:"scopeAttributes,omitempty"`

	ScopeName    string `json:"scopeName,omitempty"`
	ScopeVersion string `json:"scopeVersion,omitempty"`

	// ServiceID is assigned by the server at ingestion from the
	// authenticated agent binding. It must never be trusted from the wire.
	ServiceID uuid.UUID `json:"-"`
}

// recordWire mirrors Record for JSON encoding, with ServiceID carried as an
// optional string. UnmarshalJSON decodes into this shape but never copies
// serviceId back into the Record, so a value on an inbound wire payload is
// discarded rather than trusted; MarshalJSON fills it only when ServiceID
// is set, so a record with a zero ServiceID never serializes one (distinct
// from an explicit "00000000-..." value).
type recordWire struct {
	TimeUnixNano       string          `json:"timeUnixNano"`
	ServiceName        string          `json:"serviceName"`
	Body               string          `json:"body"`
	SeverityText       string          `json:"severityText,omitempty"`
	SeverityNumber     int             `json:"severityNumber,omitempty"`
	TraceID            string          `json:"traceId,omitempty"`
	SpanID             string          `json:"spanId,omitempty"`
	TraceFlags         int             `json:"traceFlags,omitempty"`
	ResourceAttributes json.RawMessage `json:"resourceAttributes,omitempty"`
	LogAttributes      json.RawMessage `json:"logAttributes,omitempty"`
	ScopeAttributes    json.RawMessage `json:"scopeAttributes,omitempty"`
	ScopeName          string          `json:"scopeName,omitempty"`
	ScopeVersion       string          `json:"scopeVersion,omitempty"`
	ServiceID          string          `json:"serviceId,omitempty"`
}

func (r Record) toWire() recordWire {
	w := recordWire{
		TimeUnixNano:       r.TimeUnixNano,
		ServiceName:        r.ServiceName,
		Body:               r.Body,
		SeverityText:       r.SeverityText,
		SeverityNumber:     r.SeverityNumber,
		TraceID:            r.TraceID,
		SpanID:             r.SpanID,
		TraceFlags:         r.TraceFlags,
		ResourceAttributes: r.ResourceAttributes,
		LogAttributes:      r.LogAttributes,
		ScopeAttributes:    r.ScopeAttributes,
		ScopeName:          r.ScopeName,
		ScopeVersion:       r.ScopeVersion,
	}
	if r.ServiceID != uuid.Nil {
		w.ServiceID = r.ServiceID.String()
	}
	return w
}

func (w recordWire) toRecord() Record {
	return Record{
		TimeUnixNano:       w.TimeUnixNano,
		ServiceName:        w.ServiceName,
		Body:               w.Body,
		SeverityText:       w.SeverityText,
		SeverityNumber:     w.SeverityNumber,
		TraceID:            w.TraceID,
		SpanID:             w.SpanID,
		TraceFlags:         w.TraceFlags,
		ResourceAttributes: w.ResourceAttributes,
		LogAttributes:      w.LogAttributes,
		ScopeAttributes:    w.ScopeAttributes,
		ScopeName:          w.ScopeName,
		ScopeVersion:       w.ScopeVersion,
		// ServiceID intentionally not populated from the wire.
	}
}

// MarshalJSON emits camelCase wire fields. serviceId is omitted when
// ServiceID is zero, as on every record the agent builds, and emitted when
// it is set, as on server-side records sent to stream subscribers.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire())
}

// UnmarshalJSON decodes camelCase wire fields. Any serviceId present in the
// input is discarded: service_id must only ever be assigned server-side
// from the authenticated agent binding, never trusted from the wire.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w recordWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = w.toRecord()
	return nil
}

// TimeUnixNanoFromTime formats t as a decimal string of 64-bit signed
// nanoseconds since the epoch, the wire representation of time_unix_nano.
func TimeUnixNanoFromTime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

// ParseTimeUnixNano parses the decimal time_unix_nano string into a
// time.Time. Per the persisted-record invariant, time_unix_nano as
// transmitted is authoritative: a value that fails to parse as a signed
// 64-bit integer is an error, not a silent "now" substitution — the caller
// must reject the whole batch.
func ParseTimeUnixNano(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timeUnixNano %q: %v", ErrFormat, s, err)
	}
	return time.Unix(0, n).UTC(), nil
}

// Timestamp parses TimeUnixNano via ParseTimeUnixNano.
func (r Record) Timestamp() (time.Time, error) {
	return ParseTimeUnixNano(r.TimeUnixNano)
}

// Validate checks the fields a record must carry regardless of source:
// a non-empty service name and a parseable timestamp. It does not check
// ServiceID, which is not yet assigned on records arriving from the wire.
func (r Record) Validate() error {
	if r.ServiceName == "" {
		return fmt.Errorf("%w: empty serviceName", ErrFormat)
	}
	if _, err := r.Timestamp(); err != nil {
		return err
	}
	return nil
}
