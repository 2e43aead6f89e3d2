package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecordJSONOmitsServiceIDWhenZero(t *testing.T) {
	r := Record{TimeUnixNano: "1700000000000000000", ServiceName: "api", Body: "hello"}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	require.NotContains(t, string(b), "serviceId")
}

func TestRecordJSONIgnoresWireServiceID(t *testing.T) {
	in := `{"timeUnixNano":"1700000000000000000","serviceName":"api","body":"hi","serviceId":"11111111-1111-1111-1111-111111111111"}`
	var r Record
	require.NoError(t, json.Unmarshal([]byte(in), &r))
	require.Equal(t, uuid.Nil, r.ServiceID)
	require.Equal(t, "api", r.ServiceName)
}

func TestRecordJSONMarshalIncludesServiceIDWhenSet(t *testing.T) {
	r := Record{
		TimeUnixNano: "1700000000000000000",
		ServiceName:  "api",
		Body:         "hello",
		ServiceID:    uuid.New(),
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	var got Record
	require.NoError(t, json.Unmarshal(b, &got))
	// MarshalJSON emits a set ServiceID (server re-marshaling its own
	// authenticated records), but UnmarshalJSON never reads it back in from
	// a payload; that's covered by the test above.
	require.Contains(t, string(b), r.ServiceID.String())
}

func TestParseTimeUnixNanoRejectsGarbage(t *testing.T) {
	_, err := ParseTimeUnixNano("not-a-number")
	require.ErrorIs(t, err, ErrFormat)
}

func TestParseTimeUnixNanoRejectsOverflow(t *testing.T) {
	_, err := ParseTimeUnixNano("99999999999999999999999999")
	require.ErrorIs(t, err, ErrFormat)
}

func TestParseTimeUnixNanoBoundaryValues(t *testing.T) {
	for _, s := range []string{"-9223372036854775808", "9223372036854775807"} {
		ts, err := ParseTimeUnixNano(s)
		require.NoError(t, err)
		require.False(t, ts.IsZero())
	}
}

func TestTimeUnixNanoRoundTrip(t *testing.T) {
	now := time.Unix(0, 1700000000123456789).UTC()
	s := TimeUnixNanoFromTime(now)
	got, err := ParseTimeUnixNano(s)
	require.NoError(t, err)
	require.True(t, now.Equal(got))
}

func TestSeverityFromNumber(t *testing.T) {
	cases := map[int]string{
		1: SeverityTrace, 4: SeverityTrace,
		5: SeverityDebug, 8: SeverityDebug,
		9: SeverityInfo, 12: SeverityInfo,
		13: SeverityWarn, 16: SeverityWarn,
		17: SeverityError, 20: SeverityError,
		21: SeverityFatal, 24: SeverityFatal,
		0: "", 25: "",
	}
	for n, want := range cases {
		require.Equal(t, want, SeverityFromNumber(n), "n=%d", n)
	}
}

func TestRecordValidateRejectsEmptyServiceName(t *testing.T) {
	r := Record{TimeUnixNano: "1700000000000000000", Body: "x"}
	require.ErrorIs(t, r.Validate(), ErrFormat)
}

func TestRecordValidateRejectsBadTimestamp(t *testing.T) {
	r := Record{TimeUnixNano: "nope", ServiceName: "api", Body: "x"}
	require.ErrorIs(t, r.Validate(), ErrFormat)
}
