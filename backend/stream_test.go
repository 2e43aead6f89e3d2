package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mati-cloud/ilog/ingest"
)

type fakeQueryStore struct {
	records []ingest.Record
	err     error
}

func (f *fakeQueryStore) Query(ctx context.Context, filt QueryFilter) ([]ingest.Record, error) {
	return f.records, f.err
}

func signTestToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestStreamHandlerRejectsMissingAuth(t *testing.T) {
	h := NewStreamHandler(&fakeQueryStore{}, NewBroadcast(), "secret", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamHandlerReplaysThenGoesLive(t *testing.T) {
	serviceID := uuid.New()
	store := &fakeQueryStore{records: []ingest.Record{
		{TimeUnixNano: "3", ServiceName: "api", Body: "newest", ServiceID: serviceID},
		{TimeUnixNano: "1", ServiceName: "api", Body: "oldest", ServiceID: serviceID},
	}}
	b := NewBroadcast()
	h := NewStreamHandler(store, b, "secret", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?service=" + serviceID.String()
	hdr := http.Header{"Authorization": {"Bearer " + signTestToken(t, "secret")}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var r1 ingest.Record
	require.NoError(t, json.Unmarshal(msg, &r1))
	require.Equal(t, "oldest", r1.Body) // replay reverses newest-first storage order

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	var r2 ingest.Record
	require.NoError(t, json.Unmarshal(msg, &r2))
	require.Equal(t, "newest", r2.Body)

	// Now a live broadcast for the matching service arrives.
	time.Sleep(50 * time.Millisecond) // let the handler reach the live subscribe
	b.Publish(ingest.Record{ServiceID: serviceID, Body: "live one", TimeUnixNano: "5"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	var r3 ingest.Record
	require.NoError(t, json.Unmarshal(msg, &r3))
	require.Equal(t, "live one", r3.Body)
}

func TestStreamHandlerFiltersOtherServices(t *testing.T) {
	serviceID := uuid.New()
	other := uuid.New()
	store := &fakeQueryStore{}
	b := NewBroadcast()
	h := NewStreamHandler(store, b, "secret", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?service=" + serviceID.String()
	hdr := http.Header{"Authorization": {"Bearer " + signTestToken(t, "secret")}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	b.Publish(ingest.Record{ServiceID: other, Body: "not for you"})
	b.Publish(ingest.Record{ServiceID: serviceID, Body: "for you"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var r ingest.Record
	require.NoError(t, json.Unmarshal(msg, &r))
	require.Equal(t, "for you", r.Body)
}
