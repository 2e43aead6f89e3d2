package backend

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHTTPIngestHandlerAcceptsAuthenticatedBatch(t *testing.T) {
	serviceID := uuid.New()
	agentID := uuid.New()
	store := &fakeStore{bindings: []AgentBinding{{AgentID: agentID, ServiceID: serviceID, Token: "proj_abc_xyz"}}}
	h := NewHTTPIngestHandler(store, NewBroadcast(), nil)

	body := []byte(`[{"timeUnixNano":"1700000000000000000","serviceName":"api","body":"hello"}]`)
	req := httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer proj_abc_xyz")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.inserted, 1)
	require.Equal(t, serviceID, store.inserted[0].ServiceID)
	require.Equal(t, agentID, store.touchedAgent)
}

func TestHTTPIngestHandlerRejectsUnknownToken(t *testing.T) {
	store := &fakeStore{}
	h := NewHTTPIngestHandler(store, NewBroadcast(), nil)

	body := []byte(`[{"timeUnixNano":"1700000000000000000","serviceName":"api","body":"hello"}]`)
	req := httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, store.inserted)
}

func TestHTTPIngestHandlerRejectsMalformedTimestamp(t *testing.T) {
	serviceID := uuid.New()
	store := &fakeStore{bindings: []AgentBinding{{AgentID: uuid.New(), ServiceID: serviceID, Token: "tok"}}}
	h := NewHTTPIngestHandler(store, NewBroadcast(), nil)

	body := []byte(`[{"timeUnixNano":"not-a-number","serviceName":"api","body":"hello"}]`)
	req := httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, store.inserted)
}
