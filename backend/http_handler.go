package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mati-cloud/ilog/ingest"
	"github.com/mati-cloud/ilog/ingest/log"
)

// maxHTTPBodyBytes bounds the POST /v1/logs body the same way the TCP
// frame codec bounds payload_len, since this path never goes through
// ingest.ReadFrame's own cap.
const maxHTTPBodyBytes = ingest.MaxPayloadLen

// HTTPIngestHandler implements the HTTP fallback transport: POST
// /v1/logs, an OTLP-shaped JSON array of records authenticated by bearer
// token against the active agent bindings directly (no trial-decrypt,
// since this path carries no encryption).
type HTTPIngestHandler struct {
	store     ingestStore
	broadcast *Broadcast
	lg        *log.Logger
}

// NewHTTPIngestHandler wires the HTTP ingest path against the same store
// and broadcast the TCP server uses.
func NewHTTPIngestHandler(store ingestStore, broadcast *Broadcast, lg *log.Logger) *HTTPIngestHandler {
	return &HTTPIngestHandler{store: store, broadcast: broadcast, lg: lg}
}

func (h *HTTPIngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	binding, err := h.authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBodyBytes+1))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if len(body) > maxHTTPBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	var records []ingest.Record
	if err := json.Unmarshal(body, &records); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	for i := range records {
		records[i].ServiceID = binding.ServiceID
		if _, err := records[i].Timestamp(); err != nil {
			http.Error(w, "malformed record timestamp", http.StatusBadRequest)
			return
		}
	}

	if err := h.store.InsertLogs(r.Context(), records); err != nil {
		h.logf("http ingest: store failure: %v", err)
		http.Error(w, "store failure", http.StatusInternalServerError)
		return
	}

	if err := h.store.TouchAgentLastUsed(r.Context(), binding.AgentID); err != nil {
		h.logf("http ingest: touch last_used_at failed (non-fatal): %v", err)
	}

	for _, rec := range records {
		h.broadcast.Publish(rec)
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTPIngestHandler) authenticate(ctx context.Context, token string) (AgentBinding, error) {
	bindings, err := h.store.ListActiveAgents(ctx)
	if err != nil {
		return AgentBinding{}, err
	}
	for _, b := range bindings {
		if b.Token == token {
			return b, nil
		}
	}
	return AgentBinding{}, errUnauthorized
}

func (h *HTTPIngestHandler) logf(format string, args ...interface{}) {
	if h.lg != nil {
		h.lg.Errorf(format, args...)
	}
}
