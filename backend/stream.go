package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mati-cloud/ilog/ingest"
	"github.com/mati-cloud/ilog/ingest/log"
)

// subscriberState is the per-subscriber lifecycle spec'd as
// {Upgrading, Replaying, Live, Closed}.
type subscriberState int

const (
	stateUpgrading subscriberState = iota
	stateReplaying
	stateLive
	stateClosed
)

const (
	replayWindow = 24 * time.Hour
	replayLimit  = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// queryStore is the subset Store exposes for historical replay.
type queryStore interface {
	Query(ctx context.Context, f QueryFilter) ([]ingest.Record, error)
}

// StreamHandler upgrades `/api/logs/stream` requests to a WebSocket and
// runs the replay-then-live subscriber loop, per §4.7 of the streaming
// fan-out design.
type StreamHandler struct {
	store     queryStore
	broadcast *Broadcast
	jwtSecret string
	lg        *log.Logger
}

// NewStreamHandler wires a StreamHandler against the store it replays
// from, the broadcast it subscribes to live, and the secret verifying
// bearer tokens on upgrade.
func NewStreamHandler(store queryStore, broadcast *Broadcast, jwtSecret string, lg *log.Logger) *StreamHandler {
	return &StreamHandler{store: store, broadcast: broadcast, jwtSecret: jwtSecret, lg: lg}
}

// ServeHTTP implements the subscribe endpoint: GET /api/logs/stream.
// State moves Upgrading -> Replaying on auth-ok, Replaying -> Live once
// replay finishes, and either -> Closed on error or client disconnect.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := VerifyBearerToken(r.Header.Get("Authorization"), h.jwtSecret); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var serviceFilter *uuid.UUID
	if raw := r.URL.Query().Get("service"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "bad service filter", http.StatusBadRequest)
			return
		}
		serviceFilter = &id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.replay(r.Context(), conn, serviceFilter)
	h.live(r.Context(), conn, serviceFilter)
}

func (h *StreamHandler) replay(ctx context.Context, conn *websocket.Conn, serviceFilter *uuid.UUID) {
	now := time.Now()
	records, err := h.store.Query(ctx, QueryFilter{
		ServiceID: serviceFilter,
		StartTime: now.Add(-replayWindow),
		EndTime:   now,
		Limit:     replayLimit,
	})
	if err != nil {
		h.logf("replay query failed, proceeding to live: %v", err)
		return
	}
	// query_logs returns newest-first; replay must be chronological.
	for i := len(records) - 1; i >= 0; i-- {
		if err := writeRecord(conn, records[i]); err != nil {
			h.logf("replay send failed: %v", err)
			return
		}
	}
}

func (h *StreamHandler) live(ctx context.Context, conn *websocket.Conn, serviceFilter *uuid.UUID) {
	sub, unsub := h.broadcast.Subscribe()
	defer unsub()

	disconnect := make(chan struct{})
	go h.watchClientClose(conn, disconnect)

	var lastLagged int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-disconnect:
			return
		case rec, ok := <-sub.Recv():
			if !ok {
				return
			}
			if lagged := sub.Lagged(); lagged > lastLagged {
				h.logf("subscriber lagging, dropped %d records so far", lagged)
				lastLagged = lagged
			}
			if serviceFilter != nil && rec.ServiceID != *serviceFilter {
				continue
			}
			if err := writeRecord(conn, rec); err != nil {
				h.logf("live send failed, closing: %v", err)
				return
			}
		}
	}
}

// watchClientClose drains client-initiated control/text frames, closing
// disconnect when the client disconnects — the receive half of the
// "first completion cancels the other" pairing.
func (h *StreamHandler) watchClientClose(conn *websocket.Conn, disconnect chan<- struct{}) {
	defer close(disconnect)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeRecord(conn *websocket.Conn, rec ingest.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (h *StreamHandler) logf(format string, args ...interface{}) {
	if h.lg != nil {
		h.lg.Errorf(format, args...)
	}
}
