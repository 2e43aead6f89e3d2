package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mati-cloud/ilog/ingest"
	"github.com/mati-cloud/ilog/ingest/log"
)

// bindingCacheTTL bounds how stale the active-agent list may be. Per the
// design notes, invalidation is not required for correctness: a newly
// revoked token simply stops authenticating once its binding falls out of
// a future refresh, and a newly issued one becomes usable within one TTL.
const bindingCacheTTL = 5 * time.Second

// ingestStore is the subset of Store the ingestion path needs, narrowed to
// an interface so server tests can substitute a fake instead of a live
// Postgres connection.
type ingestStore interface {
	ListActiveAgents(ctx context.Context) ([]AgentBinding, error)
	TouchAgentLastUsed(ctx context.Context, agentID uuid.UUID) error
	InsertLogs(ctx context.Context, records []ingest.Record) error
}

// Server is the TCP ingestion server: one accept loop, a shared broadcast,
// and the store it authenticates bindings and persists records against.
type Server struct {
	store     ingestStore
	broadcast *Broadcast
	lg        *log.Logger

	mtx      sync.Mutex
	cached   []AgentBinding
	cachedAt time.Time
}

// NewServer wires a Server against its store and broadcast. lg may be nil,
// in which case logging is a no-op.
func NewServer(store ingestStore, broadcast *Broadcast, lg *log.Logger) *Server {
	return &Server{store: store, broadcast: broadcast, lg: lg}
}

// Serve binds addr and accepts connections until ctx is cancelled,
// spawning one handler goroutine per connection.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("backend: listen %s: %w", addr, err)
	}
	s.logf("tcp ingestion server listening on %s", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("backend: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr()
	s.logf("agent connection established from %s", peer)

	for {
		frame, err := ingest.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || isConnReset(err) {
				s.logf("agent disconnected gracefully: %s", peer)
			} else {
				s.logf("agent disconnected with error from %s: %v", peer, err)
			}
			return
		}

		switch frame.Type {
		case ingest.FrameLogBatch:
			serviceID, count, err := s.ingestBatch(ctx, frame.Payload)
			if err != nil {
				s.logf("failed to process log batch from %s: %v", peer, err)
				return
			}
			s.logf("processed %d records from %s for service %s", count, peer, serviceID)
			if err := ingest.WriteFrame(conn, ingest.NewAck()); err != nil {
				s.logf("failed to send ack: %v", err)
				return
			}
		case ingest.FrameHeartbeat:
			if err := ingest.WriteFrame(conn, ingest.NewAck()); err != nil {
				s.logf("failed to send heartbeat ack: %v", err)
				return
			}
		case ingest.FrameAck:
			s.logf("received unexpected ack from %s", peer)
		}
	}
}

func isConnReset(err error) bool {
	return strings.Contains(err.Error(), "reset by peer") || strings.Contains(err.Error(), "closed")
}

// ingestBatch implements the ingest-batch algorithm: trial-decrypt
// authentication against every active binding, best-effort last-used
// touch, decompress, parse, service_id assignment, atomic insert,
// broadcast. Returns the authenticated service id and record count.
func (s *Server) ingestBatch(ctx context.Context, payload []byte) (serviceID string, count int, err error) {
	bindings, err := s.activeBindings(ctx)
	if err != nil {
		return "", 0, err
	}

	now := time.Now()
	var authed *AgentBinding
	var records []ingest.Record
	for i := range bindings {
		b := bindings[i]
		if !b.active(now) {
			continue
		}
		aead, derr := ingest.NewAEADFromToken(b.Token)
		if derr != nil {
			continue
		}
		recs, derr := ingest.DecodeBatch(payload, aead)
		if derr != nil {
			continue
		}
		authed = &b
		records = recs
		break
	}
	if authed == nil {
		return "", 0, ingest.ErrAuth
	}

	if err := s.store.TouchAgentLastUsed(ctx, authed.AgentID); err != nil {
		s.logf("touch last_used_at failed (non-fatal): %v", err)
	}

	for i := range records {
		records[i].ServiceID = authed.ServiceID
		if _, err := records[i].Timestamp(); err != nil {
			return "", 0, fmt.Errorf("%w: %v", ingest.ErrFormat, err)
		}
	}

	if err := s.store.InsertLogs(ctx, records); err != nil {
		return "", 0, err
	}

	for _, rec := range records {
		s.broadcast.Publish(rec)
	}

	return authed.ServiceID.String(), len(records), nil
}

// activeBindings returns the cached binding list, refreshing it from the
// store when the cache has expired.
func (s *Server) activeBindings(ctx context.Context) ([]AgentBinding, error) {
	s.mtx.Lock()
	if time.Since(s.cachedAt) < bindingCacheTTL && s.cached != nil {
		defer s.mtx.Unlock()
		return s.cached, nil
	}
	s.mtx.Unlock()

	bindings, err := s.store.ListActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	s.mtx.Lock()
	s.cached = bindings
	s.cachedAt = time.Now()
	s.mtx.Unlock()
	return bindings, nil
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.lg != nil {
		s.lg.Infof(format, args...)
	}
}
