// Package sender implements the agent's TCP transmission pipeline:
// micro-batching, compression, encryption, framed transmission, heartbeats,
// and bounded reconnect-with-backoff.
package sender

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mati-cloud/ilog/agent/sources"
	"github.com/mati-cloud/ilog/ingest"
	"github.com/mati-cloud/ilog/ingest/log"
)

const (
	microBatchDelay = 10 * time.Millisecond
	maxBatchSize    = 50
	heartbeatPeriod = 30 * time.Second
	maxRetries      = 3
)

// Sender owns the in-memory buffer, the outbound connection, and the AEAD
// key for a single agent. It is not safe for concurrent use; Run is meant
// to be the only goroutine touching it.
type Sender struct {
	addr string
	aead *ingest.AEAD
	lg   *log.Logger

	conn   net.Conn
	buffer []ingest.Record
}

// New builds a Sender that will dial addr on demand and encrypt batches
// with the key derived from token.
func New(addr, token string, lg *log.Logger) (*Sender, error) {
	aead, err := ingest.NewAEADFromToken(token)
	if err != nil {
		return nil, fmt.Errorf("sender: deriving key: %w", err)
	}
	return &Sender{addr: addr, aead: aead, lg: lg}, nil
}

// Run drains in, micro-batching records and flushing on the heartbeat
// cadence, until ctx is cancelled or in is closed.
func (s *Sender) Run(ctx context.Context, in sources.RecordChan) error {
	defer s.closeConn()
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			s.buffer = append(s.buffer, rec)
			s.drainMicroBatch(ctx, in)
			if err := s.flush(ctx); err != nil {
				s.logf("flush failed, buffer retained: %v", err)
			}
		case <-ticker.C:
			if err := s.flush(ctx); err != nil {
				s.logf("heartbeat flush failed: %v", err)
			}
			if err := s.sendHeartbeat(ctx); err != nil {
				s.logf("heartbeat send failed: %v", err)
				s.closeConn()
			}
		}
	}
}

// drainMicroBatch waits the fixed micro-batch delay, then drains whatever
// else has arrived on the channel non-blockingly, up to the per-batch cap.
func (s *Sender) drainMicroBatch(ctx context.Context, in sources.RecordChan) {
	select {
	case <-time.After(microBatchDelay):
	case <-ctx.Done():
		return
	}
	for len(s.buffer) < maxBatchSize {
		select {
		case rec := <-in:
			s.buffer = append(s.buffer, rec)
		default:
			return
		}
	}
}

// flush is a no-op on an empty buffer. Otherwise it serializes, compresses,
// encrypts, and transmits the buffer, retrying the connect+write step with
// exponential backoff (2^k seconds, k in {1,2,3}) up to maxRetries times.
// After the retries are exhausted the buffer is retained — not cleared —
// so records are not lost while the process keeps running.
func (s *Sender) flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	encrypted, err := ingest.EncodeBatch(s.buffer, s.aead)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	frame := ingest.NewLogBatch(encrypted)

	var lastErr error
	for attempt := 0; ; {
		conn, err := s.ensureConn()
		if err == nil {
			if err = ingest.WriteFrame(conn, frame); err == nil {
				s.buffer = s.buffer[:0]
				return nil
			}
		}
		lastErr = err
		s.closeConn()
		attempt++
		backoff := time.Duration(1<<uint(attempt)) * time.Second // 2^k, k = attempt
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if attempt >= maxRetries {
			break
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendHeartbeat(ctx context.Context) error {
	conn, err := s.ensureConn()
	if err != nil {
		return err
	}
	return ingest.WriteFrame(conn, ingest.NewHeartbeat())
}

func (s *Sender) ensureConn() (net.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", s.addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	s.conn = conn
	return conn, nil
}

func (s *Sender) closeConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Sender) logf(format string, args ...interface{}) {
	if s.lg != nil {
		s.lg.Errorf(format, args...)
	}
}
