package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mati-cloud/ilog/agent/sources"
	"github.com/mati-cloud/ilog/ingest/log"
)

// HTTPSender is the `agent.protocol = "http"` fallback transport: it posts
// the same micro-batched records as an OTLP-shaped JSON array to
// POST /v1/logs with a bearer token, skipping framing and encryption
// entirely (per the wire protocol's documented HTTP fallback, which does
// not carry encryption — a production deployment should keep this behind
// TLS at the transport layer).
type HTTPSender struct {
	url    string
	token  string
	client *http.Client
	lg     *log.Logger

	buffer []json.RawMessage
}

// NewHTTPSender builds an HTTPSender posting to url (expected to be
// ".../v1/logs") with the given bearer token.
func NewHTTPSender(url, token string, lg *log.Logger) *HTTPSender {
	return &HTTPSender{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		lg:     lg,
	}
}

// Run drains in using the same micro-batch cadence as the TCP sender, but
// flushes via HTTP POST instead of a framed connection.
func (s *HTTPSender) Run(ctx context.Context, in sources.RecordChan) error {
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
			b, err := json.Marshal(rec)
			if err != nil {
				s.logf("marshaling record: %v", err)
				continue
			}
			s.buffer = append(s.buffer, b)
			s.drainMicroBatch(ctx, in)
			if err := s.flush(ctx); err != nil {
				s.logf("http flush failed, buffer retained: %v", err)
			}
		case <-ticker.C:
			if err := s.flush(ctx); err != nil {
				s.logf("http heartbeat flush failed: %v", err)
			}
			// The HTTP transport has no connection to keep alive; there is
			// nothing analogous to a Heartbeat frame to send here.
		}
	}
}

func (s *HTTPSender) drainMicroBatch(ctx context.Context, in sources.RecordChan) {
	select {
	case <-time.After(microBatchDelay):
	case <-ctx.Done():
		return
	}
	for len(s.buffer) < maxBatchSize {
		select {
		case rec := <-in:
			b, err := json.Marshal(rec)
			if err != nil {
				s.logf("marshaling record: %v", err)
				continue
			}
			s.buffer = append(s.buffer, b)
		default:
			return
		}
	}
}

func (s *HTTPSender) flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	payload := append(append([]byte("["), joinRawMessages(s.buffer)...), ']')

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	s.buffer = s.buffer[:0]
	return nil
}

func joinRawMessages(msgs []json.RawMessage) []byte {
	var buf bytes.Buffer
	for i, m := range msgs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(m)
	}
	return buf.Bytes()
}

func (s *HTTPSender) logf(format string, args ...interface{}) {
	if s.lg != nil {
		s.lg.Errorf(format, args...)
	}
}
