// Package sources implements the agent's collectors: the file tailer,
// container log follower, and journal follower. Each exposes the same
// contract — Start(ctx, out) runs until ctx is cancelled — so the agent
// wires them up via a small fixed tagged-variant dispatch rather than an
// open-set plugin model.
package sources

import (
	"context"
	"encoding/json"

	"github.com/mati-cloud/ilog/ingest"
)

// RecordChan is the single bounded channel every collector pushes into.
// Capacity 1000 provides backpressure: a collector that cannot push
// SHOULD block rather than drop.
type RecordChan chan ingest.Record

// NewRecordChan allocates the channel at its specified capacity.
func NewRecordChan() RecordChan {
	return make(RecordChan, 1000)
}

// Source is the common contract every collector variant satisfies.
type Source interface {
	// Start runs the collector until ctx is cancelled, pushing records
	// into out. It blocks the calling goroutine; callers run it in its own
	// goroutine and wait on it via a sync.WaitGroup or errgroup.
	Start(ctx context.Context, out RecordChan) error
	// Name identifies the collector for logging, e.g. "file", "docker",
	// "journald".
	Name() string
}

// push sends rec on out, blocking under backpressure, and returns early if
// ctx is cancelled first.
func push(ctx context.Context, out RecordChan, rec ingest.Record) error {
	select {
	case out <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logAttributes builds the logAttributes JSON object every collector
// attaches, always including source_type.
func logAttributes(sourceType string, extra map[string]string) json.RawMessage {
	m := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		m[k] = v
	}
	m["source_type"] = sourceType
	b, err := json.Marshal(m)
	if err != nil {
		// Only strings in the map; Marshal cannot fail here.
		panic(err)
	}
	return b
}
