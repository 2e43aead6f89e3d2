package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/mati-cloud/ilog/ingest"
	"github.com/mati-cloud/ilog/ingest/log"
)

// logStreamer opens a follow-mode stdout+stderr combined stream for a
// container. The default implementation goes through the Docker Engine
// API; tests substitute an in-memory reader.
type logStreamer func(ctx context.Context, container string) (io.ReadCloser, error)

// dockerAPIStreamer opens a container's combined stdout+stderr log stream
// through the Engine API and demultiplexes the stdcopy-framed result (the
// wire format ContainerLogs uses for non-TTY containers) into one plain
// text stream.
func dockerAPIStreamer(cli *client.Client) logStreamer {
	return func(ctx context.Context, containerID string) (io.ReadCloser, error) {
		rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
			Tail:       "10",
		})
		if err != nil {
			return nil, err
		}
		pr, pw := io.Pipe()
		go func() {
			_, cerr := stdcopy.StdCopy(pw, pw, rc)
			rc.Close()
			pw.CloseWithError(cerr)
		}()
		return pr, nil
	}
}

// ContainerSource follows a fixed list of container names, coalescing
// multi-line output and extracting timestamp/level the way the spec's
// container follower requires.
type ContainerSource struct {
	Containers []string
	Logger     *log.Logger

	// stream is overridable for tests; production code leaves it nil and a
	// Docker Engine API-backed streamer is constructed in Start.
	stream logStreamer
}

func (c *ContainerSource) Name() string { return "docker" }

func (c *ContainerSource) Start(ctx context.Context, out RecordChan) error {
	streamer := c.stream
	if streamer == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("docker source: connecting to engine: %w", err)
		}
		defer cli.Close()
		streamer = dockerAPIStreamer(cli)
	}
	errCh := make(chan error, len(c.Containers))
	for _, name := range c.Containers {
		name := name
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- nil
					return
				}
				rc, err := streamer(ctx, name)
				if err != nil {
					c.logf("opening log stream for %s: %v", name, err)
					select {
					case <-ctx.Done():
						errCh <- nil
						return
					case <-time.After(2 * time.Second):
						continue
					}
				}
				coalesceContainerLines(ctx, name, rc, out)
				rc.Close()
				if ctx.Err() != nil {
					errCh <- nil
					return
				}
				// Stream ended (container stopped, restarted); back off
				// briefly and reconnect.
				select {
				case <-ctx.Done():
					errCh <- nil
					return
				case <-time.After(2 * time.Second):
				}
			}
		}()
	}
	for range c.Containers {
		<-errCh
	}
	return nil
}

func (c *ContainerSource) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Errorf(format, args...)
	}
}

var ansiCSI = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")

func stripANSI(s string) string {
	return ansiCSI.ReplaceAllString(s, "")
}

var leadingTimestamp = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?)(?:\s+UTC)?(?:\s+\[\d+\])?(?:\s+\w+:)?\s*`)

// parseLeadingTimestamp returns the parsed time and the remainder of the
// line with the timestamp (and any "UTC"/"[pid]"/"label:" trailer) removed,
// or ok=false if no leading timestamp matched.
func parseLeadingTimestamp(line string) (ts time.Time, rest string, ok bool) {
	loc := leadingTimestamp.FindStringSubmatchIndex(line)
	if loc == nil {
		return time.Time{}, line, false
	}
	iso := line[loc[2]:loc[3]]
	rest = line[loc[1]:]
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.UTC(), rest, true
		}
	}
	// No zone and no fractional seconds matched any layout verbatim; try
	// appending Z, the common case for naive "looks like UTC" timestamps.
	if t, err := time.Parse(time.RFC3339, iso+"Z"); err == nil {
		return t.UTC(), rest, true
	}
	return time.Time{}, line, false
}

var levelPattern = regexp.MustCompile(`(?i)[\[(]?\b(ERROR|ERR|WARNING|WARN|INFO|DEBUG)\b[\])]?`)

var levelCanonical = map[string]string{
	"ERROR": "ERROR", "ERR": "ERROR",
	"WARN": "WARN", "WARNING": "WARN",
	"INFO": "INFO", "DEBUG": "DEBUG",
}

// parseLevel scans for a level token variant, strips the matched substring
// from body, and collapses repeated spaces left behind.
func parseLevel(body string) (level, cleaned string) {
	loc := levelPattern.FindStringSubmatchIndex(body)
	if loc == nil {
		return "", body
	}
	raw := strings.ToUpper(body[loc[2]:loc[3]])
	level = levelCanonical[raw]
	cleaned = body[:loc[0]] + " " + body[loc[1]:]
	cleaned = multiSpace.ReplaceAllString(cleaned, " ")
	return level, strings.TrimSpace(cleaned)
}

var multiSpace = regexp.MustCompile(`\s+`)

type pendingRecord struct {
	serviceName string
	level       string
	ts          time.Time
	lines       []string
}

// coalesceContainerLines implements the per-container multi-line state
// machine: bracket_depth counts unmatched '{' minus '}' across all
// processed text. A timestamped line starts a new record only when
// bracket_depth == 0; otherwise (or when the line carries no timestamp)
// it is appended to the pending record, which flushes once bracket_depth
// returns to zero.
func coalesceContainerLines(ctx context.Context, container string, r io.Reader, out RecordChan) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pending *pendingRecord
	bracketDepth := 0

	flush := func() {
		if pending == nil {
			return
		}
		body := strings.Join(pending.lines, "\n")
		attrs := logAttributes("docker", map[string]string{"container": container})
		rec := ingest.Record{
			TimeUnixNano:  ingest.TimeUnixNanoFromTime(pending.ts),
			ServiceName:   pending.serviceName,
			Body:          body,
			SeverityText:  pending.level,
			LogAttributes: attrs,
		}
		push(ctx, out, rec)
		pending = nil
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := stripANSI(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		ts, rest, hasTS := parseLeadingTimestamp(line)
		level, cleaned := parseLevel(rest)

		if hasTS && bracketDepth == 0 {
			flush()
			pending = &pendingRecord{serviceName: container, level: level, ts: ts, lines: []string{cleaned}}
			bracketDepth += countBracketDelta(cleaned)
			if bracketDepth == 0 {
				flush()
			}
			continue
		}

		if pending == nil {
			// No pending record and a non-timestamped (or mid-bracket)
			// line arrived: emit it standalone with timestamp = now.
			lvl, cl := parseLevel(line)
			rec := ingest.Record{
				TimeUnixNano:  ingest.TimeUnixNanoFromTime(time.Now()),
				ServiceName:   container,
				Body:          cl,
				SeverityText:  lvl,
				LogAttributes: logAttributes("docker", map[string]string{"container": container}),
			}
			push(ctx, out, rec)
			continue
		}

		pending.lines = append(pending.lines, cleaned)
		bracketDepth += countBracketDelta(cleaned)
		if bracketDepth == 0 {
			flush()
		}
	}
	flush()
}

func countBracketDelta(s string) int {
	delta := 0
	for _, r := range s {
		switch r {
		case '{':
			delta++
		case '}':
			delta--
		}
	}
	return delta
}
