package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/mati-cloud/ilog/ingest"
	"github.com/mati-cloud/ilog/ingest/log"
)

// FileSource tails a set of glob path patterns. Directories in the pattern
// list are expanded to "**/*.log"; all patterns are expanded once at
// start — this spec does not require dynamic rediscovery of files created
// after startup.
//
// Rotation policy: on fsnotify reporting the watched path removed/renamed,
// or on a detected truncation (current offset beyond the file's new size),
// FileSource reopens the path and resumes tailing from the new file's end.
// This is the simpler "reopen at end" policy rather than replaying
// whatever was written to the new file before the agent noticed — chosen
// because the source collectors have no durable position store to restart
// from correctly, and re-reading a fresh log from its start risks
// re-emitting a burst of historical lines as if newly observed.
type FileSource struct {
	Patterns []string
	Logger   *log.Logger
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Start(ctx context.Context, out RecordChan) error {
	paths, err := expandPatterns(f.Patterns)
	if err != nil {
		return fmt.Errorf("sources/file: expanding patterns: %w", err)
	}
	if len(paths) == 0 {
		f.logf("no files matched patterns %v", f.Patterns)
		return nil
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			if err := f.tailFile(ctx, path, out); err != nil && ctx.Err() == nil {
				f.logf("tailer for %s exited: %v", path, err)
			}
		}(p)
	}
	wg.Wait()
	return nil
}

func (f *FileSource) logf(format string, args ...interface{}) {
	if f.Logger != nil {
		f.Logger.Errorf(format, args...)
	}
}

// expandPatterns resolves each input pattern to a concrete file list:
// a directory is rewritten to "<dir>/**/*.log", anything else is treated
// as a doublestar glob pattern directly.
func expandPatterns(patterns []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, p := range patterns {
		pattern := p
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			pattern = filepath.Join(p, "**", "*.log")
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (f *FileSource) tailFile(ctx context.Context, path string, out RecordChan) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	serviceName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	attrs := logAttributes("file", map[string]string{"file_path": path})

	fh, offset, err := openAtEnd(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fh.Close()
				newFh, newOffset, err := openAtEnd(path)
				if err != nil {
					// File briefly gone during rotation; wait for the
					// next watch event rather than failing the tailer.
					continue
				}
				if err := watcher.Add(path); err != nil {
					newFh.Close()
					return fmt.Errorf("re-watching %s after rotation: %w", path, err)
				}
				fh, offset = newFh, newOffset
				continue
			}
			if ev.Op&fsnotify.Write == 0 {
				continue
			}
			if fi, err := fh.Stat(); err == nil && fi.Size() < offset {
				// Truncated in place: reopen at the new end per the
				// documented rotation policy.
				fh.Close()
				newFh, newOffset, err := openAtEnd(path)
				if err != nil {
					continue
				}
				fh, offset = newFh, newOffset
				continue
			}
			n, err := f.drainLines(ctx, fh, offset, serviceName, attrs, path, out)
			if err != nil {
				return err
			}
			offset = n
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logf("watch error on %s: %v", path, err)
		}
	}
}

// openAtEnd opens path and returns the handle positioned at the current
// end of the file, per the "open, seek to end" startup rule.
func openAtEnd(path string) (*os.File, int64, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	n, err := fh.Seek(0, io.SeekEnd)
	if err != nil {
		fh.Close()
		return nil, 0, err
	}
	return fh, n, nil
}

// drainLines reads every whole line available from offset forward,
// holding back an incomplete trailing line by leaving the file position
// at the start of that line for the next call.
func (f *FileSource) drainLines(ctx context.Context, fh *os.File, offset int64, serviceName string, attrs []byte, path string, out RecordChan) (int64, error) {
	if _, err := fh.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	r := bufio.NewReader(fh)
	pos := offset
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// Incomplete trailing line (or nothing at all): do not
			// consume it, leave pos at its start for the next event.
			return pos, nil
		}
		if err != nil {
			return pos, err
		}
		pos += int64(len(line))
		rec := ingest.Record{
			TimeUnixNano:  ingest.TimeUnixNanoFromTime(time.Now()),
			ServiceName:   serviceName,
			Body:          strings.TrimRight(line, "\r\n"),
			SeverityText:  "INFO",
			LogAttributes: attrs,
		}
		if rec.Body == "" {
			continue
		}
		if err := push(ctx, out, rec); err != nil {
			return pos, nil
		}
	}
}
