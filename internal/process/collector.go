package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smazurov/lokmanager/internal/logging"
)

// Collector defaults.
const (
	DefaultMaxLineBytes = 64 * 1024
	DefaultDrainWindow  = 2 * time.Second
)

// Sink receives the events a Collector produces. *logging.Buffer implements it.
type Sink interface {
	Append(ev logging.LogEvent) logging.LogEvent
}

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// CollectorOptions configures output collection for one subprocess.
type CollectorOptions struct {
	Profile      string
	Sink         Sink
	Parser       LogParser     // nil = every line is info
	MaxLineBytes int           // longer lines are truncated, 0 = DefaultMaxLineBytes
	DrainWindow  time.Duration // how long to keep reading after exit, 0 = DefaultDrainWindow
}

// Collector turns a subprocess output stream into log events. It finishes
// once both end-of-stream and process exit have been observed.
type Collector struct {
	opts      CollectorOptions
	reader    io.ReadCloser
	exited    <-chan struct{}
	eof       chan struct{}
	done      chan struct{}
	abandoned atomic.Bool
	lines     atomic.Int64
}

// NewCollector creates a collector reading r. exited must be closed when the
// process has been reaped.
func NewCollector(r io.ReadCloser, exited <-chan struct{}, opts CollectorOptions) *Collector {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.DrainWindow <= 0 {
		opts.DrainWindow = DefaultDrainWindow
	}
	return &Collector{
		opts:   opts,
		reader: r,
		exited: exited,
		eof:    make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run reads until end-of-stream, then waits for process exit. It blocks.
func (c *Collector) Run() {
	defer close(c.done)

	c.readLoop()
	close(c.eof)
	_ = c.reader.Close()

	<-c.exited
}

// Done is closed when Run returns.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Lines returns the number of events emitted so far.
func (c *Collector) Lines() int64 {
	return c.lines.Load()
}

// drain is called after process exit. If the stream is still open when the
// drain window ends (a grandchild holding the pipe) the read end is closed.
func (c *Collector) drain() {
	select {
	case <-c.eof:
	case <-time.After(c.opts.DrainWindow):
		c.abandoned.Store(true)
		_ = c.reader.Close()
	}
}

func (c *Collector) readLoop() {
	br := bufio.NewReader(c.reader)
	line := make([]byte, 0, 256)
	truncated := false

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 && !truncated {
			data := chunk
			if err == nil {
				// The line terminator does not count against the limit.
				data = bytes.TrimRight(chunk, "\r\n")
			}
			room := c.opts.MaxLineBytes - len(line)
			if len(data) > room {
				line = append(line, data[:room]...)
				truncated = true
			} else {
				line = append(line, data...)
			}
		}

		switch {
		case err == nil:
			c.emit(line, truncated)
			line = line[:0]
			truncated = false
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			c.emit(line, truncated)
			return
		case c.abandoned.Load() || errors.Is(err, os.ErrClosed):
			c.emit(line, truncated)
			return
		default:
			c.emit(line, truncated)
			c.opts.Sink.Append(logging.LogEvent{
				Level:   "error",
				Profile: c.opts.Profile,
				Source:  "collector",
				Text:    fmt.Sprintf("output read failed: %v", err),
			})
			return
		}
	}
}

func (c *Collector) emit(raw []byte, truncated bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return
	}

	level, msg := "info", text
	if c.opts.Parser != nil {
		level, msg = c.opts.Parser(text)
	}

	ev := logging.LogEvent{
		Level:   level,
		Profile: c.opts.Profile,
		Source:  logging.SourceWorker,
		Text:    msg,
	}
	if truncated {
		ev.Attributes = map[string]any{"truncated": true}
	}
	c.opts.Sink.Append(ev)
	c.lines.Add(1)
}
