package logging

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogEvent is a single line in the shared log view. Worker output and
// supervisor messages both end up here.
type LogEvent struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Profile    string         `json:"profile,omitempty"`
	Source     string         `json:"source"`
	Text       string         `json:"text"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SourceWorker marks events read from a worker's output stream.
const SourceWorker = "worker"

// LogCallback is called for every appended event.
// Used to publish log events without creating import cycles.
type LogCallback func(ev LogEvent)

// Buffer is a bounded, thread-safe ring of log events. Appends may come
// from any number of goroutines; readers always get a copy.
type Buffer struct {
	entries  []LogEvent
	size     int
	head     int
	count    int
	seq      uint64
	callback LogCallback
	mu       sync.RWMutex
}

// NewBuffer creates a buffer holding at most size events.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Buffer{
		entries: make([]LogEvent, size),
		size:    size,
	}
}

// OnAppend registers the append callback, replacing any previous one.
func (b *Buffer) OnAppend(callback LogCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = callback
}

// Append stores ev, overwriting the oldest event when full. Seq is always
// assigned here; a zero Timestamp is set to now. The stored event is returned.
func (b *Buffer) Append(ev LogEvent) LogEvent {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Level == "" {
		ev.Level = "info"
	}

	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	b.entries[b.head] = ev
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	callback := b.callback
	b.mu.Unlock()

	if callback != nil {
		callback(ev)
	}
	return ev
}

// Resize changes the capacity, keeping the newest events that still fit.
func (b *Buffer) Resize(size int) {
	if size <= 0 {
		size = defaultBufferSize
	}
	kept := b.Snapshot()
	if len(kept) > size {
		kept = kept[len(kept)-size:]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make([]LogEvent, size)
	copy(b.entries, kept)
	b.size = size
	b.count = len(kept)
	b.head = len(kept) % size
}

// Snapshot returns all retained events in append order.
func (b *Buffer) Snapshot() []LogEvent {
	return b.filter(func(LogEvent) bool { return true })
}

// ForProfile returns the retained events tagged with the given profile.
func (b *Buffer) ForProfile(profile string) []LogEvent {
	return b.filter(func(ev LogEvent) bool { return ev.Profile == profile })
}

// Texts returns the text of every retained worker line for profile.
func (b *Buffer) Texts(profile string) []string {
	events := b.filter(func(ev LogEvent) bool {
		return ev.Profile == profile && ev.Source == SourceWorker
	})
	texts := make([]string, len(events))
	for i, ev := range events {
		texts[i] = ev.Text
	}
	return texts
}

// Since returns retained events with Seq greater than seq.
func (b *Buffer) Since(seq uint64) []LogEvent {
	return b.filter(func(ev LogEvent) bool { return ev.Seq > seq })
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// LastSeq returns the sequence number of the newest event, 0 when empty.
func (b *Buffer) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Clear drops all retained events. Sequence numbers keep increasing.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make([]LogEvent, b.size)
	b.head = 0
	b.count = 0
}

// WriteText writes every retained event as one display line.
func (b *Buffer) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, ev := range b.Snapshot() {
		if _, err := bw.WriteString(FormatLine(ev)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (b *Buffer) filter(keep func(LogEvent) bool) []LogEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	start := 0
	if b.count == b.size {
		// Buffer is full, oldest entry is at head
		start = b.head
	}

	result := make([]LogEvent, 0, b.count)
	for i := 0; i < b.count; i++ {
		ev := b.entries[(start+i)%b.size]
		if keep(ev) {
			result = append(result, ev)
		}
	}
	return result
}

// FormatLine renders an event the way the log view shows it:
// "[15:04:05] LEVEL: [profile] text".
func FormatLine(ev LogEvent) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(ev.Timestamp.Format(time.TimeOnly))
	sb.WriteString("] ")
	sb.WriteString(strings.ToUpper(ev.Level))
	sb.WriteString(": ")
	if ev.Profile != "" {
		sb.WriteString("[")
		sb.WriteString(ev.Profile)
		sb.WriteString("] ")
	}
	sb.WriteString(ev.Text)

	if len(ev.Attributes) > 0 {
		keys := make([]string, 0, len(ev.Attributes))
		for k := range ev.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(" ")
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprint(ev.Attributes[k]))
		}
	}

	return sb.String()
}
