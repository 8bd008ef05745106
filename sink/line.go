// Package sink holds the line-oriented output sink: every event becomes one
// JSON record terminated by a newline, flushed immediately so the parent
// process reading stdout sees it without delay.
package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/onnwee/chat-relay/event"
)

// Line writes events as JSON Lines. Concurrent Emit calls never interleave.
type Line struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewLine wraps w.
func NewLine(w io.Writer) *Line {
	return &Line{w: bufio.NewWriter(w)}
}

// Emit serializes ev and writes it as a single flushed line.
func (l *Line) Emit(ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}
