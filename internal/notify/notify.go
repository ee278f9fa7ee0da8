// Package notify is the fire-and-forget channel the core uses to ask the
// surrounding UI for a transient success or error message (a "toast").
//
// The core decides WHEN a message is shown; the implementation decides HOW.
// Notify must never block the caller for long and never fail.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Kind distinguishes success toasts from error toasts.
type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
)

// Notification is one user-visible message.
type Notification struct {
	Kind    Kind
	Message string
}

// Notifier displays notifications.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts an ordinary function to the Notifier interface.
type Func func(n Notification)

func (f Func) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a structured logger. Useful on the
// server side and as a fallback when no UI is attached.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(n Notification) {
	level := slog.LevelInfo
	if n.Kind == Error {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "notification",
		slog.String("kind", string(n.Kind)),
		slog.String("message", n.Message),
	)
}

// WriterNotifier prints notifications as single lines, e.g. to a terminal's
// stderr. Writes are serialised so concurrent toasts never interleave.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (wn *WriterNotifier) Notify(n Notification) {
	prefix := "✓"
	if n.Kind == Error {
		prefix = "✗"
	}
	wn.mu.Lock()
	defer wn.mu.Unlock()
	fmt.Fprintf(wn.w, "%s %s\n", prefix, n.Message)
}

// ChanNotifier forwards notifications to a buffered channel for a UI loop to
// drain. When the buffer is full the notification is dropped rather than
// blocking the core; Dropped reports how many were lost.
type ChanNotifier struct {
	ch chan Notification

	mu      sync.Mutex
	dropped int
}

func NewChanNotifier(buffer int) *ChanNotifier {
	return &ChanNotifier{ch: make(chan Notification, buffer)}
}

func (c *ChanNotifier) Notify(n Notification) {
	select {
	case c.ch <- n:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// C returns the receive side of the channel.
func (c *ChanNotifier) C() <-chan Notification {
	return c.ch
}

func (c *ChanNotifier) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
