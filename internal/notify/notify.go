// Package notify carries user-facing notifications out of the browser engine.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/librarian/internal/logging"
)

// Kind is the severity of a notification.
type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Warning Kind = "warning"
	Info    Kind = "info"
)

// Notification is one message for the presentation layer.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Sticky  bool      `json:"sticky"` // stays until dismissed
	Time    time.Time `json:"time"`
}

// New builds a notification. Errors and warnings are sticky.
func New(kind Kind, title, message string) Notification {
	return Notification{
		Kind:    kind,
		Title:   title,
		Message: message,
		Sticky:  kind == Error || kind == Warning,
		Time:    time.Now(),
	}
}

// Sink receives notifications.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Notify(n Notification) {
	fields := []zap.Field{logging.String("title", n.Title), logging.String("message", n.Message)}
	switch n.Kind {
	case Error:
		logging.Error("notification", fields...)
	case Warning:
		logging.Warn("notification", fields...)
	default:
		logging.Debug("notification", fields...)
	}
}

// Recorder keeps notifications in memory. Non-sticky ones are dropped by Expire
// once they are older than ttl; sticky ones stay until dismissed.
type Recorder struct {
	mu   sync.Mutex
	list []Notification
}

// Notify records n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, n)
}

// All returns a copy of every recorded notification, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.list...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return Notification{}, false
	}
	return r.list[len(r.list)-1], true
}

// Titles returns the titles of every recorded notification, oldest first.
func (r *Recorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.list))
	for i, n := range r.list {
		out[i] = n.Title
	}
	return out
}

// Dismiss removes the notification at index i.
func (r *Recorder) Dismiss(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.list) {
		return
	}
	r.list = append(r.list[:i], r.list[i+1:]...)
}

// Expire drops non-sticky notifications older than ttl as of now.
func (r *Recorder) Expire(now time.Time, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.list[:0]
	for _, n := range r.list {
		if n.Sticky || now.Sub(n.Time) < ttl {
			kept = append(kept, n)
		}
	}
	r.list = kept
}

// Reset drops everything.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = nil
}
