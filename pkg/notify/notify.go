// Package notify carries status lines and progress counts from the sync core
// to whoever presents them. Calls are synchronous. A client session notifies
// from the goroutine running Sync; a server notifies from every session
// goroutine at once, so notifiers given to a server must be safe for
// concurrent use.
package notify

import (
	"log/slog"
)

type Notifier interface {
	Status(message string)
	Progress(current, total int)
}

// SlogNotifier writes notifications to the default slog logger.
type SlogNotifier struct {
	Attrs []any
}

func (n *SlogNotifier) Status(message string) {
	slog.Info(message, n.Attrs...)
}

func (n *SlogNotifier) Progress(current, total int) {
	slog.Info("progress", append([]any{"done", current, "total", total}, n.Attrs...)...)
}

type NullNotifier struct{}

func (NullNotifier) Status(string) {}

func (NullNotifier) Progress(int, int) {}

// Funcs adapts plain callbacks to a Notifier. Nil callbacks are skipped.
type Funcs struct {
	OnStatus   func(message string)
	OnProgress func(current, total int)
}

func (f Funcs) Status(message string) {
	if f.OnStatus != nil {
		f.OnStatus(message)
	}
}

func (f Funcs) Progress(current, total int) {
	if f.OnProgress != nil {
		f.OnProgress(current, total)
	}
}

// Multi fans every notification out to all of its members in order.
type Multi []Notifier

func (m Multi) Status(message string) {
	for _, n := range m {
		n.Status(message)
	}
}

func (m Multi) Progress(current, total int) {
	for _, n := range m {
		n.Progress(current, total)
	}
}

// OrNull returns n, or a NullNotifier when n is nil.
func OrNull(n Notifier) Notifier {
	if n == nil {
		return NullNotifier{}
	}
	return n
}
