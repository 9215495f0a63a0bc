// Package notify delivers the end-of-run report.
package notify

import "context"

// Message is a plain-text report.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Notifier sends a Message to a backend.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Backends are the report sinks of a run. Either may be nil.
type Backends struct {
	Email Notifier // addressed delivery, needs From and To
	Topic Notifier // fan-out delivery, ignores addresses
}
