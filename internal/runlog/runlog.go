// Package runlog accumulates the log of a single backup run and turns it
// into the end-of-run report.
package runlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/notify"
)

const (
	// SubjectPrefix starts every report subject; the run date follows.
	SubjectPrefix = "EC2 Snapshot Backup Report - "

	entryTimeLayout   = "2006-01-02 15:04:05.000000"
	subjectDateLayout = "2006-01-02"
)

// Entry is one timestamped line of the run log.
type Entry struct {
	Time    time.Time
	Message string
	Error   bool
}

// String formats the entry as "<timestamp>: <message>".
func (e Entry) String() string {
	return e.Time.Format(entryTimeLayout) + ": " + e.Message
}

// Log is append-only and scoped to one run. It is not safe for concurrent
// use; a run appends from a single path.
type Log struct {
	id      string
	clock   clock.Clock
	logger  zerolog.Logger
	entries []Entry
}

// New creates a run log. Every entry is mirrored to logger with the run id attached.
func New(c clock.Clock, logger zerolog.Logger) *Log {
	if c == nil {
		c = clock.Real{}
	}
	id := uuid.NewString()
	return &Log{
		id:     id,
		clock:  c,
		logger: logger.With().Str("run_id", id).Logger(),
	}
}

// RunID returns the run identifier.
func (l *Log) RunID() string {
	return l.id
}

// Logger returns the mirror logger carrying the run id.
func (l *Log) Logger() *zerolog.Logger {
	return &l.logger
}

// Log appends message.
func (l *Log) Log(message string) {
	l.append(message, false)
}

// Logf appends a formatted message.
func (l *Log) Logf(format string, args ...any) {
	l.append(fmt.Sprintf(format, args...), false)
}

// Errorf appends a formatted failure message.
func (l *Log) Errorf(format string, args ...any) {
	l.append(fmt.Sprintf(format, args...), true)
}

func (l *Log) append(message string, failed bool) {
	e := Entry{Time: l.clock.Now(), Message: message, Error: failed}
	l.entries = append(l.entries, e)

	if failed {
		l.logger.Error().Msg(message)
		return
	}
	l.logger.Info().Msg(message)
}

// Entries returns a copy of the entries in creation order.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Errors returns the number of failure entries.
func (l *Log) Errors() int {
	n := 0
	for _, e := range l.entries {
		if e.Error {
			n++
		}
	}
	return n
}

// Subject returns the report subject for the current date.
func (l *Log) Subject() string {
	return SubjectPrefix + l.clock.Now().Format(subjectDateLayout)
}

// Body joins all entries with newlines.
func (l *Log) Body() string {
	lines := make([]string, len(l.entries))
	for i, e := range l.entries {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// Report builds the notification message.
func (l *Log) Report(from, to string) notify.Message {
	msg := notify.Message{
		From:    from,
		Subject: l.Subject(),
		Body:    l.Body(),
	}
	if to != "" {
		msg.To = []string{to}
	}
	return msg
}

// NotificationError is a failed report delivery. It never fails a run.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("send report: %v", e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// Flush emails the report. It is a no-op returning false when either
// address is empty or no notifier is set.
func (l *Log) Flush(ctx context.Context, n notify.Notifier, from, to string) (bool, error) {
	if n == nil || from == "" || to == "" {
		return false, nil
	}
	if err := n.Send(ctx, l.Report(from, to)); err != nil {
		return true, &NotificationError{Err: err}
	}
	return true, nil
}

// Publish sends the report to an address-less sink such as a topic.
func (l *Log) Publish(ctx context.Context, n notify.Notifier) (bool, error) {
	if n == nil {
		return false, nil
	}
	if err := n.Send(ctx, l.Report("", "")); err != nil {
		return true, &NotificationError{Err: err}
	}
	return true, nil
}
