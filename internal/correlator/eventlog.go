package correlator

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const eventLogHeader = "timestamp,channel,magnitude\n"

const eventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// EventLog is the companion plain-text artifact: one header line, then one
// timestamp,channel,magnitude line per detected event.
type EventLog struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewEventLog creates (or truncates) the log file at path and writes the
// header line.
func NewEventLog(path string) (*EventLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating event log %s: %w", path, err)
	}
	if _, err := f.WriteString(eventLogHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing event log header: %w", err)
	}
	return &EventLog{w: f}, nil
}

// NewEventLogWriter wraps an existing writer, for testing or alternative
// sinks. The header is written immediately.
func NewEventLogWriter(w io.WriteCloser) (*EventLog, error) {
	if _, err := io.WriteString(w, eventLogHeader); err != nil {
		return nil, fmt.Errorf("writing event log header: %w", err)
	}
	return &EventLog{w: w}, nil
}

// Record appends one event line. Channel is 1-based.
func (l *EventLog) Record(ts time.Time, channel int, magnitude float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.w, "%s,%d,%.3f\n", ts.UTC().Format(eventTimeLayout), channel, magnitude)
	return err
}

// Close closes the underlying file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
