// Package correlator ties the change detector to the segmented recorder:
// a fixed-cadence polling loop reads the sensors, detects rising edges, and
// marks the currently open video segment as must-keep for each one.
package correlator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/patelrital/Blink-Detector/internal/detector"
	"github.com/patelrital/Blink-Detector/internal/platform/metrics"
	"github.com/patelrital/Blink-Detector/internal/recorder"
	"github.com/patelrital/Blink-Detector/internal/seriallink"
	"github.com/patelrital/Blink-Detector/internal/session"
)

// DefaultPollInterval is the target polling cadence, best-effort.
const DefaultPollInterval = 10 * time.Millisecond

const stopTimeout = 10 * time.Second

// State is the correlator lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Sensor is the serial link surface the correlator needs.
type Sensor interface {
	Open() error
	ReadSensor() (seriallink.Reading, error)
	SendCommand(code byte) error
	Connected() bool
	Close() error
}

// VideoRecorder is the segmented recorder surface the correlator needs.
type VideoRecorder interface {
	Start(ctx context.Context) error
	MarkCurrentAsMustKeep() bool
	Stop(ctx context.Context) error
	Done() <-chan error
	Stats() recorder.Stats
}

// Correlator owns the start/stop lifecycle and error recovery for the whole
// pipeline. A single goroutine drives the poll/detect/mark cycle.
type Correlator struct {
	link     Sensor
	det      *detector.Detector
	rec      VideoRecorder
	events   *EventLog // may be nil to disable the event log artifact
	log      *slog.Logger
	metrics  *metrics.Metrics // may be nil to disable metric recording
	interval time.Duration

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	reads      int
	readErrors int
}

// New returns a Correlator polling at interval; interval <= 0 uses
// DefaultPollInterval. Events and metrics may be nil.
func New(link Sensor, det *detector.Detector, rec VideoRecorder, events *EventLog, interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Correlator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Correlator{
		link:     link,
		det:      det,
		rec:      rec,
		events:   events,
		log:      log,
		metrics:  m,
		interval: interval,
		state:    StateIdle,
	}
}

// Run starts the pipeline and polls until ctx is cancelled, then stops the
// recorder (triggering its final sweep), closes the link, and reports the
// summary counters. Startup failures abort before entering Running.
func (c *Correlator) Run(ctx context.Context) error {
	if err := c.link.Open(); err != nil {
		return err
	}
	if err := c.det.EnsureCalibrated(); err != nil {
		c.link.Close()
		return err
	}
	if err := c.rec.Start(ctx); err != nil {
		c.link.Close()
		return err
	}

	c.mu.Lock()
	c.state = StateRunning
	c.startedAt = time.Now()
	c.reads, c.readErrors = 0, 0
	c.mu.Unlock()
	c.log.Info("correlator running", "poll_interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	recDone := c.rec.Done()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-recDone:
			// The recorder has no backing anymore; marks become no-ops but
			// polling and event counting continue.
			c.log.Error("recorder backing lost, events will no longer be marked", "error", err)
			recDone = nil
		case <-ticker.C:
			c.cycle()
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := c.rec.Stop(stopCtx); err != nil {
		c.log.Error("recorder stop", "error", err)
	}
	c.link.Close()

	c.mu.Lock()
	c.state = StateIdle
	elapsed := time.Since(c.startedAt)
	reads, readErrors := c.reads, c.readErrors
	c.mu.Unlock()

	stats := c.rec.Stats()
	c.log.Info("run complete",
		"duration", elapsed.Round(time.Millisecond),
		"reads", reads,
		"read_errors", readErrors,
		"events_ch1", c.det.EventCount(0),
		"events_ch2", c.det.EventCount(1),
		"segments_opened", stats.Opened,
		"segments_kept", stats.Kept,
		"segments_deleted", stats.Deleted,
	)
	return nil
}

// cycle performs one poll: read, detect, and mark the current segment for
// every channel that produced a rising edge. Read failures are never fatal;
// the cycle is retried on the next tick.
func (c *Correlator) cycle() {
	reading, err := c.link.ReadSensor()

	c.mu.Lock()
	c.reads++
	if err != nil {
		c.readErrors++
	}
	c.mu.Unlock()

	if err != nil {
		if c.metrics != nil {
			c.metrics.IncReadErrors()
		}
		switch {
		case errors.Is(err, seriallink.ErrReadTimeout), errors.Is(err, seriallink.ErrInvalidFormat):
			c.log.Warn("sensor read failed", "error", err)
		default:
			c.log.Warn("transport error on sensor read", "error", err)
			if !c.link.Connected() {
				// One reinitialization attempt; polling continues either way.
				if c.metrics != nil {
					c.metrics.IncLinkReopens()
				}
				if rerr := c.link.Open(); rerr != nil {
					c.log.Error("link reinitialization failed", "error", rerr)
				}
			}
		}
		return
	}

	now := time.Now()
	for _, chg := range c.det.DetectStateChange(reading) {
		if !chg.RisingEdge() {
			continue
		}
		count := c.det.CountEvent(chg.Channel)
		channel := chg.Channel + 1 // 1-based everywhere operators see it
		if c.events != nil {
			if err := c.events.Record(now, channel, chg.Magnitude); err != nil {
				c.log.Warn("event log write failed", "error", err)
			}
		}
		marked := c.rec.MarkCurrentAsMustKeep()
		c.log.Info("event detected",
			"channel", channel, "magnitude", chg.Magnitude, "count", count, "marked", marked)
		if c.metrics != nil {
			c.metrics.IncEventsDetected(strconv.Itoa(channel))
		}
	}
}

// SendCommand routes a device actuation command through the serial link.
func (c *Correlator) SendCommand(code byte) error {
	return c.link.SendCommand(code)
}

// ChannelStatus is one channel's view in the status report.
type ChannelStatus struct {
	Channel   int     `json:"channel"`
	Events    int     `json:"events"`
	Threshold float64 `json:"threshold"`
}

// Status is the pipeline snapshot served by the status endpoint.
type Status struct {
	State         State           `json:"state"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Reads         int             `json:"reads"`
	ReadErrors    int             `json:"read_errors"`
	Channels      []ChannelStatus `json:"channels"`
	Recorder      recorder.Stats  `json:"recorder"`
}

// Status returns a snapshot of the pipeline state.
func (c *Correlator) Status() Status {
	c.mu.Lock()
	state := c.state
	startedAt := c.startedAt
	reads, readErrors := c.reads, c.readErrors
	c.mu.Unlock()

	s := Status{
		State:      state,
		Reads:      reads,
		ReadErrors: readErrors,
		Recorder:   c.rec.Stats(),
	}
	if state == StateRunning {
		s.UptimeSeconds = time.Since(startedAt).Seconds()
	}
	for ch := 0; ch < session.NumChannels; ch++ {
		s.Channels = append(s.Channels, ChannelStatus{
			Channel:   ch + 1,
			Events:    c.det.EventCount(ch),
			Threshold: c.det.Threshold(ch),
		})
	}
	return s
}
