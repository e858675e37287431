// Package recorder drives an external encoding process that writes
// fixed-duration video segments, keeps a sliding retention window over the
// closed ones, and guarantees a segment is never deleted before it has been
// classified as must-keep or not.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patelrital/Blink-Detector/internal/platform/metrics"
)

const (
	// DefaultSegmentSeconds is the default fixed segment duration.
	DefaultSegmentSeconds = 30

	rawPrefix  = "rec_"
	keepPrefix = "keep_"

	defaultFlushDelay = 500 * time.Millisecond
)

// Stats is a snapshot of the recorder's counters for status reporting.
type Stats struct {
	Active         bool   `json:"active"`
	CurrentSegment string `json:"current_segment,omitempty"`
	Pending        int    `json:"pending"`
	Opened         int    `json:"opened"`
	Kept           int    `json:"kept"`
	Deleted        int    `json:"deleted"`
}

// Recorder owns the retention window and the must-keep set. Every mutation —
// must-keep marks, segment-open notifications, cleanup ticks, the final
// sweep — goes through one mutex, so cleanup never evaluates a segment
// against a stale must-keep set.
type Recorder struct {
	enc        Encoder
	dir        string
	segmentDur time.Duration
	retention  time.Duration
	log        *slog.Logger
	metrics    *metrics.Metrics // may be nil to disable metric recording

	flushDelay time.Duration
	now        func() time.Time

	mu        sync.Mutex
	active    bool
	runPrefix string
	current   *Segment
	window    *RetentionWindow
	mustKeep  map[string]bool // by artifact base name
	opened    int
	kept      int
	deleted   int

	stopCh chan struct{}
	failed chan error
	wg     sync.WaitGroup
}

// New returns a Recorder writing segments of segmentDur under dir, retaining
// closed segments for retentionMultiple segment-durations before they become
// eligible for deletion. Metrics may be nil.
func New(enc Encoder, dir string, segmentDur time.Duration, retentionMultiple int, log *slog.Logger, m *metrics.Metrics) *Recorder {
	if segmentDur <= 0 {
		segmentDur = DefaultSegmentSeconds * time.Second
	}
	if retentionMultiple <= 0 {
		retentionMultiple = DefaultRetentionMultiple
	}
	return &Recorder{
		enc:        enc,
		dir:        dir,
		segmentDur: segmentDur,
		retention:  segmentDur * time.Duration(retentionMultiple),
		log:        log,
		metrics:    m,
		flushDelay: defaultFlushDelay,
		now:        time.Now,
	}
}

// Start prepares the output directory, removes raw artifacts left over from
// a prior run, and launches the encoder under a fresh run-scoped timestamp
// prefix. Previously kept segments are not touched.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return fmt.Errorf("recorder already started")
	}
	r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", r.dir, err)
	}
	stale, err := filepath.Glob(filepath.Join(r.dir, rawPrefix+"*"))
	if err != nil {
		return fmt.Errorf("scanning output directory %s: %w", r.dir, err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			r.log.Warn("could not remove stale artifact", "path", path, "error", err)
		}
	}

	runPrefix := r.now().UTC().Format("20060102T150405")
	pattern := filepath.Join(r.dir, rawPrefix+runPrefix+"_%04d.mp4")
	if err := r.enc.Start(ctx, pattern); err != nil {
		return err
	}

	r.mu.Lock()
	r.active = true
	r.runPrefix = runPrefix
	r.current = nil
	r.window = NewRetentionWindow(r.retention)
	r.mustKeep = make(map[string]bool)
	r.opened, r.kept, r.deleted = 0, 0, 0
	r.stopCh = make(chan struct{})
	r.failed = make(chan error, 1)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.watch()

	r.log.Info("recording started", "dir", r.dir, "run", runPrefix,
		"segment_duration", r.segmentDur, "retention", r.retention)
	return nil
}

// watch consumes the encoder's progress signals and runs cleanup ticks at
// half the segment duration until stopped.
func (r *Recorder) watch() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.segmentDur / 2)
	defer ticker.Stop()

	opened := r.enc.SegmentOpened()
	done := r.enc.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case path := <-opened:
			r.onSegmentOpened(path)
		case err := <-done:
			if err == nil {
				err = fmt.Errorf("%w: exited before stop was requested", ErrEncodingProcess)
			}
			r.log.Error("encoding process exited unexpectedly, marking disabled until next start", "error", err)
			r.mu.Lock()
			r.active = false
			r.current = nil
			r.mu.Unlock()
			select {
			case r.failed <- err:
			default:
			}
			// Keep ticking so already-closed segments still age out.
			opened, done = nil, nil
		case <-ticker.C:
			r.cleanup(r.now())
		}
	}
}

// onSegmentOpened closes the previously current segment into the retention
// window and makes the new target current.
func (r *Recorder) onSegmentOpened(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.current != nil {
		r.current.ClosedAt = now
		r.window.Push(r.current)
	}
	r.opened++
	r.current = &Segment{Ordinal: r.opened, Path: path, OpenedAt: now}

	r.log.Debug("segment opened", "path", path, "ordinal", r.opened, "pending", r.window.Len())
	if r.metrics != nil {
		r.metrics.IncSegmentsOpened()
	}
}

// MarkCurrentAsMustKeep flags the currently open segment to survive cleanup
// and the final sweep. The signal is dropped, not queued, when no segment is
// open; the return value reports whether a segment was marked.
func (r *Recorder) MarkCurrentAsMustKeep() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active || r.current == nil {
		r.log.Debug("must-keep mark dropped, no open segment")
		return false
	}
	if !r.current.MustKeep {
		r.current.MustKeep = true
		r.mustKeep[filepath.Base(r.current.Path)] = true
		r.log.Info("segment marked must-keep", "path", r.current.Path)
	}
	return true
}

// cleanup deletes every leading window entry that aged past the retention
// period without a must-keep mark. Runs under the same lock as marking, so
// the must-keep set it sees is never stale.
func (r *Recorder) cleanup(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, seg := range r.window.Expired(now) {
		r.removeArtifactLocked(seg.Path)
	}
}

func (r *Recorder) removeArtifactLocked(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.log.Warn("could not delete segment", "path", path, "error", err)
		return
	}
	r.deleted++
	r.log.Debug("segment deleted", "path", path)
	if r.metrics != nil {
		r.metrics.IncSegmentsDeleted()
	}
}

// Stop terminates the encoder, waits briefly for filesystem flush, then runs
// the final sweep: every remaining artifact of this run is renamed with the
// kept marker if it was marked must-keep and deleted otherwise. The retention
// window and must-keep set are cleared; a later Start begins a new run.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	stopCh := r.stopCh
	r.stopCh = nil
	runPrefix := r.runPrefix
	r.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	r.wg.Wait()

	if err := r.enc.Stop(ctx); err != nil {
		r.log.Warn("encoder stop", "error", err)
	}
	time.Sleep(r.flushDelay)

	r.mu.Lock()
	defer r.mu.Unlock()

	artifacts, err := filepath.Glob(filepath.Join(r.dir, rawPrefix+runPrefix+"_*"))
	if err != nil {
		return fmt.Errorf("scanning output directory %s: %w", r.dir, err)
	}
	for _, path := range artifacts {
		base := filepath.Base(path)
		if r.mustKeep[base] {
			keptPath := filepath.Join(r.dir, keepPrefix+base)
			if err := os.Rename(path, keptPath); err != nil {
				r.log.Error("could not rename kept segment", "path", path, "error", err)
				continue
			}
			r.kept++
			r.log.Info("segment kept", "path", keptPath)
			if r.metrics != nil {
				r.metrics.IncSegmentsKept()
			}
		} else {
			r.removeArtifactLocked(path)
		}
	}

	r.window.Drain()
	r.mustKeep = make(map[string]bool)
	r.current = nil
	r.active = false

	r.log.Info("recording stopped", "run", runPrefix, "kept", r.kept, "deleted", r.deleted)
	return nil
}

// Done yields the error of an encoding process that exited during a run
// without being asked to stop.
func (r *Recorder) Done() <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Stats returns a snapshot of the recorder's counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Active:  r.active,
		Opened:  r.opened,
		Kept:    r.kept,
		Deleted: r.deleted,
	}
	if r.window != nil {
		s.Pending = r.window.Len()
	}
	if r.current != nil {
		s.CurrentSegment = filepath.Base(r.current.Path)
	}
	return s
}
