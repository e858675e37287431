package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeEncoder stands in for the ffmpeg subprocess: the test drives segment
// openings and process death through its channels.
type fakeEncoder struct {
	pattern string
	opened  chan string
	done    chan error
	stopped bool
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{
		opened: make(chan string, 8),
		done:   make(chan error, 1),
	}
}

func (e *fakeEncoder) Start(ctx context.Context, outputPattern string) error {
	e.pattern = outputPattern
	return nil
}

func (e *fakeEncoder) SegmentOpened() <-chan string { return e.opened }
func (e *fakeEncoder) Done() <-chan error           { return e.done }

func (e *fakeEncoder) Stop(ctx context.Context) error {
	e.stopped = true
	return nil
}

// openSegment announces segment n and creates the artifact the way the real
// encoder would.
func (e *fakeEncoder) openSegment(t *testing.T, n int) string {
	t.Helper()
	path := fmt.Sprintf(e.pattern, n)
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("creating artifact: %v", err)
	}
	e.opened <- path
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRecorder(t *testing.T) (*Recorder, *fakeEncoder, string) {
	t.Helper()
	dir := t.TempDir()
	enc := newFakeEncoder()
	r := New(enc, dir, time.Second, 2, testLogger(), nil)
	r.flushDelay = time.Millisecond
	return r, enc, dir
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRecorder_mark_without_open_segment_is_dropped(t *testing.T) {
	r, _, _ := newTestRecorder(t)
	ctx := context.Background()

	if r.MarkCurrentAsMustKeep() {
		t.Error("mark before start should be dropped")
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	if r.MarkCurrentAsMustKeep() {
		t.Error("mark with no segment open yet should be dropped")
	}
}

func TestRecorder_segment_lifecycle(t *testing.T) {
	r, enc, _ := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	first := enc.openSegment(t, 0)
	waitFor(t, func() bool { return r.Stats().Opened == 1 }, "first segment never registered")
	if got := r.Stats().CurrentSegment; got != filepath.Base(first) {
		t.Errorf("current segment = %s, want %s", got, filepath.Base(first))
	}

	enc.openSegment(t, 1)
	waitFor(t, func() bool { return r.Stats().Opened == 2 }, "second segment never registered")
	if got := r.Stats().Pending; got != 1 {
		t.Errorf("pending = %d, want the closed first segment", got)
	}
}

func TestRecorder_cleanup_deletes_aged_unmarked_segments(t *testing.T) {
	r, enc, _ := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	first := enc.openSegment(t, 0)
	waitFor(t, func() bool { return r.Stats().Opened == 1 }, "first segment never registered")
	enc.openSegment(t, 1)
	waitFor(t, func() bool { return r.Stats().Pending == 1 }, "first segment never closed")

	// Not yet aged past retention (2× segment duration).
	r.cleanup(r.now())
	if !exists(first) {
		t.Fatal("young segment must not be deleted")
	}

	r.cleanup(r.now().Add(time.Hour))
	if exists(first) {
		t.Error("aged unmarked segment should be deleted")
	}
	if got := r.Stats().Deleted; got != 1 {
		t.Errorf("deleted = %d, want 1", got)
	}
}

func TestRecorder_mustkeep_survives_cleanup_and_sweep(t *testing.T) {
	r, enc, dir := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	marked := enc.openSegment(t, 0)
	waitFor(t, func() bool { return r.Stats().Opened == 1 }, "first segment never registered")
	if !r.MarkCurrentAsMustKeep() {
		t.Fatal("mark should land on the open segment")
	}

	unmarked := enc.openSegment(t, 1)
	waitFor(t, func() bool { return r.Stats().Pending == 1 }, "first segment never closed")

	r.cleanup(r.now().Add(time.Hour))
	if !exists(marked) {
		t.Fatal("must-keep segment must survive cleanup")
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !enc.stopped {
		t.Error("encoder should have been stopped")
	}

	kept := filepath.Join(dir, keepPrefix+filepath.Base(marked))
	if !exists(kept) {
		t.Errorf("marked segment should be renamed to %s", filepath.Base(kept))
	}
	if exists(marked) {
		t.Error("marked segment should no longer exist under its raw name")
	}
	if exists(unmarked) {
		t.Error("unmarked segment should be deleted by the final sweep")
	}

	stats := r.Stats()
	if stats.Kept != 1 {
		t.Errorf("kept = %d, want 1", stats.Kept)
	}
	if stats.Active {
		t.Error("recorder should be inactive after Stop")
	}
}

func TestRecorder_start_removes_stale_raw_artifacts(t *testing.T) {
	r, _, dir := newTestRecorder(t)
	ctx := context.Background()

	stale := filepath.Join(dir, rawPrefix+"20200101T000000_0007.mp4")
	kept := filepath.Join(dir, keepPrefix+rawPrefix+"20200101T000000_0003.mp4")
	for _, path := range []string{stale, kept} {
		if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
			t.Fatalf("seeding %s: %v", path, err)
		}
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	if exists(stale) {
		t.Error("stale raw artifact should be removed on start")
	}
	if !exists(kept) {
		t.Error("previously kept segment must not be touched")
	}
}

func TestRecorder_encoder_death_disables_marking(t *testing.T) {
	r, enc, _ := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	enc.openSegment(t, 0)
	waitFor(t, func() bool { return r.Stats().Opened == 1 }, "segment never registered")

	enc.done <- fmt.Errorf("%w: killed", ErrEncodingProcess)
	waitFor(t, func() bool { return !r.Stats().Active }, "recorder never noticed the dead encoder")

	if r.MarkCurrentAsMustKeep() {
		t.Error("marking must be disabled once the encoder is gone")
	}

	select {
	case err := <-r.Done():
		if err == nil {
			t.Error("Done should carry the process error")
		}
	case <-time.After(2 * time.Second):
		t.Error("Done never yielded the process error")
	}
}
