package recorder

import "time"

// DefaultRetentionMultiple is the default retention period expressed as a
// multiple of the segment duration.
const DefaultRetentionMultiple = 2

// RetentionWindow is a FIFO queue of closed segments awaiting a cleanup
// decision. A segment becomes eligible for deletion only after it has aged
// past the retention period counted from its enqueue time, evaluated oldest
// first. It is not safe for concurrent use; the Recorder serializes access
// through its own lock.
type RetentionWindow struct {
	retention time.Duration
	queue     []*Segment
}

// NewRetentionWindow returns an empty window with the given retention period.
func NewRetentionWindow(retention time.Duration) *RetentionWindow {
	return &RetentionWindow{retention: retention}
}

// Push enqueues a closed segment. Its ClosedAt timestamp is the enqueue time
// the retention period is counted from.
func (w *RetentionWindow) Push(seg *Segment) {
	w.queue = append(w.queue, seg)
}

// Expired dequeues and returns, oldest first, every leading segment that has
// aged past the retention period and is not marked must-keep. Evaluation
// stops at the first segment that is still too young or is must-keep;
// must-keep entries stay queued for the final sweep rather than being
// skipped over.
func (w *RetentionWindow) Expired(now time.Time) []*Segment {
	var out []*Segment
	for len(w.queue) > 0 {
		head := w.queue[0]
		if head.MustKeep {
			break
		}
		if now.Sub(head.ClosedAt) < w.retention {
			break
		}
		out = append(out, head)
		w.queue = w.queue[1:]
	}
	return out
}

// Drain empties the queue and returns everything still awaiting a decision.
func (w *RetentionWindow) Drain() []*Segment {
	out := w.queue
	w.queue = nil
	return out
}

// Len returns the number of queued segments.
func (w *RetentionWindow) Len() int {
	return len(w.queue)
}
