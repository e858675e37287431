package recorder

import "time"

// Segment is one fixed-duration unit of recorded video output. Exactly one
// segment is current (open, being written) while the recorder is active; all
// others are closed and immutable.
type Segment struct {
	Ordinal  int
	Path     string
	OpenedAt time.Time
	ClosedAt time.Time // zero while the segment is still being written
	MustKeep bool
}
