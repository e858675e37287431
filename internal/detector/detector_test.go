package detector

import (
	"io"
	"log/slog"
	"testing"

	"github.com/patelrital/Blink-Detector/internal/seriallink"
	"github.com/patelrital/Blink-Detector/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func calibratedDetector(t *testing.T, threshold float64) *Detector {
	t.Helper()
	d := New(nil, nil, session.NewStore(), testLogger())
	// Threshold is |white − black| × 0.5, so spread the references to match.
	for ch := 0; ch < session.NumChannels; ch++ {
		d.cal.Channels[ch] = session.ChannelCalibration{
			White:    threshold * 2,
			Black:    0,
			WhiteSet: true,
			BlackSet: true,
		}
	}
	d.calibrated = true
	return d
}

func reading(a, b float64) seriallink.Reading {
	return seriallink.Reading{Values: [session.NumChannels]float64{a, b}}
}

func TestDetectStateChange_first_reading_only_seeds_baseline(t *testing.T) {
	d := calibratedDetector(t, 0.5)

	changes := d.DetectStateChange(reading(9.0, 9.0))
	for ch, c := range changes {
		if c.Evaluated {
			t.Errorf("channel %d: first reading must not be evaluated", ch+1)
		}
		if c.On {
			t.Errorf("channel %d: first reading must not classify the channel on", ch+1)
		}
	}
}

func TestDetectStateChange_delta_sequence(t *testing.T) {
	// Threshold 0.75 per channel. Readings (1,1), (1,1), (2,1): only channel 1
	// crosses the threshold, and only on the third reading.
	d := calibratedDetector(t, 0.75)

	d.DetectStateChange(reading(1, 1))

	changes := d.DetectStateChange(reading(1, 1))
	if changes[0].On || changes[1].On {
		t.Errorf("unchanged readings classified on: %+v", changes)
	}

	changes = d.DetectStateChange(reading(2, 1))
	if !changes[0].RisingEdge() {
		t.Errorf("channel 1 should rise on delta 1.0 >= 0.75: %+v", changes[0])
	}
	if changes[1].On {
		t.Errorf("channel 2 should stay off on delta 0: %+v", changes[1])
	}
}

func TestDetectStateChange_rising_edges_only(t *testing.T) {
	d := calibratedDetector(t, 0.5)

	seq := []seriallink.Reading{
		reading(1.0, 1.0), // baseline
		reading(2.0, 1.0), // ch1 rises
		reading(3.0, 1.0), // ch1 stays on, no new edge
		reading(3.0, 1.0), // ch1 falls
		reading(4.0, 2.0), // both rise
	}
	var edges [session.NumChannels]int
	for _, r := range seq {
		for ch, c := range d.DetectStateChange(r) {
			if c.RisingEdge() {
				edges[ch]++
				d.CountEvent(ch)
			}
		}
	}

	if edges[0] != 2 {
		t.Errorf("channel 1 edges = %d, want 2", edges[0])
	}
	if edges[1] != 1 {
		t.Errorf("channel 2 edges = %d, want 1", edges[1])
	}
	if d.EventCount(0) != 2 || d.EventCount(1) != 1 {
		t.Errorf("event counts = %d, %d, want 2, 1", d.EventCount(0), d.EventCount(1))
	}
}

func TestDetectStateChange_delta_exactly_at_threshold(t *testing.T) {
	d := calibratedDetector(t, 0.5)

	d.DetectStateChange(reading(1.0, 1.0))
	changes := d.DetectStateChange(reading(1.5, 1.0))
	if !changes[0].On {
		t.Errorf("delta equal to the threshold should classify on: %+v", changes[0])
	}
}
