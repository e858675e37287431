// Package detector turns raw dual-channel sensor readings into debounced
// on/off state and rising-edge events, using a per-channel calibrated
// threshold.
package detector

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/patelrital/Blink-Detector/internal/seriallink"
	"github.com/patelrital/Blink-Detector/internal/session"
)

// SensorReader issues one request/response exchange and returns a reading.
// *seriallink.Link satisfies it.
type SensorReader interface {
	ReadSensor() (seriallink.Reading, error)
}

// Prompter is the operator-facing collaborator for calibration. Calls block
// until the operator has arranged the requested reference condition.
type Prompter interface {
	PromptReference(channel int, reference string) error
}

// channelState tracks one measurement lane between polling cycles.
type channelState struct {
	lastMagnitude float64
	hasMagnitude  bool
	on            bool
	prevOn        bool
	events        int
}

// Change is the per-channel outcome of one detection cycle. Evaluated is
// false on the cycle that only seeds the channel's baseline; such a cycle can
// never classify the channel as on or off.
type Change struct {
	Channel   int
	Evaluated bool
	On        bool
	PrevOn    bool
	Magnitude float64
	Delta     float64
}

// RisingEdge reports a false-to-true transition observed on this cycle.
func (c Change) RisingEdge() bool {
	return c.Evaluated && c.On && !c.PrevOn
}

// Detector holds calibration and per-channel state for both sensor channels.
// The polling loop owns the detection cycle, but counters and thresholds are
// also read from status-reporting goroutines, so mutable state is guarded.
type Detector struct {
	reader   SensorReader
	prompter Prompter
	store    *session.Store
	log      *slog.Logger

	sampleInterval time.Duration

	mu         sync.Mutex
	cal        session.Calibration
	calibrated bool
	channels   [session.NumChannels]channelState
}

// New returns a Detector reading through reader and prompting through
// prompter. Calibration results are cached in store for reuse by later
// detector instances.
func New(reader SensorReader, prompter Prompter, store *session.Store, log *slog.Logger) *Detector {
	return &Detector{
		reader:         reader,
		prompter:       prompter,
		store:          store,
		log:            log,
		sampleInterval: defaultSampleInterval,
	}
}

// DetectStateChange updates each channel from the reading and reports the
// outcome. The first reading per channel only stores the baseline; later
// readings classify the channel on iff |current − previous| meets the
// channel's threshold.
func (d *Detector) DetectStateChange(r seriallink.Reading) [session.NumChannels]Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	var changes [session.NumChannels]Change
	for ch := range d.channels {
		st := &d.channels[ch]
		magnitude := r.Values[ch]

		if !st.hasMagnitude {
			st.lastMagnitude = magnitude
			st.hasMagnitude = true
			changes[ch] = Change{Channel: ch, Magnitude: magnitude}
			continue
		}

		delta := math.Abs(magnitude - st.lastMagnitude)
		st.lastMagnitude = magnitude
		st.prevOn = st.on
		st.on = delta >= d.cal.Channels[ch].Threshold()

		changes[ch] = Change{
			Channel:   ch,
			Evaluated: true,
			On:        st.on,
			PrevOn:    st.prevOn,
			Magnitude: magnitude,
			Delta:     delta,
		}
	}
	return changes
}

// CountEvent increments and returns the channel's cumulative event count.
// The polling loop calls it once per rising edge it acts on.
func (d *Detector) CountEvent(channel int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channel].events++
	return d.channels[channel].events
}

// EventCount returns the channel's cumulative event count.
func (d *Detector) EventCount(channel int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[channel].events
}

// Threshold returns the active detection threshold for the channel.
func (d *Detector) Threshold(channel int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal.Channels[channel].Threshold()
}
