package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/patelrital/Blink-Detector/internal/session"
)

const (
	referenceSamples      = 10
	defaultSampleInterval = 100 * time.Millisecond

	// varianceWarnRatio is the diagnostic bound: sample standard deviation
	// above this fraction of the mean gets a warning but never blocks.
	varianceWarnRatio = 0.10
)

// Reference conditions sampled during calibration, in order.
var references = []string{"white", "black"}

// EnsureCalibrated makes the detector ready: a complete cached calibration is
// reused after one live verification read; otherwise (or if verification
// fails, which also clears the cache) calibration runs interactively.
func (d *Detector) EnsureCalibrated() error {
	d.mu.Lock()
	done := d.calibrated
	d.mu.Unlock()
	if done {
		return nil
	}

	if cal, ok := d.store.Calibration(); ok && cal.Complete() {
		if _, err := d.reader.ReadSensor(); err == nil {
			d.mu.Lock()
			d.cal = cal
			d.calibrated = true
			d.mu.Unlock()
			d.log.Info("reusing cached calibration",
				"threshold_ch1", cal.Channels[0].Threshold(),
				"threshold_ch2", cal.Channels[1].Threshold())
			return nil
		}
		d.store.ClearCalibration()
		d.log.Warn("cached calibration failed verification read, recalibrating")
	}

	return d.Calibrate()
}

// Calibrate samples both reference conditions for each channel in sequence,
// derives the thresholds, and caches the result.
func (d *Detector) Calibrate() error {
	var cal session.Calibration
	for ch := 0; ch < session.NumChannels; ch++ {
		white, err := d.sampleReference(ch, references[0])
		if err != nil {
			return err
		}
		black, err := d.sampleReference(ch, references[1])
		if err != nil {
			return err
		}
		cal.Channels[ch] = session.ChannelCalibration{
			White:    white,
			Black:    black,
			WhiteSet: true,
			BlackSet: true,
		}
		d.log.Info("channel calibrated",
			"channel", ch+1, "white", white, "black", black,
			"threshold", cal.Channels[ch].Threshold())
	}

	d.mu.Lock()
	d.cal = cal
	d.calibrated = true
	d.mu.Unlock()
	d.store.SetCalibration(cal)
	return nil
}

// Recalibrate clears the cached calibration and reruns Calibrate.
func (d *Detector) Recalibrate() error {
	d.store.ClearCalibration()
	d.mu.Lock()
	d.calibrated = false
	d.mu.Unlock()
	return d.Calibrate()
}

// sampleReference prompts for the reference condition, then takes
// referenceSamples readings spaced sampleInterval apart and returns their
// mean. High sample variance is reported as a warning only.
func (d *Detector) sampleReference(channel int, reference string) (float64, error) {
	if err := d.prompter.PromptReference(channel, reference); err != nil {
		return 0, fmt.Errorf("prompting %s reference for channel %d: %w", reference, channel+1, err)
	}

	samples := make([]float64, 0, referenceSamples)
	for i := 0; i < referenceSamples; i++ {
		if i > 0 {
			time.Sleep(d.sampleInterval)
		}
		r, err := d.reader.ReadSensor()
		if err != nil {
			return 0, fmt.Errorf("calibration read %d of %d for channel %d: %w", i+1, referenceSamples, channel+1, err)
		}
		samples = append(samples, r.Values[channel])
	}

	m := mean(samples)
	sd := sampleStdDev(samples, m)
	if m != 0 && sd > varianceWarnRatio*math.Abs(m) {
		d.log.Warn("high variance in calibration samples",
			"channel", channel+1, "reference", reference, "mean", m, "stddev", sd)
	}
	return m, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev is the sample standard deviation with denominator n−1.
func sampleStdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		diff := x - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
