package session

import (
	"math"
	"testing"
)

func TestChannelCalibration_threshold(t *testing.T) {
	tests := []struct {
		name  string
		white float64
		black float64
		want  float64
	}{
		{"typical spread", 0.9, 0.1, 0.4},
		{"swapped references", 0.1, 0.9, 0.4},
		{"equal references", 0.5, 0.5, 0.0},
		{"zero black", 1.5, 0.0, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ChannelCalibration{White: tt.white, Black: tt.black, WhiteSet: true, BlackSet: true}
			got := c.Threshold()
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Threshold() = %v, want %v", got, tt.want)
			}
			if got < 0 {
				t.Errorf("Threshold() = %v, must never be negative", got)
			}
		})
	}
}

func TestCalibration_complete(t *testing.T) {
	var c Calibration
	if c.Complete() {
		t.Error("empty calibration should not be complete")
	}
	c.Channels[0] = ChannelCalibration{White: 1, Black: 0, WhiteSet: true, BlackSet: true}
	if c.Complete() {
		t.Error("calibration with one channel should not be complete")
	}
	c.Channels[1] = ChannelCalibration{White: 1, Black: 0, WhiteSet: true, BlackSet: true}
	if !c.Complete() {
		t.Error("calibration with both channels should be complete")
	}
}

func TestStore_endpoint(t *testing.T) {
	s := NewStore()

	if _, ok := s.Endpoint(); ok {
		t.Error("empty store should have no endpoint")
	}

	s.SetEndpoint(Endpoint{Name: "/dev/ttyUSB0", BaudRate: 115200})
	ep, ok := s.Endpoint()
	if !ok || ep.Name != "/dev/ttyUSB0" || ep.BaudRate != 115200 {
		t.Errorf("Endpoint() = %+v, %v", ep, ok)
	}

	s.ClearEndpoint()
	if _, ok := s.Endpoint(); ok {
		t.Error("cleared store should have no endpoint")
	}
}

func TestStore_calibration(t *testing.T) {
	s := NewStore()

	if _, ok := s.Calibration(); ok {
		t.Error("empty store should have no calibration")
	}

	var c Calibration
	c.Channels[0] = ChannelCalibration{White: 0.9, Black: 0.1, WhiteSet: true, BlackSet: true}
	c.Channels[1] = ChannelCalibration{White: 0.8, Black: 0.2, WhiteSet: true, BlackSet: true}
	s.SetCalibration(c)

	got, ok := s.Calibration()
	if !ok {
		t.Fatal("Calibration() should be present after SetCalibration")
	}
	if got.Channels[0].Threshold() != 0.4 {
		t.Errorf("channel 1 threshold = %v, want 0.4", got.Channels[0].Threshold())
	}

	s.ClearCalibration()
	if _, ok := s.Calibration(); ok {
		t.Error("cleared store should have no calibration")
	}
}
