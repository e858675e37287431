package session

import (
	"math"
	"sync"
)

// NumChannels is the number of independent sensor channels.
const NumChannels = 2

// Endpoint identifies a serial transport endpoint and its framing parameters.
type Endpoint struct {
	Name     string
	BaudRate int
}

// ChannelCalibration holds the reference magnitudes for one channel.
type ChannelCalibration struct {
	White    float64
	Black    float64
	WhiteSet bool
	BlackSet bool
}

// Complete reports whether both references have been recorded.
func (c ChannelCalibration) Complete() bool {
	return c.WhiteSet && c.BlackSet
}

// Threshold returns the derived detection threshold for this channel:
// half the distance between the white and black references. It is always
// non-negative and never stored directly.
func (c ChannelCalibration) Threshold() float64 {
	return math.Abs(c.White-c.Black) * 0.5
}

// Calibration holds per-channel calibration for all channels.
type Calibration struct {
	Channels [NumChannels]ChannelCalibration
}

// Complete reports whether every channel has both references recorded.
func (c Calibration) Complete() bool {
	for _, ch := range c.Channels {
		if !ch.Complete() {
			return false
		}
	}
	return true
}

// Store caches state that survives across link and detector instances within
// one process: the last confirmed serial endpoint and the computed
// calibration. It replaces hidden globals with an explicit, passed-down
// store with defined load/set/clear operations.
type Store struct {
	mu          sync.Mutex
	endpoint    *Endpoint
	calibration *Calibration
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{}
}

// Endpoint returns the cached endpoint, if any.
func (s *Store) Endpoint() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return Endpoint{}, false
	}
	return *s.endpoint, true
}

// SetEndpoint records a confirmed endpoint for reuse by later link instances.
func (s *Store) SetEndpoint(ep Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = &ep
}

// ClearEndpoint invalidates the cached endpoint. Called when the endpoint is
// explicitly changed or fails to reopen.
func (s *Store) ClearEndpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = nil
}

// Calibration returns the cached calibration, if any.
func (s *Store) Calibration() (Calibration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calibration == nil {
		return Calibration{}, false
	}
	return *s.calibration, true
}

// SetCalibration records a completed calibration for reuse by later detector
// instances.
func (s *Store) SetCalibration(c Calibration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibration = &c
}

// ClearCalibration invalidates the cached calibration.
func (s *Store) ClearCalibration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibration = nil
}
