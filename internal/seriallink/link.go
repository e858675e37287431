// Package seriallink manages a single serial connection to the sensor board.
// It enforces one in-flight request at a time, splits incoming bytes on line
// boundaries, and recovers from transport errors with a bounded number of
// automatic reopens.
package seriallink

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/patelrital/Blink-Detector/internal/session"
)

// Outbound single-byte commands understood by the sensor board.
const (
	CmdReadSensors = 's'
	CmdBuzzer      = 'b'
	CmdMotor       = 'm'
	CmdCalLED      = 'c'
	CmdDisplay     = 'd'
)

// DefaultBaudRate is the fixed framing rate used when none is configured.
const DefaultBaudRate = 115200

const (
	defaultBusyPollInterval = 10 * time.Millisecond
	defaultBusyWaitCeiling  = 1000 * time.Millisecond
	defaultWatchdogDelay    = 100 * time.Millisecond
	defaultResponseTimeout  = 5000 * time.Millisecond
	defaultSettleDelay      = 250 * time.Millisecond

	maxReopens = 3
	lineBuffer = 16
)

// sensorResponse is the strict shape of a sensor reading: two decimal numbers
// separated by a comma and optional whitespace.
var sensorResponse = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*,\s*([0-9]+(?:\.[0-9]+)?)\s*$`)

// Reading is one dual-channel sensor measurement, produced by exactly one
// request/response exchange.
type Reading struct {
	Values [session.NumChannels]float64
}

// Port is the opened serial connection. go.bug.st/serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a serial endpoint with the given framing rate.
type Opener func(name string, baudRate int) (Port, error)

func defaultOpener(name string, baudRate int) (Port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baudRate})
}

// Config holds link tunables. Zero values fall back to the defaults above.
type Config struct {
	BaudRate         int
	BusyPollInterval time.Duration
	BusyWaitCeiling  time.Duration
	WatchdogDelay    time.Duration
	ResponseTimeout  time.Duration
	SettleDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.BusyPollInterval <= 0 {
		c.BusyPollInterval = defaultBusyPollInterval
	}
	if c.BusyWaitCeiling <= 0 {
		c.BusyWaitCeiling = defaultBusyWaitCeiling
	}
	if c.WatchdogDelay <= 0 {
		c.WatchdogDelay = defaultWatchdogDelay
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = defaultResponseTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	return c
}

// Link manages one serial connection with a single-outstanding-request
// discipline: a second caller waits in fixed polling increments up to a
// ceiling before force-clearing the busy flag, so a lost response can never
// leave the channel locked up.
type Link struct {
	session   *session.Store
	prompter  Prompter
	log       *slog.Logger
	cfg       Config
	enumerate Enumerator
	openPort  Opener

	mu           sync.Mutex
	port         Port
	endpoint     session.Endpoint
	opened       bool
	busy         bool
	reopens      int
	watchdog     *time.Timer
	lines        chan string
	transportErr chan error
	readerDone   chan struct{}
}

// New returns a Link using the real serial enumeration and opener.
func New(store *session.Store, prompter Prompter, log *slog.Logger, cfg Config) *Link {
	return NewWithTransport(store, prompter, log, cfg, defaultEnumerator, defaultOpener)
}

// NewWithTransport returns a Link with an injected enumerator and opener.
// Useful for testing or for plugging in a different transport.
func NewWithTransport(store *session.Store, prompter Prompter, log *slog.Logger, cfg Config, enumerate Enumerator, open Opener) *Link {
	return &Link{
		session:   store,
		prompter:  prompter,
		log:       log,
		cfg:       cfg.withDefaults(),
		enumerate: enumerate,
		openPort:  open,
	}
}

// Open selects an endpoint and binds it. If the cached endpoint fails to
// reopen, the cache is cleared and selection plus open is retried once.
func (l *Link) Open() error {
	cached, hadCache := l.session.Endpoint()

	ep, err := l.SelectEndpoint()
	if err != nil {
		return err
	}

	err = l.bind(ep)
	if err == nil {
		l.mu.Lock()
		l.reopens = 0
		l.mu.Unlock()
		return nil
	}
	if !hadCache || cached.Name != ep.Name {
		return err
	}

	// The cached endpoint would not reopen: invalidate it and select fresh.
	l.session.ClearEndpoint()
	l.log.Warn("cached endpoint failed to open, reselecting", "endpoint", ep.Name, "error", err)

	ep, err = l.SelectEndpoint()
	if err != nil {
		return err
	}
	if err := l.bind(ep); err != nil {
		return err
	}
	l.mu.Lock()
	l.reopens = 0
	l.mu.Unlock()
	return nil
}

func (l *Link) bind(ep session.Endpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bindLocked(ep)
}

// bindLocked forces any stale binding closed with a probe open/close and a
// settle delay, then opens for real and starts the reader.
func (l *Link) bindLocked(ep session.Endpoint) error {
	l.closeLocked()

	if probe, err := l.openPort(ep.Name, ep.BaudRate); err == nil {
		probe.Close()
		time.Sleep(l.cfg.SettleDelay)
	}

	port, err := l.openPort(ep.Name, ep.BaudRate)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpenFailed, ep.Name, err)
	}

	l.port = port
	l.endpoint = ep
	l.opened = true
	l.busy = false
	l.lines = make(chan string, lineBuffer)
	l.transportErr = make(chan error, 1)
	l.readerDone = make(chan struct{})
	go readLoop(port, l.lines, l.transportErr, l.readerDone)

	l.log.Info("link opened", "endpoint", ep.Name, "baud", ep.BaudRate)
	return nil
}

// readLoop buffers incoming bytes and splits them on line boundaries. Only
// complete lines are delivered; the trailing partial line is retained for the
// next chunk. A transport-level read error ends the loop.
func readLoop(port Port, lines chan<- string, transportErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(bytes.TrimRight(pending[:i], "\r"))
				pending = append(pending[:0], pending[i+1:]...)
				select {
				case lines <- line:
				case <-done:
					return
				default:
					// Nobody awaiting and the buffer is full: unsolicited
					// chatter, drop it.
				}
			}
		}
		if err != nil {
			select {
			case transportErr <- err:
			case <-done:
			}
			return
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

// acquire takes the busy flag, waiting in fixed polling increments. Past the
// ceiling the flag is force-cleared and the caller proceeds, so a lost
// response cannot lock the channel permanently.
func (l *Link) acquire() error {
	deadline := time.Now().Add(l.cfg.BusyWaitCeiling)
	for {
		l.mu.Lock()
		if !l.opened {
			l.mu.Unlock()
			return ErrClosed
		}
		if !l.busy {
			l.busy = true
			l.stopWatchdogLocked()
			l.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			l.log.Warn("outstanding command never completed, force-clearing busy flag",
				"endpoint", l.endpoint.Name, "waited", l.cfg.BusyWaitCeiling)
			l.busy = true
			l.stopWatchdogLocked()
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		time.Sleep(l.cfg.BusyPollInterval)
	}
}

func (l *Link) release() {
	l.mu.Lock()
	l.busy = false
	l.stopWatchdogLocked()
	l.mu.Unlock()
}

func (l *Link) stopWatchdogLocked() {
	if l.watchdog != nil {
		l.watchdog.Stop()
		l.watchdog = nil
	}
}

// SendCommand writes a single-byte command. The busy flag stays set until the
// watchdog clears it, since actuation responses arrive (and are ignored) on
// the device's own schedule.
func (l *Link) SendCommand(code byte) error {
	if err := l.acquire(); err != nil {
		return err
	}

	l.mu.Lock()
	if !l.opened {
		l.mu.Unlock()
		return ErrClosed
	}
	port := l.port
	endpoint := l.endpoint.Name
	l.mu.Unlock()

	if _, err := port.Write([]byte{code, '\n'}); err != nil {
		l.release()
		return l.handleTransportError(
			fmt.Errorf("%w: command %q on %s: %v", ErrWriteFailed, string(code), endpoint, err))
	}

	l.mu.Lock()
	l.stopWatchdogLocked()
	l.watchdog = time.AfterFunc(l.cfg.WatchdogDelay, l.release)
	l.mu.Unlock()

	l.log.Debug("command sent", "command", string(code), "endpoint", endpoint)
	return nil
}

// ReadSensor issues the read command and awaits exactly one response line,
// a transport error, or the response timeout, whichever comes first.
func (l *Link) ReadSensor() (Reading, error) {
	if err := l.acquire(); err != nil {
		return Reading{}, err
	}
	defer l.release()

	l.mu.Lock()
	if !l.opened {
		l.mu.Unlock()
		return Reading{}, ErrClosed
	}
	port := l.port
	endpoint := l.endpoint.Name
	lines := l.lines
	transportErr := l.transportErr
	l.mu.Unlock()

	// Discard stale lines from earlier exchanges before issuing the command.
drain:
	for {
		select {
		case <-lines:
		default:
			break drain
		}
	}

	start := time.Now()
	if _, err := port.Write([]byte{CmdReadSensors, '\n'}); err != nil {
		// A failed write means the transport is gone just as surely as a
		// failed read; it goes through the same reopen path.
		return Reading{}, l.handleTransportError(
			fmt.Errorf("%w: command %q on %s: %v", ErrWriteFailed, string(rune(CmdReadSensors)), endpoint, err))
	}

	timer := time.NewTimer(l.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case line := <-lines:
		m := sensorResponse.FindStringSubmatch(line)
		if m == nil {
			return Reading{}, fmt.Errorf("%w: %q from %s", ErrInvalidFormat, line, endpoint)
		}
		a, _ := strconv.ParseFloat(m[1], 64)
		b, _ := strconv.ParseFloat(m[2], 64)
		return Reading{Values: [session.NumChannels]float64{a, b}}, nil
	case err := <-transportErr:
		return Reading{}, l.handleTransportError(err)
	case <-timer.C:
		return Reading{}, fmt.Errorf("%w: no response from %s after %s",
			ErrReadTimeout, endpoint, time.Since(start).Round(time.Millisecond))
	}
}

// handleTransportError reopens the bound endpoint up to maxReopens times.
// Beyond the budget, or once the link has been closed, the error is surfaced
// without another attempt. The failed exchange is reported either way.
func (l *Link) handleTransportError(cause error) error {
	l.mu.Lock()
	if !l.opened {
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	ep := l.endpoint
	if l.reopens >= maxReopens {
		l.closeLocked()
		l.mu.Unlock()
		return fmt.Errorf("transport error on %s, reopen budget exhausted: %w", ep.Name, cause)
	}
	l.reopens++
	attempt := l.reopens
	err := l.bindLocked(ep)
	l.mu.Unlock()

	if err != nil {
		return fmt.Errorf("transport error on %s, reopen %d failed (%v): %w", ep.Name, attempt, err, cause)
	}
	l.log.Warn("transport error, link reopened", "endpoint", ep.Name, "attempt", attempt, "error", cause)
	return fmt.Errorf("transport error on %s, link reopened: %w", ep.Name, cause)
}

// Connected reports whether the link currently holds an open endpoint.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// Close clears all link state. Idempotent if already closed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	return nil
}

func (l *Link) closeLocked() {
	if !l.opened {
		return
	}
	close(l.readerDone)
	l.port.Close()
	l.port = nil
	l.opened = false
	l.busy = false
	l.stopWatchdogLocked()
	l.log.Info("link closed", "endpoint", l.endpoint.Name)
}
