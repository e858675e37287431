package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"
)

const (
	probeTimeout = 2000 * time.Millisecond
	stopGrace    = 2000 * time.Millisecond
)

// segmentOpenLine matches the segment muxer's progress report for each new
// output target on the diagnostic stream.
var segmentOpenLine = regexp.MustCompile(`Opening '([^']+)' for writing`)

// FFmpegConfig describes the capture source and output format for the
// external ffmpeg process.
type FFmpegConfig struct {
	Binary         string // encoder binary name or path, default "ffmpeg"
	Device         string // capture source, e.g. /dev/video0
	InputFormat    string // ffmpeg input format, e.g. v4l2
	FrameRate      int
	VideoSize      string // e.g. 1280x720
	SegmentSeconds int
}

// FFmpegEncoder implements Encoder on top of an ffmpeg subprocess, detecting
// segment-open events from its stderr diagnostics.
type FFmpegEncoder struct {
	cfg    FFmpegConfig
	binary string
	log    *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	opened chan string
	done   chan error
	exited chan struct{}
}

// NewFFmpegEncoder locates the encoder binary and returns the adapter.
func NewFFmpegEncoder(cfg FFmpegConfig, log *slog.Logger) (*FFmpegEncoder, error) {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEncoderUnavailable, cfg.Binary)
	}
	return &FFmpegEncoder{cfg: cfg, binary: path, log: log}, nil
}

// probe verifies the capture source answers within the probe timeout by
// grabbing a single frame to a null sink.
func (e *FFmpegEncoder) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary,
		"-hide_banner", "-loglevel", "error",
		"-f", e.cfg.InputFormat,
		"-i", e.cfg.Device,
		"-frames:v", "1",
		"-f", "null", "-",
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, e.cfg.Device, err)
	}
	return nil
}

// Start implements Encoder.Start.
func (e *FFmpegEncoder) Start(ctx context.Context, outputPattern string) error {
	if err := e.probe(ctx); err != nil {
		return err
	}

	cmd := exec.Command(e.binary,
		"-hide_banner", "-loglevel", "verbose",
		"-f", e.cfg.InputFormat,
		"-framerate", strconv.Itoa(e.cfg.FrameRate),
		"-video_size", e.cfg.VideoSize,
		"-i", e.cfg.Device,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-f", "segment",
		"-segment_time", strconv.Itoa(e.cfg.SegmentSeconds),
		"-reset_timestamps", "1",
		outputPattern,
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrEncodingProcess, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrEncodingProcess, err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.opened = make(chan string, 8)
	e.done = make(chan error, 1)
	e.exited = make(chan struct{})
	opened, done, exited := e.opened, e.done, e.exited
	e.mu.Unlock()

	e.log.Info("encoder started", "binary", e.binary, "device", e.cfg.Device,
		"segment_seconds", e.cfg.SegmentSeconds, "output", outputPattern)

	go watchDiagnostics(stderr, opened)
	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			done <- fmt.Errorf("%w: %v", ErrEncodingProcess, err)
		} else {
			done <- nil
		}
	}()

	return nil
}

// watchDiagnostics scans the encoder's stderr for segment-open reports.
func watchDiagnostics(r io.ReadCloser, opened chan<- string) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if m := segmentOpenLine.FindStringSubmatch(scanner.Text()); m != nil {
			select {
			case opened <- m[1]:
			default:
				// Consumer fell behind a full buffer of segment events;
				// dropping is safer than blocking the diagnostic stream.
			}
		}
	}
}

// SegmentOpened implements Encoder.SegmentOpened.
func (e *FFmpegEncoder) SegmentOpened() <-chan string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// Done implements Encoder.Done.
func (e *FFmpegEncoder) Done() <-chan error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Stop implements Encoder.Stop: interrupt for a clean finalize, kill if the
// process is still alive after the stop grace period.
func (e *FFmpegEncoder) Stop(ctx context.Context) error {
	e.mu.Lock()
	cmd := e.cmd
	exited := e.exited
	e.cmd = nil
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
	}

	select {
	case <-exited:
		return nil
	case <-time.After(stopGrace):
		e.log.Warn("encoder ignored interrupt, killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
	case <-ctx.Done():
		cmd.Process.Kill()
	}

	<-exited
	return nil
}
