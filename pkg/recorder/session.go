// Package recorder drives a video encoder and a container writer, turning a sequence of RGBA
// frames into a video file.
package recorder

import (
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/framerec/pkg/accel"
	"github.com/cyclopcam/framerec/pkg/kibi"
	"github.com/cyclopcam/framerec/pkg/log"
	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
)

var (
	ErrAlreadyInitialized = errors.New("Session is already initialized")
	ErrNotConfigured      = errors.New("Session is not configured")
	ErrNotRunning         = errors.New("Session is not running")
	ErrFrameSize          = errors.New("Frame size does not match the encoder size")
	ErrNoInputSlot        = errors.New("No encoder input buffer available")
	ErrSubmit             = errors.New("Failed to submit frame to encoder")
	ErrDrainTimeout       = errors.New("Timed out waiting for the encoder to reach end of stream")
)

type State int

const (
	StateUninitialized State = iota
	StateConfigured          // Init has recorded the parameters
	StateRunning             // Encoder is running, and frames may be written
	StateDraining            // End is flushing the encoder
	StateReleased            // Encoder and muxer have been destroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateConfigured:
		return "Configured"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateReleased:
		return "Released"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session records one video file.
//
// A Session is not safe for concurrent use. The caller must drive it from a single goroutine,
// in the order Init, Prepare, Write..., End. A Session can be reused by calling Init again
// after it has been released.
type Session struct {
	log     logs.Log
	backend Backend

	cfg          Config
	state        State
	running      bool
	clock        PresentationClock
	muxerStarted bool
	trackIndex   int
	encoder      *encoderHandle
	muxer        *muxerHandle
	converter    accel.Converter
	stats        Stats
}

func NewSession(logger logs.Log, backend Backend) *Session {
	return &Session{
		log:        log.NewPrefixLogger(logger, "Recorder"),
		backend:    backend,
		trackIndex: -1,
		stats:      newStats(),
	}
}

func (s *Session) State() State {
	return s.state
}

// Returns true while the encoder is alive
func (s *Session) Running() bool {
	return s.running
}

func (s *Session) Config() Config {
	return s.cfg
}

// Number of frames submitted to the encoder, including the end-of-stream frame
func (s *Session) FrameCounter() int64 {
	return s.clock.Frames()
}

func (s *Session) Stats() Stats {
	return s.stats
}

// Init records the session parameters. No resources are acquired until Prepare.
func (s *Session) Init(cfg Config) error {
	if s.state != StateUninitialized && s.state != StateReleased {
		return fmt.Errorf("%w (state %v)", ErrAlreadyInitialized, s.state)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	s.clock = NewPresentationClock(cfg.FPS)
	s.muxerStarted = false
	s.trackIndex = -1
	s.stats = newStats()
	s.state = StateConfigured
	s.log.Infof("Init %v, %v x %v at %v FPS, %v", cfg.Filename, cfg.Cols, cfg.Rows, cfg.FPS, kibi.FormatBitRate(cfg.BitRate))
	return nil
}

// Encoder configuration for the current session
func (s *Session) encoderFormat() *mediacodec.Format {
	return &mediacodec.Format{
		MIME:             videox.MIMEH264,
		Width:            s.cfg.Cols,
		Height:           s.cfg.Rows,
		ColorFormat:      mediacodec.ColorFormatYUV420SemiPlanar,
		BitRate:          s.cfg.BitRate,
		FrameRate:        s.cfg.FPS,
		KeyFrameInterval: s.cfg.KeyFrameInterval,
	}
}

// Prepare creates and starts the encoder, and creates the container writer.
// The writer is only started once the encoder announces its output format.
// If anything fails, the partially built session is released.
func (s *Session) Prepare() error {
	if s.state != StateConfigured {
		return fmt.Errorf("%w (state %v)", ErrNotConfigured, s.state)
	}
	if err := s.prepare(); err != nil {
		s.log.Errorf("Prepare failed: %v", err)
		if rerr := s.Release(); rerr != nil {
			s.log.Warnf("Release after failed prepare: %v", rerr)
		}
		return err
	}
	s.state = StateRunning
	s.running = true
	return nil
}

func (s *Session) prepare() error {
	format := s.encoderFormat()
	s.log.Infof("Configuring encoder: %v", format)

	codec, err := s.backend.NewEncoder(format.MIME)
	if err != nil {
		return fmt.Errorf("Failed to create encoder: %w", err)
	}
	s.encoder = &encoderHandle{codec: codec}
	if err := codec.Configure(format); err != nil {
		return fmt.Errorf("Failed to configure encoder: %w", err)
	}
	if err := codec.Start(); err != nil {
		return fmt.Errorf("Failed to start encoder: %w", err)
	}
	s.encoder.started = true

	file, err := os.Create(s.cfg.Filename)
	if err != nil {
		return fmt.Errorf("Failed to create output file: %w", err)
	}
	s.muxer = &muxerHandle{file: file}
	m, err := s.backend.NewMuxer(file, s.cfg.OutputFormat())
	if err != nil {
		return fmt.Errorf("Failed to create muxer: %w", err)
	}
	s.muxer.muxer = m
	return nil
}

// Release destroys the encoder and the muxer. It is safe to call at any time, and more than once.
func (s *Session) Release() error {
	var errs []error
	if s.encoder != nil {
		if err := s.encoder.release(); err != nil {
			s.log.Warnf("Error releasing encoder: %v", err)
			errs = append(errs, err)
		}
		s.encoder = nil
	}
	if s.muxer != nil {
		if err := s.muxer.release(); err != nil {
			s.log.Warnf("Error releasing muxer: %v", err)
			errs = append(errs, err)
		}
		s.muxer = nil
	}
	if s.state != StateUninitialized && s.state != StateReleased {
		s.log.Infof("Released. %v", &s.stats)
		s.state = StateReleased
	}
	s.running = false
	return errors.Join(errs...)
}
