// Package muxtest provides a Muxer that records everything written to it.
package muxtest

import (
	"errors"
	"sync"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/mux"
)

var ErrInjected = errors.New("Injected muxer failure")

type Options struct {
	FailAddTrack bool
	FailStart    bool
	FailWriteAt  int // Fail the Nth call to WriteSampleData (1-based). Zero disables.
}

// Sample is a copy of one WriteSampleData call
type Sample struct {
	Track int
	Data  []byte // only the Offset:Offset+Size range of the original buffer
	Info  mediacodec.BufferInfo
}

// Muxer records calls, and enforces the same call order as the real muxers
type Muxer struct {
	Options Options

	lock          sync.Mutex
	format        *mediacodec.Format
	samples       []Sample
	addTrackCalls int
	startCalls    int
	stopCalls     int
	closeCalls    int
	writeCalls    int
	started       bool
	stopped       bool
	closed        bool
}

func New(options Options) *Muxer {
	return &Muxer{Options: options}
}

func (m *Muxer) AddTrack(format *mediacodec.Format) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.addTrackCalls++
	if m.closed {
		return -1, mux.ErrClosed
	}
	if m.Options.FailAddTrack {
		return -1, ErrInjected
	}
	if m.started {
		return -1, mux.ErrAlreadyStarted
	}
	if m.format != nil {
		return -1, mux.ErrTrackAdded
	}
	m.format = format.Clone()
	return 0, nil
}

func (m *Muxer) Start() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.startCalls++
	if m.closed {
		return mux.ErrClosed
	}
	if m.Options.FailStart {
		return ErrInjected
	}
	if m.started {
		return mux.ErrAlreadyStarted
	}
	if m.format == nil {
		return mux.ErrNoTrack
	}
	m.started = true
	return nil
}

// WriteSampleData records the sample even if the muxer has not been started,
// so that tests can observe early writes. It still returns ErrNotStarted in that case.
func (m *Muxer) WriteSampleData(track int, data []byte, info mediacodec.BufferInfo) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.writeCalls++
	if m.closed {
		return mux.ErrClosed
	}
	if m.Options.FailWriteAt != 0 && m.writeCalls == m.Options.FailWriteAt {
		return ErrInjected
	}
	s := Sample{
		Track: track,
		Info:  info,
	}
	if info.Size > 0 && info.Offset >= 0 && info.Offset+info.Size <= len(data) {
		s.Data = append([]byte(nil), data[info.Offset:info.Offset+info.Size]...)
	}
	m.samples = append(m.samples, s)
	if !m.started {
		return mux.ErrNotStarted
	}
	if m.stopped {
		return mux.ErrStopped
	}
	return nil
}

func (m *Muxer) Stop() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.stopCalls++
	if m.closed {
		return mux.ErrClosed
	}
	if !m.started {
		return mux.ErrNotStarted
	}
	if m.stopped {
		return mux.ErrStopped
	}
	m.stopped = true
	return nil
}

func (m *Muxer) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closeCalls++
	if m.closed {
		return mux.ErrClosed
	}
	m.closed = true
	return nil
}

// Format passed to AddTrack, or nil
func (m *Muxer) Format() *mediacodec.Format {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.format
}

func (m *Muxer) Samples() []Sample {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]Sample(nil), m.samples...)
}

// Presentation times of every recorded sample, excluding codec config buffers
func (m *Muxer) PresentationTimes() []int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	var pts []int64
	for _, s := range m.samples {
		if !s.Info.Flags.Has(mediacodec.BufferFlagCodecConfig) && s.Info.Size > 0 {
			pts = append(pts, s.Info.PresentationTimeUs)
		}
	}
	return pts
}

// Call counts
type Calls struct {
	AddTrack int
	Start    int
	Write    int
	Stop     int
	Close    int
}

func (m *Muxer) Calls() Calls {
	m.lock.Lock()
	defer m.lock.Unlock()
	return Calls{
		AddTrack: m.addTrackCalls,
		Start:    m.startCalls,
		Write:    m.writeCalls,
		Stop:     m.stopCalls,
		Close:    m.closeCalls,
	}
}

func (m *Muxer) Started() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.started
}
