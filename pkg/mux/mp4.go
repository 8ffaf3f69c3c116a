package mux

import (
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4/seekablebuffer"
	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
)

// Timescale of the video track, in ticks per second
const MP4TimeScale = 90000

// Default sample duration when we have only one sample and no frame rate (1/30 s)
const defaultSampleDuration = MP4TimeScale / 30

const mp4TrackID = 1

var ErrNoParameterSets = errors.New("SPS and PPS have not been seen yet")

type mp4Sample struct {
	pts     int64 // microseconds
	key     bool
	payload []byte // AVCC
}

// MP4Writer writes a fragmented MP4 file.
// Samples are buffered until the next key frame, and then emitted as a single moof+mdat fragment.
// Each sample's duration is only known once the following sample arrives, so the final
// sample of the stream borrows the duration of the sample before it.
type MP4Writer struct {
	log   logs.Log
	w     io.Writer
	state trackState

	wroteInit    bool
	haveFirstPTS bool
	firstPTS     int64
	sequence     uint32
	fragment     []*mp4Sample
	lastDuration uint32
	buf          seekablebuffer.Buffer

	samplesWritten int
	fragments      int
}

func NewMP4Writer(logger logs.Log, w io.Writer) *MP4Writer {
	return &MP4Writer{
		log: logger,
		w:   w,
	}
}

func (m *MP4Writer) AddTrack(format *mediacodec.Format) (int, error) {
	return m.state.addTrack(format)
}

func (m *MP4Writer) Start() error {
	if err := m.state.start(); err != nil {
		return err
	}
	if m.state.haveParameterSets() {
		return m.writeInit()
	}
	return nil
}

func (m *MP4Writer) WriteSampleData(track int, data []byte, info mediacodec.BufferInfo) error {
	if err := m.state.checkWrite(track); err != nil {
		return err
	}
	nalus, err := sampleNALUs(data, info)
	if err != nil {
		return err
	}
	if info.Flags.Has(mediacodec.BufferFlagCodecConfig) {
		if m.state.updateParameterSetsFromAU(nalus) && m.wroteInit {
			m.log.Warnf("Ignoring parameter set change after MP4 header has been written")
		}
		if !m.wroteInit && m.state.haveParameterSets() {
			return m.writeInit()
		}
		return nil
	}
	if len(nalus) == 0 {
		// Typically an empty end-of-stream buffer
		return nil
	}

	key := info.Flags.Has(mediacodec.BufferFlagKeyFrame) || videox.ContainsIDR(nalus)
	if !m.wroteInit {
		m.state.updateParameterSetsFromAU(nalus)
		if !m.state.haveParameterSets() {
			return ErrNoParameterSets
		}
		if err := m.writeInit(); err != nil {
			return err
		}
	}

	// Parameter sets live in the init segment, and AUDs have no meaning inside MP4
	payload, err := videox.ToAVCC(videox.FilterParameterSets(nalus))
	if err != nil {
		return fmt.Errorf("Failed to convert sample to AVCC: %w", err)
	}

	if !m.haveFirstPTS {
		m.haveFirstPTS = true
		m.firstPTS = info.PresentationTimeUs
	}
	if len(m.fragment) != 0 {
		prev := m.fragment[len(m.fragment)-1]
		if info.PresentationTimeUs <= prev.pts {
			return fmt.Errorf("Non-increasing presentation time %v after %v", info.PresentationTimeUs, prev.pts)
		}
		if key {
			if err := m.flushFragment(m.ticks(info.PresentationTimeUs)); err != nil {
				return err
			}
		}
	}
	m.fragment = append(m.fragment, &mp4Sample{
		pts:     info.PresentationTimeUs,
		key:     key,
		payload: payload,
	})
	return nil
}

func (m *MP4Writer) Stop() error {
	if err := m.state.stop(); err != nil {
		return err
	}
	if len(m.fragment) == 0 {
		return nil
	}
	last := m.fragment[len(m.fragment)-1]
	duration := m.lastDuration
	if len(m.fragment) >= 2 {
		prev := m.fragment[len(m.fragment)-2]
		duration = uint32(m.ticks(last.pts) - m.ticks(prev.pts))
	}
	if duration == 0 {
		duration = m.frameDuration()
	}
	return m.flushFragment(m.ticks(last.pts) + uint64(duration))
}

func (m *MP4Writer) Close() error {
	if err := m.state.close(); err != nil {
		return err
	}
	if len(m.fragment) != 0 {
		m.log.Warnf("Closing MP4 writer with %v unflushed samples", len(m.fragment))
		m.fragment = nil
	}
	return nil
}

// Number of samples that have been flushed to the output
func (m *MP4Writer) SamplesWritten() int {
	return m.samplesWritten
}

// Number of moof+mdat fragments that have been flushed to the output
func (m *MP4Writer) Fragments() int {
	return m.fragments
}

// Convert a presentation time into track ticks, relative to the first sample
func (m *MP4Writer) ticks(ptsUs int64) uint64 {
	return uint64((ptsUs - m.firstPTS) * MP4TimeScale / 1000000)
}

func (m *MP4Writer) frameDuration() uint32 {
	if m.state.format != nil && m.state.format.FrameRate > 0 {
		return uint32(float64(MP4TimeScale) / m.state.format.FrameRate)
	}
	return defaultSampleDuration
}

func (m *MP4Writer) writeInit() error {
	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        mp4TrackID,
				TimeScale: MP4TimeScale,
				Codec: &fmp4.CodecH264{
					SPS: m.state.sps,
					PPS: m.state.pps,
				},
			},
		},
	}
	m.buf.Reset()
	if err := init.Marshal(&m.buf); err != nil {
		return fmt.Errorf("Failed to marshal MP4 init segment: %w", err)
	}
	if _, err := m.w.Write(m.buf.Bytes()); err != nil {
		return err
	}
	m.wroteInit = true
	return nil
}

// Emit all buffered samples as one fragment. 'endTicks' is the decode time of the
// sample that follows the fragment, which gives us the duration of the final sample.
func (m *MP4Writer) flushFragment(endTicks uint64) error {
	if len(m.fragment) == 0 {
		return nil
	}
	samples := make([]*fmp4.PartSample, len(m.fragment))
	for i, s := range m.fragment {
		var next uint64
		if i+1 < len(m.fragment) {
			next = m.ticks(m.fragment[i+1].pts)
		} else {
			next = endTicks
		}
		duration := uint32(next - m.ticks(s.pts))
		samples[i] = &fmp4.PartSample{
			Duration:        duration,
			IsNonSyncSample: !s.key,
			Payload:         s.payload,
		}
		m.lastDuration = duration
	}
	m.sequence++
	part := fmp4.Part{
		SequenceNumber: m.sequence,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       mp4TrackID,
				BaseTime: m.ticks(m.fragment[0].pts),
				Samples:  samples,
			},
		},
	}
	m.buf.Reset()
	if err := part.Marshal(&m.buf); err != nil {
		return fmt.Errorf("Failed to marshal MP4 fragment: %w", err)
	}
	if _, err := m.w.Write(m.buf.Bytes()); err != nil {
		return err
	}
	m.samplesWritten += len(m.fragment)
	m.fragments++
	m.fragment = m.fragment[:0]
	return nil
}
