package mux

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
)

const (
	tsVideoPID      = 256
	tsVideoStreamID = 224
)

// TSWriter writes H264 samples into an MPEG transport stream.
// Our encoders never emit B-frames, so decode order equals presentation order, and
// we only write a PTS into each PES header.
type TSWriter struct {
	log   logs.Log
	b     *bufio.Writer
	mux   *astits.Muxer
	state trackState

	firstIDRReceived bool
	startPTS         int64
	lastPTS          int64
	skipped          int
	samplesWritten   int
}

func NewTSWriter(logger logs.Log, output io.Writer) *TSWriter {
	b := bufio.NewWriter(output)

	mux := astits.NewMuxer(context.Background(), b)
	mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: tsVideoPID,
		StreamType:    astits.StreamTypeH264Video,
	})
	mux.SetPCRPID(tsVideoPID)

	return &TSWriter{
		log: logger,
		b:   b,
		mux: mux,
	}
}

func (e *TSWriter) AddTrack(format *mediacodec.Format) (int, error) {
	return e.state.addTrack(format)
}

func (e *TSWriter) Start() error {
	return e.state.start()
}

func (e *TSWriter) WriteSampleData(track int, data []byte, info mediacodec.BufferInfo) error {
	if err := e.state.checkWrite(track); err != nil {
		return err
	}
	nalus, err := sampleNALUs(data, info)
	if err != nil {
		return err
	}
	if info.Flags.Has(mediacodec.BufferFlagCodecConfig) {
		e.state.updateParameterSetsFromAU(nalus)
		return nil
	}

	// prepend an AUD. This is required by some players
	filteredNALUs := [][]byte{
		{byte(h264.NALUTypeAccessUnitDelimiter), 240},
	}

	nonIDRPresent := false
	idrPresent := false

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch videox.ReadNaluTypeH264(nalu[0]) {
		case h264.NALUTypeSPS, h264.NALUTypePPS:
			e.state.updateParameterSetsFromAU([][]byte{nalu})
			continue

		case h264.NALUTypeAccessUnitDelimiter:
			continue

		case h264.NALUTypeIDR:
			idrPresent = true

			// add SPS and PPS before every IDR
			if e.state.haveParameterSets() {
				filteredNALUs = append(filteredNALUs, e.state.sps, e.state.pps)
			}

		case h264.NALUTypeNonIDR:
			nonIDRPresent = true
		}

		filteredNALUs = append(filteredNALUs, nalu)
	}

	if !nonIDRPresent && !idrPresent {
		return nil
	}

	pts := info.PresentationTimeUs
	if !e.firstIDRReceived {
		// a decoder can't start without an IDR, so drop everything before it
		if !idrPresent {
			e.skipped++
			return nil
		}
		if e.skipped != 0 {
			e.log.Warnf("Skipped %v samples before the first IDR", e.skipped)
		}
		e.firstIDRReceived = true
		e.startPTS = pts
	} else if pts <= e.lastPTS {
		return fmt.Errorf("Non-increasing presentation time %v after %v", pts, e.lastPTS)
	}
	e.lastPTS = pts

	oh := &astits.PESOptionalHeader{
		MarkerBits:      2,
		PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
		PTS:             &astits.ClockReference{Base: (pts - e.startPTS) * 90000 / 1000000},
	}

	// encode into Annex-B
	annexb, err := h264.AnnexBMarshal(filteredNALUs)
	if err != nil {
		return err
	}

	// write TS packet
	_, err = e.mux.WriteData(&astits.MuxerData{
		PID: tsVideoPID,
		AdaptationField: &astits.PacketAdaptationField{
			RandomAccessIndicator: idrPresent,
		},
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       tsVideoStreamID,
			},
			Data: annexb,
		},
	})
	if err != nil {
		return err
	}
	e.samplesWritten++
	return nil
}

// Number of access units that have been written
func (e *TSWriter) SamplesWritten() int {
	return e.samplesWritten
}

func (e *TSWriter) Stop() error {
	if err := e.state.stop(); err != nil {
		return err
	}
	return e.b.Flush()
}

func (e *TSWriter) Close() error {
	if err := e.state.close(); err != nil {
		return err
	}
	// Flush anything written since Stop. Close without Start is legal.
	return e.b.Flush()
}
