//go:build android

// Package ndk binds the Android NDK hardware codec (AMediaCodec) and container writer (AMediaMuxer).
package ndk

// #cgo LDFLAGS: -lmediandk
// #include <stdlib.h>
// #include <stdbool.h>
// #include <media/NdkMediaCodec.h>
// #include <media/NdkMediaFormat.h>
// #include <media/NdkMediaMuxer.h>
import "C"

import (
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/mux"
	"github.com/cyclopcam/framerec/pkg/recorder"
	"github.com/cyclopcam/logs"
)

var ErrCreateEncoder = errors.New("Unable to create encoder")
var ErrCreateMuxer = errors.New("Unable to create muxer")

// Status codes returned by AMediaCodec_dequeueOutputBuffer
const (
	infoTryAgainLater        = -1
	infoOutputFormatChanged  = -2
	infoOutputBuffersChanged = -3
)

func statusError(what string, status C.media_status_t) error {
	if status == C.AMEDIA_OK {
		return nil
	}
	return fmt.Errorf("%v failed: media_status %v", what, int(status))
}

func timeoutUs(timeout time.Duration) C.int64_t {
	if timeout < 0 {
		return -1
	}
	return C.int64_t(timeout.Microseconds())
}

func setInt32(f *C.AMediaFormat, key string, v int) {
	ckey := C.CString(key)
	C.AMediaFormat_setInt32(f, ckey, C.int32_t(v))
	C.free(unsafe.Pointer(ckey))
}

// Convert our format into a newly allocated AMediaFormat. The caller must delete it.
func toAMediaFormat(format *mediacodec.Format) *C.AMediaFormat {
	f := C.AMediaFormat_new()
	ckey := C.CString(mediacodec.KeyMIME)
	cmime := C.CString(format.MIME)
	C.AMediaFormat_setString(f, ckey, cmime)
	C.free(unsafe.Pointer(ckey))
	C.free(unsafe.Pointer(cmime))

	setInt32(f, mediacodec.KeyWidth, format.Width)
	setInt32(f, mediacodec.KeyHeight, format.Height)
	if format.ColorFormat != 0 {
		setInt32(f, mediacodec.KeyColorFormat, format.ColorFormat)
	}
	if format.BitRate != 0 {
		setInt32(f, mediacodec.KeyBitRate, format.BitRate)
	}
	if format.FrameRate != 0 {
		ckey := C.CString(mediacodec.KeyFrameRate)
		C.AMediaFormat_setFloat(f, ckey, C.float(format.FrameRate))
		C.free(unsafe.Pointer(ckey))
	}
	if format.KeyFrameInterval != 0 && format.FrameRate > 0 {
		// Android measures the key frame interval in seconds
		ckey := C.CString(mediacodec.KeyIFrameInterval)
		C.AMediaFormat_setFloat(f, ckey, C.float(float64(format.KeyFrameInterval)/format.FrameRate))
		C.free(unsafe.Pointer(ckey))
	}
	for i, csd := range format.CSD {
		if len(csd) == 0 {
			continue
		}
		ckey := C.CString(fmt.Sprintf("%v%d", mediacodec.KeyCodecSpecificPfx, i))
		C.AMediaFormat_setBuffer(f, ckey, unsafe.Pointer(&csd[0]), C.size_t(len(csd)))
		C.free(unsafe.Pointer(ckey))
	}
	return f
}

// Read the fields that we care about out of an AMediaFormat
func fromAMediaFormat(f *C.AMediaFormat) *mediacodec.Format {
	format := &mediacodec.Format{}
	getInt32 := func(key string) int {
		ckey := C.CString(key)
		defer C.free(unsafe.Pointer(ckey))
		var v C.int32_t
		if C.AMediaFormat_getInt32(f, ckey, &v) {
			return int(v)
		}
		return 0
	}
	ckey := C.CString(mediacodec.KeyMIME)
	var cmime *C.char
	if C.AMediaFormat_getString(f, ckey, &cmime) {
		format.MIME = C.GoString(cmime)
	}
	C.free(unsafe.Pointer(ckey))
	format.Width = getInt32(mediacodec.KeyWidth)
	format.Height = getInt32(mediacodec.KeyHeight)
	format.ColorFormat = getInt32(mediacodec.KeyColorFormat)
	format.BitRate = getInt32(mediacodec.KeyBitRate)
	ckey = C.CString(mediacodec.KeyFrameRate)
	var fps C.float
	if C.AMediaFormat_getFloat(f, ckey, &fps) {
		format.FrameRate = float64(fps)
	} else {
		format.FrameRate = float64(getInt32(mediacodec.KeyFrameRate))
	}
	C.free(unsafe.Pointer(ckey))
	for i := 0; ; i++ {
		ckey := C.CString(fmt.Sprintf("%v%d", mediacodec.KeyCodecSpecificPfx, i))
		var data unsafe.Pointer
		var size C.size_t
		ok := C.AMediaFormat_getBuffer(f, ckey, &data, &size)
		C.free(unsafe.Pointer(ckey))
		if !ok {
			break
		}
		format.CSD = append(format.CSD, C.GoBytes(data, C.int(size)))
	}
	return format
}

// Codec is a hardware encoder
type Codec struct {
	codec *C.AMediaCodec
}

// NewEncoder creates a hardware encoder for 'mime' (eg video/avc)
func NewEncoder(mime string) (*Codec, error) {
	cmime := C.CString(mime)
	defer C.free(unsafe.Pointer(cmime))
	c := C.AMediaCodec_createEncoderByType(cmime)
	if c == nil {
		return nil, fmt.Errorf("%w for %v", ErrCreateEncoder, mime)
	}
	return &Codec{codec: c}, nil
}

func (c *Codec) Configure(format *mediacodec.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	f := toAMediaFormat(format)
	defer C.AMediaFormat_delete(f)
	return statusError("AMediaCodec_configure", C.AMediaCodec_configure(c.codec, f, nil, nil, C.AMEDIACODEC_CONFIGURE_FLAG_ENCODE))
}

func (c *Codec) Start() error {
	return statusError("AMediaCodec_start", C.AMediaCodec_start(c.codec))
}

func (c *Codec) DequeueInputBuffer(timeout time.Duration) (int, error) {
	idx := C.AMediaCodec_dequeueInputBuffer(c.codec, timeoutUs(timeout))
	if idx == infoTryAgainLater {
		return -1, mediacodec.ErrTryAgainLater
	} else if idx < 0 {
		return -1, fmt.Errorf("AMediaCodec_dequeueInputBuffer failed: %v", int(idx))
	}
	return int(idx), nil
}

func (c *Codec) InputBuffer(index int) ([]byte, error) {
	var size C.size_t
	p := C.AMediaCodec_getInputBuffer(c.codec, C.size_t(index), &size)
	if p == nil {
		return nil, mediacodec.ErrInvalidIndex
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(size)), nil
}

func (c *Codec) QueueInputBuffer(index, offset, size int, presentationTimeUs int64, flags mediacodec.BufferFlags) error {
	return statusError("AMediaCodec_queueInputBuffer", C.AMediaCodec_queueInputBuffer(c.codec, C.size_t(index), C.off_t(offset), C.size_t(size), C.uint64_t(presentationTimeUs), C.uint32_t(flags)))
}

func (c *Codec) DequeueOutputBuffer(timeout time.Duration) mediacodec.OutputResult {
	var info C.AMediaCodecBufferInfo
	idx := int(C.AMediaCodec_dequeueOutputBuffer(c.codec, &info, timeoutUs(timeout)))
	switch {
	case idx == infoTryAgainLater:
		return mediacodec.OutputResult{Status: mediacodec.OutputTryAgain, Index: -1}
	case idx == infoOutputFormatChanged:
		return mediacodec.OutputResult{Status: mediacodec.OutputFormatChanged, Index: -1}
	case idx == infoOutputBuffersChanged:
		return mediacodec.OutputResult{Status: mediacodec.OutputBuffersChanged, Index: -1}
	case idx < 0:
		return mediacodec.OutputResult{Status: mediacodec.OutputError, Index: -1, ErrorCode: idx}
	}
	return mediacodec.OutputResult{
		Status: mediacodec.OutputReady,
		Index:  idx,
		Info: mediacodec.BufferInfo{
			Offset:             int(info.offset),
			Size:               int(info.size),
			PresentationTimeUs: int64(info.presentationTimeUs),
			Flags:              mediacodec.BufferFlags(info.flags),
		},
	}
}

// The returned slice aliases codec memory, and is only valid until ReleaseOutputBuffer
func (c *Codec) OutputBuffer(index int) ([]byte, error) {
	var size C.size_t
	p := C.AMediaCodec_getOutputBuffer(c.codec, C.size_t(index), &size)
	if p == nil {
		return nil, mediacodec.ErrInvalidIndex
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(size)), nil
}

func (c *Codec) OutputFormat() (*mediacodec.Format, error) {
	f := C.AMediaCodec_getOutputFormat(c.codec)
	if f == nil {
		return nil, fmt.Errorf("%w: no output format", mediacodec.ErrInvalidState)
	}
	defer C.AMediaFormat_delete(f)
	return fromAMediaFormat(f), nil
}

func (c *Codec) ReleaseOutputBuffer(index int) error {
	return statusError("AMediaCodec_releaseOutputBuffer", C.AMediaCodec_releaseOutputBuffer(c.codec, C.size_t(index), false))
}

func (c *Codec) Stop() error {
	return statusError("AMediaCodec_stop", C.AMediaCodec_stop(c.codec))
}

func (c *Codec) Close() error {
	if c.codec == nil {
		return mediacodec.ErrClosed
	}
	err := statusError("AMediaCodec_delete", C.AMediaCodec_delete(c.codec))
	c.codec = nil
	return err
}

// Muxer is the platform MP4/MPEG-TS writer
type Muxer struct {
	muxer *C.AMediaMuxer
}

func NewMuxer(file *os.File, format mux.OutputFormat) (*Muxer, error) {
	outFormat := C.OutputFormat(C.AMEDIAMUXER_OUTPUT_FORMAT_MPEG_4)
	if format == mux.OutputFormatMPEGTS {
		// MediaMuxer.OutputFormat.MUXER_OUTPUT_MPEG_2_TS (API 26). The NDK header doesn't name it.
		outFormat = C.OutputFormat(4)
	}
	m := C.AMediaMuxer_new(C.int(file.Fd()), outFormat)
	if m == nil {
		return nil, ErrCreateMuxer
	}
	return &Muxer{muxer: m}, nil
}

func (m *Muxer) AddTrack(format *mediacodec.Format) (int, error) {
	f := toAMediaFormat(format)
	defer C.AMediaFormat_delete(f)
	idx := int(C.AMediaMuxer_addTrack(m.muxer, f))
	if idx < 0 {
		return -1, fmt.Errorf("AMediaMuxer_addTrack failed: %v", idx)
	}
	return idx, nil
}

func (m *Muxer) Start() error {
	return statusError("AMediaMuxer_start", C.AMediaMuxer_start(m.muxer))
}

func (m *Muxer) WriteSampleData(track int, data []byte, info mediacodec.BufferInfo) error {
	if len(data) == 0 {
		return nil
	}
	cinfo := C.AMediaCodecBufferInfo{
		offset:             C.int32_t(info.Offset),
		size:               C.int32_t(info.Size),
		presentationTimeUs: C.int64_t(info.PresentationTimeUs),
		flags:              C.uint32_t(info.Flags),
	}
	return statusError("AMediaMuxer_writeSampleData", C.AMediaMuxer_writeSampleData(m.muxer, C.size_t(track), (*C.uint8_t)(unsafe.Pointer(&data[0])), &cinfo))
}

func (m *Muxer) Stop() error {
	return statusError("AMediaMuxer_stop", C.AMediaMuxer_stop(m.muxer))
}

func (m *Muxer) Close() error {
	if m.muxer == nil {
		return mux.ErrClosed
	}
	err := statusError("AMediaMuxer_delete", C.AMediaMuxer_delete(m.muxer))
	m.muxer = nil
	return err
}

type backend struct {
	log logs.Log
}

// Backend creates hardware encoders and platform muxers
func Backend(logger logs.Log) recorder.Backend {
	return &backend{log: logger}
}

func (b *backend) NewEncoder(mime string) (mediacodec.Codec, error) {
	return NewEncoder(mime)
}

func (b *backend) NewMuxer(file *os.File, format mux.OutputFormat) (mux.Muxer, error) {
	b.log.Infof("Writing %v to %v", format, file.Name())
	return NewMuxer(file, format)
}
