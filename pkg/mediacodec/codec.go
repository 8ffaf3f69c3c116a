package mediacodec

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTryAgainLater = errors.New("Try again later")
	ErrInvalidState  = errors.New("Codec is in the wrong state for this operation")
	ErrInvalidIndex  = errors.New("Invalid buffer index")
	ErrClosed        = errors.New("Codec is closed")
)

// BufferFlags are attached to every buffer that passes through a codec
type BufferFlags uint32

const (
	BufferFlagKeyFrame     BufferFlags = 1
	BufferFlagCodecConfig  BufferFlags = 2
	BufferFlagEndOfStream  BufferFlags = 4
	BufferFlagPartialFrame BufferFlags = 8
)

func (f BufferFlags) Has(flag BufferFlags) bool {
	return f&flag != 0
}

func (f BufferFlags) String() string {
	s := ""
	add := func(flag BufferFlags, name string) {
		if f.Has(flag) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(BufferFlagKeyFrame, "key")
	add(BufferFlagCodecConfig, "config")
	add(BufferFlagEndOfStream, "eos")
	add(BufferFlagPartialFrame, "partial")
	if s == "" {
		return "none"
	}
	return s
}

// Metadata of one encoded sample
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlags
}

// OutputStatus is the outcome of DequeueOutputBuffer
type OutputStatus int

const (
	OutputReady          OutputStatus = iota // Index and Info refer to a filled output buffer
	OutputTryAgain                           // Nothing was available before the timeout expired
	OutputFormatChanged                      // The output format is now known. See Codec.OutputFormat()
	OutputBuffersChanged                     // Legacy notification. Never produced by an encoder, but tolerated.
	OutputError                              // ErrorCode holds a codec specific error
)

func (s OutputStatus) String() string {
	switch s {
	case OutputReady:
		return "ready"
	case OutputTryAgain:
		return "try-again"
	case OutputFormatChanged:
		return "format-changed"
	case OutputBuffersChanged:
		return "buffers-changed"
	case OutputError:
		return "error"
	}
	return fmt.Sprintf("OutputStatus(%d)", int(s))
}

// OutputResult is the tagged result of DequeueOutputBuffer.
// Index and Info are only meaningful when Status is OutputReady.
type OutputResult struct {
	Status    OutputStatus
	Index     int
	Info      BufferInfo
	ErrorCode int
}

// Codec is an asynchronous encoder that works with client-visible buffer slots.
//
// Input: DequeueInputBuffer hands out a slot index, InputBuffer exposes its memory,
// and QueueInputBuffer gives the filled slot back to the codec.
//
// Output: DequeueOutputBuffer reports either a filled buffer, or an event.
// Every OutputReady index must be given back with ReleaseOutputBuffer.
//
// Lifecycle: Configure, Start, ..., Stop, Close. Close frees the codec, and must be called exactly once.
// A timeout of zero polls, and a negative timeout waits forever.
type Codec interface {
	Configure(format *Format) error
	Start() error
	DequeueInputBuffer(timeout time.Duration) (int, error) // Returns ErrTryAgainLater if no slot became free
	InputBuffer(index int) ([]byte, error)
	QueueInputBuffer(index, offset, size int, presentationTimeUs int64, flags BufferFlags) error
	DequeueOutputBuffer(timeout time.Duration) OutputResult
	OutputBuffer(index int) ([]byte, error)
	OutputFormat() (*Format, error)
	ReleaseOutputBuffer(index int) error
	Stop() error
	Close() error
}
