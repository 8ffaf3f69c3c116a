// Package codectest provides a deterministic, synchronous mediacodec.Codec for tests.
// It produces a plausible H.264 elementary stream (a real 1280x720 SPS/PPS, and
// tiny IDR/P slices), and can inject the faults that a hardware encoder exhibits.
package codectest

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
)

var ErrInjected = errors.New("Injected failure")

// SPS and PPS of a 1280x720 stream
var (
	SPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0x01, 0x6c, 0x80, 0x00, 0x00, 0x03,
		0x00, 0x80, 0x00, 0x00, 0x1e, 0x07, 0x8c, 0x18,
		0xcb,
	}
	PPS      = []byte{0x68, 0xce, 0x38, 0x80}
	IDRSlice = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
	PSlice   = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}
)

type Options struct {
	InputSlots            int  // Number of input buffers (default 2)
	OutputCapacity        int  // Output results that can be queued before the codec stops consuming input (default 64)
	Delay                 int  // Number of frames the encoder holds on to before emitting output
	FailConfigure         bool // Configure returns ErrInjected
	FailStart             bool // Start returns ErrInjected
	FailQueueAt           int  // The Nth call (1-based) to QueueInputBuffer fails
	DuplicateFormatChange bool // Announce the output format twice
	InjectErrorCode       int  // If non-zero, emit an OutputError with this code before the first frame
	BuffersChanged        bool // Emit OutputBuffersChanged before the first frame
	NeverEOS              bool // Swallow the end of stream flag
}

// An input buffer, as it was queued by the client
type QueuedInput struct {
	Index              int
	Size               int
	PresentationTimeUs int64
	Flags              mediacodec.BufferFlags
	Data               []byte // copy of the slot contents
}

type Codec struct {
	Options Options

	Format       *mediacodec.Format // As given to Configure
	QueuedInputs []QueuedInput

	ConfigureCalls int
	StartCalls     int
	StopCalls      int
	CloseCalls     int
	QueueCalls     int
	ReleaseCalls   int

	started    bool
	slots      *mediacodec.InputSlots
	output     *mediacodec.OutputQueue
	held       []QueuedInput
	formatSent bool
	eosQueued  bool
	eosSent    bool
	framesOut  int
	frameSize  int
}

func New(options Options) *Codec {
	if options.InputSlots <= 0 {
		options.InputSlots = 2
	}
	if options.OutputCapacity <= 0 {
		options.OutputCapacity = 64
	}
	// The encoder must be able to hold Delay frames, and still hand out a slot
	options.InputSlots = max(options.InputSlots, options.Delay+1)
	return &Codec{
		Options: options,
	}
}

func (c *Codec) Configure(format *mediacodec.Format) error {
	c.ConfigureCalls++
	if c.Options.FailConfigure {
		return fmt.Errorf("%w: Configure", ErrInjected)
	}
	if err := format.Validate(); err != nil {
		return err
	}
	c.Format = format.Clone()
	c.frameSize = format.Width * format.Height * 3 / 2
	return nil
}

func (c *Codec) Start() error {
	c.StartCalls++
	if c.Format == nil {
		return fmt.Errorf("%w: Start before Configure", mediacodec.ErrInvalidState)
	}
	if c.Options.FailStart {
		return fmt.Errorf("%w: Start", ErrInjected)
	}
	c.slots = mediacodec.NewInputSlots(c.Options.InputSlots, c.frameSize)
	c.output = mediacodec.NewOutputQueue(c.Options.OutputCapacity)
	c.started = true
	return nil
}

func (c *Codec) DequeueInputBuffer(timeout time.Duration) (int, error) {
	if !c.started {
		return -1, fmt.Errorf("%w: DequeueInputBuffer", mediacodec.ErrInvalidState)
	}
	if c.eosQueued {
		return -1, mediacodec.ErrTryAgainLater
	}
	return c.slots.Dequeue(timeout)
}

func (c *Codec) InputBuffer(index int) ([]byte, error) {
	if !c.started {
		return nil, fmt.Errorf("%w: InputBuffer", mediacodec.ErrInvalidState)
	}
	return c.slots.Buffer(index)
}

func (c *Codec) QueueInputBuffer(index, offset, size int, presentationTimeUs int64, flags mediacodec.BufferFlags) error {
	if !c.started {
		return fmt.Errorf("%w: QueueInputBuffer", mediacodec.ErrInvalidState)
	}
	c.QueueCalls++
	data, err := c.slots.Take(index, offset, size)
	if err != nil {
		return err
	}
	if c.QueueCalls == c.Options.FailQueueAt {
		c.slots.Return(index)
		return fmt.Errorf("%w: QueueInputBuffer #%v", ErrInjected, c.QueueCalls)
	}
	in := QueuedInput{
		Index:              index,
		Size:               size,
		PresentationTimeUs: presentationTimeUs,
		Flags:              flags,
		Data:               append([]byte(nil), data...),
	}
	c.QueuedInputs = append(c.QueuedInputs, in)
	c.held = append(c.held, in)
	if flags.Has(mediacodec.BufferFlagEndOfStream) {
		c.eosQueued = true
	}
	c.pump()
	return nil
}

func (c *Codec) DequeueOutputBuffer(timeout time.Duration) mediacodec.OutputResult {
	if !c.started {
		return mediacodec.OutputResult{Status: mediacodec.OutputError, Index: -1, ErrorCode: -1}
	}
	r := c.output.Dequeue(timeout)
	// Space has opened up in the output queue
	c.pump()
	return r
}

func (c *Codec) OutputBuffer(index int) ([]byte, error) {
	if c.output == nil {
		return nil, mediacodec.ErrInvalidIndex
	}
	return c.output.Buffer(index)
}

func (c *Codec) OutputFormat() (*mediacodec.Format, error) {
	if !c.formatSent {
		return nil, fmt.Errorf("%w: output format is not known yet", mediacodec.ErrInvalidState)
	}
	f := c.Format.Clone()
	f.CSD = [][]byte{
		append(videox.NALUStartCode(4), SPS...),
		append(videox.NALUStartCode(4), PPS...),
	}
	return f, nil
}

func (c *Codec) ReleaseOutputBuffer(index int) error {
	c.ReleaseCalls++
	if c.output == nil {
		return mediacodec.ErrInvalidIndex
	}
	return c.output.Release(index)
}

func (c *Codec) Stop() error {
	c.StopCalls++
	if !c.started {
		return fmt.Errorf("%w: Stop", mediacodec.ErrInvalidState)
	}
	c.started = false
	c.output.Close()
	return nil
}

func (c *Codec) Close() error {
	c.CloseCalls++
	if c.CloseCalls > 1 {
		return mediacodec.ErrClosed
	}
	if c.started {
		return c.Stop()
	}
	return nil
}

// Number of output buffers that the client has not released
func (c *Codec) OutstandingOutputs() int {
	if c.output == nil {
		return 0
	}
	return c.output.Outstanding()
}

// Number of input slots that are neither with the client, nor held by the encoder
func (c *Codec) FreeInputSlots() int {
	if c.slots == nil {
		return 0
	}
	return c.slots.Free()
}

// Turn held inputs into output, for as long as there is space in the output queue
func (c *Codec) pump() {
	for len(c.held) != 0 {
		in := c.held[0]
		eos := in.Flags.Has(mediacodec.BufferFlagEndOfStream)
		if !c.eosQueued && len(c.held) <= c.Options.Delay {
			return
		}
		// Worst case: 2 format changes, config, error, buffers-changed, frame, eos
		if c.output.Pending()+7 > c.Options.OutputCapacity {
			return
		}
		c.held = c.held[1:]
		if in.Size != 0 {
			c.emitFrame(in)
		}
		if eos && !c.Options.NeverEOS && !c.eosSent {
			c.eosSent = true
			c.output.PushBuffer([]byte{}, mediacodec.BufferInfo{
				PresentationTimeUs: in.PresentationTimeUs,
				Flags:              mediacodec.BufferFlagEndOfStream,
			})
		}
		c.slots.Return(in.Index)
	}
}

func (c *Codec) emitFrame(in QueuedInput) {
	if !c.formatSent {
		c.formatSent = true
		c.output.PushEvent(mediacodec.OutputFormatChanged, 0)
		c.output.PushBuffer(videox.JoinAnnexB([][]byte{SPS, PPS}), mediacodec.BufferInfo{
			Flags: mediacodec.BufferFlagCodecConfig,
		})
		if c.Options.BuffersChanged {
			c.output.PushEvent(mediacodec.OutputBuffersChanged, 0)
		}
		if c.Options.InjectErrorCode != 0 {
			c.output.PushEvent(mediacodec.OutputError, c.Options.InjectErrorCode)
		}
	} else if c.Options.DuplicateFormatChange && c.framesOut == 1 {
		c.output.PushEvent(mediacodec.OutputFormatChanged, 0)
	}
	interval := max(c.Format.KeyFrameInterval, 1)
	key := c.framesOut%interval == 0
	var au [][]byte
	flags := mediacodec.BufferFlags(0)
	if key {
		au = [][]byte{SPS, PPS, IDRSlice}
		flags |= mediacodec.BufferFlagKeyFrame
	} else {
		au = [][]byte{PSlice}
	}
	c.output.PushBuffer(videox.JoinAnnexB(au), mediacodec.BufferInfo{
		PresentationTimeUs: in.PresentationTimeUs,
		Flags:              flags,
	})
	c.framesOut++
}
