// Package ffcodec implements mediacodec.Codec on top of an ffmpeg subprocess.
// Raw frames go in through stdin, and an Annex-B elementary stream comes out of stdout.
package ffcodec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/framerec/pkg/log"
	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
)

// Error code that we attach to an OutputError result when the ffmpeg process fails
const ErrorCodeProcessFailed = -10000

var ErrUnsupportedColorFormat = errors.New("Unsupported color format")

type Options struct {
	FFmpegPath     string // Defaults to "ffmpeg" from the PATH
	Preset         string // x264 preset
	InputSlots     int    // Number of input buffers that the client can fill concurrently
	OutputCapacity int    // Number of output results that can queue up before the encoder stalls
}

func DefaultOptions() Options {
	return Options{
		FFmpegPath:     "ffmpeg",
		Preset:         "veryfast",
		InputSlots:     4,
		OutputCapacity: 16,
	}
}

type codecState int

const (
	stateCreated codecState = iota
	stateConfigured
	stateStarted
	stateStopped
	stateClosed
)

type inputFrame struct {
	index int
	data  []byte
	eos   bool
}

// Codec runs one ffmpeg process per Start/Stop cycle
type Codec struct {
	log     logs.Log
	codec   videox.Codec
	options Options
	state   codecState

	format    *mediacodec.Format
	frameSize int
	slots     *mediacodec.InputSlots
	output    *mediacodec.OutputQueue

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	frames     chan inputFrame
	closeIn    sync.Once
	wg         sync.WaitGroup
	sentEOS    bool
	exited     chan struct{}
	stderrDone chan struct{}
	exitError  error

	mu           sync.Mutex
	outputFormat *mediacodec.Format
	ptsQueue     []int64 // Presentation times of frames that have gone in, but not yet come out
	lastPTS      int64
	eosPTS       int64
	stderr       ringbuffer.RingP[string]
}

// Create an encoder for the given MIME type, eg "video/avc"
func New(logger logs.Log, mime string) (*Codec, error) {
	return NewWithOptions(logger, mime, DefaultOptions())
}

func NewWithOptions(logger logs.Log, mime string, options Options) (*Codec, error) {
	codec, err := videox.ParseCodec(mime)
	if err != nil {
		return nil, err
	}
	if codec != videox.CodecH264 {
		return nil, fmt.Errorf("ffcodec only supports %v, not %v", videox.MIMEH264, mime)
	}
	if options.FFmpegPath == "" {
		options.FFmpegPath = "ffmpeg"
	}
	if _, err := exec.LookPath(options.FFmpegPath); err != nil {
		return nil, fmt.Errorf("Unable to find '%v' in your path (%w)", options.FFmpegPath, err)
	}
	if options.InputSlots <= 0 {
		options.InputSlots = DefaultOptions().InputSlots
	}
	if options.OutputCapacity <= 0 {
		options.OutputCapacity = DefaultOptions().OutputCapacity
	}
	if options.Preset == "" {
		options.Preset = DefaultOptions().Preset
	}
	return &Codec{
		log:     log.NewPrefixLogger(logger, "ffcodec"),
		codec:   codec,
		options: options,
		stderr:  ringbuffer.NewRingP[string](20),
	}, nil
}

func (c *Codec) Configure(format *mediacodec.Format) error {
	if c.state != stateCreated && c.state != stateStopped {
		return fmt.Errorf("%w: Configure", mediacodec.ErrInvalidState)
	}
	if err := format.Validate(); err != nil {
		return err
	}
	if format.ColorFormat != mediacodec.ColorFormatYUV420SemiPlanar && format.ColorFormat != mediacodec.ColorFormatYUV420Planar {
		return fmt.Errorf("%w %v", ErrUnsupportedColorFormat, format.ColorFormat)
	}
	c.format = format.Clone()
	c.frameSize = format.Width * format.Height * 3 / 2
	c.state = stateConfigured
	return nil
}

func (c *Codec) pixelFormat() string {
	if c.format.ColorFormat == mediacodec.ColorFormatYUV420Planar {
		return "yuv420p"
	}
	return "nv12"
}

func (c *Codec) buildArgs() []string {
	f := c.format
	keyInt := f.KeyFrameInterval
	if keyInt <= 0 {
		keyInt = 1
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", c.pixelFormat(),
		"-s", fmt.Sprintf("%vx%v", f.Width, f.Height),
		"-framerate", fmt.Sprintf("%v", f.FrameRate),
		"-i", "pipe:0",
		"-an",
		"-c:v", c.codec.FFmpegEncoder(),
		"-preset", c.options.Preset,
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-bf", "0",
		"-b:v", fmt.Sprintf("%v", f.BitRate),
		"-maxrate", fmt.Sprintf("%v", f.BitRate),
		"-bufsize", fmt.Sprintf("%v", f.BitRate*2),
		"-g", fmt.Sprintf("%v", keyInt),
		"-keyint_min", fmt.Sprintf("%v", keyInt),
		"-sc_threshold", "0",
		"-x264-params", "aud=1:sliced-threads=0",
		"-f", c.codec.ToFFmpeg(),
		"pipe:1",
	}
}

func (c *Codec) Start() error {
	if c.state != stateConfigured {
		return fmt.Errorf("%w: Start", mediacodec.ErrInvalidState)
	}
	c.slots = mediacodec.NewInputSlots(c.options.InputSlots, c.frameSize)
	c.output = mediacodec.NewOutputQueue(c.options.OutputCapacity)
	c.frames = make(chan inputFrame, c.options.InputSlots)
	c.closeIn = sync.Once{}
	c.sentEOS = false
	c.exited = make(chan struct{})
	c.stderrDone = make(chan struct{})
	c.exitError = nil
	c.mu.Lock()
	c.outputFormat = nil
	c.ptsQueue = nil
	c.lastPTS = 0
	c.eosPTS = 0
	c.mu.Unlock()

	args := c.buildArgs()
	c.log.Debugf("Starting %v %v", c.options.FFmpegPath, strings.Join(args, " "))
	c.cmd = exec.Command(c.options.FFmpegPath, args...)
	var err error
	if c.stdin, err = c.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("Failed to create stdin pipe: %w", err)
	}
	if c.stdout, err = c.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("Failed to create stdout pipe: %w", err)
	}
	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("Failed to create stderr pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("Failed to start ffmpeg: %w", err)
	}

	c.wg.Add(3)
	go c.writeFrames()
	go c.readStderr(stderr)
	go c.readOutput()
	c.state = stateStarted
	return nil
}

func (c *Codec) DequeueInputBuffer(timeout time.Duration) (int, error) {
	if c.state != stateStarted {
		return -1, fmt.Errorf("%w: DequeueInputBuffer", mediacodec.ErrInvalidState)
	}
	if c.sentEOS {
		return -1, mediacodec.ErrTryAgainLater
	}
	return c.slots.Dequeue(timeout)
}

func (c *Codec) InputBuffer(index int) ([]byte, error) {
	if c.state != stateStarted {
		return nil, fmt.Errorf("%w: InputBuffer", mediacodec.ErrInvalidState)
	}
	return c.slots.Buffer(index)
}

func (c *Codec) QueueInputBuffer(index, offset, size int, presentationTimeUs int64, flags mediacodec.BufferFlags) error {
	if c.state != stateStarted {
		return fmt.Errorf("%w: QueueInputBuffer", mediacodec.ErrInvalidState)
	}
	if c.sentEOS {
		return fmt.Errorf("%w: QueueInputBuffer after end of stream", mediacodec.ErrInvalidState)
	}
	if size != 0 && size != c.frameSize {
		return fmt.Errorf("Input size %v does not match frame size %v", size, c.frameSize)
	}
	data, err := c.slots.Take(index, offset, size)
	if err != nil {
		return err
	}
	eos := flags.Has(mediacodec.BufferFlagEndOfStream)
	c.mu.Lock()
	if size != 0 {
		c.ptsQueue = append(c.ptsQueue, presentationTimeUs)
	}
	if eos {
		c.eosPTS = presentationTimeUs
	}
	c.mu.Unlock()
	c.frames <- inputFrame{index: index, data: data, eos: eos}
	if eos {
		c.sentEOS = true
	}
	return nil
}

func (c *Codec) DequeueOutputBuffer(timeout time.Duration) mediacodec.OutputResult {
	if c.state != stateStarted {
		return mediacodec.OutputResult{Status: mediacodec.OutputError, Index: -1, ErrorCode: -1}
	}
	return c.output.Dequeue(timeout)
}

func (c *Codec) OutputBuffer(index int) ([]byte, error) {
	if c.output == nil {
		return nil, mediacodec.ErrInvalidIndex
	}
	return c.output.Buffer(index)
}

func (c *Codec) OutputFormat() (*mediacodec.Format, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outputFormat == nil {
		return nil, fmt.Errorf("%w: output format is not known yet", mediacodec.ErrInvalidState)
	}
	return c.outputFormat.Clone(), nil
}

func (c *Codec) ReleaseOutputBuffer(index int) error {
	if c.output == nil {
		return mediacodec.ErrInvalidIndex
	}
	return c.output.Release(index)
}

// Stop terminates the ffmpeg process. Output that has not been dequeued is discarded.
func (c *Codec) Stop() error {
	if c.state != stateStarted {
		return fmt.Errorf("%w: Stop", mediacodec.ErrInvalidState)
	}
	c.state = stateStopped
	close(c.frames)
	c.output.Close()

	select {
	case <-c.exited:
	case <-time.After(2 * time.Second):
		c.log.Warnf("ffmpeg did not exit, killing it")
		c.cmd.Process.Kill()
	}
	c.wg.Wait()
	c.state = stateConfigured
	return nil
}

// Close releases the codec. It may only be called once.
func (c *Codec) Close() error {
	if c.state == stateClosed {
		return mediacodec.ErrClosed
	}
	var err error
	if c.state == stateStarted {
		err = c.Stop()
	}
	c.state = stateClosed
	return err
}

// Error from the most recent ffmpeg process, if it has exited
func (c *Codec) ExitError() error {
	select {
	case <-c.exited:
		return c.exitError
	default:
		return nil
	}
}

func (c *Codec) closeStdin() {
	c.closeIn.Do(func() {
		c.stdin.Close()
	})
}

func (c *Codec) writeFrames() {
	defer c.wg.Done()
	defer c.closeStdin()
	failed := false
	for f := range c.frames {
		if len(f.data) != 0 && !failed {
			if _, err := c.stdin.Write(f.data); err != nil {
				c.log.Errorf("Failed to write frame to ffmpeg: %v", err)
				failed = true
			}
		}
		c.slots.Return(f.index)
		if f.eos {
			c.closeStdin()
		}
	}
}

func (c *Codec) readStderr(r io.Reader) {
	defer c.wg.Done()
	defer close(c.stderrDone)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		c.mu.Lock()
		c.stderr.Add(line)
		c.mu.Unlock()
		c.log.Warnf("ffmpeg: %v", line)
	}
}

func (c *Codec) recentStderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]string, 0, c.stderr.Len())
	for i := 0; i < c.stderr.Len(); i++ {
		lines = append(lines, c.stderr.Peek(i))
	}
	return strings.Join(lines, "\n")
}

func (c *Codec) readOutput() {
	defer c.wg.Done()
	defer close(c.exited)

	splitter := videox.AccessUnitSplitter{}
	buf := make([]byte, 64*1024)
	alive := true
	for {
		n, err := c.stdout.Read(buf)
		if n > 0 && alive {
			for _, au := range splitter.Write(buf[:n]) {
				if !c.emitAccessUnit(au) {
					alive = false
					break
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				c.log.Errorf("Failed to read from ffmpeg: %v", err)
			}
			break
		}
	}
	if alive {
		if au := splitter.Flush(); au != nil {
			alive = c.emitAccessUnit(au)
		}
	}

	// Wait must only be called after we've finished reading stdout and stderr
	<-c.stderrDone
	c.exitError = c.cmd.Wait()
	if c.exitError != nil && alive {
		c.log.Errorf("ffmpeg failed: %v (%v)", c.exitError, c.recentStderr())
		alive = c.output.PushEvent(mediacodec.OutputError, ErrorCodeProcessFailed)
	}
	if alive {
		c.mu.Lock()
		pts := c.eosPTS
		c.mu.Unlock()
		c.output.PushBuffer([]byte{}, mediacodec.BufferInfo{
			PresentationTimeUs: pts,
			Flags:              mediacodec.BufferFlagEndOfStream,
		})
	}
}

// Publish one access unit. Returns false if the output queue has been closed.
func (c *Codec) emitAccessUnit(au [][]byte) bool {
	c.mu.Lock()
	formatKnown := c.outputFormat != nil
	c.mu.Unlock()

	if !formatKnown {
		sps, pps := videox.ExtractParameterSets(au)
		if sps != nil && pps != nil {
			format := c.format.Clone()
			format.CSD = [][]byte{
				append(videox.NALUStartCode(4), sps...),
				append(videox.NALUStartCode(4), pps...),
			}
			c.mu.Lock()
			c.outputFormat = format
			c.mu.Unlock()
			if !c.output.PushEvent(mediacodec.OutputFormatChanged, 0) {
				return false
			}
			config := videox.JoinAnnexB([][]byte{sps, pps})
			if !c.output.PushBuffer(config, mediacodec.BufferInfo{Flags: mediacodec.BufferFlagCodecConfig}) {
				return false
			}
		}
	}

	hasPicture := false
	payload := make([][]byte, 0, len(au))
	for _, nalu := range au {
		n := videox.WrapRawNALU(nalu)
		if n.IsVCL() {
			hasPicture = true
		}
		if n.Type264() == h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		payload = append(payload, nalu)
	}
	if !hasPicture {
		return true
	}

	c.mu.Lock()
	var pts int64
	if len(c.ptsQueue) != 0 {
		pts = c.ptsQueue[0]
		c.ptsQueue = c.ptsQueue[1:]
	} else {
		pts = c.lastPTS + c.format.FrameDurationUs()
	}
	c.lastPTS = pts
	c.mu.Unlock()

	flags := mediacodec.BufferFlags(0)
	if videox.ContainsIDR(au) {
		flags |= mediacodec.BufferFlagKeyFrame
	}
	return c.output.PushBuffer(videox.JoinAnnexB(payload), mediacodec.BufferInfo{
		PresentationTimeUs: pts,
		Flags:              flags,
	})
}
