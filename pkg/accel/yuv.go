package accel

import "errors"

var (
	ErrEmptyFrame     = errors.New("Frame is empty")
	ErrOddDimensions  = errors.New("Frame width and height must be even for 4:2:0 subsampling")
	ErrPixelFormat    = errors.New("Frame must be 4 channel RGBA")
	ErrBufferTooSmall = errors.New("Destination buffer too small")
)

// Planar YUV 420 image
type YUVImage struct {
	Width  int
	Height int
	Y      []byte
	U      []byte
	V      []byte
}

// Allocate a tightly packed YUV420p image
func NewYUVImage(width, height int) *YUVImage {
	x := &YUVImage{}
	x.Resize(width, height)
	return x
}

// Resize the image, reusing the existing planes if they're big enough.
// After resizing, the planes are tightly packed.
func (x *YUVImage) Resize(width, height int) {
	x.Width = width
	x.Height = height
	x.Y = growBuffer(x.Y, width*height)
	x.U = growBuffer(x.U, width*height/4)
	x.V = growBuffer(x.V, width*height/4)
}

// Infer our stride from the Y buffer size
func (x *YUVImage) YStride() int {
	return len(x.Y) / x.Height
}

// Infer our stride from the U buffer size
func (x *YUVImage) UStride() int {
	return len(x.U) / (x.Height / 2)
}

// Infer our stride from the V buffer size
func (x *YUVImage) VStride() int {
	return len(x.V) / (x.Height / 2)
}

// Clone into a tightly packed YUV420p image
func (x *YUVImage) Clone() *YUVImage {
	dst := NewYUVImage(x.Width, x.Height)
	dst.CopyFrom(x)
	return dst
}

func (x *YUVImage) CopyFrom(src *YUVImage) {
	width := min(x.Width, src.Width)
	height := min(x.Height, src.Height)
	srcYStride := src.YStride()
	srcUStride := src.UStride()
	srcVStride := src.VStride()
	dstYStride := x.YStride()
	dstUStride := x.UStride()
	dstVStride := x.VStride()
	for i := 0; i < height; i++ {
		copy(x.Y[i*dstYStride:], src.Y[i*srcYStride:i*srcYStride+width])
	}
	heightHalf := height / 2
	widthHalf := width / 2
	for i := 0; i < heightHalf; i++ {
		copy(x.U[i*dstUStride:], src.U[i*srcUStride:i*srcUStride+widthHalf])
	}
	for i := 0; i < heightHalf; i++ {
		copy(x.V[i*dstVStride:], src.V[i*srcVStride:i*srcVStride+widthHalf])
	}
}

// Number of bytes needed for a semi-planar 4:2:0 (NV12) image.
// That's one full resolution luma plane, followed by one half-height plane of interleaved U,V pairs.
func NV12Size(width, height int) int {
	return width*height + width*height/2
}

// Merge two quarter-size chroma planes channel-wise into dst, producing U0 V0 U1 V1 ...
// dst must be at least len(u)+len(v) bytes.
func InterleaveChroma(u, v, dst []byte) {
	n := min(len(u), len(v))
	dst = dst[:2*n]
	for i := 0; i < n; i++ {
		dst[2*i] = u[i]
		dst[2*i+1] = v[i]
	}
}

func growBuffer(buf []byte, size int) []byte {
	if cap(buf) >= size {
		return buf[:size]
	}
	return make([]byte, size)
}
