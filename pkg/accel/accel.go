// Package accel contains the pixel format conversions that sit between the caller's RGBA frames
// and the encoder's semi-planar input buffers.
package accel

import (
	"github.com/bmharper/cimg/v2"
)

// CAVEAT!
// We use the BT.601 "limited range" (16..235) integer approximation, which is what
// hardware H.264 encoders assume for YUV420SemiPlanar input. We make no attempt at
// full range, or at BT.709.

// Converter turns RGBA frames into NV12.
// It owns scratch planes for the intermediate YUV420p image, so converting
// a stream of same-sized frames does not allocate.
type Converter struct {
	planar YUVImage
}

// Check that 'src' is a frame we know how to convert
func ValidateRGBAFrame(src *cimg.Image) error {
	if src == nil || src.Width <= 0 || src.Height <= 0 || len(src.Pixels) == 0 {
		return ErrEmptyFrame
	}
	if src.Format != cimg.PixelFormatRGBA {
		return ErrPixelFormat
	}
	if src.Width%2 != 0 || src.Height%2 != 0 {
		return ErrOddDimensions
	}
	if src.Stride < src.Width*4 || len(src.Pixels) < src.Stride*(src.Height-1)+src.Width*4 {
		return ErrEmptyFrame
	}
	return nil
}

// RGBAToNV12 converts src into dst, which must hold at least NV12Size(width, height) bytes.
// The luma plane is written to the start of dst, and the interleaved chroma plane
// immediately after it.
func (c *Converter) RGBAToNV12(src *cimg.Image, dst []byte) error {
	if err := ValidateRGBAFrame(src); err != nil {
		return err
	}
	width, height := src.Width, src.Height
	if len(dst) < NV12Size(width, height) {
		return ErrBufferTooSmall
	}
	c.planar.Resize(width, height)
	if err := RGBAToYUV420p(src, &c.planar); err != nil {
		return err
	}
	lumaSize := width * height
	copy(dst[:lumaSize], c.planar.Y)
	InterleaveChroma(c.planar.U, c.planar.V, dst[lumaSize:NV12Size(width, height)])
	return nil
}

// RGBAToNV12 is a convenience wrapper that allocates a new Converter
func RGBAToNV12(src *cimg.Image, dst []byte) error {
	c := Converter{}
	return c.RGBAToNV12(src, dst)
}

// RGBAToYUV420p converts an RGBA image into planar YUV 4:2:0.
// Each chroma sample is computed from the average color of its 2x2 block.
// dst must be at least as large as src.
func RGBAToYUV420p(src *cimg.Image, dst *YUVImage) error {
	if err := ValidateRGBAFrame(src); err != nil {
		return err
	}
	if dst.Width < src.Width || dst.Height < src.Height {
		return ErrBufferTooSmall
	}
	width, height := src.Width, src.Height
	yStride := dst.YStride()
	uStride := dst.UStride()
	vStride := dst.VStride()
	for y := 0; y < height; y += 2 {
		row0 := src.Pixels[y*src.Stride:]
		row1 := src.Pixels[(y+1)*src.Stride:]
		yOut0 := dst.Y[y*yStride:]
		yOut1 := dst.Y[(y+1)*yStride:]
		uOut := dst.U[(y/2)*uStride:]
		vOut := dst.V[(y/2)*vStride:]
		for x := 0; x < width; x += 2 {
			i := x * 4
			r00, g00, b00 := int32(row0[i]), int32(row0[i+1]), int32(row0[i+2])
			r01, g01, b01 := int32(row0[i+4]), int32(row0[i+5]), int32(row0[i+6])
			r10, g10, b10 := int32(row1[i]), int32(row1[i+1]), int32(row1[i+2])
			r11, g11, b11 := int32(row1[i+4]), int32(row1[i+5]), int32(row1[i+6])
			yOut0[x] = lumaBT601(r00, g00, b00)
			yOut0[x+1] = lumaBT601(r01, g01, b01)
			yOut1[x] = lumaBT601(r10, g10, b10)
			yOut1[x+1] = lumaBT601(r11, g11, b11)
			r := (r00 + r01 + r10 + r11 + 2) >> 2
			g := (g00 + g01 + g10 + g11 + 2) >> 2
			b := (b00 + b01 + b10 + b11 + 2) >> 2
			uOut[x/2] = chromaUBT601(r, g, b)
			vOut[x/2] = chromaVBT601(r, g, b)
		}
	}
	return nil
}

func lumaBT601(r, g, b int32) byte {
	return clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
}

func chromaUBT601(r, g, b int32) byte {
	return clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
}

func chromaVBT601(r, g, b int32) byte {
	return clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
}

func clamp8(v int32) byte {
	if v < 0 {
		return 0
	} else if v > 255 {
		return 255
	}
	return byte(v)
}
