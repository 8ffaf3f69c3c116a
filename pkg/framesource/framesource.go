// Package framesource generates synthetic RGBA frames.
package framesource

import (
	"encoding/hex"
	"fmt"
	"image"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/chewxy/math32"
	"github.com/fogleman/gg"
)

// A Source produces frames of a fixed size.
// The returned image is only valid until the next call to Frame.
type Source interface {
	Width() int
	Height() int
	Frame(index int) *cimg.Image
}

type RGB struct {
	R, G, B uint8
}

// Parse a hex color such as "ff0000" or "#ff0000"
func ParseColor(s string) (RGB, error) {
	s = strings.TrimPrefix(s, "#")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 3 {
		return RGB{}, fmt.Errorf("Invalid color '%v'. Expected 6 hex digits, such as ff0000", s)
	}
	return RGB{b[0], b[1], b[2]}, nil
}

// Create a source by name ("solid" or "bars")
func New(pattern string, width, height int, color RGB) (Source, error) {
	switch pattern {
	case "solid", "":
		return NewSolid(width, height, color), nil
	case "bars":
		return NewBars(width, height), nil
	}
	return nil, fmt.Errorf("Unknown frame pattern '%v'", pattern)
}

// Solid produces the same single-color frame every time
type Solid struct {
	img *cimg.Image
}

func NewSolid(width, height int, color RGB) *Solid {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGBA)
	for y := 0; y < height; y++ {
		row := img.Pixels[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			row[x] = color.R
			row[x+1] = color.G
			row[x+2] = color.B
			row[x+3] = 255
		}
	}
	return &Solid{img: img}
}

func (s *Solid) Width() int {
	return s.img.Width
}

func (s *Solid) Height() int {
	return s.img.Height
}

func (s *Solid) Frame(index int) *cimg.Image {
	return s.img
}

// Bars draws the classic 7 color bars, with a box that slides across the frame and cycles through hues.
// Motion gives the encoder something to do between key frames.
type Bars struct {
	rgba *image.RGBA
	dc   *gg.Context
	img  *cimg.Image
}

// 75% bars: white, yellow, cyan, green, magenta, red, blue
var barColors = [7][3]float64{
	{0.75, 0.75, 0.75},
	{0.75, 0.75, 0},
	{0, 0.75, 0.75},
	{0, 0.75, 0},
	{0.75, 0, 0.75},
	{0.75, 0, 0},
	{0, 0, 0.75},
}

func NewBars(width, height int) *Bars {
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	return &Bars{
		rgba: rgba,
		dc:   gg.NewContextForRGBA(rgba),
		// Share pixels with the gg canvas, so there's no copy per frame
		img: cimg.WrapImageStrided(width, height, cimg.PixelFormatRGBA, rgba.Pix, rgba.Stride),
	}
}

func (b *Bars) Width() int {
	return b.rgba.Rect.Dx()
}

func (b *Bars) Height() int {
	return b.rgba.Rect.Dy()
}

func (b *Bars) Frame(index int) *cimg.Image {
	dc := b.dc
	w := float64(b.Width())
	h := float64(b.Height())
	barWidth := w / float64(len(barColors))
	for i, c := range barColors {
		dc.SetRGB(c[0], c[1], c[2])
		// overlap by one pixel so that rounding never leaves a gap
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth+1, h)
		dc.Fill()
	}

	box := h / 4
	travel := w - box
	period := 60
	phase := float32(index%period) / float32(period)
	// ping-pong across the frame
	x := travel * float64(1-math32.Abs(2*phase-1))
	r, g, bl := HueToRGB(phase)
	dc.SetRGB(float64(r), float64(g), float64(bl))
	dc.DrawRectangle(x, (h-box)/2, box, box)
	dc.Fill()
	return b.img
}

// HueToRGB converts a hue in [0,1) at full saturation and value into RGB in [0,1]
func HueToRGB(hue float32) (r, g, b float32) {
	h := math32.Mod(hue, 1) * 6
	x := 1 - math32.Abs(math32.Mod(h, 2)-1)
	switch int(h) {
	case 0:
		return 1, x, 0
	case 1:
		return x, 1, 0
	case 2:
		return 0, 1, x
	case 3:
		return 0, x, 1
	case 4:
		return x, 0, 1
	default:
		return 1, 0, x
	}
}
