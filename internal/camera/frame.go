// Package camera captures video frames from a device and publishes the latest
// one to concurrent consumers.
package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"github.com/cribwatch/cribwatch/internal/errors"
)

// Frame is one captured image. Pix holds Height rows of Width*Channels bytes.
// Channels is 1 for gray and 3 for BGR.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
	Captured time.Time
}

// Empty reports whether f carries no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Clone returns a copy that shares no memory with f.
func (f Frame) Clone() Frame {
	if f.Pix != nil {
		f.Pix = bytes.Clone(f.Pix)
	}
	return f
}

// Validate checks that the pixel buffer matches the declared geometry.
func (f Frame) Validate() error {
	if f.Channels != 1 && f.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("pixel buffer has %d bytes, want %d for %dx%dx%d",
			len(f.Pix), want, f.Width, f.Height, f.Channels)
	}
	return nil
}

// Gray returns the luminance plane, using the BT.601 weights for BGR input.
func (f Frame) Gray() []uint8 {
	n := f.Width * f.Height
	if f.Channels == 1 {
		return bytes.Clone(f.Pix[:n])
	}
	out := make([]uint8, n)
	for i := range n {
		b := uint32(f.Pix[i*3])
		g := uint32(f.Pix[i*3+1])
		r := uint32(f.Pix[i*3+2])
		// fixed point 0.299R + 0.587G + 0.114B
		out[i] = uint8((r*19595 + g*38470 + b*7471 + 1<<15) >> 16)
	}
	return out
}

// Image converts f to an image.Image without aliasing Pix.
func (f Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Channels == 1 {
		img := image.NewGray(rect)
		copy(img.Pix, f.Pix)
		return img
	}
	img := image.NewRGBA(rect)
	for i := range f.Width * f.Height {
		img.Pix[i*4] = f.Pix[i*3+2]
		img.Pix[i*4+1] = f.Pix[i*3+1]
		img.Pix[i*4+2] = f.Pix[i*3]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// FromImage builds a BGR frame from img.
func FromImage(img image.Image, captured time.Time) Frame {
	b := img.Bounds()
	f := Frame{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 3,
		Pix:      make([]byte, b.Dx()*b.Dy()*3),
		Captured: captured,
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix[i] = c.B
			f.Pix[i+1] = c.G
			f.Pix[i+2] = c.R
			i += 3
		}
	}
	return f
}

// EncodeJPEG encodes f as a JPEG still.
func EncodeJPEG(f Frame, quality int) ([]byte, error) {
	if f.Empty() {
		return nil, errors.Newf("cannot encode empty frame").
			Component("camera").
			Category(errors.CategoryCamera).
			Build()
	}
	return EncodeImageJPEG(f.Image(), quality)
}

// EncodeImageJPEG encodes img with the given quality, clamped to 1..100.
func EncodeImageJPEG(img image.Image, quality int) ([]byte, error) {
	quality = max(1, min(quality, 100))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
