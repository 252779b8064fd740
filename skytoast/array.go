/*
	This file supports the pixel arrays passed between samplers, the merge
	pipeline, and tile storage.
*/

package skytoast

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"
)

// DType is the element type of an Array.
// NOTE: Should be no more than 256 (1 byte) of element types.
type DType uint8

const (
	// Uint8 elements, 1 (grayscale), 3 (RGB) or 4 (RGBA) channels per pixel.
	Uint8 DType = iota

	// Float64 elements, always 1 channel per pixel.
	Float64
)

func (t DType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Float64:
		return "float64"
	default:
		return "unknown dtype"
	}
}

// Array is a fixed-size pixel array for one tile.  Rather than a generic
// interface, it is a union of the possible element representations tagged
// by DType, which keeps serialization simple and lets numeric code index
// the backing slice directly.  Pixels are stored row-major with channels
// interleaved.  A nil *Array is the "no data" value throughout this
// codebase and is distinct from an array of zeros.
type Array struct {
	DType    DType
	Width    int
	Height   int
	Channels int

	U8  []uint8
	F64 []float64
}

// NewUint8Array returns a zeroed uint8 array.  Channels must be 1, 3, or 4.
func NewUint8Array(width, height, channels int) (*Array, error) {
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, fmt.Errorf("uint8 arrays must have 1, 3 or 4 channels, got %d", channels)
	}
	return &Array{
		DType:    Uint8,
		Width:    width,
		Height:   height,
		Channels: channels,
		U8:       make([]uint8, width*height*channels),
	}, nil
}

// NewFloat64Array returns a zeroed single-channel float64 array.
func NewFloat64Array(width, height int) *Array {
	return &Array{
		DType:    Float64,
		Width:    width,
		Height:   height,
		Channels: 1,
		F64:      make([]float64, width*height),
	}
}

// NewNaNArray returns a single-channel float64 array filled with NaN,
// the missing-value fill for floating point tiles.
func NewNaNArray(width, height int) *Array {
	a := NewFloat64Array(width, height)
	nan := math.NaN()
	for i := range a.F64 {
		a.F64[i] = nan
	}
	return a
}

// ZeroLike returns a zeroed array with the same dtype and shape as a.
func (a *Array) ZeroLike() *Array {
	z := &Array{
		DType:    a.DType,
		Width:    a.Width,
		Height:   a.Height,
		Channels: a.Channels,
	}
	switch a.DType {
	case Uint8:
		z.U8 = make([]uint8, len(a.U8))
	case Float64:
		z.F64 = make([]float64, len(a.F64))
	}
	return z
}

// SameShape returns true if b has the same dtype, dimensions and channels.
func (a *Array) SameShape(b *Array) bool {
	return a.DType == b.DType && a.Width == b.Width && a.Height == b.Height &&
		a.Channels == b.Channels
}

// CheckShape verifies the backing slice matches the declared dimensions.
func (a *Array) CheckShape() error {
	n := a.Width * a.Height * a.Channels
	switch a.DType {
	case Uint8:
		if len(a.U8) != n {
			return fmt.Errorf("uint8 array %dx%dx%d has %d values, expected %d",
				a.Width, a.Height, a.Channels, len(a.U8), n)
		}
	case Float64:
		if a.Channels != 1 {
			return fmt.Errorf("float64 arrays are single channel, got %d channels", a.Channels)
		}
		if len(a.F64) != n {
			return fmt.Errorf("float64 array %dx%d has %d values, expected %d",
				a.Width, a.Height, len(a.F64), n)
		}
	default:
		return fmt.Errorf("array has %s", a.DType)
	}
	return nil
}

// U8At returns the uint8 value at pixel (x, y), channel c.
func (a *Array) U8At(x, y, c int) uint8 {
	return a.U8[(y*a.Width+x)*a.Channels+c]
}

// SetU8 sets the uint8 value at pixel (x, y), channel c.
func (a *Array) SetU8(x, y, c int, v uint8) {
	a.U8[(y*a.Width+x)*a.Channels+c] = v
}

// F64At returns the float64 value at pixel (x, y).
func (a *Array) F64At(x, y int) float64 {
	return a.F64[y*a.Width+x]
}

// SetF64 sets the float64 value at pixel (x, y).
func (a *Array) SetF64(x, y int, v float64) {
	a.F64[y*a.Width+x] = v
}

// GoImage returns a standard Go image for a uint8 array: Gray for 1 channel,
// NRGBA otherwise.  Three channel arrays get an opaque alpha, which the PNG
// encoder collapses back to truecolor.
func (a *Array) GoImage() (image.Image, error) {
	if a.DType != Uint8 {
		return nil, fmt.Errorf("cannot convert %s array to image", a.DType)
	}
	if err := a.CheckShape(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, a.Width, a.Height)
	switch a.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, a.U8)
		return img, nil
	case 3:
		img := image.NewNRGBA(rect)
		for i := 0; i < a.Width*a.Height; i++ {
			img.Pix[i*4] = a.U8[i*3]
			img.Pix[i*4+1] = a.U8[i*3+1]
			img.Pix[i*4+2] = a.U8[i*3+2]
			img.Pix[i*4+3] = 255
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, a.U8)
		return img, nil
	default:
		return nil, fmt.Errorf("cannot convert %d-channel array to image", a.Channels)
	}
}

// ArrayFromImage converts a standard Go image into a uint8 Array.  Grayscale
// images become 1 channel, opaque truecolor 3 channels, and images carrying
// alpha 4 channels.  Other image types are drawn into NRGBA first.
func ArrayFromImage(src image.Image) (*Array, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	switch img := src.(type) {
	case *image.Gray:
		a, _ := NewUint8Array(w, h, 1)
		for y := 0; y < h; y++ {
			copy(a.U8[y*w:(y+1)*w], img.Pix[y*img.Stride:y*img.Stride+w])
		}
		return a, nil
	case *image.RGBA:
		// The PNG decoder only returns RGBA for opaque truecolor, where
		// premultiplied and straight alpha coincide.
		a, _ := NewUint8Array(w, h, 3)
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				a.U8[(y*w+x)*3] = row[x*4]
				a.U8[(y*w+x)*3+1] = row[x*4+1]
				a.U8[(y*w+x)*3+2] = row[x*4+2]
			}
		}
		return a, nil
	case *image.NRGBA:
		a, _ := NewUint8Array(w, h, 4)
		for y := 0; y < h; y++ {
			copy(a.U8[y*w*4:(y+1)*w*4], img.Pix[y*img.Stride:y*img.Stride+w*4])
		}
		return a, nil
	default:
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return ArrayFromImage(dst)
	}
}

// EncodePNG writes a uint8 array as PNG.
func (a *Array) EncodePNG(w io.Writer) error {
	img, err := a.GoImage()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// DecodePNG reads a PNG into a uint8 Array.
func DecodePNG(r io.Reader) (*Array, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	return ArrayFromImage(img)
}

// Fill sets every channel of every pixel of a uint8 array to v.
func (a *Array) Fill(v uint8) {
	for i := range a.U8 {
		a.U8[i] = v
	}
}
