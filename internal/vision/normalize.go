// Package vision converts uploaded images into the fixed-shape tensor
// the classifier expects.
package vision

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// TargetSize is the height and width of the normalized image.
	TargetSize = 224

	// Channels is the number of color channels (RGB).
	Channels = 3
)

// ErrEmptyUpload is returned when no file content was supplied.
var ErrEmptyUpload = errors.New("no file content supplied")

// ErrInvalidImage is returned when the bytes cannot be decoded as an image.
var ErrInvalidImage = errors.New("cannot decode image")

// Tensor is a normalized image batch of shape (1, TargetSize,
// TargetSize, Channels), stored row-major with values in [0, 1].
type Tensor struct {
	Data   []float32
	Height int
	Width  int
}

// Shape returns the tensor dimensions including the leading batch
// dimension of size 1.
func (t Tensor) Shape() [4]int {
	return [4]int{1, t.Height, t.Width, Channels}
}

// At returns the value at row y, column x, channel c.
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*Channels+c]
}

// Normalize decodes raw image bytes, converts to RGB, resizes to the
// fixed target size (aspect ratio is not preserved; distortion is
// accepted) and scales values to [0, 1].
func Normalize(raw []byte) (Tensor, error) {
	if len(raw) == 0 {
		return Tensor{}, ErrEmptyUpload
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Tensor{}, ErrInvalidImage
	}

	// Scaling into NRGBA converts any source color mode to RGB(A) in
	// one pass, without premultiplied-alpha distortion of the channels.
	dst := image.NewNRGBA(image.Rect(0, 0, TargetSize, TargetSize))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	data := make([]float32, TargetSize*TargetSize*Channels)
	i := 0
	for y := 0; y < TargetSize; y++ {
		for x := 0; x < TargetSize; x++ {
			offset := dst.PixOffset(x, y)
			data[i] = float32(dst.Pix[offset]) / 255.0
			data[i+1] = float32(dst.Pix[offset+1]) / 255.0
			data[i+2] = float32(dst.Pix[offset+2]) / 255.0
			i += Channels
		}
	}

	return Tensor{Data: data, Height: TargetSize, Width: TargetSize}, nil
}
