// Package tensorimage turns image files into normalized RGB tensors.
package tensorimage

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Channels is the number of values per pixel in a tensor.
const Channels = 3

// ErrImageDecode is returned for unreadable or corrupt image files.
var ErrImageDecode = errors.New("image decode failed")

// Load decodes the image at path and scales it to size × size.
func Load(path string, size int) (*image.RGBA, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid tensor size %d", size)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecode, path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecode, path, err)
	}
	return Scale(src, size), nil
}

// Scale draws src stretched onto a size × size canvas with bilinear
// sampling. The result depends only on src and size.
func Scale(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// ToTensor decodes the image at path into a size*size*3 slice in height,
// width, channel order with values in [0, 1].
func ToTensor(path string, size int) ([]float64, error) {
	img, err := Load(path, size)
	if err != nil {
		return nil, err
	}
	return FromRGBA(img), nil
}

// FromRGBA flattens img into an HWC tensor, dropping alpha.
func FromRGBA(img *image.RGBA) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy()*Channels)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+4]
			out = append(out, float64(px[0])/255, float64(px[1])/255, float64(px[2])/255)
		}
	}
	return out
}
