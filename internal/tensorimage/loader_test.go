package tensorimage

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, w, h int, fill func(x, y int) color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestToTensorSolidColour(t *testing.T) {
	path := writePNG(t, t.TempDir(), "red.png", 80, 100, func(int, int) color.Color {
		return color.RGBA{R: 255, A: 255}
	})

	tensor, err := ToTensor(path, 16)
	require.NoError(t, err)
	require.Len(t, tensor, 16*16*Channels)
	for i := 0; i < len(tensor); i += Channels {
		assert.InDelta(t, 1.0, tensor[i], 0.01)
		assert.InDelta(t, 0.0, tensor[i+1], 0.01)
		assert.InDelta(t, 0.0, tensor[i+2], 0.01)
	}
}

func TestToTensorIsDeterministic(t *testing.T) {
	path := writePNG(t, t.TempDir(), "gradient.png", 37, 23, func(x, y int) color.Color {
		return color.RGBA{R: uint8(x * 6), G: uint8(y * 10), B: uint8((x + y) * 3), A: 255}
	})

	a, err := ToTensor(path, 12)
	require.NoError(t, err)
	b, err := ToTensor(path, 12)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	for _, v := range a {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestToTensorDecodeErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ToTensor(filepath.Join(dir, "missing.png"), 8)
	require.ErrorIs(t, err, ErrImageDecode)

	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not a png"), 0o644))
	_, err = ToTensor(corrupt, 8)
	require.ErrorIs(t, err, ErrImageDecode)

	_, err = ToTensor(corrupt, 0)
	require.Error(t, err)
}
