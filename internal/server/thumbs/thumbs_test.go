package thumbs

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsnap/fieldsnap/internal/common"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestJPEG_DownscalesLandscape(t *testing.T) {
	out, err := JPEG(encodeJPEG(t, 1600, 1200), 320)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)
}

func TestJPEG_DownscalesPortrait(t *testing.T) {
	out, err := JPEG(encodeJPEG(t, 600, 1200), 320)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 160, w)
	assert.Equal(t, 320, h)
}

func TestJPEG_KeepsSmallImages(t *testing.T) {
	out, err := JPEG(encodeJPEG(t, 100, 80), 320)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 80, h)
}

func TestJPEG_AcceptsPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 640))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := JPEG(buf.Bytes(), 320)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 320, w)
	assert.Equal(t, 320, h)
}

func TestJPEG_RejectsUnknownFormat(t *testing.T) {
	_, err := JPEG([]byte("not an image"), 320)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnsupportedMedia)
}
