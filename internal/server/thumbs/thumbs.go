// Package thumbs produces preview-sized JPEG thumbnails for uploaded
// photos.
package thumbs

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/png"

	"github.com/fieldsnap/fieldsnap/internal/common"
)

// DefaultMaxEdge is the longest side of a generated thumbnail in pixels.
const DefaultMaxEdge = 320

const jpegQuality = 80

// JPEG decodes src (JPEG or PNG), scales it so its longest side is at
// most maxEdge, and re-encodes it as JPEG. Images already within bounds
// are only re-encoded. Formats the standard decoders cannot read, HEIC
// among them, fail with ErrUnsupportedMedia.
func JPEG(src []byte, maxEdge int) ([]byte, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnsupportedMedia, err)
	}

	out := scale(img, maxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// scale returns img resized with nearest-neighbor sampling so that its
// longest side is at most maxEdge. Aspect ratio is preserved.
func scale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	outW, outH := w, h
	if w >= h {
		outW = maxEdge
		outH = h * maxEdge / w
	} else {
		outH = maxEdge
		outW = w * maxEdge / h
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		srcY := b.Min.Y + y*h/outH
		for x := 0; x < outW; x++ {
			srcX := b.Min.X + x*w/outW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}
