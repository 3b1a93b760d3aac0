// Package imaging shrinks image blobs before upload.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // decoder registration
	"path"
	"strings"

	"github.com/geodiary/mapcore/internal/model/core"
)

const (
	// Threshold is the blob size above which images are compressed.
	Threshold = 1 << 20
	// MaxEdge is the longest edge of a compressed image in pixels.
	MaxEdge = 1920
	// Quality is the JPEG quality used when re-encoding.
	Quality = 80
)

// Compressor turns an image blob into a smaller one.
type Compressor interface {
	Compress(img core.LocalImage) (core.LocalImage, error)
}

// NeedsCompression reports whether img is above Threshold.
func NeedsCompression(img core.LocalImage) bool {
	return img.Size() > Threshold
}

// JPEG re-encodes images as JPEG, downscaling so that neither edge exceeds MaxEdge.
type JPEG struct {
	MaxEdge int
	Quality int
}

// NewJPEG returns a compressor with the default settings.
func NewJPEG() *JPEG {
	return &JPEG{MaxEdge: MaxEdge, Quality: Quality}
}

// Compress decodes img, scales it down and re-encodes it.
func (c *JPEG) Compress(img core.LocalImage) (core.LocalImage, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return core.LocalImage{}, fmt.Errorf("failed to decode %s: %w", img.Name, err)
	}

	scaled := scale(src, c.MaxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: c.Quality}); err != nil {
		return core.LocalImage{}, fmt.Errorf("failed to encode %s: %w", img.Name, err)
	}

	out := img
	out.Data = buf.Bytes()
	out.ContentType = "image/jpeg"
	out.Name = strings.TrimSuffix(img.Name, path.Ext(img.Name)) + ".jpg"
	return out, nil
}

// scale resamples src with nearest-neighbour so its longest edge is at most maxEdge.
func scale(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxEdge <= 0 || longest <= maxEdge {
		return src
	}

	nw := max(1, w*maxEdge/longest)
	nh := max(1, h*maxEdge/longest)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	for y := 0; y < nh; y++ {
		sy := b.Min.Y + y*h/nh
		for x := 0; x < nw; x++ {
			sx := b.Min.X + x*w/nw
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
