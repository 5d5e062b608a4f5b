// Package preprocess prepares photos for upload: decode, flatten, downscale
// and re-encode as JPEG.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/face-finder/internal/constants"
)

// ErrDecode marks input that is not a decodable JPEG or PNG image.
// It is terminal for the photo and never retried.
var ErrDecode = errors.New("cannot decode image")

// Image is a compressed upload payload.
type Image struct {
	Data        []byte // re-encoded JPEG
	ContentType string
	Source      []byte // original file bytes, used for face extraction
	SourceSize  int
	Width       int
	Height      int
}

// Compressor downsizes images so neither side exceeds MaxDimension.
// Images above MaxPixels are rejected before decoding, zero means
// constants.MaxDecodePixels.
type Compressor struct {
	MaxDimension int
	Quality      int
	MaxPixels    int64
}

// New returns a compressor, zero values fall back to the defaults.
func New(maxDimension, quality int) *Compressor {
	if maxDimension <= 0 {
		maxDimension = constants.MaxImageSize
	}
	if quality <= 0 || quality > 100 {
		quality = constants.JPEGQuality
	}
	return &Compressor{MaxDimension: maxDimension, Quality: quality, MaxPixels: constants.MaxDecodePixels}
}

// Compress reads and compresses the file at path.
func (c *Compressor) Compress(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.CompressBytes(data)
}

// CompressBytes compresses an in-memory JPEG or PNG.
func (c *Compressor) CompressBytes(data []byte) (*Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	limit := c.MaxPixels
	if limit <= 0 {
		limit = constants.MaxDecodePixels
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > limit {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, limit)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	width, height := FitWithin(bounds.Dx(), bounds.Dy(), c.MaxDimension)

	// opaque white canvas: JPEG carries no alpha
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Image{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Source:      data,
		SourceSize:  len(data),
		Width:       width,
		Height:      height,
	}, nil
}

// FitWithin returns the dimensions scaled down so the longer side equals
// maxSize, keeping the aspect ratio. Images that already fit are unchanged.
func FitWithin(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}

	scale := float64(maxSize) / float64(max(width, height))
	newWidth := max(1, int(math.Round(float64(width)*scale)))
	newHeight := max(1, int(math.Round(float64(height)*scale)))
	return min(newWidth, maxSize), min(newHeight, maxSize)
}
