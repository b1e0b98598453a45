// Package imaging sniffs uploaded files and normalizes leaf photos before
// they are sent to the classifier: downscale to fit a bounding box, re-encode
// as JPEG, and cut a square thumbnail for the history view.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned by Sniff for content that is not an image.
var ErrNotImage = errors.New("imaging: not an image")

// ErrTooManyPixels is returned by Normalize when the declared dimensions
// exceed Options.MaxInputPixels. The check runs before any pixel is decoded.
var ErrTooManyPixels = errors.New("imaging: image has too many pixels")

// Kind describes sniffed content.
type Kind struct {
	MIME      string // e.g. "image/png"
	Extension string // with leading dot, e.g. ".png"
}

// Sniff inspects the leading bytes of data. The declared Content-Type of an
// upload is ignored; only the content decides.
func Sniff(data []byte) (Kind, error) {
	m := mimetype.Detect(data)
	if !strings.HasPrefix(m.String(), "image/") {
		return Kind{}, fmt.Errorf("%w: detected %s", ErrNotImage, m.String())
	}
	return Kind{MIME: m.String(), Extension: m.Extension()}, nil
}

// Options controls normalization.
type Options struct {
	MaxDimension  int // longest side after resizing
	ThumbnailSize int // edge of the square thumbnail
	Quality       int // JPEG quality, 1-100

	// MaxInputPixels caps width*height of the decoded upload. A few KiB of
	// compressed PNG can declare a canvas that needs gigabytes.
	MaxInputPixels int
}

// DefaultOptions matches the environment defaults.
var DefaultOptions = Options{MaxDimension: 800, ThumbnailSize: 200, Quality: 80, MaxInputPixels: 40_000_000}

// Result holds the re-encoded image and its thumbnail, both JPEG.
type Result struct {
	Image     []byte
	Thumbnail []byte
	Width     int
	Height    int
}

// ContentType of everything Normalize produces.
const ContentType = "image/jpeg"

type Normalizer struct {
	opts Options
}

func NewNormalizer(opts Options) *Normalizer {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultOptions.MaxDimension
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = DefaultOptions.ThumbnailSize
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = DefaultOptions.Quality
	}
	if opts.MaxInputPixels <= 0 {
		opts.MaxInputPixels = DefaultOptions.MaxInputPixels
	}
	return &Normalizer{opts: opts}
}

// Normalize decodes data, shrinks it to fit inside MaxDimension×MaxDimension
// (never enlarging), and encodes it as JPEG together with a center-cropped
// thumbnail. Callers treat any error as "use the original bytes".
func (n *Normalizer) Normalize(data []byte) (*Result, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: reading header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("imaging: empty image")
	}
	if cfg.Width > n.opts.MaxInputPixels/cfg.Height {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrTooManyPixels,
			cfg.Width, cfg.Height, n.opts.MaxInputPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decoding: %w", err)
	}

	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("imaging: empty image")
	}

	w, h := fitInside(b.Dx(), b.Dy(), n.opts.MaxDimension)
	resized := newCanvas(w, h)
	draw.CatmullRom.Scale(resized, resized.Bounds(), src, b, draw.Over, nil)

	thumb := newCanvas(n.opts.ThumbnailSize, n.opts.ThumbnailSize)
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), resized, centerSquare(resized.Bounds()), draw.Over, nil)

	imgBytes, err := n.encode(resized)
	if err != nil {
		return nil, err
	}
	thumbBytes, err := n.encode(thumb)
	if err != nil {
		return nil, err
	}

	return &Result{Image: imgBytes, Thumbnail: thumbBytes, Width: w, Height: h}, nil
}

func (n *Normalizer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.opts.Quality}); err != nil {
		return nil, fmt.Errorf("imaging: encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitInside scales (w, h) down so neither side exceeds limit, keeping the
// aspect ratio. Images already inside the box are returned unchanged.
func fitInside(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := h * limit / w
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := w * limit / h
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}

// centerSquare is the largest square centered in r.
func centerSquare(r image.Rectangle) image.Rectangle {
	side := r.Dx()
	if r.Dy() < side {
		side = r.Dy()
	}
	x0 := r.Min.X + (r.Dx()-side)/2
	y0 := r.Min.Y + (r.Dy()-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// newCanvas is an opaque white RGBA image. JPEG has no alpha channel, so
// transparent pixels end up white instead of black.
func newCanvas(w, h int) *image.RGBA {
	c := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(c, c.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return c
}
