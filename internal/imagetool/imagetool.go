// Package imagetool resizes and re-encodes images in process. WebP output goes
// through an external encoder since there is no pure Go WebP encoder.
package imagetool

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"bitgremlin/internal/pipeline"
)

// Fit modes.
const (
	FitCover   = "cover"
	FitContain = "contain"
	FitInside  = "inside"
	FitOutside = "outside"
	FitFill    = "fill"
)

// Fits are the accepted fit modes.
var Fits = []string{FitCover, FitContain, FitInside, FitOutside, FitFill}

// Formats are the accepted output formats for the image tool.
var Formats = []string{"auto", "png", "jpg", "webp"}

// MaxDimension bounds requested width and height.
const MaxDimension = 10000

// maxPixels bounds decoded image size.
const maxPixels = 100_000_000

// Options configures one image tool run. Zero width or height means "derive from
// the aspect ratio".
type Options struct {
	Width   int
	Height  int
	Fit     string
	Format  string
	Quality int
}

// Output is an encoded image.
type Output struct {
	Data        []byte
	Ext         string
	ContentType string
}

// Service decodes, resizes and encodes images.
type Service struct {
	webp *WebPEncoder
}

// NewService creates an image service.
func NewService(webp *WebPEncoder) *Service {
	return &Service{webp: webp}
}

// Process resizes data per o and encodes it. Re-encoding drops all metadata.
func (s *Service) Process(ctx context.Context, data []byte, o Options) (*Output, error) {
	img, srcFormat, err := decode(data)
	if err != nil {
		return nil, err
	}
	if o.Width > 0 || o.Height > 0 {
		img = Resize(img, o.Width, o.Height, o.Fit)
	}

	ext := o.Format
	if ext == "" || ext == "auto" {
		ext = autoExt(srcFormat)
	}
	quality := o.Quality
	switch ext {
	case "png":
		return encodePNG(img, pngLevel(quality))
	case "jpg":
		return encodeJPEG(img, quality)
	case "webp":
		return s.encodeWebP(ctx, img, quality)
	default:
		return nil, pipeline.UnsupportedParameter("format", o.Format)
	}
}

// Convert re-encodes data as target: png, jpg, jpeg or webp.
func (s *Service) Convert(ctx context.Context, data []byte, target string) (*Output, error) {
	switch target {
	case "png", "jpg", "jpeg", "webp":
	default:
		return nil, pipeline.UnsupportedOperation("unsupported image target: %s", target)
	}

	img, _, err := decode(data)
	if err != nil {
		return nil, err
	}
	switch target {
	case "png":
		return encodePNG(img, png.BestCompression)
	case "webp":
		return s.encodeWebP(ctx, img, 90)
	default:
		return encodeJPEG(img, 90)
	}
}

func decode(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", pipeline.InputRejected(err, "unsupported or corrupt image")
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, "", pipeline.InputRejected(nil, "image too large (%dx%d)", cfg.Width, cfg.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", pipeline.InputRejected(err, "unsupported or corrupt image")
	}
	return img, format, nil
}

// Resize scales img to w x h under fit. When only one side is given the other
// follows the aspect ratio, whatever the fit.
func Resize(img image.Image, w, h int, fit string) image.Image {
	if w <= 0 || h <= 0 {
		return imaging.Resize(img, w, h, imaging.Lanczos)
	}

	b := img.Bounds()
	sw, sh := float64(b.Dx()), float64(b.Dy())
	switch fit {
	case FitCover:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	case FitFill:
		return imaging.Resize(img, w, h, imaging.Lanczos)
	case FitOutside:
		scale := math.Max(float64(w)/sw, float64(h)/sh)
		return imaging.Resize(img, scaled(sw, scale), scaled(sh, scale), imaging.Lanczos)
	case FitContain:
		scale := math.Min(float64(w)/sw, float64(h)/sh)
		inner := imaging.Resize(img, scaled(sw, scale), scaled(sh, scale), imaging.Lanczos)
		canvas := imaging.New(w, h, color.NRGBA{})
		return imaging.PasteCenter(canvas, inner)
	default:
		scale := math.Min(float64(w)/sw, float64(h)/sh)
		return imaging.Resize(img, scaled(sw, scale), scaled(sh, scale), imaging.Lanczos)
	}
}

func scaled(v, scale float64) int {
	n := int(math.Round(v * scale))
	if n < 1 {
		return 1
	}
	return n
}

func autoExt(format string) string {
	switch format {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpg"
	}
}

// pngLevel maps a 0..100 quality onto the 0..9 zlib scale, then onto the levels
// image/png offers.
func pngLevel(quality int) png.CompressionLevel {
	level := int(math.Round(float64(quality) / 100 * 9))
	switch {
	case level == 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func encodePNG(img image.Image, level png.CompressionLevel) (*Output, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(level)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &Output{Data: buf.Bytes(), Ext: "png", ContentType: "image/png"}, nil
}

func encodeJPEG(img image.Image, quality int) (*Output, error) {
	if quality < 1 {
		quality = 1
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return &Output{Data: buf.Bytes(), Ext: "jpg", ContentType: "image/jpeg"}, nil
}

func (s *Service) encodeWebP(ctx context.Context, img image.Image, quality int) (*Output, error) {
	if s.webp == nil {
		return nil, pipeline.UnsupportedOperation("webp output is not available")
	}
	data, err := s.webp.Encode(ctx, img, quality)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data, Ext: "webp", ContentType: "image/webp"}, nil
}
