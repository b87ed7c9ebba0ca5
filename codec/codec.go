// Package codec converts image bytes according to a ProcessingOptions
// record. It is a pure function of its inputs: decoded pixels never cross
// the package boundary.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	// Decoders beyond the stdlib set. Encoding for these goes through
	// imaging, which handles BMP and TIFF itself; WEBP is decode-only.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"imageConverter/errs"
	"imageConverter/models"
)

// Metadata describes a conversion result.
type Metadata struct {
	OriginalFormat string
	Format         string
	Width          int
	Height         int
	FileSize       int
}

type Codec struct {
	logger *zap.Logger
}

func NewCodec(logger *zap.Logger) *Codec {
	return &Codec{logger: logger}
}

// Convert decodes data, applies rotation, flips, resizing, and format
// conversion per options, and re-encodes with the requested quality.
func (c *Codec) Convert(data []byte, opts models.ProcessingOptions) ([]byte, Metadata, error) {
	src, originalFormat, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, errs.Wrap(errs.KindCodecFailed, "failed to decode image", err)
	}
	originalFormat = canonicalFormat(originalFormat)

	img := imaging.Clone(src)

	switch opts.RotationAngle {
	case 90:
		img = imaging.Rotate90(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate270(img)
	}

	if opts.FlipHorizontal {
		img = imaging.FlipH(img)
	}
	if opts.FlipVertical {
		img = imaging.FlipV(img)
	}

	if opts.HasResize() {
		img = resize(img, opts)
	}

	targetFormat := opts.TargetFormat
	if targetFormat == "" {
		targetFormat = originalFormat
	}

	encoded, err := encode(img, targetFormat, opts.Quality)
	if err != nil {
		return nil, Metadata{}, err
	}

	bounds := img.Bounds()
	meta := Metadata{
		OriginalFormat: originalFormat,
		Format:         targetFormat,
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
		FileSize:       len(encoded),
	}

	c.logger.Debug("Conversion completed",
		zap.String("original_format", originalFormat),
		zap.String("format", targetFormat),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.Int("bytes", meta.FileSize),
	)

	return encoded, meta, nil
}

func resize(img *image.NRGBA, opts models.ProcessingOptions) *image.NRGBA {
	width := opts.ResizeWidth
	height := opts.ResizeHeight

	if opts.MaintainAspectRatio {
		if width > 0 && height > 0 {
			return imaging.Fit(img, width, height, imaging.Lanczos)
		}
		// imaging.Resize preserves aspect when one dimension is zero.
		return imaging.Resize(img, width, height, imaging.Lanczos)
	}

	if width == 0 {
		width = img.Bounds().Dx()
	}
	if height == 0 {
		height = img.Bounds().Dy()
	}
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = models.DefaultQuality
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case models.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case models.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case models.FormatGIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	case models.FormatBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	case models.FormatTIFF:
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case models.FormatWEBP, models.FormatICO:
		return nil, errs.New(errs.KindUnsupportedFormat,
			fmt.Sprintf("no encoder available for %s", format))
	default:
		return nil, errs.New(errs.KindUnsupportedFormat,
			fmt.Sprintf("unsupported target format: %s", format))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindCodecFailed, "failed to encode image", err)
	}
	return buf.Bytes(), nil
}

// ProbeResult describes a decodable image without a full pixel decode.
type ProbeResult struct {
	Format string
	Width  int
	Height int
	Mode   string
}

// Probe inspects the image header only.
func (c *Codec) Probe(data []byte) (ProbeResult, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ProbeResult{}, errs.Wrap(errs.KindCodecFailed, "failed to decode image header", err)
	}
	return ProbeResult{
		Format: canonicalFormat(format),
		Width:  cfg.Width,
		Height: cfg.Height,
		Mode:   colorMode(cfg.ColorModel),
	}, nil
}

// DecodeCheck performs a full decode round-trip. The validator's deep
// scan uses it to catch files whose headers lie about their contents.
func (c *Codec) DecodeCheck(data []byte) error {
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return errs.Wrap(errs.KindCodecFailed, "image failed deep decode scan", err)
	}
	return nil
}

func canonicalFormat(name string) string {
	switch strings.ToLower(name) {
	case "jpeg", "jpg":
		return models.FormatJPEG
	case "png":
		return models.FormatPNG
	case "gif":
		return models.FormatGIF
	case "bmp":
		return models.FormatBMP
	case "tiff":
		return models.FormatTIFF
	case "webp":
		return models.FormatWEBP
	default:
		return strings.ToUpper(name)
	}
}

func colorMode(m color.Model) string {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "L"
	case color.CMYKModel:
		return "CMYK"
	case color.YCbCrModel:
		return "RGB"
	case color.AlphaModel, color.Alpha16Model:
		return "A"
	}
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	return "RGBA"
}

// MIMEType returns the content type served for a canonical format name.
func MIMEType(format string) string {
	switch format {
	case models.FormatJPEG:
		return "image/jpeg"
	case models.FormatPNG:
		return "image/png"
	case models.FormatGIF:
		return "image/gif"
	case models.FormatBMP:
		return "image/bmp"
	case models.FormatTIFF:
		return "image/tiff"
	case models.FormatWEBP:
		return "image/webp"
	case models.FormatICO:
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}
