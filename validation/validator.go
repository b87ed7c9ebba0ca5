// Package validation is the admission gate every file passes before it is
// scheduled: size, MIME allow-list, header signature, and an optional deep
// decode scan, applied in order with the first failure short-circuiting.
package validation

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"imageConverter/codec"
	"imageConverter/errs"
	"imageConverter/models"
)

type ThreatLevel string

const (
	ThreatNone   ThreatLevel = "none"
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// Result is the outcome of one admission check. Err carries the error
// kind the edge reports when Safe is false.
type Result struct {
	Safe           bool        `json:"safe"`
	ThreatLevel    ThreatLevel `json:"threat_level"`
	Warnings       []string    `json:"warnings"`
	DetectedMime   string      `json:"detected_mime"`
	DetectedFormat string      `json:"detected_format"`
	Err            *errs.Error `json:"-"`
}

type signature struct {
	prefix []byte
	format string
}

// Image header signatures, longest-prefix first where prefixes overlap.
var imageSignatures = []signature{
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, models.FormatPNG},
	{[]byte{0xFF, 0xD8, 0xFF}, models.FormatJPEG},
	{[]byte("GIF87a"), models.FormatGIF},
	{[]byte("GIF89a"), models.FormatGIF},
	{[]byte("BM"), models.FormatBMP},
	{[]byte{0x49, 0x49, 0x2A, 0x00}, models.FormatTIFF},
	{[]byte{0x4D, 0x4D, 0x00, 0x2A}, models.FormatTIFF},
	{[]byte{0x00, 0x00, 0x01, 0x00}, models.FormatICO},
}

// Signatures that mark a file as actively hostile regardless of name.
var threatSignatures = map[string][]byte{
	"windows executable": {0x4D, 0x5A},
	"ELF binary":         {0x7F, 0x45, 0x4C, 0x46},
	"java class file":    {0xCA, 0xFE, 0xBA, 0xBE},
	"shell script":       []byte("#!"),
}

var extensionFormats = map[string]string{
	".png":  models.FormatPNG,
	".jpg":  models.FormatJPEG,
	".jpeg": models.FormatJPEG,
	".gif":  models.FormatGIF,
	".bmp":  models.FormatBMP,
	".tif":  models.FormatTIFF,
	".tiff": models.FormatTIFF,
	".webp": models.FormatWEBP,
	".ico":  models.FormatICO,
}

type Validator struct {
	maxFileSize int64
	allowedMime map[string]bool
	deepScan    bool
	codec       *codec.Codec
	logger      *zap.Logger
}

func NewValidator(maxFileSize int64, allowedMimeTypes []string, deepScan bool, c *codec.Codec, logger *zap.Logger) *Validator {
	allowed := make(map[string]bool, len(allowedMimeTypes))
	for _, m := range allowedMimeTypes {
		allowed[strings.ToLower(m)] = true
	}
	return &Validator{
		maxFileSize: maxFileSize,
		allowedMime: allowed,
		deepScan:    deepScan,
		codec:       c,
		logger:      logger,
	}
}

// Validate runs the admission checks against an in-memory upload.
func (v *Validator) Validate(fileName string, data []byte) Result {
	res := Result{ThreatLevel: ThreatNone}

	// 1. Size bound. Exactly at the limit is admitted.
	if int64(len(data)) > v.maxFileSize {
		res.ThreatLevel = ThreatLow
		res.Err = errs.New(errs.KindFileTooLarge,
			fmt.Sprintf("file size %d exceeds limit of %d bytes", len(data), v.maxFileSize))
		return res
	}
	if len(data) == 0 {
		res.ThreatLevel = ThreatLow
		res.Err = errs.New(errs.KindInputInvalid, "file is empty")
		return res
	}

	// Hostile payloads are rejected before any format reasoning.
	for name, sig := range threatSignatures {
		if bytes.HasPrefix(data, sig) {
			res.ThreatLevel = ThreatHigh
			res.Err = errs.New(errs.KindSecurityRejected,
				fmt.Sprintf("file content matches %s signature", name))
			return res
		}
	}

	// 2. Detected MIME type must be on the allow-list.
	res.DetectedMime = http.DetectContentType(data)
	if !v.allowedMime[strings.ToLower(res.DetectedMime)] {
		res.ThreatLevel = ThreatMedium
		res.Err = errs.New(errs.KindUnsupportedFormat,
			fmt.Sprintf("mime type %s is not allowed", res.DetectedMime))
		return res
	}

	// 3. Header signature sniff, cross-checked against the file name.
	format, ok := sniffFormat(data)
	if !ok {
		res.ThreatLevel = ThreatMedium
		res.Err = errs.New(errs.KindUnsupportedFormat, "file header matches no supported image format")
		return res
	}
	res.DetectedFormat = format

	ext := strings.ToLower(filepath.Ext(fileName))
	if declared, known := extensionFormats[ext]; known && declared != format {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("file extension %s does not match detected format %s", ext, format))
		res.ThreatLevel = ThreatLow
	}

	// 4. Optional deep scan: a full decode round-trip.
	if v.deepScan {
		if err := v.codec.DecodeCheck(data); err != nil {
			res.ThreatLevel = ThreatMedium
			res.Err = errs.Wrap(errs.KindSecurityRejected, "file failed deep content scan", err)
			v.logger.Warn("Deep scan rejected file",
				zap.String("file", fileName),
				zap.String("format", format),
				zap.Error(err))
			return res
		}
	}

	res.Safe = true
	return res
}

// sniffFormat matches the file header against known image signatures.
// WEBP needs a two-part check: RIFF container plus WEBP tag at offset 8.
func sniffFormat(data []byte) (string, bool) {
	for _, sig := range imageSignatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.format, true
		}
	}
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return models.FormatWEBP, true
	}
	return "", false
}
