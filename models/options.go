package models

import (
	"strings"

	"imageConverter/errs"
)

// Image formats accepted as conversion targets.
const (
	FormatPNG  = "PNG"
	FormatJPEG = "JPEG"
	FormatWEBP = "WEBP"
	FormatGIF  = "GIF"
	FormatBMP  = "BMP"
	FormatTIFF = "TIFF"
	FormatICO  = "ICO"
)

const DefaultQuality = 85

var validTargetFormats = map[string]bool{
	FormatPNG:  true,
	FormatJPEG: true,
	FormatWEBP: true,
	FormatGIF:  true,
	FormatBMP:  true,
	FormatTIFF: true,
	FormatICO:  true,
}

var validRotations = map[int]bool{0: true, 90: true, 180: true, 270: true}

// ProcessingOptions is the fixed option record shared by every task in a
// job. Unknown keys arriving at the edge are ignored with a warning.
type ProcessingOptions struct {
	ResizeWidth         int    `json:"resize_width,omitempty"`
	ResizeHeight        int    `json:"resize_height,omitempty"`
	MaintainAspectRatio bool   `json:"maintain_aspect_ratio"`
	Quality             int    `json:"quality"`
	TargetFormat        string `json:"target_format,omitempty"`
	RotationAngle       int    `json:"rotation_angle"`
	FlipHorizontal      bool   `json:"flip_horizontal"`
	FlipVertical        bool   `json:"flip_vertical"`
}

// DefaultOptions returns the options applied when a request carries none.
func DefaultOptions() ProcessingOptions {
	return ProcessingOptions{
		MaintainAspectRatio: true,
		Quality:             DefaultQuality,
	}
}

// Validate checks ranges and uppercases the target format in place.
func (o *ProcessingOptions) Validate() error {
	if o.Quality < 1 || o.Quality > 100 {
		return errs.New(errs.KindInputInvalid, "quality must be between 1 and 100")
	}
	if !validRotations[o.RotationAngle] {
		return errs.New(errs.KindInputInvalid, "rotation angle must be 0, 90, 180, or 270 degrees")
	}
	if o.ResizeWidth < 0 {
		return errs.New(errs.KindInputInvalid, "resize width must be positive")
	}
	if o.ResizeHeight < 0 {
		return errs.New(errs.KindInputInvalid, "resize height must be positive")
	}
	if o.TargetFormat != "" {
		o.TargetFormat = strings.ToUpper(o.TargetFormat)
		if !validTargetFormats[o.TargetFormat] {
			return errs.New(errs.KindUnsupportedFormat, "target format must be one of PNG, JPEG, WEBP, GIF, BMP, TIFF, ICO")
		}
	}
	return nil
}

// Normalized returns a copy with every field at its default value zeroed,
// so semantically equal option sets serialize identically for hashing.
// MaintainAspectRatio defaults to true and is folded to false (ignored)
// when no resize is requested, since it has no effect then.
func (o ProcessingOptions) Normalized() ProcessingOptions {
	n := o
	if n.Quality == DefaultQuality {
		n.Quality = 0
	}
	if n.ResizeWidth == 0 && n.ResizeHeight == 0 {
		n.MaintainAspectRatio = false
	}
	return n
}

// HasResize reports whether either target dimension is set.
func (o ProcessingOptions) HasResize() bool {
	return o.ResizeWidth > 0 || o.ResizeHeight > 0
}
