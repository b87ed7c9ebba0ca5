package validation

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"go.uber.org/zap/zaptest"

	"imageConverter/codec"
	"imageConverter/errs"
	"imageConverter/models"
)

var defaultMimeTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/bmp", "image/webp",
}

func newTestValidator(t *testing.T, maxSize int64, deepScan bool) *Validator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewValidator(maxSize, defaultMimeTypes, deepScan, codec.NewCodec(logger), logger)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		img.Set(i, i, color.RGBA{255, 0, 0, 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func TestValidate_AcceptsValidPNG(t *testing.T) {
	v := newTestValidator(t, 1<<20, true)

	res := v.Validate("photo.png", pngBytes(t))
	if !res.Safe {
		t.Fatalf("Expected valid PNG to pass, got err=%v", res.Err)
	}
	if res.DetectedFormat != models.FormatPNG {
		t.Errorf("Expected detected format PNG, got %s", res.DetectedFormat)
	}
	if res.DetectedMime != "image/png" {
		t.Errorf("Expected mime image/png, got %s", res.DetectedMime)
	}
	if res.ThreatLevel != ThreatNone {
		t.Errorf("Expected threat level none, got %s", res.ThreatLevel)
	}
}

func TestValidate_SizeBoundary(t *testing.T) {
	data := pngBytes(t)

	// Exactly at the limit: accepted.
	atLimit := newTestValidator(t, int64(len(data)), true)
	if res := atLimit.Validate("photo.png", data); !res.Safe {
		t.Errorf("File exactly at the size limit must pass, got err=%v", res.Err)
	}

	// One byte under the file size: rejected with FILE_TOO_LARGE.
	oneOver := newTestValidator(t, int64(len(data))-1, true)
	res := oneOver.Validate("photo.png", data)
	if res.Safe {
		t.Fatal("File over the size limit must be rejected")
	}
	if res.Err.Kind != errs.KindFileTooLarge {
		t.Errorf("Expected FILE_TOO_LARGE, got %s", res.Err.Kind)
	}
}

func TestValidate_RejectsEmptyFile(t *testing.T) {
	v := newTestValidator(t, 1<<20, false)
	if res := v.Validate("empty.png", nil); res.Safe {
		t.Error("Empty file must be rejected")
	}
}

func TestValidate_RejectsExecutable(t *testing.T) {
	v := newTestValidator(t, 1<<20, false)

	elf := append([]byte{0x7F, 0x45, 0x4C, 0x46}, make([]byte, 64)...)
	res := v.Validate("innocent.png", elf)
	if res.Safe {
		t.Fatal("ELF payload must be rejected")
	}
	if res.Err.Kind != errs.KindSecurityRejected {
		t.Errorf("Expected SECURITY_REJECTED, got %s", res.Err.Kind)
	}
	if res.ThreatLevel != ThreatHigh {
		t.Errorf("Expected threat level high, got %s", res.ThreatLevel)
	}
}

func TestValidate_RejectsUnknownMime(t *testing.T) {
	v := newTestValidator(t, 1<<20, false)

	res := v.Validate("doc.txt", []byte("plain text, clearly not an image"))
	if res.Safe {
		t.Fatal("Non-image content must be rejected")
	}
	if res.Err.Kind != errs.KindUnsupportedFormat {
		t.Errorf("Expected UNSUPPORTED_FORMAT, got %s", res.Err.Kind)
	}
}

func TestValidate_ExtensionMismatchWarns(t *testing.T) {
	v := newTestValidator(t, 1<<20, true)

	res := v.Validate("photo.jpg", pngBytes(t))
	if !res.Safe {
		t.Fatalf("Mismatched extension should warn, not reject: %v", res.Err)
	}
	if len(res.Warnings) == 0 {
		t.Error("Expected a warning for extension/content mismatch")
	}
	if res.ThreatLevel != ThreatLow {
		t.Errorf("Expected threat level low, got %s", res.ThreatLevel)
	}
}

func TestValidate_DeepScanCatchesTruncatedImage(t *testing.T) {
	full := pngBytes(t)
	truncated := full[:len(full)/2]

	shallow := newTestValidator(t, 1<<20, false)
	if res := shallow.Validate("photo.png", truncated); !res.Safe {
		t.Fatalf("Header-only validation should pass a truncated PNG: %v", res.Err)
	}

	deep := newTestValidator(t, 1<<20, true)
	res := deep.Validate("photo.png", truncated)
	if res.Safe {
		t.Fatal("Deep scan must reject a truncated PNG")
	}
	if res.Err.Kind != errs.KindSecurityRejected {
		t.Errorf("Expected SECURITY_REJECTED, got %s", res.Err.Kind)
	}
}
