package dto

import "imageConverter/models"

// ToBase64Response is returned by the basic single-file endpoint.
type ToBase64Response struct {
	Base64   string `json:"base64"`
	Format   string `json:"format"`
	Size     [2]int `json:"size"`
	FileSize int    `json:"file_size"`
}

// ToBase64AdvancedResponse adds original/processed metadata and echoes the
// applied options.
type ToBase64AdvancedResponse struct {
	Base64            string                   `json:"base64"`
	OriginalFormat    string                   `json:"original_format"`
	OriginalSize      [2]int                   `json:"original_size"`
	ProcessedFormat   string                   `json:"processed_format"`
	ProcessedSize     [2]int                   `json:"processed_size"`
	FileSize          int                      `json:"file_size"`
	ProcessingOptions models.ProcessingOptions `json:"processing_options"`
}

// FromBase64Request decodes a Base64 payload back to image bytes.
type FromBase64Request struct {
	Base64 string `json:"base64"`
	Format string `json:"format"`
}

// ValidateBase64Request checks whether a Base64 string is a decodable image.
type ValidateBase64Request struct {
	Base64 string `json:"base64"`
}

type ValidateBase64Response struct {
	Valid  bool    `json:"valid"`
	Format string  `json:"format,omitempty"`
	Size   *[2]int `json:"size,omitempty"`
	Mode   string  `json:"mode,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// ErrorResponse carries a stable error code plus a human-readable message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
