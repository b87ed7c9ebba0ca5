package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"imageConverter/codec"
	"imageConverter/dto"
	"imageConverter/errs"
	"imageConverter/middleware"
	"imageConverter/models"
)

// ToBase64 converts a single uploaded file with default options.
func (h *Handler) ToBase64(w http.ResponseWriter, r *http.Request) {
	input, ok := h.singleUpload(w, r)
	if !ok {
		return
	}

	result, err := h.service.ConvertSingle(r.Context(), input.FileName, input.Data, models.DefaultOptions())
	if err != nil {
		h.respondError(w, r, "Conversion failed", err)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.ToBase64Response{
		Base64:   codec.EncodeBase64(result.Data),
		Format:   result.Meta.Format,
		Size:     [2]int{result.Meta.Width, result.Meta.Height},
		FileSize: int(result.Meta.SizeBytes),
	})
}

// ToBase64Advanced converts a single uploaded file with a caller-supplied
// options record.
func (h *Handler) ToBase64Advanced(w http.ResponseWriter, r *http.Request) {
	input, ok := h.singleUpload(w, r)
	if !ok {
		return
	}

	opts, err := parseOptions(r.FormValue("options"), h.logger)
	if err != nil {
		h.respondError(w, r, "Invalid processing options", err)
		return
	}

	result, err := h.service.ConvertSingle(r.Context(), input.FileName, input.Data, opts)
	if err != nil {
		h.respondError(w, r, "Conversion failed", err)
		return
	}

	originalFormat := result.Meta.OriginalFormat
	originalSize := [2]int{0, 0}
	if probe, err := h.codec.Probe(input.Data); err == nil {
		originalFormat = probe.Format
		originalSize = [2]int{probe.Width, probe.Height}
	}

	h.respondJSON(w, http.StatusOK, dto.ToBase64AdvancedResponse{
		Base64:            codec.EncodeBase64(result.Data),
		OriginalFormat:    originalFormat,
		OriginalSize:      originalSize,
		ProcessedFormat:   result.Meta.Format,
		ProcessedSize:     [2]int{result.Meta.Width, result.Meta.Height},
		FileSize:          int(result.Meta.SizeBytes),
		ProcessingOptions: opts,
	})
}

// FromBase64 decodes a Base64 payload and returns it re-encoded as raw
// image bytes in the requested format.
func (h *Handler) FromBase64(w http.ResponseWriter, r *http.Request) {
	var req dto.FromBase64Request
	if err := decodeJSONBody(r, &req); err != nil {
		h.respondError(w, r, "Invalid request", err)
		return
	}

	data, err := codec.DecodeBase64(req.Base64)
	if err != nil {
		h.respondError(w, r, "Invalid base64 data", err)
		return
	}

	format := strings.ToUpper(strings.TrimSpace(req.Format))
	if format == "" {
		format = models.FormatPNG
	}

	opts := models.DefaultOptions()
	opts.TargetFormat = format

	name := "payload." + formatExtension(format)
	result, err := h.service.ConvertSingle(r.Context(), name, data, opts)
	if err != nil {
		h.respondError(w, r, "Conversion failed", err)
		return
	}

	w.Header().Set("Content-Type", codec.MIMEType(format))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=converted.%s", formatExtension(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

// ValidateBase64 reports whether a Base64 string decodes to an image,
// with format, dimensions, and color mode when it does.
func (h *Handler) ValidateBase64(w http.ResponseWriter, r *http.Request) {
	var req dto.ValidateBase64Request
	if err := decodeJSONBody(r, &req); err != nil {
		h.respondError(w, r, "Invalid request", err)
		return
	}

	data, err := codec.DecodeBase64(req.Base64)
	if err != nil {
		h.respondJSON(w, http.StatusOK, dto.ValidateBase64Response{
			Valid: false,
			Error: errs.MessageOf(err),
		})
		return
	}

	probe, err := h.codec.Probe(data)
	if err != nil {
		h.respondJSON(w, http.StatusOK, dto.ValidateBase64Response{
			Valid: false,
			Error: "data is not a decodable image",
		})
		return
	}

	size := [2]int{probe.Width, probe.Height}
	h.respondJSON(w, http.StatusOK, dto.ValidateBase64Response{
		Valid:  true,
		Format: probe.Format,
		Size:   &size,
		Mode:   probe.Mode,
	})
}

// singleUpload extracts the "file" part of a multipart request into
// memory, responding with the mapped error when it cannot.
func (h *Handler) singleUpload(w http.ResponseWriter, r *http.Request) (fileInput struct {
	FileName string
	Data     []byte
}, ok bool) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		h.respondError(w, r, "Failed to parse form",
			errs.Wrap(errs.KindInputInvalid, "failed to parse multipart form", err))
		return fileInput, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, r, "No file provided",
			errs.Wrap(errs.KindInputInvalid, "no file was provided", err))
		return fileInput, false
	}
	file.Close()

	input, err := h.readUpload(header)
	if err != nil {
		h.respondError(w, r, "Failed to read upload", err)
		return fileInput, false
	}
	if input.Data == nil && input.SourcePath != "" {
		// Single conversions always work in memory; re-read the spooled
		// file and drop it.
		data, rerr := readAndRemove(input.SourcePath)
		if rerr != nil {
			h.respondError(w, r, "Failed to read upload", rerr)
			return fileInput, false
		}
		input.Data = data
	}

	h.logger.Debug("File uploaded",
		zap.String("trace_id", middleware.GetTraceID(r.Context())),
		zap.String("filename", input.FileName),
		zap.Int("bytes", len(input.Data)),
	)

	fileInput.FileName = input.FileName
	fileInput.Data = input.Data
	return fileInput, true
}
