// Package handlers is the HTTP edge: it translates multipart and JSON
// requests into core operations and maps error kinds to status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"imageConverter/cache"
	"imageConverter/codec"
	"imageConverter/dto"
	"imageConverter/errs"
	"imageConverter/middleware"
	"imageConverter/models"
	"imageConverter/scheduler"
	"imageConverter/validation"
)

const multipartMemoryLimit = 32 << 20

// ConversionService is the slice of the scheduler the HTTP edge calls,
// narrowed to an interface so handler tests can mock it.
type ConversionService interface {
	ConvertSingle(ctx context.Context, fileName string, data []byte, opts models.ProcessingOptions) (cache.Result, error)
	StartBatch(ctx context.Context, opts models.ProcessingOptions, files []scheduler.FileInput) (string, []dto.FileRejection, error)
	Progress(jobID string) (models.JobSnapshot, error)
	Cancel(jobID string) (models.JobStatus, bool, error)
	Status() dto.BatchStatusResponse
	Cleanup(maxAge time.Duration) (cleanedTasks, cleanedQueues, cleanedTracking int)
}

// CacheAdmin is the cache surface exposed through the admin endpoints.
type CacheAdmin interface {
	Stats() cache.Stats
	Clear(ctx context.Context) (int, int64)
}

// FileValidator runs the admission gate for the security scan endpoint.
type FileValidator interface {
	Validate(fileName string, data []byte) validation.Result
}

type Handler struct {
	service            ConversionService
	cache              CacheAdmin
	validator          FileValidator
	codec              *codec.Codec
	logger             *zap.Logger
	largeFileThreshold int64
}

func NewHandler(service ConversionService, cacheAdmin CacheAdmin, validator FileValidator, c *codec.Codec, largeFileThreshold int64, logger *zap.Logger) *Handler {
	return &Handler{
		service:            service,
		cache:              cacheAdmin,
		validator:          validator,
		codec:              c,
		logger:             logger,
		largeFileThreshold: largeFileThreshold,
	}
}

func sanitizeFilename(filename string) string {
	return filepath.Base(filename)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, message string, err error) {
	traceID := middleware.GetTraceID(r.Context())
	kind := errs.KindOf(err)

	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)

	detail := errs.MessageOf(err)
	if detail == "" {
		detail = message
	}
	h.respondJSON(w, errs.HTTPStatus(kind), dto.ErrorResponse{
		Error:   detail,
		Code:    string(kind),
		TraceID: traceID,
	})
}

// readUpload pulls one multipart file into memory, spooling to a temp
// file instead when its declared size crosses the large-file threshold.
func (h *Handler) readUpload(header *multipart.FileHeader) (scheduler.FileInput, error) {
	file, err := header.Open()
	if err != nil {
		return scheduler.FileInput{}, errs.Wrap(errs.KindInputInvalid, "failed to open uploaded file", err)
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)

	if h.largeFileThreshold > 0 && header.Size > h.largeFileThreshold {
		tmp, err := os.CreateTemp("", "imgconv-upload-*")
		if err != nil {
			return scheduler.FileInput{}, errs.Wrap(errs.KindInternal, "failed to spool upload", err)
		}
		if _, err := io.Copy(tmp, file); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return scheduler.FileInput{}, errs.Wrap(errs.KindInternal, "failed to spool upload", err)
		}
		tmp.Close()
		return scheduler.FileInput{FileName: name, SourcePath: tmp.Name()}, nil
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return scheduler.FileInput{}, errs.Wrap(errs.KindInputInvalid, "failed to read uploaded file", err)
	}
	return scheduler.FileInput{FileName: name, Data: data}, nil
}

// parseOptions decodes the options form field, ignoring unknown keys with
// a warning and applying defaults for omitted ones.
func parseOptions(raw string, logger *zap.Logger) (models.ProcessingOptions, error) {
	opts := models.DefaultOptions()
	if raw == "" {
		return opts, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return opts, errs.Wrap(errs.KindInputInvalid, "invalid options format", err)
	}

	recognized := map[string]bool{
		"resize_width": true, "resize_height": true,
		"maintain_aspect_ratio": true, "quality": true,
		"target_format": true, "rotation_angle": true,
		"flip_horizontal": true, "flip_vertical": true,
	}
	for key := range fields {
		if !recognized[key] {
			logger.Warn("Ignoring unknown processing option", zap.String("key", key))
			delete(fields, key)
		}
	}

	filtered, err := json.Marshal(fields)
	if err != nil {
		return opts, errs.Wrap(errs.KindInputInvalid, "invalid options format", err)
	}
	if err := json.Unmarshal(filtered, &opts); err != nil {
		return opts, errs.Wrap(errs.KindInputInvalid, "invalid options format", err)
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func decodeJSONBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errs.New(errs.KindInputInvalid, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.KindInputInvalid, "request body is required")
		}
		return errs.Wrap(errs.KindInputInvalid, "invalid JSON body", err)
	}
	return nil
}

// readAndRemove consumes a spooled upload file.
func readAndRemove(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	os.Remove(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to read spooled upload", err)
	}
	return data, nil
}

// formatExtension picks the download extension for a canonical format.
func formatExtension(format string) string {
	switch format {
	case models.FormatJPEG:
		return "jpg"
	case models.FormatPNG:
		return "png"
	case models.FormatGIF:
		return "gif"
	case models.FormatBMP:
		return "bmp"
	case models.FormatTIFF:
		return "tiff"
	case models.FormatWEBP:
		return "webp"
	case models.FormatICO:
		return "ico"
	default:
		return "bin"
	}
}
