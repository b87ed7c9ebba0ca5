package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"imageConverter/dto"
	"imageConverter/errs"
	"imageConverter/middleware"
)

// CacheStatus exposes the cache accounting snapshot.
func (h *Handler) CacheStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheClear drops every unpinned cache entry.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	removed, freed := h.cache.Clear(r.Context())

	h.logger.Info("Cache cleared",
		zap.String("trace_id", middleware.GetTraceID(r.Context())),
		zap.Int("entries_removed", removed),
		zap.Int64("bytes_freed", freed),
	)

	h.respondJSON(w, http.StatusOK, dto.CacheClearResponse{
		EntriesRemoved: removed,
		SpaceFreedMB:   float64(freed) / (1024 * 1024),
	})
}

// SecurityScan runs the admission gate against one upload and returns
// the full scan result without scheduling anything.
func (h *Handler) SecurityScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		h.respondError(w, r, "Failed to parse form",
			errs.Wrap(errs.KindInputInvalid, "failed to parse multipart form", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, r, "No file provided",
			errs.Wrap(errs.KindInputInvalid, "no file was provided", err))
		return
	}
	file.Close()

	input, err := h.readUpload(header)
	if err != nil {
		h.respondError(w, r, "Failed to read upload", err)
		return
	}
	data := input.Data
	if data == nil && input.SourcePath != "" {
		data, err = readAndRemove(input.SourcePath)
		if err != nil {
			h.respondError(w, r, "Failed to read upload", err)
			return
		}
	}

	result := h.validator.Validate(input.FileName, data)
	if result.Warnings == nil {
		result.Warnings = []string{}
	}

	h.logger.Info("Security scan completed",
		zap.String("trace_id", middleware.GetTraceID(r.Context())),
		zap.String("file", input.FileName),
		zap.Bool("safe", result.Safe),
		zap.String("threat_level", string(result.ThreatLevel)),
	)

	h.respondJSON(w, http.StatusOK, result)
}
