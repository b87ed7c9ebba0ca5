package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"imageConverter/dto"
	"imageConverter/errs"
	"imageConverter/middleware"
	"imageConverter/models"
	"imageConverter/scheduler"
)

const defaultCleanupAgeHours = 24.0

// BatchStart accepts a multipart batch (repeated "files" plus an optional
// "options" JSON field) and starts processing it.
func (h *Handler) BatchStart(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		h.respondError(w, r, "Failed to parse form",
			errs.Wrap(errs.KindInputInvalid, "failed to parse multipart form", err))
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		h.respondError(w, r, "No files provided",
			errs.New(errs.KindInputInvalid, "no files were provided"))
		return
	}

	opts, err := parseOptions(r.FormValue("options"), h.logger)
	if err != nil {
		h.respondError(w, r, "Invalid processing options", err)
		return
	}

	var files []scheduler.FileInput
	for _, fh := range headers {
		input, err := h.readUpload(fh)
		if err != nil {
			h.respondError(w, r, "Failed to read upload", err)
			return
		}
		files = append(files, input)
	}

	jobID, rejections, err := h.service.StartBatch(r.Context(), opts, files)
	if err != nil {
		kind := errs.KindOf(err)
		h.logger.Warn("Batch rejected",
			zap.String("trace_id", traceID),
			zap.String("kind", string(kind)),
			zap.Int("rejected_files", len(rejections)),
			zap.Error(err),
		)
		h.respondJSON(w, errs.HTTPStatus(kind), dto.BatchRejectionResponse{
			Error:         errs.MessageOf(err),
			Code:          string(kind),
			TraceID:       traceID,
			RejectedFiles: rejections,
		})
		return
	}

	accepted := len(files) - len(rejections)
	message := fmt.Sprintf("batch processing started for %d files", accepted)
	if len(rejections) > 0 {
		message = fmt.Sprintf("batch processing started for %d files; %d rejected during validation",
			accepted, len(rejections))
	}

	h.logger.Info("Batch accepted",
		zap.String("trace_id", traceID),
		zap.String("job_id", jobID),
		zap.Int("accepted", accepted),
		zap.Int("rejected", len(rejections)),
	)

	h.respondJSON(w, http.StatusOK, dto.BatchStartResponse{
		QueueID:       jobID,
		TotalFiles:    accepted,
		Status:        "started",
		Message:       message,
		RejectedFiles: rejections,
	})
}

// BatchProgress serves the live or terminal snapshot of one job.
func (h *Handler) BatchProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, r, "Queue ID is required",
			errs.New(errs.KindInputInvalid, "queue id is required"))
		return
	}

	snap, err := h.service.Progress(jobID)
	if err != nil {
		h.respondError(w, r, "Failed to get progress", err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// BatchCancel requests cooperative cancellation of one job. Cancelling a
// terminal job is a no-op that reports its current state.
func (h *Handler) BatchCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, r, "Queue ID is required",
			errs.New(errs.KindInputInvalid, "queue id is required"))
		return
	}

	prior, alreadyTerminal, err := h.service.Cancel(jobID)
	if err != nil {
		h.respondError(w, r, "Failed to cancel batch", err)
		return
	}

	if alreadyTerminal {
		h.respondJSON(w, http.StatusOK, dto.BatchCancelResponse{
			QueueID: jobID,
			Status:  string(prior),
			Message: fmt.Sprintf("batch is already %s", prior),
		})
		return
	}

	h.respondJSON(w, http.StatusOK, dto.BatchCancelResponse{
		QueueID: jobID,
		Status:  string(models.JobCancelled),
		Message: "batch processing has been cancelled",
	})
}

// BatchStatus reports active jobs, all queues, and aggregate statistics.
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.Status())
}

// BatchCleanup prunes terminal jobs, trackers, and subscriber rooms older
// than the requested age.
func (h *Handler) BatchCleanup(w http.ResponseWriter, r *http.Request) {
	maxAgeHours := defaultCleanupAgeHours
	if r.Body != nil && r.ContentLength != 0 {
		var req dto.BatchCleanupRequest
		if err := decodeJSONBody(r, &req); err != nil {
			h.respondError(w, r, "Invalid request", err)
			return
		}
		if req.MaxAgeHours != nil && *req.MaxAgeHours >= 0 {
			maxAgeHours = *req.MaxAgeHours
		}
	}

	maxAge := time.Duration(maxAgeHours * float64(time.Hour))
	tasks, queues, tracking := h.service.Cleanup(maxAge)

	h.respondJSON(w, http.StatusOK, dto.BatchCleanupResponse{
		CleanedTasks:    tasks,
		CleanedQueues:   queues,
		CleanedTracking: tracking,
		Message: fmt.Sprintf("cleaned %d tasks, %d queues, %d tracking entries",
			tasks, queues, tracking),
	})
}
