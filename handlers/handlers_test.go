package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"imageConverter/cache"
	"imageConverter/codec"
	"imageConverter/dto"
	"imageConverter/errs"
	"imageConverter/models"
	"imageConverter/scheduler"
	"imageConverter/validation"
)

type mockService struct {
	convertFunc func(ctx context.Context, fileName string, data []byte, opts models.ProcessingOptions) (cache.Result, error)
	startFunc   func(ctx context.Context, opts models.ProcessingOptions, files []scheduler.FileInput) (string, []dto.FileRejection, error)
	progressFn  func(jobID string) (models.JobSnapshot, error)
	cancelFn    func(jobID string) (models.JobStatus, bool, error)
}

func (m *mockService) ConvertSingle(ctx context.Context, fileName string, data []byte, opts models.ProcessingOptions) (cache.Result, error) {
	if m.convertFunc != nil {
		return m.convertFunc(ctx, fileName, data, opts)
	}
	return cache.Result{
		Data: []byte("converted"),
		Meta: cache.Meta{Format: models.FormatPNG, Width: 10, Height: 10, SizeBytes: 9},
	}, nil
}

func (m *mockService) StartBatch(ctx context.Context, opts models.ProcessingOptions, files []scheduler.FileInput) (string, []dto.FileRejection, error) {
	if m.startFunc != nil {
		return m.startFunc(ctx, opts, files)
	}
	return "queue-123", nil, nil
}

func (m *mockService) Progress(jobID string) (models.JobSnapshot, error) {
	if m.progressFn != nil {
		return m.progressFn(jobID)
	}
	return models.JobSnapshot{QueueID: jobID, Status: models.JobProcessing}, nil
}

func (m *mockService) Cancel(jobID string) (models.JobStatus, bool, error) {
	if m.cancelFn != nil {
		return m.cancelFn(jobID)
	}
	return models.JobProcessing, false, nil
}

func (m *mockService) Status() dto.BatchStatusResponse {
	return dto.BatchStatusResponse{AllQueues: map[string]models.QueueInfo{}}
}

func (m *mockService) Cleanup(time.Duration) (int, int, int) { return 1, 2, 3 }

type mockCache struct{ stats cache.Stats }

func (m *mockCache) Stats() cache.Stats                 { return m.stats }
func (m *mockCache) Clear(context.Context) (int, int64) { return 4, 2 << 20 }

func newTestHandler(t *testing.T, svc *mockService) *Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c := codec.NewCodec(logger)
	v := validation.NewValidator(10<<20,
		[]string{"image/png", "image/jpeg"}, false, c, logger)
	return NewHandler(svc, &mockCache{}, v, c, 50<<20, logger)
}

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/convert/to-base64", h.ToBase64)
	r.Post("/api/convert/to-base64-advanced", h.ToBase64Advanced)
	r.Post("/api/convert/from-base64", h.FromBase64)
	r.Post("/api/validate-base64", h.ValidateBase64)
	r.Post("/api/convert/batch-start", h.BatchStart)
	r.Get("/api/convert/batch-progress/{jobID}", h.BatchProgress)
	r.Delete("/api/convert/batch-cancel/{jobID}", h.BatchCancel)
	r.Get("/api/convert/batch-status", h.BatchStatus)
	r.Post("/api/convert/batch-cleanup", h.BatchCleanup)
	r.Get("/api/cache/status", h.CacheStatus)
	r.Delete("/api/cache/clear", h.CacheClear)
	r.Post("/api/security/scan", h.SecurityScan)
	return r
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, files map[string][]byte, options string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, data := range files {
		part, err := writer.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		part.Write(data)
	}
	if options != "" {
		writer.WriteField("options", options)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestToBase64_Success(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	body, contentType := multipartBody(t, "file", map[string][]byte{"test.png": smallPNG(t)}, "")
	req := httptest.NewRequest("POST", "/api/convert/to-base64", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp dto.ToBase64Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp.Base64 == "" {
		t.Error("Expected base64 payload")
	}
	if resp.Format != models.FormatPNG {
		t.Errorf("Expected PNG, got %s", resp.Format)
	}
}

func TestToBase64_NoFile(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/convert/to-base64", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xxx")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestToBase64_ServiceErrorMapsKind(t *testing.T) {
	svc := &mockService{
		convertFunc: func(context.Context, string, []byte, models.ProcessingOptions) (cache.Result, error) {
			return cache.Result{}, errs.New(errs.KindCodecFailed, "cannot decode")
		},
	}
	h := newTestHandler(t, svc)
	router := testRouter(h)

	body, contentType := multipartBody(t, "file", map[string][]byte{"bad.png": smallPNG(t)}, "")
	req := httptest.NewRequest("POST", "/api/convert/to-base64", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for CODEC_FAILED, got %d", rec.Code)
	}
	var resp dto.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "CODEC_FAILED" {
		t.Errorf("Expected CODEC_FAILED code, got %s", resp.Code)
	}
}

func TestToBase64Advanced_ParsesOptions(t *testing.T) {
	var captured models.ProcessingOptions
	svc := &mockService{
		convertFunc: func(_ context.Context, _ string, _ []byte, opts models.ProcessingOptions) (cache.Result, error) {
			captured = opts
			return cache.Result{Data: []byte("x"), Meta: cache.Meta{Format: models.FormatJPEG}}, nil
		},
	}
	h := newTestHandler(t, svc)
	router := testRouter(h)

	options := `{"quality": 70, "target_format": "jpeg", "rotation_angle": 90, "unknown_key": true}`
	body, contentType := multipartBody(t, "file", map[string][]byte{"test.png": smallPNG(t)}, options)
	req := httptest.NewRequest("POST", "/api/convert/to-base64-advanced", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Quality != 70 || captured.TargetFormat != models.FormatJPEG || captured.RotationAngle != 90 {
		t.Errorf("Options not applied: %+v", captured)
	}
}

func TestToBase64Advanced_InvalidOptions(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	body, contentType := multipartBody(t, "file", map[string][]byte{"test.png": smallPNG(t)}, `{"quality": 500}`)
	req := httptest.NewRequest("POST", "/api/convert/to-base64-advanced", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range quality, got %d", rec.Code)
	}
}

func TestFromBase64_ReturnsImageBytes(t *testing.T) {
	svc := &mockService{
		convertFunc: func(_ context.Context, _ string, data []byte, opts models.ProcessingOptions) (cache.Result, error) {
			if opts.TargetFormat != models.FormatPNG {
				t.Errorf("Expected PNG target, got %s", opts.TargetFormat)
			}
			return cache.Result{Data: []byte("png-bytes"), Meta: cache.Meta{Format: models.FormatPNG}}, nil
		},
	}
	h := newTestHandler(t, svc)
	router := testRouter(h)

	payload, _ := json.Marshal(dto.FromBase64Request{
		Base64: codec.EncodeBase64(smallPNG(t)),
		Format: "png",
	})
	req := httptest.NewRequest("POST", "/api/convert/from-base64", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	if rec.Body.String() != "png-bytes" {
		t.Error("Expected raw image bytes in the body")
	}
}

func TestFromBase64_InvalidBase64(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/convert/from-base64",
		strings.NewReader(`{"base64": "!!!", "format": "png"}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestValidateBase64(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	payload, _ := json.Marshal(dto.ValidateBase64Request{Base64: codec.EncodeBase64(smallPNG(t))})
	req := httptest.NewRequest("POST", "/api/validate-base64", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp dto.ValidateBase64Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Valid {
		t.Errorf("Expected valid image, got %+v", resp)
	}
	if resp.Format != models.FormatPNG {
		t.Errorf("Expected PNG, got %s", resp.Format)
	}
	if resp.Size == nil || (*resp.Size)[0] != 4 {
		t.Errorf("Expected size [4,4], got %v", resp.Size)
	}
}

func TestValidateBase64_Garbage(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	payload, _ := json.Marshal(dto.ValidateBase64Request{Base64: codec.EncodeBase64([]byte("junk"))})
	req := httptest.NewRequest("POST", "/api/validate-base64", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp dto.ValidateBase64Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Valid {
		t.Error("Expected invalid for non-image bytes")
	}
	if resp.Error == "" {
		t.Error("Expected an error message")
	}
}

func TestBatchStart_Success(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	body, contentType := multipartBody(t, "files", map[string][]byte{
		"a.png": smallPNG(t),
		"b.png": smallPNG(t),
	}, "")
	req := httptest.NewRequest("POST", "/api/convert/batch-start", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.BatchStartResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.QueueID != "queue-123" {
		t.Errorf("Expected queue-123, got %s", resp.QueueID)
	}
	if resp.Status != "started" {
		t.Errorf("Expected started, got %s", resp.Status)
	}
	if resp.TotalFiles != 2 {
		t.Errorf("Expected 2 files, got %d", resp.TotalFiles)
	}
}

func TestBatchStart_AllRejected(t *testing.T) {
	svc := &mockService{
		startFunc: func(context.Context, models.ProcessingOptions, []scheduler.FileInput) (string, []dto.FileRejection, error) {
			return "", []dto.FileRejection{{FileName: "a.png", Code: "FILE_TOO_LARGE", Reason: "too big"}},
				errs.New(errs.KindFileTooLarge, "all files were rejected during validation")
		},
	}
	h := newTestHandler(t, svc)
	router := testRouter(h)

	body, contentType := multipartBody(t, "files", map[string][]byte{"a.png": smallPNG(t)}, "")
	req := httptest.NewRequest("POST", "/api/convert/batch-start", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
	var resp dto.BatchRejectionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.RejectedFiles) != 1 {
		t.Errorf("Expected rejection details, got %+v", resp)
	}
}

func TestBatchStart_NoFiles(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	body, contentType := multipartBody(t, "other", map[string][]byte{"a.png": smallPNG(t)}, "")
	req := httptest.NewRequest("POST", "/api/convert/batch-start", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestBatchProgress_Success(t *testing.T) {
	svc := &mockService{
		progressFn: func(jobID string) (models.JobSnapshot, error) {
			return models.JobSnapshot{
				QueueID:        jobID,
				TotalFiles:     3,
				CompletedFiles: 1,
				Status:         models.JobProcessing,
			}, nil
		},
	}
	h := newTestHandler(t, svc)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/convert/batch-progress/queue-42", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var snap map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap["queue_id"] != "queue-42" {
		t.Errorf("Expected queue_id queue-42, got %v", snap["queue_id"])
	}
	if snap["total_files"].(float64) != 3 {
		t.Errorf("Expected total_files 3, got %v", snap["total_files"])
	}
}

func TestBatchProgress_NotFound(t *testing.T) {
	svc := &mockService{
		progressFn: func(jobID string) (models.JobSnapshot, error) {
			return models.JobSnapshot{}, errs.New(errs.KindJobNotFound, "queue not found")
		},
	}
	h := newTestHandler(t, svc)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/convert/batch-progress/missing", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestBatchCancel(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	req := httptest.NewRequest("DELETE", "/api/convert/batch-cancel/queue-42", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp dto.BatchCancelResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != string(models.JobCancelled) {
		t.Errorf("Expected cancelled, got %s", resp.Status)
	}
}

func TestBatchCancel_AlreadyTerminal(t *testing.T) {
	svc := &mockService{
		cancelFn: func(string) (models.JobStatus, bool, error) {
			return models.JobCompleted, true, nil
		},
	}
	h := newTestHandler(t, svc)
	router := testRouter(h)

	req := httptest.NewRequest("DELETE", "/api/convert/batch-cancel/queue-42", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Idempotent cancel must return 200, got %d", rec.Code)
	}
	var resp dto.BatchCancelResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != string(models.JobCompleted) {
		t.Errorf("Expected current state completed, got %s", resp.Status)
	}
}

func TestBatchCleanup(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/convert/batch-cleanup",
		strings.NewReader(`{"max_age_hours": 1}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp dto.BatchCleanupResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.CleanedTasks != 1 || resp.CleanedQueues != 2 || resp.CleanedTracking != 3 {
		t.Errorf("Unexpected cleanup counts: %+v", resp)
	}
}

func TestCacheEndpoints(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/cache/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("cache status: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest("DELETE", "/api/cache/clear", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cache clear: expected 200, got %d", rec.Code)
	}
	var resp dto.CacheClearResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.EntriesRemoved != 4 {
		t.Errorf("Expected 4 entries removed, got %d", resp.EntriesRemoved)
	}
	if resp.SpaceFreedMB != 2 {
		t.Errorf("Expected 2 MB freed, got %f", resp.SpaceFreedMB)
	}
}

func TestSecurityScan(t *testing.T) {
	h := newTestHandler(t, &mockService{})
	router := testRouter(h)

	body, contentType := multipartBody(t, "file", map[string][]byte{"test.png": smallPNG(t)}, "")
	req := httptest.NewRequest("POST", "/api/security/scan", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["safe"] != true {
		t.Errorf("Expected safe=true, got %v", resp["safe"])
	}
	if resp["threat_level"] != "none" {
		t.Errorf("Expected threat_level none, got %v", resp["threat_level"])
	}
}
