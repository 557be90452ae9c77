package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/subclean-api/internal/detect"
	"github.com/maauso/subclean-api/internal/storage"
	"github.com/maauso/subclean-api/internal/task"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *task.Service
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
	detectTimeout  time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes sets the upload size limit. Non-positive disables it.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		h.maxUploadBytes = n
	}
}

// WithDetectTimeout bounds synchronous detection requests.
func WithDetectTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.detectTimeout = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *task.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: storage.DefaultMaxUploadBytes,
		detectTimeout:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Formats handles GET /formats requests.
func (h *Handlers) Formats(w http.ResponseWriter, _ *http.Request) {
	algorithms := make([]string, 0, len(task.Algorithms))
	for _, a := range task.Algorithms {
		algorithms = append(algorithms, string(a))
	}
	writeJSON(w, http.StatusOK, FormatsResponse{
		VideoFormats:  storage.SupportedFormats,
		MaxFileSize:   h.maxUploadBytes,
		MaxFileSizeMB: h.maxUploadBytes / (1 << 20),
		Algorithms:    algorithms,
	})
}

// Upload handles POST /upload requests. The body is multipart with a
// "file" part and an optional "algorithm" field.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		// Leave room for the multipart envelope around the file.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", "FILE_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	if err := storage.ValidateUpload(header.Filename, header.Size, h.maxUploadBytes); err != nil {
		h.writeUploadError(w, err)
		return
	}

	alg, err := task.ParseAlgorithm(r.FormValue("algorithm"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_ALGORITHM")
		return
	}

	t, err := h.service.Submit(r.Context(), task.SubmitInput{
		Filename:  header.Filename,
		Body:      file,
		Algorithm: alg,
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		TaskID:    t.ID,
		Status:    string(t.Status),
		Filename:  t.OriginalFilename,
		FileSize:  t.FileSize,
		Duration:  t.Duration,
		Algorithm: string(t.Algorithm),
	})
}

func (h *Handlers) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrUnsupportedFormat), errors.Is(err, storage.ErrEmptyFilename):
		writeError(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_FORMAT")
	case errors.Is(err, storage.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), "FILE_TOO_LARGE")
	default:
		h.logger.Error("failed to store upload", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
	}
}

// Process handles POST /tasks/{id}/process requests.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	var req ProcessRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.logger.Warn("failed to decode request body",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	t, err := h.service.Process(r.Context(), taskID, task.ProcessOptions{
		AutoDetect:     req.AutoDetect,
		Regions:        req.SubtitleRegions,
		Algorithm:      task.Algorithm(req.Algorithm),
		ConfigOverride: req.Config,
		PushToS3:       req.PushToS3,
	})
	if err != nil {
		h.writeTaskError(w, err, taskID)
		return
	}

	writeJSON(w, http.StatusAccepted, newTaskResponse(t))
}

// Detect handles POST /tasks/{id}/detect requests.
func (h *Handlers) Detect(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), h.detectTimeout)
	defer cancel()

	a, err := h.service.Detect(ctx, taskID)
	if err != nil {
		h.writeTaskError(w, err, taskID)
		return
	}
	writeJSON(w, http.StatusOK, newAnalysisResponse(taskID, a))
}

// Analysis handles GET /tasks/{id}/analysis requests.
func (h *Handlers) Analysis(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	a, err := h.service.Analysis(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err, taskID)
		return
	}
	writeJSON(w, http.StatusOK, newAnalysisResponse(taskID, a))
}

// GetTask handles GET /tasks/{id} requests.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	t, err := h.service.Get(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err, taskID)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(t))
}

// ListTasks handles GET /tasks requests.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_QUERY")
		return
	}
	if err := h.validator.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	res, err := h.service.List(r.Context(), task.ListFilter{
		Status:   task.Status(q.Status),
		OrderBy:  q.OrderBy,
		Desc:     q.Desc,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
	if err != nil {
		h.writeTaskError(w, err, "")
		return
	}

	tasks := make([]TaskResponse, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		tasks = append(tasks, newTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, TaskListResponse{
		Tasks:    tasks,
		Total:    res.Total,
		Page:     res.Page,
		PageSize: res.PageSize,
	})
}

func parseListQuery(r *http.Request) (ListQuery, error) {
	v := r.URL.Query()
	q := ListQuery{
		Status:  strings.ToUpper(v.Get("status")),
		OrderBy: v.Get("order_by"),
	}
	if s := v.Get("desc"); s != "" {
		desc, err := strconv.ParseBool(s)
		if err != nil {
			return q, fmt.Errorf("invalid desc: %q", s)
		}
		q.Desc = desc
	}
	for name, dst := range map[string]*int{"page": &q.Page, "page_size": &q.PageSize} {
		if s := v.Get(name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return q, fmt.Errorf("invalid %s: %q", name, s)
			}
			*dst = n
		}
	}
	return q, nil
}

// Stats handles GET /tasks/stats requests.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeTaskError(w, err, "")
		return
	}

	resp := StatsResponse{
		Total:       st.Total,
		ByStatus:    make(map[string]int, len(st.ByStatus)),
		ByAlgorithm: make(map[string]int, len(st.ByAlgorithm)),
	}
	for s, n := range st.ByStatus {
		resp.ByStatus[string(s)] = n
	}
	for a, n := range st.ByAlgorithm {
		resp.ByAlgorithm[string(a)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteTask handles DELETE /tasks/{id} requests.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	if err := h.service.Delete(r.Context(), taskID); err != nil {
		h.writeTaskError(w, err, taskID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelTask handles POST /tasks/{id}/cancel requests.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	t, err := h.service.Cancel(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err, taskID)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(t))
}

// Cleanup handles POST /tasks/cleanup requests.
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CleanupExpired(r.Context())
	if err != nil {
		h.writeTaskError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Removed: n})
}

// Download handles GET /tasks/{id}/download requests.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	t, rc, err := h.service.OpenOutput(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err, taskID)
		return
	}
	defer func() { _ = rc.Close() }()

	name := strings.TrimSuffix(t.OriginalFilename, filepath.Ext(t.OriginalFilename)) + "_no_sub.mp4"
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, t.CompletedAt, rs)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream output",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// writeTaskError maps service errors to HTTP statuses.
func (h *Handlers) writeTaskError(w http.ResponseWriter, err error, taskID string) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
	case errors.Is(err, task.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, err.Error(), "ALREADY_PROCESSING")
	case errors.Is(err, task.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error(), "NOT_PENDING")
	case errors.Is(err, task.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error(), "NOT_CANCELLABLE")
	case errors.Is(err, task.ErrTaskBusy):
		writeError(w, http.StatusConflict, err.Error(), "TASK_BUSY")
	case errors.Is(err, task.ErrInvalidConfig), errors.Is(err, task.ErrUnknownAlgorithm):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONFIG")
	case errors.Is(err, task.ErrNotCompleted):
		writeError(w, http.StatusBadRequest, err.Error(), "NOT_COMPLETED")
	case errors.Is(err, task.ErrNoAnalysis):
		writeError(w, http.StatusNotFound, err.Error(), "NO_ANALYSIS")
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
	case errors.Is(err, task.ErrNoDetector), errors.Is(err, detect.ErrDetectionUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "DETECTION_UNAVAILABLE")
	case errors.Is(err, task.ErrServiceStopped):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down", "SERVICE_STOPPED")
	default:
		h.logger.Error("request failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
