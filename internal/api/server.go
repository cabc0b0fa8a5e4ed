package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"contact-radar/internal/blob"
	"contact-radar/internal/engine"
	"contact-radar/internal/jobs"
	"contact-radar/internal/model"
	"contact-radar/internal/storage"

	"github.com/ternarybob/arbor"
)

// UserHeader 携带调用方身份，鉴权由上游网关完成。
const UserHeader = "X-User-ID"

// JobService 抽象任务服务。
type JobService interface {
	Create(ctx context.Context, req jobs.Request) (*model.Job, error)
	Get(ctx context.Context, userID, id string) (*model.Job, error)
	List(ctx context.Context, userID string) ([]model.Job, error)
	Delete(ctx context.Context, userID, id string) error
	DownloadURL(ctx context.Context, userID, id, format string) (string, error)
	Credits(ctx context.Context, userID string) (model.UserCredits, error)
}

// Advancer 推进任务状态。
type Advancer interface {
	Advance(ctx context.Context, jobID string) (engine.Result, error)
}

// Files 提供签名校验后的文件读取。
type Files interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Verify(path, expires, sig string) error
}

// StatusResponse 是状态接口的返回体。
type StatusResponse struct {
	Status  engine.Outcome `json:"status"`
	Message string         `json:"message"`
	Job     *model.Job     `json:"job,omitempty"`
}

// NewHandler 构造 HTTP 多路复用器。
func NewHandler(svc JobService, adv Advancer, files Files, logger arbor.ILogger) http.Handler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	h := &handler{svc: svc, adv: adv, files: files, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/databases", h.create)
	mux.HandleFunc("GET /api/databases", h.list)
	mux.HandleFunc("GET /api/databases/{id}", h.get)
	mux.HandleFunc("POST /api/databases/{id}/status", h.status)
	mux.HandleFunc("DELETE /api/databases/{id}", h.delete)
	mux.HandleFunc("GET /api/databases/{id}/download", h.download)
	mux.HandleFunc("GET /api/credits", h.credits)
	mux.HandleFunc("GET /files/{path...}", h.file)

	return mux
}

type handler struct {
	svc    JobService
	adv    Advancer
	files  Files
	logger arbor.ILogger
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	req.UserID = user

	job, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.svc.List(r.Context(), user)
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []model.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	job, err := h.svc.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, err := h.svc.Get(r.Context(), user, id); err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.adv.Advance(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: res.Status, Message: res.Message, Job: res.Job})
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), user, r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	url, err := h.svc.DownloadURL(r.Context(), user, r.PathValue("id"), r.URL.Query().Get("format"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *handler) credits(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Credits(r.Context(), user)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) file(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	q := r.URL.Query()
	if err := h.files.Verify(p, q.Get("expires"), q.Get("sig")); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	data, err := h.files.Get(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType(p))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(p)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// fail 将领域错误映射为 HTTP 状态码。
func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrJobNotFound), errors.Is(err, jobs.ErrForbidden), errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, jobs.ErrNoArtifact):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInsufficientCredits):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, jobs.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return "", false
	}
	return user, true
}

func contentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
