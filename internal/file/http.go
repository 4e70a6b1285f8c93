package file

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"file-service/internal/apperr"
	"file-service/internal/auth"
	"file-service/internal/httputil"
	"file-service/internal/policy"
	"file-service/internal/storage"

	"github.com/go-chi/chi/v5"
)

const (
	DownloadRedirect = "redirect"
	DownloadStream   = "stream"

	// multipart parts beyond this are spooled to disk
	multipartMemory = 8 << 20

	// replaces the server-wide WriteTimeout for streamed downloads
	streamWriteTimeout = 30 * time.Minute
)

type Handler struct {
	service        Service
	downloadMode   string
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewHandler(service Service, downloadMode string, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if downloadMode == "" {
		downloadMode = DownloadRedirect
	}
	return &Handler{
		service:        service,
		downloadMode:   downloadMode,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes mounts the file endpoints. The router must already run the
// auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/files", h.ListFiles)
	r.Post("/files", h.UploadFile)
	r.Delete("/files", h.DeleteFile)
	r.Delete("/files/{id}", h.DeleteFile)
	r.Get("/files/{id}/download", h.DownloadFile)
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.List(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, httputil.Envelope{Message: "Files retrieved", Data: files})
}

// UploadFile accepts multipart/form-data with a "file" part and a "title" field.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		// room for the other form fields
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondWithAppError(w, r, h.logger, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrValidation, h.maxUploadBytes))
			return
		}
		httputil.RespondWithAppError(w, r, h.logger, fmt.Errorf("%w: expected multipart form", apperr.ErrValidation))
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, fmt.Errorf("%w: file is required", apperr.ErrValidation))
		return
	}
	defer part.Close()

	view, err := h.service.Create(r.Context(), auth.PrincipalFrom(r.Context()), UploadInput{
		Title:        r.FormValue("title"),
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         part,
	})
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusCreated, httputil.Envelope{Message: "File uploaded", Data: view})
}

// DeleteFile takes the id from the path or, for older clients, from ?id=.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		raw = r.URL.Query().Get("id")
	}
	id, err := parseID(raw)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	if err := h.service.Delete(r.Context(), auth.PrincipalFrom(r.Context()), id); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, httputil.Envelope{Message: "File deleted"})
}

func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}
	principal := auth.PrincipalFrom(r.Context())

	if h.downloadMode == DownloadStream {
		h.stream(w, r, principal, id)
		return
	}

	download, err := h.service.ResolveDownload(r.Context(), principal, id)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}
	http.Redirect(w, r, download.URL.String(), http.StatusFound)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, principal *policy.Principal, id int64) {
	record, obj, err := h.service.OpenDownload(r.Context(), principal, id)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = record.ContentType
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		h.logger.DebugContext(r.Context(), "cannot extend write deadline", "error", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", storage.AttachmentDisposition(record.OriginalName))
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		// headers are out; nothing to tell the client
		h.logger.WarnContext(r.Context(), "download interrupted", "file_id", id, "error", err)
	}
}

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: file id is required", apperr.ErrValidation)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid file id", apperr.ErrValidation)
	}
	return id, nil
}
