// Package handler exposes statement imports over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/common"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/echo-ingest/pkg/interceptors"
)

// ImportService is the part of service.ImportService the handler drives.
type ImportService interface {
	Preview(ctx context.Context, req service.PreviewRequest) (*service.Preview, error)
	GetPreview(ctx context.Context, userID, importID uuid.UUID) (*service.Preview, error)
	CancelPreview(ctx context.Context, userID, importID uuid.UUID) error
	Confirm(ctx context.Context, req service.ConfirmRequest) (*service.ConfirmResult, error)
}

var _ ImportService = (*service.ImportService)(nil)

const defaultMaxUploadBytes int64 = 10 << 20

type ImportHandler struct {
	importSvc      ImportService
	logger         *slog.Logger
	maxUploadBytes int64
}

func NewImportHandler(importSvc ImportService, logger *slog.Logger, maxUploadBytes int64) *ImportHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &ImportHandler{importSvc: importSvc, logger: logger, maxUploadBytes: maxUploadBytes}
}

// Register mounts the import routes on mux.
func (h *ImportHandler) Register(mux *http.ServeMux, wrap func(route string, next http.Handler) http.Handler) {
	mux.Handle("POST /v1/imports", wrap("/v1/imports", http.HandlerFunc(h.CreatePreview)))
	mux.Handle("GET /v1/imports/{id}", wrap("/v1/imports/{id}", http.HandlerFunc(h.GetPreview)))
	mux.Handle("DELETE /v1/imports/{id}", wrap("/v1/imports/{id}", http.HandlerFunc(h.CancelPreview)))
	mux.Handle("POST /v1/imports/{id}/confirm", wrap("/v1/imports/{id}/confirm", http.HandlerFunc(h.Confirm)))
}

// CreatePreview accepts a multipart upload with fields file, format (optional, defaults
// to the file extension) and account_id (optional).
func (h *ImportHandler) CreatePreview(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.maxUploadBytes))
			return
		}
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	formatTag := r.FormValue("format")
	if formatTag == "" {
		formatTag = filepath.Ext(header.Filename)
	}
	format, err := parser.ParseFormat(formatTag)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	req := service.PreviewRequest{
		UserID:   userID,
		FileName: header.Filename,
		Format:   format,
		Data:     data,
	}
	if raw := r.FormValue("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("invalid account_id"))
			return
		}
		req.AccountID = &id
	}

	preview, err := h.importSvc.Preview(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "CreatePreview", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, preview)
}

func (h *ImportHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	userID, importID, ok := h.ids(w, r)
	if !ok {
		return
	}
	preview, err := h.importSvc.GetPreview(r.Context(), userID, importID)
	if err != nil {
		h.writeServiceError(w, "GetPreview", err)
		return
	}
	h.writeJSON(w, http.StatusOK, preview)
}

func (h *ImportHandler) CancelPreview(w http.ResponseWriter, r *http.Request) {
	userID, importID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.importSvc.CancelPreview(r.Context(), userID, importID); err != nil {
		h.writeServiceError(w, "CancelPreview", err)
		return
	}
	h.writeJSON(w, http.StatusOK, common.Response{Success: true, Message: "import cancelled"})
}

type confirmBody struct {
	AccountID         *uuid.UUID          `json:"account_id"`
	NewAccount        *service.NewAccount `json:"new_account"`
	CategoryOverrides map[int]string      `json:"category_overrides"`
	RememberOverrides bool                `json:"remember_overrides"`
	IncludeDuplicates bool                `json:"include_duplicates"`
}

// Confirm persists a preview. The JSON body is optional.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, importID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var body confirmBody
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	result, err := h.importSvc.Confirm(r.Context(), service.ConfirmRequest{
		UserID:            userID,
		ImportID:          importID,
		AccountID:         body.AccountID,
		NewAccount:        body.NewAccount,
		CategoryOverrides: body.CategoryOverrides,
		RememberOverrides: body.RememberOverrides,
		IncludeDuplicates: body.IncludeDuplicates,
	})
	if err != nil {
		h.writeServiceError(w, "Confirm", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *ImportHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := interceptors.GetUserIDFromContext(r.Context())
	if !ok || userIDStr == "" {
		h.writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, errors.New("invalid user ID in context"))
		return uuid.Nil, false
	}
	return userID, true
}

func (h *ImportHandler) ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	importID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid import id"))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, importID, true
}

func statusForServiceError(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, service.ErrInvalidOverride),
		errors.Is(err, service.ErrAmbiguousAccount),
		errors.Is(err, parser.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPreviewNotFound),
		errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrImportClosed):
		return http.StatusConflict
	default:
		return common.StatusFor(err)
	}
}

func (h *ImportHandler) writeServiceError(w http.ResponseWriter, method string, err error) {
	status := statusForServiceError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("import request failed", slog.String("method", method), slog.Any("error", err))
	}
	h.writeError(w, status, err)
}

func (h *ImportHandler) writeError(w http.ResponseWriter, status int, err error) {
	if writeErr := common.WriteError(w, status, err); writeErr != nil {
		h.logger.Error("failed to write error response", slog.Any("error", writeErr))
	}
}

func (h *ImportHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := common.WriteJSON(w, status, v); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}
