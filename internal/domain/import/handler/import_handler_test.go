package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/echo-ingest/pkg/interceptors"
)

type fakeImportService struct {
	previewReq service.PreviewRequest
	confirmReq service.ConfirmRequest
	err        error
}

func (f *fakeImportService) Preview(_ context.Context, req service.PreviewRequest) (*service.Preview, error) {
	f.previewReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.Preview{ImportID: uuid.New(), UserID: req.UserID, FileName: req.FileName, Format: req.Format}, nil
}

func (f *fakeImportService) GetPreview(_ context.Context, userID, importID uuid.UUID) (*service.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.Preview{ImportID: importID, UserID: userID}, nil
}

func (f *fakeImportService) CancelPreview(context.Context, uuid.UUID, uuid.UUID) error {
	return f.err
}

func (f *fakeImportService) Confirm(_ context.Context, req service.ConfirmRequest) (*service.ConfirmResult, error) {
	f.confirmReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.ConfirmResult{ImportID: req.ImportID, Imported: 3}, nil
}

func newTestMux(svc ImportService) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewImportHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), 1<<20)
	h.Register(mux, func(_ string, next http.Handler) http.Handler { return next })
	return mux
}

func asUser(r *http.Request, userID uuid.UUID) *http.Request {
	return r.WithContext(interceptors.WithUserID(r.Context(), userID.String()))
}

func uploadRequest(t *testing.T, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCreatePreview_FormatFromExtension(t *testing.T) {
	svc := &fakeImportService{}
	mux := newTestMux(svc)
	userID := uuid.New()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(uploadRequest(t, "march.ofx", "<OFX></OFX>", nil), userID))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, parser.FormatOFX, svc.previewReq.Format)
	assert.Equal(t, userID, svc.previewReq.UserID)
	assert.Equal(t, "<OFX></OFX>", string(svc.previewReq.Data))
	assert.Nil(t, svc.previewReq.AccountID)
}

func TestCreatePreview_UpperCaseExtension(t *testing.T) {
	svc := &fakeImportService{}
	mux := newTestMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(uploadRequest(t, "MARCH.CSV", "Date,Amount\n", nil), uuid.New()))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, parser.FormatCSV, svc.previewReq.Format)
}

func TestCreatePreview_ExplicitFormatAndAccount(t *testing.T) {
	svc := &fakeImportService{}
	mux := newTestMux(svc)
	acctID := uuid.New()

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "statement.txt", "Date,Amount\n", map[string]string{"format": "csv", "account_id": acctID.String()})
	mux.ServeHTTP(rec, asUser(req, uuid.New()))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, parser.FormatCSV, svc.previewReq.Format)
	require.NotNil(t, svc.previewReq.AccountID)
	assert.Equal(t, acctID, *svc.previewReq.AccountID)
}

func TestCreatePreview_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		auth   bool
		svcErr error
		want   int
	}{
		{name: "unauthenticated", req: func(t *testing.T) *http.Request { return uploadRequest(t, "a.csv", "x", nil) }, want: http.StatusUnauthorized},
		{name: "unknown format", auth: true, req: func(t *testing.T) *http.Request { return uploadRequest(t, "a.xlsx", "x", nil) }, want: http.StatusBadRequest},
		{name: "pdf document", auth: true, req: func(t *testing.T) *http.Request { return uploadRequest(t, "statement.PDF", "%PDF-1.7", nil) }, want: http.StatusBadRequest},
		{name: "pdf bytes named as text", auth: true, svcErr: parser.ErrBinaryPDF, req: func(t *testing.T) *http.Request { return uploadRequest(t, "statement.txt", "%PDF-1.7", nil) }, want: http.StatusBadRequest},
		{name: "bad account id", auth: true, req: func(t *testing.T) *http.Request {
			return uploadRequest(t, "a.csv", "x", map[string]string{"account_id": "nope"})
		}, want: http.StatusBadRequest},
		{name: "no file", auth: true, req: func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(""))
		}, want: http.StatusBadRequest},
		{name: "empty file", auth: true, svcErr: service.ErrEmptyFile, req: func(t *testing.T) *http.Request { return uploadRequest(t, "a.csv", "", nil) }, want: http.StatusBadRequest},
		{name: "store down", auth: true, svcErr: fmt.Errorf("failed to create import job: %w", io.ErrUnexpectedEOF), req: func(t *testing.T) *http.Request { return uploadRequest(t, "a.csv", "x", nil) }, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(&fakeImportService{err: tt.svcErr})
			req := tt.req(t)
			if tt.auth {
				req = asUser(req, uuid.New())
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestConfirm_DecodesBody(t *testing.T) {
	svc := &fakeImportService{}
	mux := newTestMux(svc)
	importID, acctID := uuid.New(), uuid.New()

	body := fmt.Sprintf(`{"account_id":%q,"category_overrides":{"2":"Entertainment"},"remember_overrides":true}`, acctID)
	req := httptest.NewRequest(http.MethodPost, "/v1/imports/"+importID.String()+"/confirm", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(req, uuid.New()))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, importID, svc.confirmReq.ImportID)
	require.NotNil(t, svc.confirmReq.AccountID)
	assert.Equal(t, acctID, *svc.confirmReq.AccountID)
	assert.Equal(t, map[int]string{2: "Entertainment"}, svc.confirmReq.CategoryOverrides)
	assert.True(t, svc.confirmReq.RememberOverrides)

	var result service.ConfirmResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 3, result.Imported)
}

func TestConfirm_EmptyBodyAllowed(t *testing.T) {
	svc := &fakeImportService{}
	mux := newTestMux(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/imports/"+uuid.NewString()+"/confirm", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(req, uuid.New()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, svc.confirmReq.AccountID)
}

func TestServiceErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrPreviewNotFound, http.StatusNotFound},
		{service.ErrAccountNotFound, http.StatusNotFound},
		{service.ErrImportClosed, http.StatusConflict},
		{service.ErrInvalidOverride, http.StatusBadRequest},
		{service.ErrAmbiguousAccount, http.StatusBadRequest},
	}
	for _, tt := range tests {
		mux := newTestMux(&fakeImportService{err: tt.err})
		req := httptest.NewRequest(http.MethodPost, "/v1/imports/"+uuid.NewString()+"/confirm", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, asUser(req, uuid.New()))
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestGetAndCancelPreview(t *testing.T) {
	mux := newTestMux(&fakeImportService{})
	importID := uuid.New()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/v1/imports/"+importID.String(), nil), uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)
	var preview service.Preview
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&preview))
	assert.Equal(t, importID, preview.ImportID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodDelete, "/v1/imports/"+importID.String(), nil), uuid.New()))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/v1/imports/not-a-uuid", nil), uuid.New()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
