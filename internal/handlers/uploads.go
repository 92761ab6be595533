package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quickprint/api/internal/conversion"
	"github.com/quickprint/api/internal/platform/auth"
	"github.com/quickprint/api/internal/platform/httpx"
	"github.com/quickprint/api/internal/services"
)

const (
	defaultUploadMaxBytes = 50 << 20
	multipartMemory       = 8 << 20
	uploadFormField       = "file"
)

// UploadHandlers accepts customer files for printing.
type UploadHandlers struct {
	authn    *auth.Authenticator
	files    services.FileService
	maxBytes int64
	spoolDir string
}

// UploadHandlerOption customises UploadHandlers.
type UploadHandlerOption func(*UploadHandlers)

// WithUploadMaxBytes caps the multipart request size.
func WithUploadMaxBytes(n int64) UploadHandlerOption {
	return func(h *UploadHandlers) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

// WithSpoolDir sets the directory uploads are buffered to before processing.
func WithSpoolDir(dir string) UploadHandlerOption {
	return func(h *UploadHandlers) {
		h.spoolDir = strings.TrimSpace(dir)
	}
}

// NewUploadHandlers constructs upload handlers.
func NewUploadHandlers(authn *auth.Authenticator, files services.FileService, opts ...UploadHandlerOption) *UploadHandlers {
	h := &UploadHandlers{authn: authn, files: files, maxBytes: defaultUploadMaxBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /upload and /convert.
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	customer := r.With(h.authn.Customer())
	customer.Post("/upload", h.handle(false))
	customer.Post("/convert", h.handle(true))
}

func (h *UploadHandlers) handle(convert bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.files == nil {
			httpx.WriteError(ctx, w, httpx.NewError("file_service_unavailable", "file service unavailable", http.StatusServiceUnavailable))
			return
		}

		cmd, cleanup, status, err := h.spool(w, r)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_upload", err.Error(), status))
			return
		}
		defer cleanup()

		if identity, ok := auth.IdentityFromContext(ctx); ok && !identity.Admin {
			cmd.UserID = identity.UID
		}

		var result services.FileResult
		if convert {
			result, err = h.files.Convert(ctx, cmd)
		} else {
			result, err = h.files.Upload(ctx, cmd)
		}
		if err != nil {
			writeFileError(ctx, w, err)
			return
		}

		payload := map[string]any{
			"success": true,
			"pages":   result.Pages,
			"url":     result.URL,
		}
		if convert {
			payload["note"] = result.Note
			payload["converted"] = result.Converted
		}
		writeJSONResponse(w, http.StatusOK, payload)
	}
}

// spool copies the multipart file to a temp file so converters can read it from disk.
func (h *UploadHandlers) spool(w http.ResponseWriter, r *http.Request) (services.FileCommand, func(), int, error) {
	noop := func() {}
	if r.ContentLength > h.maxBytes {
		return services.FileCommand{}, noop, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d bytes", h.maxBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.FileCommand{}, noop, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d bytes", h.maxBytes)
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return services.FileCommand{}, noop, http.StatusBadRequest, errors.New("No file uploaded")
		}
		return services.FileCommand{}, noop, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %v", err)
	}
	cleanupForm := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		cleanupForm()
		return services.FileCommand{}, noop, http.StatusBadRequest, errors.New("No file uploaded")
	}
	defer file.Close()

	path, err := h.copyToTemp(file, header)
	if err != nil {
		cleanupForm()
		return services.FileCommand{}, noop, http.StatusInternalServerError, errors.New("failed to buffer upload")
	}

	cmd := services.FileCommand{
		Filename:    filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Path:        path,
		UserID:      strings.TrimSpace(r.FormValue("userId")),
	}
	return cmd, func() {
		_ = os.Remove(path)
		cleanupForm()
	}, http.StatusOK, nil
}

func (h *UploadHandlers) copyToTemp(src multipart.File, header *multipart.FileHeader) (string, error) {
	dst, err := os.CreateTemp(h.spoolDir, "upload-*"+strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func writeFileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUnsupportedFile):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_file_type", "Unsupported file type", http.StatusBadRequest).
			WithDetails(map[string]any{"supportedTypes": conversion.SupportedTypes}))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_upload", errorDetail(err, services.ErrValidation), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("file_processing_failed", "Failed to process file", http.StatusInternalServerError))
	}
}
