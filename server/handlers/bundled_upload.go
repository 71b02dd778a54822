package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/auth"
	"github.com/ebogdum/bundlefs/config"
	"github.com/ebogdum/bundlefs/core"
	"github.com/ebogdum/bundlefs/core/log"
	"github.com/ebogdum/bundlefs/hooks"
	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/server/middleware"
)

// Request and response headers of the bundled upload protocol
const (
	HeaderTotalLength = "OC-Total-Length"
	HeaderMtime       = "X-OC-Mtime"
	HeaderOCEtag      = "OC-ETag"
	HeaderOCFileID    = "OC-FileId"
)

var errBodyTooLarge = errors.New("upload exceeds the maximum allowed size")

// BundleUploader is the part of the engine the upload handler needs
type BundleUploader interface {
	CreateFromStream(ctx context.Context, req core.UploadRequest) (*core.CommitResult, error)
	Lookup(ctx context.Context, path string) (*metadata.Metadata, error)
}

// V1PutBundle handles PUT /v1/bundle/{path}. The request body is one
// complete file. It is spooled to disk so the commit can rewind and size
// it, then committed in a single step.
func V1PutBundle(engine BundleUploader, authorizer auth.Authorizer, notifier hooks.Notifier, cfg config.UploadConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathInfo := ParseFilePath(chi.URLParam(r, "*"))
		if pathInfo.IsInvalid {
			SendErrorResponse(w, r, logger, core.ErrInvalidPath)
			return
		}
		if pathInfo.IsDirectory {
			SendErrorResponse(w, r, logger,
				fmt.Errorf("%w: bundled upload target must be a file", core.ErrInvalidPath))
			return
		}

		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			SendErrorResponse(w, r, logger, auth.ErrAuthenticationFailed)
			return
		}

		if err := authorizer.Authorize(r.Context(), userID, pathInfo.FullPath, auth.WritePerm); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		declared, err := declaredLength(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if cfg.MaxUploadSize > 0 && declared > cfg.MaxUploadSize {
			sendTooLarge(w, r, logger)
			return
		}

		spool, err := spoolBody(w, r, cfg)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				sendTooLarge(w, r, logger)
				return
			}
			SendErrorResponse(w, r, logger, err)
			return
		}
		defer func() {
			spool.Close()
			os.Remove(spool.Name())
		}()

		req := core.UploadRequest{
			Path:           pathInfo.FullPath,
			Stream:         spool,
			Attributes:     uploadAttributes(r),
			DeclaredLength: declared,
			Notifier:       notifier,
		}

		if r.Header.Get("If-None-Match") == "*" {
			info, err := engine.Lookup(r.Context(), pathInfo.FullPath)
			switch {
			case err == nil:
				req.Info = info
			case errors.Is(err, metadata.ErrNotFound):
				// not indexed; the backend existence check still applies
				req.Info = &metadata.Metadata{Path: pathInfo.FullPath, Name: pathInfo.Name, Type: metadata.TypeFile}
			default:
				SendErrorResponse(w, r, logger, err)
				return
			}
		}

		result, err := engine.CreateFromStream(r.Context(), req)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		w.Header().Set("ETag", result.Etag)
		w.Header().Set(HeaderOCEtag, result.Etag)
		w.Header().Set(HeaderOCFileID, strconv.FormatInt(result.FileID, 10))
		if result.MtimeAccepted {
			w.Header().Set(HeaderMtime, "accepted")
		}
		if err := SendJSONResponse(w, http.StatusCreated, result.Properties()); err != nil {
			logger.Error("Failed to encode upload response", zap.Error(err))
		}

		logger.Info("Bundled upload stored",
			zap.String("path", log.SanitizePath(pathInfo.FullPath)),
			zap.String("user_id", log.SanitizeUserID(userID)),
			zap.Int64("declared_length", log.SanitizeSize(declared)))
	}
}

// declaredLength reads the length announced by the client. OC-Total-Length
// wins over Content-Length. Zero means none was announced.
func declaredLength(r *http.Request) (int64, error) {
	if raw := strings.TrimSpace(r.Header.Get(HeaderTotalLength)); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: malformed %s header", core.ErrInvalidInput, HeaderTotalLength)
		}
		return n, nil
	}
	if r.ContentLength > 0 {
		return r.ContentLength, nil
	}
	return 0, nil
}

// uploadAttributes collects the optional upload attributes from headers
func uploadAttributes(r *http.Request) map[string]string {
	attrs := make(map[string]string)
	if mtime := strings.TrimSpace(r.Header.Get(HeaderMtime)); mtime != "" {
		attrs[core.MtimeAttribute] = mtime
	}
	return attrs
}

// spoolBody copies the request body into a temp file and returns it
// positioned at the start
func spoolBody(w http.ResponseWriter, r *http.Request, cfg config.UploadConfig) (*os.File, error) {
	body := r.Body
	if cfg.MaxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize)
	}

	spool, err := os.CreateTemp(cfg.SpoolDir, "bundlefs-upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	if _, err := io.Copy(spool, body); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("%w: failed to read request body: %v", core.ErrInvalidInput, err)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return spool, nil
}

func sendTooLarge(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Code:      "UPLOAD_TOO_LARGE",
		Message:   errBodyTooLarge.Error(),
		RequestID: w.Header().Get(middleware.RequestIDHeader),
	}); err != nil {
		logger.Error("Failed to encode error response", zap.Error(err))
	}
	logger.Info("Upload rejected as too large", zap.String("method", r.Method))
}
