package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/core"
)

// DirectWriter is the plain single-shot write entry point
type DirectWriter interface {
	Put(ctx context.Context, path string, data io.Reader) error
}

// V1PostFile handles POST /v1/files/{path}. Plain writes are not accepted
// by a bundled store; the engine rejects them with a forbidden error.
func V1PostFile(engine DirectWriter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathInfo := ParseFilePath(chi.URLParam(r, "*"))
		if pathInfo.IsInvalid {
			SendErrorResponse(w, r, logger, core.ErrInvalidPath)
			return
		}

		if err := engine.Put(r.Context(), pathInfo.FullPath, r.Body); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
