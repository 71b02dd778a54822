package core

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/core/log"
)

// Put is the single-shot write entry point of the plain file handler. It
// is disabled for bundled uploads, which must go through CreateFromStream
// so that every write is length-checked, and always returns ErrForbidden.
func (e *Engine) Put(ctx context.Context, path string, data io.Reader) error {
	e.logger.Debug("Rejected direct write",
		zap.String("path", log.SanitizePath(path)))
	return newError(ErrForbidden, nil, "direct write not supported for bundled upload")
}
