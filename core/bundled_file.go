package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/backends"
	"github.com/ebogdum/bundlefs/core/log"
	"github.com/ebogdum/bundlefs/hooks"
	"github.com/ebogdum/bundlefs/internal/pathutil"
	"github.com/ebogdum/bundlefs/locks"
	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metrics"
)

// MtimeAttribute is the upload attribute carrying a client-set
// modification time in unix seconds
const MtimeAttribute = "x-oc-mtime"

// rollbackTimeout bounds the cleanup delete, which runs even when the
// request context is already cancelled
const rollbackTimeout = 30 * time.Second

// UploadRequest is one bundled upload
type UploadRequest struct {
	Path string
	// Stream is rewound before copying; its incoming position is ignored
	Stream io.ReadSeeker
	// Attributes holds optional upload attributes keyed in lower case
	Attributes map[string]string
	// DeclaredLength is the length announced by the client. Zero or
	// negative means none was announced and the stream's own size is used.
	DeclaredLength int64
	// Info is the descriptor the caller already holds for Path. When set,
	// an existing object at Path is an error instead of being overwritten.
	Info *metadata.Metadata
	// Notifier receives pre and post commit events; nil skips them
	Notifier hooks.Notifier
}

// CommitResult describes a committed upload
type CommitResult struct {
	// Etag is quoted
	Etag          string
	FileID        int64
	MtimeAccepted bool
}

// Properties returns the result as the property map handed to the
// protocol layer
func (r *CommitResult) Properties() map[string]string {
	props := map[string]string{
		"etag":      r.Etag,
		"oc-etag":   r.Etag,
		"oc-fileid": strconv.FormatInt(r.FileID, 10),
	}
	if r.MtimeAccepted {
		props[MtimeAttribute] = "accepted"
	}
	return props
}

// CreateFromStream writes req.Stream to req.Path. The content is written
// under an exclusive lock, checked against the declared length, deleted
// again on failure, and indexed on success. The lock is downgraded to
// shared before the post commit event and released on return.
func (e *Engine) CreateFromStream(ctx context.Context, req UploadRequest) (*CommitResult, error) {
	if req.Stream == nil {
		return nil, newError(ErrInvalidInput, nil, "upload stream is not readable")
	}
	// a closed or unseekable handle is rejected before anything is touched
	if err := rewind(req.Stream); err != nil {
		return nil, newError(ErrInvalidInput, err, "upload stream is not readable")
	}

	start := time.Now()
	target := e.resolver.Resolve(req.Path)

	result, written, err := e.createFromStream(ctx, req, target)
	if err != nil && errors.Is(err, backends.ErrUnavailable) {
		err = newError(ErrServiceUnavailable, err, "failed to check file size")
	}

	outcome := "success"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metrics.UploadsTotal.WithLabelValues(target.BackendType, outcome).Inc()
	metrics.UploadDuration.WithLabelValues(target.BackendType).Observe(time.Since(start).Seconds())

	if err != nil {
		e.logger.Info("Bundled upload failed",
			zap.String("path", log.SanitizePath(target.Path)),
			zap.String("backend", target.BackendType),
			zap.String("kind", outcome),
			zap.Error(err))
		return nil, err
	}

	metrics.UploadBytesTotal.WithLabelValues(target.BackendType).Add(float64(written))
	e.logger.Info("Bundled upload committed",
		zap.String("path", log.SanitizePath(target.Path)),
		zap.String("backend", target.BackendType),
		zap.Int64("size", log.SanitizeSize(written)),
		zap.Int64("file_id", result.FileID),
		zap.Bool("mtime_accepted", result.MtimeAccepted),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (e *Engine) createFromStream(ctx context.Context, req UploadRequest, target Target) (*CommitResult, int64, error) {
	exists, err := target.Storage.Exists(ctx, target.InternalPath)
	if err != nil {
		return nil, 0, newError(ErrInternal, err, "failed to check whether file exists")
	}
	if req.Info != nil && exists {
		return nil, 0, newError(ErrAlreadyExists, nil, "file already exists, cannot create file")
	}

	if err := pathutil.VerifyPath(req.Path); err != nil {
		return nil, 0, newError(ErrInvalidPath, err, "invalid target path")
	}

	e.notify(ctx, req.Notifier, hooks.Event{Phase: hooks.PreCommit, Path: target.Path, Existed: exists})

	lease, err := locks.AcquireLease(ctx, e.lockManager, lockKey(target.Path), locks.Exclusive, e.logger)
	if err != nil {
		if errors.Is(err, locks.ErrLocked) {
			return nil, 0, newError(ErrResourceLocked, err, "file is locked")
		}
		return nil, 0, newError(ErrInternal, err, "failed to acquire lock")
	}
	defer lease.Release()

	written, checksum, err := e.writeContent(ctx, req, target)
	if err != nil {
		return nil, 0, err
	}

	if _, err := e.index.UpdateAfterWrite(ctx, target, checksum); err != nil {
		return nil, 0, newError(ErrInternal, err, "failed to update file index")
	}

	if err := lease.Downgrade(ctx); err != nil {
		// Content and index are committed at this point; the caller is
		// told the upload failed.
		e.logger.Warn("Upload committed but lock downgrade failed",
			zap.String("path", log.SanitizePath(target.Path)),
			zap.Int64("size", log.SanitizeSize(written)),
			zap.Error(err))
		return nil, 0, newError(ErrResourceLocked, err, "failed to downgrade lock after write")
	}

	e.notify(ctx, req.Notifier, hooks.Event{Phase: hooks.PostCommit, Path: target.Path, Existed: exists, Size: written})

	accepted := false
	if mtime, ok := parseMtime(req.Attributes[MtimeAttribute]); ok {
		err := e.index.Touch(ctx, target, mtime)
		switch {
		case err == nil:
			accepted = true
		case errors.Is(err, backends.ErrUnavailable):
			return nil, 0, err
		default:
			e.logger.Warn("Client mtime not applied",
				zap.String("path", log.SanitizePath(target.Path)),
				zap.Error(err))
		}
	}

	md, err := e.index.Refresh(ctx, target.Path)
	if err != nil {
		return nil, 0, newError(ErrInternal, err, "failed to refresh file info")
	}

	return &CommitResult{
		Etag:          `"` + md.Etag + `"`,
		FileID:        md.ID,
		MtimeAccepted: accepted,
	}, written, nil
}

// writeContent streams the upload into a fresh sink and verifies the byte
// count. Any failure after the sink is opened deletes the partial object.
func (e *Engine) writeContent(ctx context.Context, req UploadRequest, target Target) (int64, string, error) {
	sink, err := target.Storage.OpenWriter(ctx, target.InternalPath)
	if err != nil {
		e.logger.Error("Failed to open write sink",
			zap.String("path", log.SanitizePath(target.Path)),
			zap.String("backend", target.BackendType),
			zap.Error(err))
		return 0, "", newError(ErrInternal, err, "could not write file contents")
	}

	expected := req.DeclaredLength
	if expected <= 0 {
		expected = streamLength(req.Stream)
	}

	if err := rewind(req.Stream); err != nil {
		closeErr := finishSink(sink, err)
		return 0, "", e.rollback(ctx, target, newError(ErrInternal, multierr.Append(err, closeErr), "could not read upload stream"))
	}

	res := copyStream(sink, req.Stream)

	var failure error
	switch {
	case !res.OK:
		failure = res.Err
	case expected >= 0 && res.Count != expected:
		failure = fmt.Errorf("expected filesize %d got %d", expected, res.Count)
	}
	closeErr := finishSink(sink, failure)

	switch {
	case !res.OK || closeErr != nil:
		cause := multierr.Append(res.Err, closeErr)
		return 0, "", e.rollback(ctx, target, newError(ErrInternal, cause,
			"error while copying file to target location (copied bytes: %d, expected filesize: %d)", res.Count, expected))
	case expected >= 0 && res.Count != expected:
		return 0, "", e.rollback(ctx, target, newError(ErrSizeMismatch, nil,
			"expected filesize %d got %d", expected, res.Count))
	}

	return res.Count, res.Checksum, nil
}

// finishSink closes sink, or aborts it when the write failed and the sink
// supports discarding partial content
func finishSink(sink io.WriteCloser, failure error) error {
	if failure != nil {
		if a, ok := sink.(backends.Aborter); ok {
			a.Abort(failure)
			return nil
		}
	}
	return sink.Close()
}

// rollback deletes whatever was written at target and returns failure
// wrapped as an internal error. A failed delete is logged and attached to
// the returned error without replacing it.
func (e *Engine) rollback(ctx context.Context, target Target, failure *CommitError) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	delErr := target.Storage.Delete(cleanupCtx, target.InternalPath)
	if errors.Is(delErr, metadata.ErrNotFound) {
		delErr = nil
	}

	status := "success"
	if delErr != nil {
		status = "failed"
		e.logger.Warn("Failed to delete partial upload",
			zap.String("path", log.SanitizePath(target.Path)),
			zap.String("backend", target.BackendType),
			zap.Error(delErr))
	}
	metrics.RollbacksTotal.WithLabelValues(target.BackendType, status).Inc()

	return &CommitError{
		Kind:        ErrInternal,
		Message:     failure.Error(),
		Cause:       failure,
		RollbackErr: delErr,
	}
}

func (e *Engine) notify(ctx context.Context, n hooks.Notifier, ev hooks.Event) {
	if n == nil {
		return
	}
	ev.Time = time.Now().UTC()
	metrics.HookEventsTotal.WithLabelValues(string(ev.Phase)).Inc()

	switch ev.Phase {
	case hooks.PreCommit:
		n.PreCommit(ctx, ev)
	case hooks.PostCommit:
		n.PostCommit(ctx, ev)
	}
}

// parseMtime reads a unix timestamp in seconds, integer or decimal
func parseMtime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	secs, frac := math.Modf(f)
	return time.Unix(int64(secs), int64(frac*float64(time.Second))).UTC(), true
}

func outcomeLabel(err error) string {
	return strings.ReplaceAll(KindOf(err).Error(), " ", "_")
}
