// Package hooks carries commit notifications from the upload path to other
// subsystems. Notifications are advisory: a notifier cannot veto a commit
// and its failures never reach the uploader.
package hooks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/core/log"
)

// Phase names the point in a commit at which an event is emitted
type Phase string

const (
	// PreCommit is emitted before the exclusive lock is taken
	PreCommit Phase = "pre_commit"
	// PostCommit is emitted after content and index are written and the
	// lock has been downgraded to shared
	PostCommit Phase = "post_commit"
)

// Event describes one commit notification
type Event struct {
	Phase   Phase     `json:"phase"`
	Path    string    `json:"path"`
	Existed bool      `json:"existed"`
	Size    int64     `json:"size"`
	Time    time.Time `json:"time"`
}

// Notifier receives commit notifications. Implementations must not block
// for long; the uploader waits for them.
type Notifier interface {
	PreCommit(ctx context.Context, ev Event)
	PostCommit(ctx context.Context, ev Event)
}

// Multi fans one notification out to several notifiers in order
type Multi []Notifier

// PreCommit implements Notifier
func (m Multi) PreCommit(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.PreCommit(ctx, ev)
		}
	}
}

// PostCommit implements Notifier
func (m Multi) PostCommit(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.PostCommit(ctx, ev)
		}
	}
}

// LogNotifier writes every event to a zap logger
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs events at debug level
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// PreCommit implements Notifier
func (n *LogNotifier) PreCommit(ctx context.Context, ev Event) {
	n.log(ev)
}

// PostCommit implements Notifier
func (n *LogNotifier) PostCommit(ctx context.Context, ev Event) {
	n.log(ev)
}

func (n *LogNotifier) log(ev Event) {
	n.logger.Debug("Commit hook",
		zap.String("phase", string(ev.Phase)),
		zap.String("path", log.SanitizePath(ev.Path)),
		zap.Bool("existed", ev.Existed),
		zap.Int64("size", ev.Size))
}
