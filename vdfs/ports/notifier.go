package ports

import "log/slog"

// Notifier receives reconciliation events. Implementations invalidate
// caches, refresh UI listings, or surface sync errors to the user.
type Notifier interface {
	OnDirectoryChanged(path string)
	OnFeedApplied(changestamp int64)
	OnSyncError(err error)
}

// LogNotifier is a Notifier that just logs every event.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

func (n *LogNotifier) OnDirectoryChanged(path string) {
	n.logger().Info("directory changed", "path", path)
}

func (n *LogNotifier) OnFeedApplied(changestamp int64) {
	n.logger().Info("feed applied", "changestamp", changestamp)
}

func (n *LogNotifier) OnSyncError(err error) {
	n.logger().Error("sync error", "error", err)
}
