// Package systemd integrates the monitor with the systemd service manager:
// readiness notification and a journal logging sink.
package systemd

import (
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd that startup finished. It is a no-op unless the
// service runs with Type=notify.
func Ready(logger *slog.Logger) {
	notify(logger, daemon.SdNotifyReady)
}

// Stopping tells systemd the service is shutting down.
func Stopping(logger *slog.Logger) {
	notify(logger, daemon.SdNotifyStopping)
}

// Status publishes a free-form status line shown by systemctl status.
func Status(logger *slog.Logger, status string) {
	notify(logger, "STATUS="+status)
}

func notify(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("failed to notify systemd", "state", state, "error", err)
		return
	}
	if sent {
		logger.Debug("notified systemd", "state", state)
	}
}
