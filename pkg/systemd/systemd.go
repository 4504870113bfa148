// Package systemd wraps the sd_notify readiness protocol. Outside a systemd
// unit every call is a silent no-op.
package systemd

import (
	"fmt"

	sd "github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells the service manager the daemon is up.
func NotifyReady() {
	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
}

// NotifyStopping tells the service manager a shutdown is in progress.
func NotifyStopping() {
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
}

// NotifyStatus publishes a one-line status visible in systemctl status.
func NotifyStatus(status string) {
	_, _ = sd.SdNotify(false, fmt.Sprintf("STATUS=%s", status))
}
