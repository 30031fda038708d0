// Package trayui defines the tray UI collaborator contract consumed by the
// reconciler and supervisor (spec §6): phase indicators, a short tooltip
// string, an exit signal, and an auth-failure modal. A log-backed
// implementation is provided for headless operation; a real system-tray
// binding is an external collaborator outside this core's scope.
package trayui

import "icloudsyncd/internal/logging"

// TrayUI is the contract the reconciler/supervisor drive tray state through.
type TrayUI interface {
	SetIdle()
	SetUpdating()
	SetDeleting()
	// UpdateText sets the tooltip text; implementations truncate it to 63
	// characters, the host tray API's documented limit.
	UpdateText(text string)
	// ShowAuthFailureModal surfaces an authentication failure to the user.
	ShowAuthFailureModal(detail string)
	// ExitClicked signals the user requested shutdown via the tray menu.
	ExitClicked() <-chan struct{}
}

// LogTray is a TrayUI that reports state transitions through the structured
// logger instead of a real system tray icon.
type LogTray struct {
	exitCh chan struct{}
}

// NewLogTray constructs a LogTray. Call TriggerExit to simulate the user
// clicking Exit.
func NewLogTray() *LogTray {
	return &LogTray{exitCh: make(chan struct{})}
}

func (t *LogTray) SetIdle()     { logging.Debug("tray: idle") }
func (t *LogTray) SetUpdating() { logging.Debug("tray: updating") }
func (t *LogTray) SetDeleting() { logging.Debug("tray: deleting") }

func (t *LogTray) UpdateText(text string) {
	if len(text) > 63 {
		text = text[:63]
	}
	logging.Debug("tray: tooltip", "text", text)
}

func (t *LogTray) ShowAuthFailureModal(detail string) {
	logging.Error("tray: auth failure modal", nil, "detail", detail)
}

func (t *LogTray) ExitClicked() <-chan struct{} {
	return t.exitCh
}

// TriggerExit closes the exit channel exactly once.
func (t *LogTray) TriggerExit() {
	select {
	case <-t.exitCh:
	default:
		close(t.exitCh)
	}
}
