// Package ui provides the system tray presence for the agent.
package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
)

type Tray struct {
	logger *slog.Logger

	statusItem  *systray.MenuItem
	bundlesItem *systray.MenuItem
	exportItem  *systray.MenuItem

	mu sync.Mutex

	onOpenViewer func() error
	onRescan     func() error
	onQuit       func()
}

type TrayConfig struct {
	Logger       *slog.Logger
	OnOpenViewer func() error
	OnRescan     func() error
	OnQuit       func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		logger:       cfg.Logger,
		onOpenViewer: cfg.OnOpenViewer,
		onRescan:     cfg.OnRescan,
		onQuit:       cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Dashgrid")
	systray.SetTooltip("Dashgrid Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.bundlesItem = systray.AddMenuItem("Clips: 0", "Discovered clip bundles")
	t.bundlesItem.Disable()

	t.exportItem = systray.AddMenuItem("No export running", "Export progress")
	t.exportItem.Disable()

	systray.AddSeparator()

	openItem := systray.AddMenuItem("Open Viewer...", "Open the viewer in a browser")
	rescanItem := systray.AddMenuItem("Rescan Clips", "Rescan the clips directory")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Dashgrid Agent")

	go func() {
		for {
			select {
			case <-openItem.ClickedCh:
				t.handleOpenViewer()
			case <-rescanItem.ClickedCh:
				t.handleRescan()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleOpenViewer() {
	if t.onOpenViewer != nil {
		if err := t.onOpenViewer(); err != nil {
			t.logger.Error("failed to open viewer", "error", err)
		}
	}
}

func (t *Tray) handleRescan() {
	if t.onRescan != nil {
		if err := t.onRescan(); err != nil {
			t.logger.Error("rescan failed", "error", err)
		}
	}
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem != nil {
		t.statusItem.SetTitle("Status: " + status)
	}
}

func (t *Tray) UpdateBundleCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bundlesItem != nil {
		t.bundlesItem.SetTitle(fmt.Sprintf("Clips: %d", count))
	}
}

// UpdateExportProgress mirrors the orchestrator's progress stream into the
// tray. An empty state string clears the line.
func (t *Tray) UpdateExportProgress(state string, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exportItem == nil {
		return
	}
	if state == "" || state == "idle" {
		t.exportItem.SetTitle("No export running")
		return
	}
	t.exportItem.SetTitle(fmt.Sprintf("Export: %s %.0f%%", state, progress))
}

func (t *Tray) Quit() {
	systray.Quit()
}
