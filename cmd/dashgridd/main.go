package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dashgrid/dashgrid-agent/internal/api"
	"github.com/dashgrid/dashgrid-agent/internal/config"
	"github.com/dashgrid/dashgrid-agent/internal/export"
	"github.com/dashgrid/dashgrid-agent/internal/ingest"
	"github.com/dashgrid/dashgrid-agent/internal/logging"
	"github.com/dashgrid/dashgrid-agent/internal/media"
	"github.com/dashgrid/dashgrid-agent/internal/playback"
	"github.com/dashgrid/dashgrid-agent/internal/session"
	"github.com/dashgrid/dashgrid-agent/internal/store"
	"github.com/dashgrid/dashgrid-agent/internal/ui"
	"github.com/dashgrid/dashgrid-agent/internal/watcher"
)

// sessionTickInterval drives the sync loop; ~5 Hz keeps drift checks well
// inside the correction thresholds without busy-spinning.
const sessionTickInterval = 200 * time.Millisecond

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ClipsDir() == "" {
		return fmt.Errorf("%s must point at the dashcam clips directory", config.EnvClipsDir)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ExportDir(), 0755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting dashgrid agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := store.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   DASHGRID AGENT v0.1.0                   ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	scanner := ingest.NewScanner(cfg.ClipsDir(), repo, logging.Component(logger, "ingest"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if bundles, err := scanner.Scan(ctx); err != nil {
		logger.Warn("initial clip scan failed", "error", err)
	} else {
		logger.Info("initial clip scan complete", "bundles", len(bundles))
	}

	prober := media.NewFFprobe(cfg.FFprobePath())
	sess := session.NewService(repo, prober, logging.Component(logger, "session"))

	decoder := media.NewDecoder(cfg.FFmpegPath())
	orchestrator := export.NewOrchestrator(
		prober,
		decoder,
		func(ctx context.Context) export.Sink { return export.NewFFmpegSink(ctx, cfg.FFmpegPath()) },
		func(ctx context.Context) (export.Codec, error) { return export.SelectCodec(ctx, cfg.FFmpegPath()) },
		repo,
		logging.Component(logger, "export"),
		export.DefaultOptions(cfg.ExportDir()),
	)

	go func() {
		ticker := time.NewTicker(sessionTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sess.Tick(ctx)
			}
		}
	}()

	w, err := watcher.New(cfg.ClipsDir(), watcher.DefaultDebounce, func(ctx context.Context) {
		if _, err := scanner.Scan(ctx); err != nil {
			logger.Warn("rescan failed", "error", err)
		}
	}, logging.Component(logger, "watcher"))
	if err != nil {
		logger.Warn("clip watcher unavailable, relying on manual rescans", "error", err)
	} else {
		go w.Run(ctx)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:         cfg.Port(),
		Scanner:      scanner,
		Session:      sess,
		Orchestrator: orchestrator,
		Tracks:       playback.NewTrackServer(scanner, logging.Component(logger, "playback")),
		Repository:   repo,
		Logger:       logging.Component(logger, "api"),
		StartTime:    startTime,
		DeviceID:     deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Logger: logging.Component(logger, "tray"),
			OnOpenViewer: func() error {
				return openBrowser(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port()))
			},
			OnRescan: func() error {
				_, err := scanner.Scan(context.Background())
				return err
			},
			OnQuit: func() {
				close(quitCh)
			},
		})
		go mirrorExportProgress(ctx, orchestrator, tray)
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// mirrorExportProgress feeds the orchestrator's progress stream into the
// tray menu.
func mirrorExportProgress(ctx context.Context, orchestrator *export.Orchestrator, tray *ui.Tray) {
	events, cancel := orchestrator.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if !ok {
				return
			}
			switch p.State {
			case export.StateCompleted, export.StateCancelled, export.StateFailed, export.StateIdle:
				tray.UpdateExportProgress("", 0)
			default:
				tray.UpdateExportProgress(string(p.State), p.Progress)
			}
		}
	}
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

func ensureDeviceID(repo store.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo store.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
