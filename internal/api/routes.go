package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
	"github.com/dashgrid/dashgrid-agent/internal/export"
	"github.com/dashgrid/dashgrid-agent/internal/filter"
	"github.com/dashgrid/dashgrid-agent/internal/layout"
	"github.com/dashgrid/dashgrid-agent/internal/session"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/scan", scanHandler(cfg))
		r.Get("/bundles", listBundlesHandler(cfg))
		r.Get("/playback/track", playbackHandler(cfg))

		r.Get("/session", sessionStateHandler(cfg))
		r.Get("/session/ws", sessionStreamHandler(cfg))
		r.Post("/session/open", openSessionHandler(cfg))
		r.Post("/session/seek", seekHandler(cfg))
		r.Post("/session/select", selectClipHandler(cfg))
		r.Post("/session/step", stepHandler(cfg))
		r.Post("/session/intent", intentHandler(cfg))
		r.Post("/session/playing", playingHandler(cfg))
		r.Post("/session/rate", rateHandler(cfg))
		r.Post("/session/reset", resetSessionHandler(cfg))

		r.Get("/filters", getFiltersHandler(cfg))
		r.Put("/filters", setFiltersHandler(cfg))
		r.Get("/layout", getLayoutHandler(cfg))
		r.Put("/layout", setLayoutHandler(cfg))

		r.Post("/export", startExportHandler(cfg))
		r.Get("/export", listExportsHandler(cfg))
		r.Get("/export/ws", exportStreamHandler(cfg))
		r.Get("/export/{id}", getExportHandler(cfg))
		r.Delete("/export/{id}", cancelExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  "0.1.0",
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		clipsCount, _ := cfg.Repository.CountClips(ctx)
		snap := cfg.Session.Snapshot()
		exportNow := cfg.Orchestrator.Current()

		state := "idle"
		if snap.Open {
			state = "viewing"
		}
		if cfg.Orchestrator.Busy() {
			state = "exporting"
		}

		resp := StatusResponse{
			State:       state,
			BundleCount: len(cfg.Scanner.Bundles()),
			ClipsCount:  clipsCount,
			SessionOpen: snap.Open,
			ExportState: string(exportNow.State),
			LastError:   exportNow.Error,
		}
		if exportNow.State != export.StateIdle {
			resp.ExportJobID = exportNow.JobID
			resp.Progress = exportNow.Progress
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func scanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundles, err := cfg.Scanner.Scan(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "SCAN_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, ScanResponse{BundleCount: len(bundles)})
	}
}

func listBundlesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundles := cfg.Scanner.Bundles()

		resp := BundlesResponse{Bundles: make([]BundleResponse, len(bundles))}
		for i, b := range bundles {
			var duration float64
			clips, err := cfg.Repository.GetClipsByBundle(r.Context(), b.ID.String())
			if err == nil {
				for _, c := range clips {
					if c.Duration > duration {
						duration = c.Duration
					}
				}
			}
			resp.Bundles[i] = BundleToResponse(b, duration)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func playbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundleID := r.URL.Query().Get("bundle")
		slot := r.URL.Query().Get("slot")
		if bundleID == "" || slot == "" {
			WriteError(w, http.StatusBadRequest, "bundle and slot are required", "BAD_REQUEST")
			return
		}
		if err := cfg.Tracks.ServeTrack(w, r, bundleID, slot); err != nil {
			cfg.Logger.Error("playback error", "error", err, "bundle", bundleID, "slot", slot)
		}
	}
}

func sessionStateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func openSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.BundleID == "" {
			WriteError(w, http.StatusBadRequest, "bundle_id is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.Open(r.Context(), cfg.Scanner.Bundles(), req.BundleID); err != nil {
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.Seek(r.Context(), req.GlobalTime, req.Discrete); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func selectClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.SelectClip(r.Context(), req.Index); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func stepHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Direction != 1 && req.Direction != -1 {
			WriteError(w, http.StatusBadRequest, "direction must be 1 or -1", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.Step(r.Context(), req.Direction); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func intentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Intent == "" {
			WriteError(w, http.StatusBadRequest, "intent is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.Dispatch(r.Context(), session.Intent(req.Intent)); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func playingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlayingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.SetPlaying(req.Playing); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func rateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Rate <= 0 {
			WriteError(w, http.StatusBadRequest, "rate must be positive", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.SetRate(req.Rate); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func resetSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Reset(); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Snapshot())
	}
}

func getFiltersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Filters())
	}
}

func setFiltersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f filter.State
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if f.Brightness < 0 || f.Contrast < 0 || f.Saturate < 0 {
			WriteError(w, http.StatusBadRequest, "filter percentages cannot be negative", "BAD_REQUEST")
			return
		}

		cfg.Session.SetFilters(f)
		WriteJSON(w, http.StatusOK, cfg.Session.Filters())
	}
}

func getLayoutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := layout.Mode(r.URL.Query().Get("mode"))
		if !mode.Valid() {
			WriteError(w, http.StatusBadRequest, "mode must be 2x2 or 3x2", "BAD_REQUEST")
			return
		}

		raw, err := cfg.Repository.GetLayout(r.Context(), string(mode))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, layout.Decode(raw, mode))
	}
}

func setLayoutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfgLayout layout.Config
		if err := json.NewDecoder(r.Body).Decode(&cfgLayout); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := cfgLayout.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		raw, err := layout.Encode(cfgLayout)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if err := cfg.Repository.SaveLayout(r.Context(), string(cfgLayout.Mode), raw); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, cfgLayout)
	}
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.BundleID == "" {
			WriteError(w, http.StatusBadRequest, "bundle_id is required", "BAD_REQUEST")
			return
		}
		if req.OutputDir != "" {
			if err := export.ValidateOutputDir(req.OutputDir); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}

		b, ok := cfg.Scanner.Bundle(req.BundleID)
		if !ok {
			WriteError(w, http.StatusNotFound, "bundle not found", "NOT_FOUND")
			return
		}

		order := exportOrder(r.Context(), cfg, b)
		jobID, err := cfg.Orchestrator.Start(r.Context(), b, order, req.OutputDir, cfg.Session.Filters())
		if err != nil {
			if errors.Is(err, export.ErrBusy) {
				WriteError(w, http.StatusConflict, err.Error(), "EXPORT_BUSY")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusAccepted, ExportResponse{JobID: jobID})
	}
}

// exportOrder resolves the grid cell order for a bundle, honoring the
// persisted custom layout so exports mirror the on-screen arrangement.
func exportOrder(ctx context.Context, cfg ServerConfig, b *bundle.Bundle) []bundle.CameraSlot {
	mode := layout.ModeFor(b.Mode())
	raw, err := cfg.Repository.GetLayout(ctx, string(mode))
	if err != nil {
		return layout.OrderFor(b, nil)
	}
	custom := layout.Decode(raw, mode)
	return layout.OrderFor(b, &custom)
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListExportJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list export jobs", "INTERNAL_ERROR")
			return
		}

		resp := ExportJobsResponse{Jobs: make([]ExportJobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = ExportJobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		progress, err := cfg.Orchestrator.Status(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusNotFound, "export job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, progress)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		if err := cfg.Orchestrator.Cancel(id); err != nil {
			WriteError(w, http.StatusConflict, err.Error(), "NOT_RUNNING")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNoSession) {
		WriteError(w, http.StatusConflict, err.Error(), "NO_SESSION")
		return
	}
	WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
}
