package api

import (
	"time"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
	"github.com/dashgrid/dashgrid-agent/internal/store"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string  `json:"state"`
	BundleCount int     `json:"bundle_count"`
	ClipsCount  int     `json:"clips_count"`
	SessionOpen bool    `json:"session_open"`
	ExportState string  `json:"export_state"`
	ExportJobID string  `json:"export_job_id,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
	Progress    float64 `json:"export_progress,omitempty"`
}

type ScanResponse struct {
	BundleCount int `json:"bundle_count"`
}

type BundleResponse struct {
	ID          string   `json:"id"`
	ChannelMode int      `json:"channel_mode"`
	Cameras     []string `json:"cameras"`
	Duration    float64  `json:"duration,omitempty"`
}

type BundlesResponse struct {
	Bundles []BundleResponse `json:"bundles"`
}

type OpenSessionRequest struct {
	BundleID string `json:"bundle_id"`
}

type SeekRequest struct {
	GlobalTime float64 `json:"global_time"`
	Discrete   bool    `json:"discrete,omitempty"`
}

type SelectClipRequest struct {
	Index int `json:"index"`
}

type StepRequest struct {
	Direction int `json:"direction"`
}

type IntentRequest struct {
	Intent string `json:"intent"`
}

type PlayingRequest struct {
	Playing bool `json:"playing"`
}

type RateRequest struct {
	Rate float64 `json:"rate"`
}

type ExportRequest struct {
	BundleID  string `json:"bundle_id"`
	OutputDir string `json:"output_dir,omitempty"`
}

type ExportResponse struct {
	JobID string `json:"job_id"`
}

type ExportJobResponse struct {
	ID         string  `json:"id"`
	BundleID   string  `json:"bundle_id"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	OutputPath string  `json:"output_path,omitempty"`
	Error      string  `json:"error,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

type ExportJobsResponse struct {
	Jobs []ExportJobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func BundleToResponse(b *bundle.Bundle, duration float64) BundleResponse {
	slots := b.Slots()
	cameras := make([]string, len(slots))
	for i, s := range slots {
		cameras[i] = string(s)
	}
	return BundleResponse{
		ID:          b.ID.String(),
		ChannelMode: int(b.Mode()),
		Cameras:     cameras,
		Duration:    duration,
	}
}

func ExportJobToResponse(j *store.ExportJob) ExportJobResponse {
	return ExportJobResponse{
		ID:         j.ID,
		BundleID:   j.BundleID,
		Status:     j.Status,
		Progress:   j.Progress,
		OutputPath: j.OutputPath,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
}
