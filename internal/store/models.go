package store

import "time"

// ClipRecord is one persisted camera track of a bundle, enriched with
// probe results once media inspection has run.
type ClipRecord struct {
	BundleID string  `json:"bundle_id"`
	Slot     string  `json:"slot"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Codec    string  `json:"codec,omitempty"`
}

const (
	ExportStatusPreparing  = "preparing"
	ExportStatusRecording  = "recording"
	ExportStatusFinalizing = "finalizing"
	ExportStatusCompleted  = "completed"
	ExportStatusCancelled  = "cancelled"
	ExportStatusFailed     = "failed"
)

type ExportJob struct {
	ID         string    `json:"id"`
	BundleID   string    `json:"bundle_id"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
