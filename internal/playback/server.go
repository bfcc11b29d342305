// Package playback serves bundle track files to the browser grid with
// HTTP range semantics, so each video element can scrub freely.
package playback

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
)

// Catalog resolves bundle IDs to scanned bundles.
type Catalog interface {
	Bundle(id string) (*bundle.Bundle, bool)
}

type TrackServer struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewTrackServer(catalog Catalog, logger *slog.Logger) *TrackServer {
	return &TrackServer{catalog: catalog, logger: logger}
}

// ServeTrack streams one camera track of a bundle, honoring Range
// requests with 206/416 semantics.
func (s *TrackServer) ServeTrack(w http.ResponseWriter, r *http.Request, bundleID, slotName string) error {
	b, ok := s.catalog.Bundle(bundleID)
	if !ok {
		http.Error(w, "bundle not found", http.StatusNotFound)
		return nil
	}

	slot, err := bundle.ParseSlot(slotName)
	if err != nil {
		http.Error(w, "unknown camera slot", http.StatusBadRequest)
		return nil
	}

	track, ok := b.Track(slot)
	if !ok {
		http.Error(w, "camera not present in bundle", http.StatusNotFound)
		return nil
	}

	file, err := os.Open(track.Path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "track file missing", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open track: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat track: %w", err)
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "video/mp4")

	parsedRange, err := ParseRange(r.Header.Get("Range"), size)

	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if err != nil && err != ErrInvalidRange {
		return err
	}

	if parsedRange == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, file)
		return nil
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", parsedRange.ContentLength()))
	w.Header().Set("Content-Range", parsedRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(parsedRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	io.CopyN(w, file, parsedRange.ContentLength())
	return nil
}
