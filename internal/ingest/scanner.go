// Package ingest discovers dashcam clip files on disk and groups them
// into camera bundles keyed by their recording timestamp.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
	"github.com/dashgrid/dashgrid-agent/internal/logging"
	"github.com/dashgrid/dashgrid-agent/internal/store"
)

// Clip filenames look like 2024-01-15_14-30-25-front.mp4: the bundle
// timestamp followed by the camera slot name.
const timestampLen = len("2006-01-02_15-04-05")

type Scanner struct {
	clipsDir string
	repo     store.Repository
	logger   *slog.Logger

	mu      sync.RWMutex
	bundles []*bundle.Bundle
}

func NewScanner(clipsDir string, repo store.Repository, logger *slog.Logger) *Scanner {
	return &Scanner{
		clipsDir: clipsDir,
		repo:     repo,
		logger:   logger,
	}
}

// Scan walks the clips directory, rebuilds the in-memory bundle list and
// reconciles the persisted catalog with what is on disk.
func (s *Scanner) Scan(ctx context.Context) ([]*bundle.Bundle, error) {
	info, err := os.Stat(s.clipsDir)
	if err != nil {
		return nil, fmt.Errorf("clips directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("clips path is not a directory: %s", s.clipsDir)
	}

	type foundTrack struct {
		slot bundle.CameraSlot
		path string
		size int64
	}
	groups := make(map[string][]foundTrack)

	err = filepath.WalkDir(s.clipsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}

		ts, slot, ok := ParseClipName(d.Name())
		if !ok {
			return nil
		}

		var size int64
		if fi, err := d.Info(); err == nil {
			size = fi.Size()
		}
		groups[ts] = append(groups[ts], foundTrack{slot: slot, path: p, size: size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	var bundles []*bundle.Bundle
	for ts, tracks := range groups {
		seen := make(map[bundle.CameraSlot]bool, len(tracks))
		var bts []bundle.Track
		for _, t := range tracks {
			if seen[t.slot] {
				if s.logger != nil {
					s.logger.Warn("duplicate camera track ignored", "bundle", ts, "slot", t.slot, "path", logging.SanitizePath(t.path))
				}
				continue
			}
			seen[t.slot] = true
			bts = append(bts, bundle.Track{Slot: t.slot, Path: t.path, Size: t.size})
		}

		b, err := bundle.New(ts, bts)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping malformed bundle", "bundle", ts, "error", err)
			}
			continue
		}
		bundles = append(bundles, b)
	}

	bundle.Sort(bundles)

	s.mu.Lock()
	s.bundles = bundles
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.persist(ctx, bundles); err != nil && s.logger != nil {
			s.logger.Warn("catalog persist failed", "error", err)
		}
	}

	if s.logger != nil {
		s.logger.Info("scan complete", "bundles", len(bundles))
	}
	return bundles, nil
}

func (s *Scanner) persist(ctx context.Context, bundles []*bundle.Bundle) error {
	ids := make([]string, 0, len(bundles))
	for _, b := range bundles {
		ids = append(ids, b.ID.String())
		for _, slot := range b.Slots() {
			track, _ := b.Track(slot)
			rec := &store.ClipRecord{
				BundleID: b.ID.String(),
				Slot:     string(slot),
				Path:     track.Path,
				Size:     track.Size,
			}
			if err := s.repo.UpsertClip(ctx, rec); err != nil {
				return err
			}
		}
	}
	return s.repo.DeleteClipsNotIn(ctx, ids)
}

// Bundles returns the result of the most recent scan in chronological order.
func (s *Scanner) Bundles() []*bundle.Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*bundle.Bundle, len(s.bundles))
	copy(out, s.bundles)
	return out
}

// Bundle looks up a scanned bundle by its timestamp ID.
func (s *Scanner) Bundle(id string) (*bundle.Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.bundles {
		if b.ID.String() == id {
			return b, true
		}
	}
	return nil, false
}

// ParseClipName splits a clip filename into its bundle timestamp and
// camera slot. Files that do not match the naming scheme are ignored.
func ParseClipName(name string) (timestamp string, slot bundle.CameraSlot, ok bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".mp4" && ext != ".mov" {
		return "", "", false
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))

	if len(base) < timestampLen+2 || base[timestampLen] != '-' {
		return "", "", false
	}

	ts := base[:timestampLen]
	if _, err := bundle.ParseTimestamp(ts); err != nil {
		return "", "", false
	}

	slot, err := bundle.ParseSlot(base[timestampLen+1:])
	if err != nil {
		return "", "", false
	}
	return ts, slot, true
}
