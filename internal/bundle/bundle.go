// Package bundle defines the clip bundle model: one set of same-timestamp
// per-camera recordings treated as a single playable unit.
package bundle

import (
	"fmt"
	"sort"
)

// CameraSlot identifies one camera position on the vehicle.
type CameraSlot string

const (
	SlotFront         CameraSlot = "front"
	SlotBack          CameraSlot = "back"
	SlotLeftRepeater  CameraSlot = "left_repeater"
	SlotRightRepeater CameraSlot = "right_repeater"
	SlotLeftPillar    CameraSlot = "left_pillar"
	SlotRightPillar   CameraSlot = "right_pillar"
)

// AllSlots lists every known camera slot.
var AllSlots = []CameraSlot{
	SlotFront, SlotBack, SlotLeftRepeater, SlotRightRepeater,
	SlotLeftPillar, SlotRightPillar,
}

// ParseSlot validates a camera slot name.
func ParseSlot(s string) (CameraSlot, error) {
	for _, slot := range AllSlots {
		if string(slot) == s {
			return slot, nil
		}
	}
	return "", fmt.Errorf("unknown camera slot %q", s)
}

// ChannelMode is the number of cameras a bundle carries: 4 for the
// repeater-only generation, 6 once pillar cameras are present.
type ChannelMode int

const (
	Mode4 ChannelMode = 4
	Mode6 ChannelMode = 6
)

// Track is one camera's media file within a bundle.
type Track struct {
	Slot CameraSlot
	Path string
	Size int64
}

// Bundle is an immutable set of same-timestamp per-camera clips.
// Invariant: at least one track present and ID parses as a Timestamp.
type Bundle struct {
	ID     Timestamp
	tracks map[CameraSlot]Track
}

// New constructs a bundle. It fails on an empty track set or an id that
// does not parse as a capture timestamp.
func New(id string, tracks []Track) (*Bundle, error) {
	ts, err := ParseTimestamp(id)
	if err != nil {
		return nil, fmt.Errorf("invalid bundle id: %w", err)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("bundle %s has no tracks", id)
	}

	m := make(map[CameraSlot]Track, len(tracks))
	for _, t := range tracks {
		if _, dup := m[t.Slot]; dup {
			return nil, fmt.Errorf("bundle %s has duplicate track for slot %s", id, t.Slot)
		}
		m[t.Slot] = t
	}
	return &Bundle{ID: ts, tracks: m}, nil
}

// Track returns the media file for a slot, if present.
func (b *Bundle) Track(slot CameraSlot) (Track, bool) {
	t, ok := b.tracks[slot]
	return t, ok
}

// Has reports whether the bundle carries the given slot.
func (b *Bundle) Has(slot CameraSlot) bool {
	_, ok := b.tracks[slot]
	return ok
}

// Slots returns the present slots in the bundle's default camera order.
func (b *Bundle) Slots() []CameraSlot {
	order := DefaultOrder(b.Mode())
	out := make([]CameraSlot, 0, len(b.tracks))
	for _, slot := range order {
		if b.Has(slot) {
			out = append(out, slot)
		}
	}
	return out
}

// TrackCount returns how many camera tracks the bundle carries.
func (b *Bundle) TrackCount() int {
	return len(b.tracks)
}

// Mode derives the channel mode from pillar camera presence.
func (b *Bundle) Mode() ChannelMode {
	if b.Has(SlotLeftPillar) || b.Has(SlotRightPillar) {
		return Mode6
	}
	return Mode4
}

// DefaultOrder is the fixed camera ordering per channel mode, used for
// grid cell assignment when no custom layout applies.
func DefaultOrder(mode ChannelMode) []CameraSlot {
	if mode == Mode6 {
		return []CameraSlot{
			SlotFront, SlotRightPillar, SlotLeftPillar,
			SlotBack, SlotRightRepeater, SlotLeftRepeater,
		}
	}
	return []CameraSlot{
		SlotFront, SlotBack, SlotRightRepeater, SlotLeftRepeater,
	}
}

// Sort orders bundles by capture timestamp ascending.
func Sort(bundles []*Bundle) {
	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].ID.String() < bundles[j].ID.String()
	})
}
