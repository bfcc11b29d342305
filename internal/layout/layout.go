// Package layout manages the grid arrangement of cameras: built-in
// defaults per channel mode plus a user-defined override persisted in the
// store. Both on-screen display and export compositing consume the same
// cell ordering.
package layout

import (
	"encoding/json"
	"fmt"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
)

// Mode names the grid shape for a channel mode.
type Mode string

const (
	Mode2x2 Mode = "2x2"
	Mode3x2 Mode = "3x2"
)

// ModeFor maps a bundle's channel mode to its grid shape.
func ModeFor(cm bundle.ChannelMode) Mode {
	if cm == bundle.Mode6 {
		return Mode3x2
	}
	return Mode2x2
}

// Dimensions returns (cols, rows) for a mode.
func (m Mode) Dimensions() (int, int) {
	if m == Mode3x2 {
		return 3, 2
	}
	return 2, 2
}

// Valid reports whether the mode is one of the two known shapes.
func (m Mode) Valid() bool {
	return m == Mode2x2 || m == Mode3x2
}

// Position assigns one camera to a grid cell.
type Position struct {
	Row  int               `json:"row"`
	Col  int               `json:"col"`
	Slot bundle.CameraSlot `json:"camera"`
}

// Config is a complete grid layout for one mode.
type Config struct {
	Mode      Mode       `json:"mode"`
	Positions []Position `json:"positions"`
}

// DefaultConfig is the built-in layout for a mode, mirroring the fixed
// default camera ordering.
func DefaultConfig(m Mode) Config {
	if m == Mode3x2 {
		return Config{
			Mode: Mode3x2,
			Positions: []Position{
				{Row: 0, Col: 0, Slot: bundle.SlotLeftPillar},
				{Row: 0, Col: 1, Slot: bundle.SlotFront},
				{Row: 0, Col: 2, Slot: bundle.SlotRightPillar},
				{Row: 1, Col: 0, Slot: bundle.SlotLeftRepeater},
				{Row: 1, Col: 1, Slot: bundle.SlotBack},
				{Row: 1, Col: 2, Slot: bundle.SlotRightRepeater},
			},
		}
	}
	return Config{
		Mode: Mode2x2,
		Positions: []Position{
			{Row: 0, Col: 0, Slot: bundle.SlotFront},
			{Row: 0, Col: 1, Slot: bundle.SlotBack},
			{Row: 1, Col: 0, Slot: bundle.SlotRightRepeater},
			{Row: 1, Col: 1, Slot: bundle.SlotLeftRepeater},
		},
	}
}

// Validate checks cell bounds, duplicate cells and duplicate cameras.
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown layout mode %q", c.Mode)
	}
	cols, rows := c.Mode.Dimensions()
	if len(c.Positions) == 0 || len(c.Positions) > cols*rows {
		return fmt.Errorf("layout has %d positions, want 1..%d", len(c.Positions), cols*rows)
	}

	cells := make(map[[2]int]bool)
	cams := make(map[bundle.CameraSlot]bool)
	for _, p := range c.Positions {
		if p.Row < 0 || p.Row >= rows || p.Col < 0 || p.Col >= cols {
			return fmt.Errorf("position (%d,%d) outside %s grid", p.Row, p.Col, c.Mode)
		}
		key := [2]int{p.Row, p.Col}
		if cells[key] {
			return fmt.Errorf("duplicate cell (%d,%d)", p.Row, p.Col)
		}
		cells[key] = true
		if _, err := bundle.ParseSlot(string(p.Slot)); err != nil {
			return err
		}
		if cams[p.Slot] {
			return fmt.Errorf("camera %s assigned twice", p.Slot)
		}
		cams[p.Slot] = true
	}
	return nil
}

// CellOrder yields the camera visit order in row-major cell order.
func (c Config) CellOrder() []bundle.CameraSlot {
	cols, _ := c.Mode.Dimensions()
	byCell := make(map[int]bundle.CameraSlot, len(c.Positions))
	maxCell := -1
	for _, p := range c.Positions {
		cell := p.Row*cols + p.Col
		byCell[cell] = p.Slot
		if cell > maxCell {
			maxCell = cell
		}
	}
	out := make([]bundle.CameraSlot, 0, len(c.Positions))
	for i := 0; i <= maxCell; i++ {
		if slot, ok := byCell[i]; ok {
			out = append(out, slot)
		}
	}
	return out
}

// Decode parses a stored layout JSON blob for a mode. Absent or corrupt
// state falls back to the built-in default, never errors.
func Decode(raw string, m Mode) Config {
	if raw == "" {
		return DefaultConfig(m)
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return DefaultConfig(m)
	}
	if cfg.Mode != m || cfg.Validate() != nil {
		return DefaultConfig(m)
	}
	return cfg
}

// Encode serializes a layout for storage.
func Encode(c Config) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// OrderFor resolves the cell visit order for a bundle: the custom layout
// if it matches the bundle's channel mode, else the default camera order,
// with cameras absent from the bundle skipped.
func OrderFor(b *bundle.Bundle, custom *Config) []bundle.CameraSlot {
	mode := ModeFor(b.Mode())

	var order []bundle.CameraSlot
	if custom != nil && custom.Mode == mode && custom.Validate() == nil {
		order = custom.CellOrder()
	} else {
		order = bundle.DefaultOrder(b.Mode())
	}

	out := make([]bundle.CameraSlot, 0, len(order))
	for _, slot := range order {
		if b.Has(slot) {
			out = append(out, slot)
		}
	}
	return out
}
