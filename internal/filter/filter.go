// Package filter derives composed visual-filter descriptors from user
// toggles. State is swapped whole, never mutated per-field.
package filter

import (
	"fmt"
	"strings"
)

// State holds the visual filter toggles. Percentage fields use 100 as the
// neutral value.
type State struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturate   float64 `json:"saturate"`
	Sharpen    bool    `json:"sharpen"`
	Invert     bool    `json:"invert"`
	Grayscale  bool    `json:"grayscale"`
}

// Default is the neutral preset.
func Default() State {
	return State{Brightness: 100, Contrast: 100, Saturate: 100}
}

// LicensePlateOptimized boosts contrast, drops color and sharpens to make
// plate text legible.
func LicensePlateOptimized() State {
	return State{Brightness: 100, Contrast: 150, Saturate: 0, Sharpen: true, Grayscale: true}
}

// IsLicensePlate reports whether the state matches the plate preset on the
// fields the preset defines.
func (s State) IsLicensePlate() bool {
	p := LicensePlateOptimized()
	return s.Brightness == p.Brightness &&
		s.Contrast == p.Contrast &&
		s.Saturate == p.Saturate &&
		s.Sharpen == p.Sharpen &&
		s.Grayscale == p.Grayscale
}

// TogglePlate swaps between the two named presets: plate mode if the state
// currently matches it flips to default, anything else flips to plate mode.
func (s State) TogglePlate() State {
	if s.IsLicensePlate() {
		return Default()
	}
	return LicensePlateOptimized()
}

// CSSString composes the state into a CSS filter declaration for the
// browser grid. Neutral fields are omitted; "none" means no filtering.
func (s State) CSSString() string {
	var parts []string
	if s.Brightness != 100 {
		parts = append(parts, fmt.Sprintf("brightness(%g%%)", s.Brightness))
	}
	if s.Contrast != 100 {
		parts = append(parts, fmt.Sprintf("contrast(%g%%)", s.Contrast))
	}
	if s.Saturate != 100 {
		parts = append(parts, fmt.Sprintf("saturate(%g%%)", s.Saturate))
	}
	if s.Grayscale {
		parts = append(parts, "grayscale(100%)")
	}
	if s.Invert {
		parts = append(parts, "invert(100%)")
	}
	if s.Sharpen {
		// Sharpen approximation: dark edge shadows plus extra contrast.
		parts = append(parts,
			"drop-shadow(0 0 0.5px rgba(0,0,0,1))",
			"drop-shadow(0 0 0.5px rgba(0,0,0,1))",
			"contrast(110%)")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

// FFmpegChain composes the state into an ffmpeg -vf chain for export-side
// filtering. Empty string means no filtering needed.
func (s State) FFmpegChain() string {
	b := newChainBuilder()
	if s.Brightness != 100 || s.Contrast != 100 || s.Saturate != 100 {
		// eq: brightness is -1..1 around 0, contrast and saturation are
		// multipliers around 1.
		b.add(fmt.Sprintf("eq=brightness=%.3f:contrast=%.3f:saturation=%.3f",
			(s.Brightness-100)/100, s.Contrast/100, s.Saturate/100))
	}
	if s.Grayscale {
		b.add("hue=s=0")
	}
	if s.Invert {
		b.add("negate")
	}
	if s.Sharpen {
		b.add("unsharp=5:5:1.0")
	}
	return b.build()
}

type chainBuilder struct {
	filters []string
}

func newChainBuilder() *chainBuilder {
	return &chainBuilder{}
}

func (b *chainBuilder) add(f string) {
	b.filters = append(b.filters, f)
}

func (b *chainBuilder) build() string {
	return strings.Join(b.filters, ",")
}
