package filter

import (
	"strings"
	"testing"
)

func TestPresetLiteralValues(t *testing.T) {
	d := Default()
	if d.Brightness != 100 || d.Contrast != 100 || d.Saturate != 100 ||
		d.Sharpen || d.Invert || d.Grayscale {
		t.Errorf("Default preset = %+v", d)
	}

	p := LicensePlateOptimized()
	if p.Brightness != 100 || p.Contrast != 150 || p.Saturate != 0 ||
		!p.Sharpen || p.Invert || !p.Grayscale {
		t.Errorf("LicensePlateOptimized preset = %+v", p)
	}
}

func TestTogglePlate_RoundTrip(t *testing.T) {
	s := Default()

	s = s.TogglePlate()
	if s != LicensePlateOptimized() {
		t.Fatalf("first toggle = %+v, want plate preset", s)
	}

	s = s.TogglePlate()
	if s != Default() {
		t.Fatalf("second toggle = %+v, want default preset", s)
	}
}

func TestTogglePlate_FromCustomState(t *testing.T) {
	s := State{Brightness: 120, Contrast: 100, Saturate: 100}
	if got := s.TogglePlate(); got != LicensePlateOptimized() {
		t.Errorf("toggle from custom state = %+v, want plate preset", got)
	}
}

func TestTogglePlate_Idempotence(t *testing.T) {
	// Toggling twice from either preset reproduces it exactly.
	for _, start := range []State{Default(), LicensePlateOptimized()} {
		if got := start.TogglePlate().TogglePlate(); got != start {
			t.Errorf("double toggle from %+v = %+v", start, got)
		}
	}
}

func TestCSSString(t *testing.T) {
	if got := Default().CSSString(); got != "none" {
		t.Errorf("default CSS = %q, want none", got)
	}

	got := LicensePlateOptimized().CSSString()
	for _, want := range []string{"contrast(150%)", "saturate(0%)", "grayscale(100%)", "drop-shadow", "contrast(110%)"} {
		if !strings.Contains(got, want) {
			t.Errorf("plate CSS %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "brightness") {
		t.Errorf("plate CSS should omit neutral brightness: %q", got)
	}
}

func TestFFmpegChain(t *testing.T) {
	if got := Default().FFmpegChain(); got != "" {
		t.Errorf("default chain = %q, want empty", got)
	}

	got := LicensePlateOptimized().FFmpegChain()
	for _, want := range []string{"eq=brightness=0.000:contrast=1.500:saturation=0.000", "hue=s=0", "unsharp"} {
		if !strings.Contains(got, want) {
			t.Errorf("plate chain %q missing %q", got, want)
		}
	}

	inverted := State{Brightness: 100, Contrast: 100, Saturate: 100, Invert: true}
	if got := inverted.FFmpegChain(); got != "negate" {
		t.Errorf("invert chain = %q, want negate", got)
	}
}
