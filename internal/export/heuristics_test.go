package export

import (
	"math"
	"testing"
)

func TestSnapFrameRate(t *testing.T) {
	tests := []struct {
		measured float64
		want     float64
	}{
		{29.2, 30},
		{35.1, 36},
		{24.9, 24},
		{33.4, 33},
		{31.5, 30}, // ties round toward the earlier candidate
		{0, 0},
		{-5, 0},
	}

	for _, tt := range tests {
		if got := SnapFrameRate(tt.measured, DefaultFrameRateCandidates); got != tt.want {
			t.Errorf("SnapFrameRate(%v) = %v, want %v", tt.measured, got, tt.want)
		}
	}
}

func TestFrameRateForResolution(t *testing.T) {
	if got := FrameRateForResolution(1280, 960, DefaultFrameRateByResolution); got != 36 {
		t.Errorf("1280x960 = %v, want 36", got)
	}
	if got := FrameRateForResolution(640, 480, DefaultFrameRateByResolution); got != DefaultFallbackFrameRate {
		t.Errorf("unknown resolution = %v, want %v", got, DefaultFallbackFrameRate)
	}
}

func TestGridShape(t *testing.T) {
	if c, r := GridShape(4); c != 2 || r != 2 {
		t.Errorf("GridShape(4) = %dx%d, want 2x2", c, r)
	}
	if c, r := GridShape(6); c != 3 || r != 2 {
		t.Errorf("GridShape(6) = %dx%d, want 3x2", c, r)
	}
}

func TestComputeGeometry_SmallestSourceIsCell(t *testing.T) {
	geo, err := ComputeGeometry(4,
		[]int{1448, 1280, 1448, 1448},
		[]int{938, 960, 938, 938},
		MaxCanvasWidth, MaxCanvasHeight)
	if err != nil {
		t.Fatalf("ComputeGeometry() error = %v", err)
	}

	// 1448x938 has fewer pixels than 1280x960.
	if geo.CellWidth != 1448 || geo.CellHeight != 938 {
		t.Errorf("cell = %dx%d, want 1448x938", geo.CellWidth, geo.CellHeight)
	}
	if geo.Scale != 1.0 {
		t.Errorf("scale = %v, want 1.0", geo.Scale)
	}
	if geo.CanvasWidth() != 2896 || geo.CanvasHeight() != 1876 {
		t.Errorf("canvas = %dx%d", geo.CanvasWidth(), geo.CanvasHeight())
	}
}

func TestComputeGeometry_ScalesDownToCeiling(t *testing.T) {
	geo, err := ComputeGeometry(6,
		[]int{2896, 2896, 2896, 2896, 2896, 2896},
		[]int{1876, 1876, 1876, 1876, 1876, 1876},
		MaxCanvasWidth, MaxCanvasHeight)
	if err != nil {
		t.Fatalf("ComputeGeometry() error = %v", err)
	}

	if geo.Scale >= 1.0 {
		t.Fatalf("scale = %v, want < 1", geo.Scale)
	}
	if geo.CanvasWidth() > MaxCanvasWidth || geo.CanvasHeight() > MaxCanvasHeight {
		t.Errorf("canvas %dx%d exceeds ceiling", geo.CanvasWidth(), geo.CanvasHeight())
	}
	if geo.CellWidth%2 != 0 || geo.CellHeight%2 != 0 {
		t.Errorf("cell %dx%d not even", geo.CellWidth, geo.CellHeight)
	}
}

func TestComputeGeometry_InvalidSource(t *testing.T) {
	if _, err := ComputeGeometry(4, []int{0}, []int{938}, MaxCanvasWidth, MaxCanvasHeight); err == nil {
		t.Error("zero width accepted")
	}
	if _, err := ComputeGeometry(4, nil, nil, MaxCanvasWidth, MaxCanvasHeight); err == nil {
		t.Error("empty sources accepted")
	}
}

func TestComputeBitrate(t *testing.T) {
	// 60s clip of 75 MB: 10 Mbps per camera, 40 Mbps for four.
	got := ComputeBitrate(75_000_000, 60, 4, 1.0)
	if got != 40_000_000 {
		t.Errorf("bitrate = %d, want 40000000", got)
	}
}

func TestComputeBitrate_ScaleSquared(t *testing.T) {
	full := ComputeBitrate(75_000_000, 60, 4, 1.0)
	half := ComputeBitrate(75_000_000, 60, 4, 0.5)
	if half != full/4 {
		t.Errorf("half-scale bitrate = %d, want %d", half, full/4)
	}
}

func TestComputeBitrate_FallbackWhenUncomputable(t *testing.T) {
	// Unknown file size: 50 Mbps split across cameras then multiplied
	// back, i.e. the flat fallback.
	got := ComputeBitrate(0, 0, 4, 1.0)
	if got != FallbackBitrate {
		t.Errorf("bitrate = %d, want %d", got, FallbackBitrate)
	}
}

func TestComputeBitrate_Clamped(t *testing.T) {
	if got := ComputeBitrate(1, 3600, 1, 1.0); got != MinBitrate {
		t.Errorf("tiny bitrate = %d, want floor %d", got, MinBitrate)
	}
	if got := ComputeBitrate(10_000_000_000, 1, 6, 1.0); got != MaxBitrate {
		t.Errorf("huge bitrate = %d, want ceiling %d", got, MaxBitrate)
	}
	if got := ComputeBitrate(100, 0.0, 0, 1.0); got != FallbackBitrate {
		t.Errorf("degenerate = %d, want %d", got, FallbackBitrate)
	}
}

func TestBlendProgress(t *testing.T) {
	// 70/30 weighting: 80% time and 50% frames blends to 71.
	if got := BlendProgress(0.8, 0.5); math.Abs(got-71.0) > 1e-9 {
		t.Errorf("BlendProgress(0.8, 0.5) = %v, want 71", got)
	}
	if got := BlendProgress(1.5, -0.2); got != 70 {
		t.Errorf("BlendProgress clamps = %v, want 70", got)
	}
	if got := BlendProgress(1, 1); got != 100 {
		t.Errorf("BlendProgress(1,1) = %v, want 100", got)
	}
}
