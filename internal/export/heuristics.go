package export

import (
	"fmt"
	"math"
)

// Encode parameter heuristics. The frame-rate candidates and the
// resolution-keyed fallback table are fitted to one dashcam hardware
// family; they are defaults, not invariants, and callers may override
// them per device.
var (
	DefaultFrameRateCandidates = []float64{24, 30, 33, 36}

	DefaultFrameRateByResolution = map[string]float64{
		"1280x960":  36,
		"1448x938":  33,
		"2896x1876": 24,
	}
)

const (
	DefaultFallbackFrameRate = 30.0

	// Combined canvas ceiling. Grids larger than this are scaled down
	// uniformly.
	MaxCanvasWidth  = 3840
	MaxCanvasHeight = 2160

	// Bitrate bounds in bits per second. FallbackBitrate is also the
	// substitute when the heuristic result is degenerate.
	FallbackBitrate = 50_000_000
	MinBitrate      = 2_000_000
	MaxBitrate      = 200_000_000
)

// SnapFrameRate picks the candidate nearest to a measured rate. A
// non-positive measurement cannot be snapped and returns 0.
func SnapFrameRate(measured float64, candidates []float64) float64 {
	if measured <= 0 || len(candidates) == 0 {
		return 0
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if math.Abs(measured-c) < math.Abs(measured-best) {
			best = c
		}
	}
	return best
}

// FrameRateForResolution guesses a frame rate from the source resolution
// when measurement fails or times out.
func FrameRateForResolution(width, height int, table map[string]float64) float64 {
	if rate, ok := table[fmt.Sprintf("%dx%d", width, height)]; ok {
		return rate
	}
	return DefaultFallbackFrameRate
}

// Geometry describes the output grid: cell size after any uniform
// scale-down, and the scale factor that was applied.
type Geometry struct {
	Cols       int
	Rows       int
	CellWidth  int
	CellHeight int
	Scale      float64
}

func (g Geometry) CanvasWidth() int  { return g.Cols * g.CellWidth }
func (g Geometry) CanvasHeight() int { return g.Rows * g.CellHeight }

// CellRect returns the pixel origin of the cell at a row-major index.
func (g Geometry) CellOrigin(index int) (x, y int) {
	return (index % g.Cols) * g.CellWidth, (index / g.Cols) * g.CellHeight
}

// GridShape picks the grid arrangement for a camera count.
func GridShape(cameraCount int) (cols, rows int) {
	if cameraCount > 4 {
		return 3, 2
	}
	return 2, 2
}

// ComputeGeometry derives the grid from the per-source resolutions: the
// smallest source becomes the cell size, and the whole grid is scaled
// down uniformly if the canvas would exceed the ceiling.
func ComputeGeometry(cameraCount int, widths, heights []int, maxWidth, maxHeight int) (Geometry, error) {
	if len(widths) == 0 || len(widths) != len(heights) {
		return Geometry{}, fmt.Errorf("no source resolutions")
	}

	cellW, cellH := widths[0], heights[0]
	for i := range widths {
		if widths[i] <= 0 || heights[i] <= 0 {
			return Geometry{}, fmt.Errorf("invalid source resolution %dx%d", widths[i], heights[i])
		}
		if widths[i]*heights[i] < cellW*cellH {
			cellW, cellH = widths[i], heights[i]
		}
	}

	cols, rows := GridShape(cameraCount)

	scale := 1.0
	if w := cols * cellW; w > maxWidth {
		scale = float64(maxWidth) / float64(w)
	}
	if h := rows * cellH; float64(h)*scale > float64(maxHeight) {
		scale = float64(maxHeight) / float64(h)
	}

	if scale < 1.0 {
		cellW = int(float64(cellW) * scale)
		cellH = int(float64(cellH) * scale)
	}

	// Even dimensions keep the encoder's chroma subsampling happy.
	cellW -= cellW % 2
	cellH -= cellH % 2
	if cellW <= 0 || cellH <= 0 {
		return Geometry{}, fmt.Errorf("degenerate cell size after scaling")
	}

	return Geometry{Cols: cols, Rows: rows, CellWidth: cellW, CellHeight: cellH, Scale: scale}, nil
}

// ComputeBitrate derives the target bitrate from the reference source:
// its observed file bitrate, multiplied up by camera count and scaled by
// the square of any resolution scale-down (bitrate tracks pixel count,
// not linear dimension). Degenerate results collapse to a flat fallback.
func ComputeBitrate(refFileSize int64, duration float64, cameraCount int, scale float64) int64 {
	if cameraCount <= 0 {
		return FallbackBitrate
	}

	var perCamera float64
	if refFileSize > 0 && duration > 0 {
		perCamera = float64(refFileSize) * 8 / duration
	} else {
		perCamera = float64(FallbackBitrate) / float64(cameraCount)
	}

	total := perCamera * float64(cameraCount)
	if scale > 0 && scale < 1 {
		total *= scale * scale
	}

	if math.IsNaN(total) || math.IsInf(total, 0) || total <= 0 {
		return FallbackBitrate
	}
	if total < MinBitrate {
		return MinBitrate
	}
	if total > MaxBitrate {
		return MaxBitrate
	}
	return int64(total)
}

// BlendProgress combines the elapsed-time fraction with the
// captured-frame fraction, 70/30. Wall-clock time is the more reliable
// signal; frame counting guards against stalled time metadata. Returns
// a 0..100 percentage.
func BlendProgress(timeFraction, frameFraction float64) float64 {
	clamp := func(f float64) float64 {
		if f < 0 {
			return 0
		}
		if f > 1 {
			return 1
		}
		return f
	}
	return (clamp(timeFraction)*0.7 + clamp(frameFraction)*0.3) * 100
}
