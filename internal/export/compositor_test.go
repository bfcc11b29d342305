package export

import (
	"image"
	"image/color"
	"testing"
)

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestComposite_DrawsCellsRowMajor(t *testing.T) {
	geo := Geometry{Cols: 2, Rows: 2, CellWidth: 40, CellHeight: 30, Scale: 1}
	canvas := image.NewRGBA(image.Rect(0, 0, geo.CanvasWidth(), geo.CanvasHeight()))

	red := color.RGBA{255, 0, 0, 255}
	green := color.RGBA{0, 255, 0, 255}
	cells := []Cell{
		{Frame: solidFrame(40, 30, red), HasData: true},
		{Frame: solidFrame(40, 30, green), HasData: true},
		{HasData: false},
		{HasData: false},
	}

	Composite(canvas, geo, cells)

	if got := canvas.RGBAAt(5, 5); got != red {
		t.Errorf("cell 0 pixel = %v, want red", got)
	}
	if got := canvas.RGBAAt(45, 5); got != green {
		t.Errorf("cell 1 pixel = %v, want green", got)
	}
	// Cells without data stay black.
	if got := canvas.RGBAAt(5, 35); (got != color.RGBA{0, 0, 0, 255}) {
		t.Errorf("cell 2 pixel = %v, want black", got)
	}
}

func TestComposite_LabelBoxDarkensTopRight(t *testing.T) {
	geo := Geometry{Cols: 1, Rows: 1, CellWidth: 400, CellHeight: 300, Scale: 1}
	canvas := image.NewRGBA(image.Rect(0, 0, 400, 300))

	white := color.RGBA{255, 255, 255, 255}
	cells := []Cell{{Frame: solidFrame(400, 300, white), HasData: true, Label: "2024-01-15 14:30:25"}}

	Composite(canvas, geo, cells)

	// Inside the label box the white frame shows through a
	// semi-transparent black overlay.
	probe := canvas.RGBAAt(390-labelMargin, labelMargin+labelPadY+1)
	if probe == white {
		t.Error("label box did not darken the top-right corner")
	}
	// Bottom-left corner is untouched.
	if got := canvas.RGBAAt(5, 295); got != white {
		t.Errorf("bottom-left = %v, want white", got)
	}
}

func TestComposite_StaleCellSkipped(t *testing.T) {
	geo := Geometry{Cols: 2, Rows: 1, CellWidth: 20, CellHeight: 20, Scale: 1}
	canvas := image.NewRGBA(image.Rect(0, 0, 40, 20))

	blue := color.RGBA{0, 0, 255, 255}
	cells := []Cell{
		{Frame: solidFrame(20, 20, blue), HasData: true},
		{Frame: solidFrame(20, 20, blue), HasData: false},
	}

	Composite(canvas, geo, cells)

	if got := canvas.RGBAAt(5, 5); got != blue {
		t.Errorf("live cell = %v, want blue", got)
	}
	if got := canvas.RGBAAt(25, 5); (got != color.RGBA{0, 0, 0, 255}) {
		t.Errorf("stale cell = %v, want black", got)
	}
}
