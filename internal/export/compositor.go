package export

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Cell is one grid position's input to a composite pass. Frame may be a
// stale image from an earlier pass; HasData marks whether the source had
// fresh decodable content this tick.
type Cell struct {
	Frame   *image.RGBA
	HasData bool
	Label   string
}

const (
	labelPadX   = 6
	labelPadY   = 4
	labelMargin = 8
)

var (
	labelFace       = basicfont.Face7x13
	labelBackground = color.RGBA{0, 0, 0, 150}
)

// Composite renders one output frame: black canvas, each cell with data
// drawn row-major at its grid position, then a semi-transparent
// timestamp box anchored to the cell's top-right corner.
func Composite(canvas *image.RGBA, geo Geometry, cells []Cell) {
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	for i, cell := range cells {
		if !cell.HasData || cell.Frame == nil {
			continue
		}

		x, y := geo.CellOrigin(i)
		rect := image.Rect(x, y, x+geo.CellWidth, y+geo.CellHeight)
		draw.Draw(canvas, rect, cell.Frame, cell.Frame.Bounds().Min, draw.Src)

		if cell.Label != "" {
			drawLabel(canvas, rect, cell.Label)
		}
	}
}

func drawLabel(canvas *image.RGBA, cell image.Rectangle, label string) {
	textWidth := font.MeasureString(labelFace, label).Ceil()
	boxW := textWidth + 2*labelPadX
	boxH := labelFace.Metrics().Height.Ceil() + 2*labelPadY

	box := image.Rect(
		cell.Max.X-labelMargin-boxW,
		cell.Min.Y+labelMargin,
		cell.Max.X-labelMargin,
		cell.Min.Y+labelMargin+boxH,
	)
	if box.Min.X < cell.Min.X {
		box.Min.X = cell.Min.X
	}
	draw.Draw(canvas, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	drawer := font.Drawer{
		Dst:  canvas,
		Src:  image.White,
		Face: labelFace,
		Dot: fixed.Point26_6{
			X: fixed.I(box.Min.X + labelPadX),
			Y: fixed.I(box.Min.Y + labelPadY + labelFace.Metrics().Ascent.Ceil()),
		},
	}
	drawer.DrawString(label)
}
