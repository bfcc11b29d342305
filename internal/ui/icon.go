package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// iconBytes is the tray icon: a four-cell grid glyph rendered at init so
// no binary asset needs to ship with the source tree.
var iconBytes = renderIcon()

func renderIcon() []byte {
	const size = 22
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	cell := color.RGBA{R: 235, G: 235, B: 235, A: 255}
	gap := 2
	half := (size - gap) / 2

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			inGapX := x >= half && x < half+gap
			inGapY := y >= half && y < half+gap
			if inGapX || inGapY {
				continue
			}
			img.SetRGBA(x, y, cell)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
