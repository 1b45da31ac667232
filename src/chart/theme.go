package chart

import "image/color"

// Theme holds the colours and padding used by Render
type Theme struct {
	Background color.RGBA
	Grid       color.RGBA
	Up         color.RGBA
	Down       color.RGBA
	Line       color.RGBA
	// Padding is the inset in pixels between the surface edge and the
	// drawable area
	Padding int
}

var DefaultTheme = Theme{
	Background: color.RGBA{R: 0x13, G: 0x17, B: 0x22, A: 0xff},
	Grid:       color.RGBA{R: 0x2a, G: 0x2e, B: 0x39, A: 0xff},
	Up:         color.RGBA{R: 0x26, G: 0xa6, B: 0x9a, A: 0xff},
	Down:       color.RGBA{R: 0xef, G: 0x53, B: 0x50, A: 0xff},
	Line:       color.RGBA{R: 0x29, G: 0x62, B: 0xff, A: 0xff},
	Padding:    8,
}
