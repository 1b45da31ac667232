package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
)

// Surface is a pixel-addressable drawing target
type Surface interface {
	Bounds() image.Rectangle
	Set(x, y int, c color.Color)
}

// Raster is an in-memory RGBA surface
type Raster struct {
	img *image.RGBA
}

func NewRaster(w, h int) *Raster {
	return &Raster{img: image.NewRGBA(image.Rect(0, 0, max(w, 0), max(h, 0)))}
}

func (r *Raster) Bounds() image.Rectangle {
	return r.img.Bounds()
}

func (r *Raster) Set(x, y int, c color.Color) {
	r.img.Set(x, y, c)
}

// Fill paints the whole raster with c
func (r *Raster) Fill(c color.Color) {
	draw.Draw(r.img, r.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (r *Raster) Image() *image.RGBA {
	return r.img
}

func (r *Raster) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, r.img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

// PNG returns the encoded frame
func (r *Raster) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
