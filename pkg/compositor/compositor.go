// Package compositor paints redaction fills over selected detections and
// serializes the export artifact. Compositing always runs against the
// original image dimensions, never the downscaled detection copy.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/pii-redactor/pkg/geometry"
	"github.com/menta2k/pii-redactor/pkg/processing"
	"github.com/menta2k/pii-redactor/pkg/session"
	"github.com/menta2k/pii-redactor/pkg/types"
)

// Style is the fill appearance for redaction rectangles.
type Style struct {
	Color   color.NRGBA
	Opacity float64
}

// DefaultStyle is an opaque black fill.
func DefaultStyle() Style {
	return Style{
		Color:   color.NRGBA{A: 255},
		Opacity: 1.0,
	}
}

// ParseHexColor parses a #RRGGBB color string.
func ParseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, nil
}

// Compositor renders redacted export artifacts.
type Compositor struct {
	processor *processing.Processor
}

// New creates a compositor using the given processor for encoding.
func New(p *processing.Processor) *Compositor {
	return &Compositor{processor: p}
}

// Redact returns a copy of img with every selected detection's pixel
// rectangle filled with the style color at the style opacity. Fills are
// painted in detection order; overlapping rectangles simply composite in
// that order.
func (c *Compositor) Redact(img image.Image, detections []types.Detection, style Style) *image.NRGBA {
	canvas := imaging.Clone(img)
	w := canvas.Bounds().Dx()
	h := canvas.Bounds().Dy()

	for _, d := range detections {
		if !d.Selected {
			continue
		}
		rect := geometry.BoxToPixelRect(d.Box, w, h)
		fillRect(canvas, rect, style)
	}
	return canvas
}

// Export paints the session's selected detections onto its original image
// and writes the encoded artifact. Output pixel dimensions equal the
// original upload's.
func (c *Compositor) Export(w io.Writer, view session.View, style Style, format string) error {
	if view.Image == nil {
		return &types.RenderError{FileName: view.FileName, Err: fmt.Errorf("source image unavailable")}
	}

	canvas := c.Redact(view.Image, view.Detections, style)
	if err := c.processor.SaveImage(w, canvas, format); err != nil {
		return &types.RenderError{FileName: view.FileName, Err: err}
	}
	return nil
}

// ExportFile is Export writing to a file at path.
func (c *Compositor) ExportFile(path string, view session.View, style Style, format string) error {
	if view.Image == nil {
		return &types.RenderError{FileName: view.FileName, Err: fmt.Errorf("source image unavailable")}
	}

	canvas := c.Redact(view.Image, view.Detections, style)
	if err := c.processor.SaveImageFile(canvas, path, format); err != nil {
		return &types.RenderError{FileName: view.FileName, Err: err}
	}
	return nil
}

// fillRect blends the style color over the rectangle. Opacity 1 overwrites
// the pixels outright.
func fillRect(img *image.NRGBA, rect types.PixelRect, style Style) {
	b := img.Bounds()

	x0 := rect.Left
	y0 := rect.Top
	x1 := rect.Left + rect.Width
	y1 := rect.Top + rect.Height
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > b.Dx() {
		x1 = b.Dx()
	}
	if y1 > b.Dy() {
		y1 = b.Dy()
	}
	if x1 <= x0 || y1 <= y0 {
		return
	}

	a := style.Opacity
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}

	for y := y0; y < y1; y++ {
		i := y*img.Stride + x0*4
		for x := x0; x < x1; x++ {
			if a >= 1 {
				img.Pix[i+0] = style.Color.R
				img.Pix[i+1] = style.Color.G
				img.Pix[i+2] = style.Color.B
				img.Pix[i+3] = 255
			} else {
				img.Pix[i+0] = blend(img.Pix[i+0], style.Color.R, a)
				img.Pix[i+1] = blend(img.Pix[i+1], style.Color.G, a)
				img.Pix[i+2] = blend(img.Pix[i+2], style.Color.B, a)
				img.Pix[i+3] = blend(img.Pix[i+3], 255, a)
			}
			i += 4
		}
	}
}

func blend(dst, src uint8, alpha float64) uint8 {
	return uint8(float64(dst)*(1-alpha) + float64(src)*alpha + 0.5)
}
