// Package geometry implements normalized-box arithmetic on the 0-1000
// coordinate grid used by the detection capability.
package geometry

import (
	"github.com/menta2k/pii-redactor/pkg/types"
)

// GridMax is the upper bound of the normalized coordinate grid.
const GridMax = 1000.0

// DefaultBufferFraction is the default outward pad applied to detection
// boxes. Model boxes tend to be tight against glyph and feature edges; a
// small pad avoids leaving a sliver of PII visible at the redaction edge.
const DefaultBufferFraction = 0.015

// ApplySafetyBuffer expands box outward by fraction of its own height/width
// on each of the four sides, then clamps all coordinates to [0, GridMax].
// It is a pure function.
func ApplySafetyBuffer(box types.Box, fraction float64) types.Box {
	h := box.Height()
	w := box.Width()

	return types.Box{
		YMin: clamp(box.YMin-h*fraction, 0, GridMax),
		XMin: clamp(box.XMin-w*fraction, 0, GridMax),
		YMax: clamp(box.YMax+h*fraction, 0, GridMax),
		XMax: clamp(box.XMax+w*fraction, 0, GridMax),
	}
}

// BoxToPixelRect converts a normalized box to a pixel-space rectangle by
// scaling each coordinate by dimension/GridMax. Degenerate boxes yield a
// zero-area rectangle rather than an error.
func BoxToPixelRect(box types.Box, imageWidth, imageHeight int) types.PixelRect {
	fw := float64(imageWidth)
	fh := float64(imageHeight)

	left := box.XMin / GridMax * fw
	top := box.YMin / GridMax * fh
	right := box.XMax / GridMax * fw
	bottom := box.YMax / GridMax * fh

	return types.PixelRect{
		Left:   int(left + 0.5),
		Top:    int(top + 0.5),
		Width:  int(right+0.5) - int(left+0.5),
		Height: int(bottom+0.5) - int(top+0.5),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
