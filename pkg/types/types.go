package types

// Box is a normalized bounding rectangle on the fixed 0-1000 grid used by the
// detection capability. Coordinates are [ymin, xmin, ymax, xmax] on the wire
// and independent of the source image's pixel dimensions.
type Box struct {
	YMin float64 `json:"ymin"`
	XMin float64 `json:"xmin"`
	YMax float64 `json:"ymax"`
	XMax float64 `json:"xmax"`
}

// BoxFromArray builds a Box from the wire-format [ymin, xmin, ymax, xmax]
// quadruple. Inverted coordinate pairs are reordered.
func BoxFromArray(a [4]float64) Box {
	ymin, ymax := a[0], a[2]
	if ymin > ymax {
		ymin, ymax = ymax, ymin
	}
	xmin, xmax := a[1], a[3]
	if xmin > xmax {
		xmin, xmax = xmax, xmin
	}
	return Box{YMin: ymin, XMin: xmin, YMax: ymax, XMax: xmax}
}

// Array returns the box in wire order [ymin, xmin, ymax, xmax].
func (b Box) Array() [4]float64 {
	return [4]float64{b.YMin, b.XMin, b.YMax, b.XMax}
}

// Width returns the normalized width of the box.
func (b Box) Width() float64 {
	return b.XMax - b.XMin
}

// Height returns the normalized height of the box.
func (b Box) Height() float64 {
	return b.YMax - b.YMin
}

// Contains reports whether other lies entirely inside b.
func (b Box) Contains(other Box) bool {
	return b.YMin <= other.YMin && b.XMin <= other.XMin &&
		b.YMax >= other.YMax && b.XMax >= other.XMax
}

// PixelRect is a rectangle in image pixel space.
type PixelRect struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// RawDetection is one entry as returned by a vision backend, before any
// post-processing.
type RawDetection struct {
	Label      string
	Confidence float64
	Box2D      [4]float64
}

// Detection is one identified PII region after ingestion: safety-buffered,
// locally identified, and opted in for redaction by default.
//
// Label is an open string set ("Face", "Email", "ID Number", ...); the remote
// model may emit categories that did not exist when this code was written, so
// it is never treated as an enum. Confidence is informational only.
type Detection struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Selected   bool    `json:"selected"`
}
