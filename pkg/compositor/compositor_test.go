package compositor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/pii-redactor/pkg/processing"
	"github.com/menta2k/pii-redactor/pkg/session"
	"github.com/menta2k/pii-redactor/pkg/types"
)

func solidImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"#000000", color.NRGBA{0, 0, 0, 255}},
		{"#FFFFFF", color.NRGBA{255, 255, 255, 255}},
		{"#ef4444", color.NRGBA{0xef, 0x44, 0x44, 255}},
		{"10b981", color.NRGBA{0x10, 0xb9, 0x81, 255}},
	}
	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if err != nil {
			t.Errorf("ParseHexColor(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHexColor(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "#fff", "#gggggg", "#0000000"} {
		if _, err := ParseHexColor(bad); err == nil {
			t.Errorf("ParseHexColor(%q) accepted invalid input", bad)
		}
	}
}

func TestRedactPaintsOpaqueRectangle(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	black := color.NRGBA{0, 0, 0, 255}
	src := solidImage(1000, 1000, white)

	det := types.Detection{
		ID:       "d1",
		Label:    "Face",
		Box:      types.Box{YMin: 100, XMin: 100, YMax: 200, XMax: 200},
		Selected: true,
	}

	c := New(processing.NewProcessor())
	out := c.Redact(src, []types.Detection{det}, Style{Color: black, Opacity: 1.0})

	if out.Bounds() != src.Bounds() {
		t.Fatalf("output bounds %v differ from source %v", out.Bounds(), src.Bounds())
	}

	// inside the mapped rectangle: opaque fill color
	if got := out.NRGBAAt(150, 150); got != black {
		t.Errorf("pixel inside redaction = %+v, want black", got)
	}
	// outside: untouched source pixels
	for _, pt := range []image.Point{{50, 50}, {300, 150}, {150, 300}, {999, 999}} {
		if got := out.NRGBAAt(pt.X, pt.Y); got != white {
			t.Errorf("pixel at %v = %+v, want untouched white", pt, got)
		}
	}
}

func TestRedactSkipsDeselected(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	src := solidImage(100, 100, white)

	det := types.Detection{
		ID:       "d1",
		Label:    "Email",
		Box:      types.Box{YMin: 0, XMin: 0, YMax: 1000, XMax: 1000},
		Selected: false,
	}

	c := New(processing.NewProcessor())
	out := c.Redact(src, []types.Detection{det}, DefaultStyle())

	if got := out.NRGBAAt(50, 50); got != white {
		t.Errorf("deselected detection was painted: %+v", got)
	}
}

func TestRedactBlendsOpacity(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	src := solidImage(100, 100, white)

	det := types.Detection{
		ID:       "d1",
		Label:    "Name",
		Box:      types.Box{YMin: 0, XMin: 0, YMax: 1000, XMax: 1000},
		Selected: true,
	}

	c := New(processing.NewProcessor())
	out := c.Redact(src, []types.Detection{det}, Style{Color: color.NRGBA{0, 0, 0, 255}, Opacity: 0.5})

	got := out.NRGBAAt(50, 50)
	if got.R < 126 || got.R > 129 {
		t.Errorf("half-opacity blend of white and black = %+v, want ~128 per channel", got)
	}
}

func TestRedactPaintsInDetectionOrder(t *testing.T) {
	src := solidImage(100, 100, color.NRGBA{255, 255, 255, 255})
	red := color.NRGBA{255, 0, 0, 255}
	blue := color.NRGBA{0, 0, 255, 255}

	// both cover the center; the later one must win there
	dets := []types.Detection{
		{ID: "d1", Label: "A", Box: types.Box{YMin: 0, XMin: 0, YMax: 600, XMax: 600}, Selected: true},
		{ID: "d2", Label: "B", Box: types.Box{YMin: 400, XMin: 400, YMax: 1000, XMax: 1000}, Selected: true},
	}

	c := New(processing.NewProcessor())
	out := c.Redact(src, dets[:1], Style{Color: red, Opacity: 1.0})
	out = c.Redact(out, dets[1:], Style{Color: blue, Opacity: 1.0})

	if got := out.NRGBAAt(50, 50); got != blue {
		t.Errorf("overlap pixel = %+v, want later fill %+v", got, blue)
	}
	if got := out.NRGBAAt(10, 10); got != red {
		t.Errorf("first-only pixel = %+v, want %+v", got, red)
	}
}

func TestExportEndToEnd(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	black := color.NRGBA{0, 0, 0, 255}

	view := session.View{
		ID:       "s1",
		FileName: "scan.png",
		Image:    solidImage(200, 100, white),
		Detections: []types.Detection{{
			ID:       "d1",
			Label:    "Face",
			Box:      types.Box{YMin: 100, XMin: 100, YMax: 200, XMax: 200},
			Selected: true,
		}},
	}

	c := New(processing.NewProcessor())
	var buf bytes.Buffer
	if err := c.Export(&buf, view, Style{Color: black, Opacity: 1.0}, "png"); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("export is not valid PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 200 || decoded.Bounds().Dy() != 100 {
		t.Errorf("export dimensions %v, want 200x100 (original, not detection copy)", decoded.Bounds())
	}

	// box [100,100,200,200] on a 200x100 image maps to x 20..40, y 10..20
	nrgba, ok := decoded.(*image.NRGBA)
	if !ok {
		converted := image.NewNRGBA(decoded.Bounds())
		for y := 0; y < 100; y++ {
			for x := 0; x < 200; x++ {
				converted.Set(x, y, decoded.At(x, y))
			}
		}
		nrgba = converted
	}
	if got := nrgba.NRGBAAt(30, 15); got != black {
		t.Errorf("redacted pixel = %+v, want opaque black", got)
	}
	if got := nrgba.NRGBAAt(100, 50); got != white {
		t.Errorf("untouched pixel = %+v, want white", got)
	}
}

func TestExportFileWritesArtifact(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	black := color.NRGBA{0, 0, 0, 255}

	view := session.View{
		ID:       "s1",
		FileName: "scan.png",
		Image:    solidImage(100, 100, white),
		Detections: []types.Detection{{
			ID:       "d1",
			Label:    "Face",
			Box:      types.Box{YMin: 0, XMin: 0, YMax: 1000, XMax: 1000},
			Selected: true,
		}},
	}

	c := New(processing.NewProcessor())
	path := filepath.Join(t.TempDir(), "redacted-scan.png")
	if err := c.ExportFile(path, view, Style{Color: black, Opacity: 1.0}, "png"); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("artifact is not valid PNG: %v", err)
	}
	r, g, b, _ := decoded.At(50, 50).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Errorf("center pixel = (%d,%d,%d), want opaque black", r>>8, g>>8, b>>8)
	}
}

func TestExportFileUnwritablePath(t *testing.T) {
	c := New(processing.NewProcessor())

	view := session.View{
		ID:    "s1",
		Image: solidImage(10, 10, color.NRGBA{255, 255, 255, 255}),
	}
	err := c.ExportFile(filepath.Join(t.TempDir(), "missing-dir", "out.png"), view, DefaultStyle(), "png")

	var renderErr *types.RenderError
	if !errors.As(err, &renderErr) {
		t.Errorf("expected RenderError, got %v", err)
	}
}

func TestExportMissingImage(t *testing.T) {
	c := New(processing.NewProcessor())

	var buf bytes.Buffer
	err := c.Export(&buf, session.View{ID: "s1", FileName: "gone.png"}, DefaultStyle(), "png")

	var renderErr *types.RenderError
	if !errors.As(err, &renderErr) {
		t.Errorf("expected RenderError, got %v", err)
	}
}
