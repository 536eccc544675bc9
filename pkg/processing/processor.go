// Package processing handles image ingestion and transport preparation:
// decoding from files, URLs, or raw bytes, bounding the image for the
// detection request, and encoding export artifacts.
package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/pii-redactor/pkg/types"
)

// Config holds tunables for detection-request preparation.
type Config struct {
	// MaxDimension bounds the long side of the image sent for detection.
	// The export path always composites against the original image.
	MaxDimension int
	// JPEGQuality is the lossy quality used for the transport copy only.
	JPEGQuality int
}

// DefaultConfig returns the standard preparation settings.
func DefaultConfig() Config {
	return Config{
		MaxDimension: 1024,
		JPEGQuality:  85,
	}
}

// Processor handles image decode, preparation, and encode operations.
type Processor struct {
	config Config
}

// NewProcessor creates a processor with default configuration.
func NewProcessor() *Processor {
	return &Processor{config: DefaultConfig()}
}

// NewProcessorWithConfig creates a processor with custom configuration.
func NewProcessorWithConfig(config Config) *Processor {
	if config.MaxDimension <= 0 {
		config.MaxDimension = 1024
	}
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = 85
	}
	return &Processor{config: config}
}

// LoadImage loads an image from a file path with WebP support.
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode, then a plain decode retry
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.DecodeError{Source: path, Err: err}
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, &types.DecodeError{Source: path, Err: image.ErrFormat}
}

// LoadImageFromURL downloads and decodes an image from a URL. This is the
// ingestion path for images staged by the browser-extension context menu.
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, &types.DecodeError{Source: imageURL, Err: err}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, &types.DecodeError{
			Source: imageURL,
			Err:    fmt.Errorf("unsupported URL scheme %q (only http and https are supported)", parsedURL.Scheme),
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, &types.DecodeError{Source: imageURL, Err: err}
	}
	req.Header.Set("User-Agent", "PII-Redactor/1.0 (+https://github.com/menta2k/pii-redactor)")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &types.DecodeError{Source: imageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.DecodeError{
			Source: imageURL,
			Err:    fmt.Errorf("download failed: HTTP %d %s", resp.StatusCode, resp.Status),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &types.DecodeError{
			Source: imageURL,
			Err:    fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.DecodeError{Source: imageURL, Err: err}
	}

	return p.DecodeBytes(data, imageURL)
}

// LoadImageSmart loads an image from either a file path or a URL.
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// DecodeBytes decodes an image from raw bytes with WebP support. The source
// name is carried into error reports only.
func (p *Processor) DecodeBytes(data []byte, source string) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, &types.DecodeError{Source: source, Err: image.ErrFormat}
}

// Prepared is the transport copy of an image: downscaled, re-encoded as
// JPEG, and carrying the original dimensions for later pixel mapping.
type Prepared struct {
	JPEG           []byte
	Base64         string
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
}

// PrepareForDetection downscales img to at most MaxDimension on its long
// side (never upscaling), preserving aspect ratio, and encodes it as a JPEG
// suitable for a detection request payload.
func (p *Processor) PrepareForDetection(img image.Image) (Prepared, error) {
	b := img.Bounds()
	ow, oh := b.Dx(), b.Dy()

	scaled := img
	maxDim := p.config.MaxDimension
	if ow > maxDim || oh > maxDim {
		if ow >= oh {
			scaled = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
		} else {
			scaled = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: p.config.JPEGQuality}); err != nil {
		return Prepared{}, fmt.Errorf("encode detection payload: %w", err)
	}

	sb := scaled.Bounds()
	return Prepared{
		JPEG:           buf.Bytes(),
		Base64:         base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:          sb.Dx(),
		Height:         sb.Dy(),
		OriginalWidth:  ow,
		OriginalHeight: oh,
	}, nil
}

// SaveImage writes img to w in the given format. PNG and lossless WebP keep
// redaction mask edges exact; JPEG is available for previews.
func (p *Processor) SaveImage(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: true})
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: p.config.JPEGQuality})
	case "", "png":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// SaveImageFile writes img to a file at path in the given format.
func (p *Processor) SaveImageFile(img image.Image, path, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	return p.SaveImage(f, img, format)
}
