// Package piiredactor provides interactive PII redaction for images.
//
// This package combines a vision-model detection backend with local pixel
// compositing to find sensitive regions in images and burn redaction fills
// over them before the image leaves the machine.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"os"
//
//		piiredactor "github.com/menta2k/pii-redactor"
//		"github.com/menta2k/pii-redactor/pkg/compositor"
//		"github.com/menta2k/pii-redactor/pkg/gemini"
//	)
//
//	func main() {
//		// Initialize the detection backend
//		client, err := gemini.NewClient(os.Getenv("GEMINI_API_KEY"), "", "")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		r := piiredactor.New(client)
//
//		// Stage an image and run detection
//		id, err := r.AddFile("scan.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		if err := r.Analyze(context.Background(), id); err != nil {
//			log.Fatal(err)
//		}
//
//		// Export the redacted artifact
//		out, err := os.Create("redacted-scan.png")
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer out.Close()
//		if err := r.Export(out, id, compositor.DefaultStyle(), "png"); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of five main components:
//
// 1. Processing (pkg/processing): Image ingestion and detection-request preparation
// 2. Detection (pkg/detection): Vision-backend orchestration with retry handling
// 3. Session (pkg/session): Per-image redaction state and selection management
// 4. Compositor (pkg/compositor): Pixel fills and export artifact encoding
// 5. Geometry (pkg/geometry): Normalized-grid math and safety buffers
//
// Detection runs against a downscaled transport copy of each image; exports
// always composite against the original pixels at full resolution.
package piiredactor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/menta2k/pii-redactor/pkg/client"
	"github.com/menta2k/pii-redactor/pkg/compositor"
	"github.com/menta2k/pii-redactor/pkg/detection"
	"github.com/menta2k/pii-redactor/pkg/processing"
	"github.com/menta2k/pii-redactor/pkg/session"
	"github.com/menta2k/pii-redactor/pkg/types"
)

// Version of the PII redactor library
const Version = "1.0.0"

// Redactor provides a high-level interface over ingestion, detection,
// selection state, and export.
type Redactor struct {
	processor  *processing.Processor
	detector   *detection.Detector
	workspace  *session.Workspace
	compositor *compositor.Compositor
	log        *slog.Logger
}

// Option customizes a Redactor.
type Option func(*Redactor)

// WithProcessor replaces the default image processor.
func WithProcessor(p *processing.Processor) Option {
	return func(r *Redactor) { r.processor = p }
}

// WithDetector replaces the default detector built from the vision client.
func WithDetector(d *detection.Detector) Option {
	return func(r *Redactor) { r.detector = d }
}

// WithWorkspace replaces the default workspace.
func WithWorkspace(w *session.Workspace) Option {
	return func(r *Redactor) { r.workspace = w }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Redactor) { r.log = log }
}

// New creates a Redactor backed by the given vision client, with default
// preparation, retry, and workspace settings.
func New(c client.VisionClient, opts ...Option) *Redactor {
	r := &Redactor{
		processor: processing.NewProcessor(),
		workspace: session.NewWorkspace(0),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.detector == nil {
		r.detector = detection.NewDetector(c, detection.WithLogger(r.log))
	}
	if r.compositor == nil {
		r.compositor = compositor.New(r.processor)
	}
	return r
}

// Workspace exposes the underlying session store for selection operations.
func (r *Redactor) Workspace() *session.Workspace {
	return r.workspace
}

// AddFile loads an image from a file path and stages it as a new session.
func (r *Redactor) AddFile(path string) (string, error) {
	img, err := r.processor.LoadImage(path)
	if err != nil {
		return "", err
	}
	ids, err := r.workspace.AddSessions(session.Item{FileName: path, Image: img})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddURL downloads an image and stages it as a new session. This is the
// entry point for images handed over by the browser-extension context menu.
func (r *Redactor) AddURL(imageURL string) (string, error) {
	img, err := r.processor.LoadImageFromURL(imageURL)
	if err != nil {
		return "", err
	}
	ids, err := r.workspace.AddSessions(session.Item{FileName: imageURL, Image: img})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// Add stages an image from either a file path or an http(s) URL.
func (r *Redactor) Add(source string) (string, error) {
	img, err := r.processor.LoadImageSmart(source)
	if err != nil {
		return "", err
	}
	ids, err := r.workspace.AddSessions(session.Item{FileName: source, Image: img})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// Analyze runs one detection pass over a session: the image is downscaled
// and encoded for transport, sent to the vision backend under the retry
// policy, and the returned detections replace the session's list. Results
// arriving for an image that was replaced mid-flight are discarded.
func (r *Redactor) Analyze(ctx context.Context, id string) error {
	// Snapshot and generation token come from one lock hold, so a
	// concurrent image replacement invalidates this token rather than
	// letting old-image detections land on the new image.
	view, gen, err := r.workspace.BeginAnalysis(id)
	if err != nil {
		return &SessionNotFoundError{ID: id}
	}
	if view.Image == nil {
		err := &types.RenderError{FileName: view.FileName, Err: errors.New("source image unavailable")}
		r.workspace.FailAnalysis(id, gen, err)
		return err
	}

	prepared, err := r.processor.PrepareForDetection(view.Image)
	if err != nil {
		r.workspace.FailAnalysis(id, gen, err)
		return err
	}

	detections, err := r.detector.Detect(ctx, prepared)
	if err != nil {
		r.workspace.FailAnalysis(id, gen, err)
		return err
	}

	if !r.workspace.IngestResults(id, gen, detections) {
		r.log.Info("discarded stale analysis", "session", id)
	}
	return nil
}

// AnalyzeAll runs Analyze over every staged session concurrently. A failed
// session records its error and does not disturb its siblings; the first
// error encountered is returned after all sessions finish.
func (r *Redactor) AnalyzeAll(ctx context.Context) error {
	views := r.workspace.Sessions()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, v := range views {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Analyze(ctx, id); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(v.ID)
	}
	wg.Wait()
	return firstErr
}

// Export paints the session's selected detections over its original image
// and writes the encoded artifact to w.
func (r *Redactor) Export(w io.Writer, id string, style compositor.Style, format string) error {
	view, ok := r.workspace.Session(id)
	if !ok {
		return &SessionNotFoundError{ID: id}
	}
	return r.compositor.Export(w, view, style, format)
}

// ExportFile writes the redacted artifact for a session to a file at path.
func (r *Redactor) ExportFile(id, path string, style compositor.Style, format string) error {
	view, ok := r.workspace.Session(id)
	if !ok {
		return &SessionNotFoundError{ID: id}
	}
	return r.compositor.ExportFile(path, view, style, format)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// SessionNotFoundError reports an operation against an unknown session id.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return "no session " + e.ID
}
