// Package detection orchestrates one analysis pass: it sends a prepared
// image to a vision backend under the retry policy and post-processes the
// returned regions into ready-to-redact detections.
package detection

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/menta2k/pii-redactor/pkg/client"
	"github.com/menta2k/pii-redactor/pkg/geometry"
	"github.com/menta2k/pii-redactor/pkg/processing"
	"github.com/menta2k/pii-redactor/pkg/resilience"
	"github.com/menta2k/pii-redactor/pkg/types"
)

// Detector wraps a vision backend with retry handling and detection
// post-processing. It holds no per-request state; callers own merging
// results into their session store.
type Detector struct {
	client client.VisionClient
	exec   *resilience.Executor
	buffer float64
	log    *slog.Logger
}

// Option customizes a Detector.
type Option func(*Detector)

// WithBufferFraction overrides the default 1.5% safety buffer.
func WithBufferFraction(fraction float64) Option {
	return func(d *Detector) { d.buffer = fraction }
}

// WithExecutor replaces the default retry executor.
func WithExecutor(exec *resilience.Executor) Option {
	return func(d *Detector) { d.exec = exec }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Detector) { d.log = log }
}

// NewDetector creates a detector backed by the given vision client.
func NewDetector(c client.VisionClient, opts ...Option) *Detector {
	d := &Detector{
		client: c,
		exec:   resilience.NewExecutor(resilience.DefaultConfig()),
		buffer: geometry.DefaultBufferFraction,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect runs one analysis pass over a prepared image. Per returned entry,
// in order: safety buffer, fresh id, selected by default. Entry order
// follows the response.
func (d *Detector) Detect(ctx context.Context, prepared processing.Prepared) ([]types.Detection, error) {
	req := client.Request{
		ImageB64: prepared.Base64,
		MIMEType: "image/jpeg",
		Prompt:   PIIPrompt,
	}

	var raw []types.RawDetection
	err := d.exec.Execute(ctx, "detect_pii", func(ctx context.Context) error {
		entries, err := d.client.Analyze(ctx, req)
		if err != nil {
			return err
		}
		raw = entries
		return nil
	}, classifyDetectionError)
	if err != nil {
		d.log.Error("detection failed", "error", err)
		return nil, err
	}

	detections := make([]types.Detection, 0, len(raw))
	for _, r := range raw {
		detections = append(detections, types.Detection{
			ID:         uuid.NewString(),
			Label:      r.Label,
			Confidence: r.Confidence,
			Box:        geometry.ApplySafetyBuffer(types.BoxFromArray(r.Box2D), d.buffer),
			Selected:   true,
		})
	}

	d.log.Info("detection complete", "regions", len(detections))
	return detections, nil
}

// classifyDetectionError treats only explicit overload signals as transient.
// Parse and configuration failures are structural; generic network failures
// are not proven transient and fail fast as well.
func classifyDetectionError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var overloaded *types.OverloadedError
	if errors.As(err, &overloaded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var cfgErr *types.ConfigError
	if errors.As(err, &cfgErr) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
