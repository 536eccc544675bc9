// Package client defines the boundary to vision backends and the shared
// parsing of their structured detection responses.
package client

import (
	"context"

	"github.com/menta2k/pii-redactor/pkg/types"
)

// Request carries one prepared image and its instruction to a backend.
type Request struct {
	ImageB64 string
	MIMEType string
	Prompt   string
}

// VisionClient is one detection backend. Analyze performs exactly one
// network round trip and returns the raw entries in response order; it
// mutates no local state.
type VisionClient interface {
	Analyze(ctx context.Context, req Request) ([]types.RawDetection, error)
}
