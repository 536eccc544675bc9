package types

import (
	"errors"
	"fmt"
)

// CredentialProblem narrows a ConfigError to the remediation the user needs.
type CredentialProblem string

const (
	// CredentialMissing means no API key was configured at all.
	CredentialMissing CredentialProblem = "missing"
	// CredentialRejected means the service refused the configured key
	// (revoked, disabled, or leaked and rotated).
	CredentialRejected CredentialProblem = "rejected"
)

// ConfigError reports an unusable credential or configuration. It is fatal
// and never retried.
type ConfigError struct {
	Problem CredentialProblem
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s credential: %v", e.Problem, e.Err)
	}
	return fmt.Sprintf("configuration: %s credential", e.Problem)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DecodeError reports an input that cannot be interpreted as an image. It is
// fatal for that file only and does not affect sibling sessions.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ParseError reports a backend response that failed schema validation.
// Schema violations are not transient, so it is never retried.
type ParseError struct {
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse detection response: %s: %v", e.Detail, e.Err)
	}
	return "parse detection response: " + e.Detail
}

func (e *ParseError) Unwrap() error { return e.Err }

// OverloadedError reports a transient rate-limit or overload signal from the
// detection capability. This is the only error class that is retried.
type OverloadedError struct {
	StatusCode int
	Err        error
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("detection service overloaded (status %d): %v", e.StatusCode, e.Err)
}

func (e *OverloadedError) Unwrap() error { return e.Err }

// NetworkError reports a generic connectivity failure. Unlike overload
// signals it is not proven transient, so it is not retried.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("detection request failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RenderError reports that the source image could not be accessed at export
// time.
type RenderError struct {
	FileName string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.FileName, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// UserMessage maps any pipeline error to a short, actionable message safe to
// show to an end user. Technical detail stays in the logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Problem {
		case CredentialMissing:
			return "No API key is configured. Set your detection API key and try again."
		case CredentialRejected:
			return "The configured API key was rejected. It may be revoked or leaked; generate a new key."
		}
	}

	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return "This file could not be read as an image. Try a different file."
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "The scan returned an unreadable result. Try running the scan again."
	}

	var overErr *OverloadedError
	if errors.As(err, &overErr) {
		return "The detection service is busy right now. Wait a moment and retry."
	}

	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return "The original image could not be loaded for export."
	}

	return "Unable to process image. Please try a different file or check your internet connection."
}
