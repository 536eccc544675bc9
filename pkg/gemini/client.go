// Package gemini implements the hosted detection backend against the
// Gemini generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/pii-redactor/pkg/client"
	"github.com/menta2k/pii-redactor/pkg/types"
)

const (
	// DefaultBaseURL is the hosted generative language endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	// DefaultModel favors fast inference for interactive redaction.
	DefaultModel = "gemini-2.5-flash"

	requestTimeout = 30 * time.Second
)

// Client calls the hosted vision capability. It satisfies
// client.VisionClient: one network round trip per Analyze call, no local
// state mutation.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a hosted detection client. A missing API key is a
// configuration error; it is reported immediately rather than on first use
// so the caller can surface the remediation before any upload happens.
func NewClient(apiKey, model, baseURL string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &types.ConfigError{Problem: types.CredentialMissing}
	}
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// detectionSchema constrains the response to the detection array shape.
var detectionSchema = json.RawMessage(`{
	"type": "ARRAY",
	"items": {
		"type": "OBJECT",
		"properties": {
			"label": {"type": "STRING"},
			"confidence": {"type": "NUMBER"},
			"box_2d": {"type": "ARRAY", "items": {"type": "NUMBER"}, "minItems": 4, "maxItems": 4}
		},
		"required": ["label", "confidence", "box_2d"]
	}
}`)

// Analyze sends one detection request and parses the structured response.
func (c *Client) Analyze(ctx context.Context, req client.Request) ([]types.RawDetection, error) {
	payload := generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MIMEType: req.MIMEType, Data: req.ImageB64}},
				{Text: req.Prompt},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   detectionSchema,
			ThinkingConfig:   &thinkingConfig{ThinkingBudget: 0},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal detection request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create detection request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &types.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &types.NetworkError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, resp.Status, respBody)
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, &types.ParseError{Detail: "invalid response envelope", Err: err}
	}
	if len(gen.Candidates) == 0 || len(gen.Candidates[0].Content.Parts) == 0 {
		return nil, &types.ParseError{Detail: "no candidates in response"}
	}

	// Long arrays can arrive split across parts; the detection JSON is the
	// concatenation of all of them.
	var sb strings.Builder
	for _, p := range gen.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if text == "" {
		return nil, &types.ParseError{Detail: "empty response text"}
	}

	return client.ParseDetections(text)
}

// classifyHTTPError maps a non-OK status to the error taxonomy. Only
// explicit overload signals become retryable; credential rejections carry
// their own remediation class.
func classifyHTTPError(code int, status string, body []byte) error {
	detail := strings.TrimSpace(string(body))
	cause := fmt.Errorf("%s: %s", status, detail)

	switch {
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		return &types.OverloadedError{StatusCode: code, Err: cause}
	case strings.Contains(detail, "RESOURCE_EXHAUSTED") || strings.Contains(strings.ToLower(detail), "overloaded"):
		return &types.OverloadedError{StatusCode: code, Err: cause}
	case code == http.StatusBadRequest && strings.Contains(detail, "API_KEY_INVALID"),
		code == http.StatusUnauthorized,
		code == http.StatusForbidden:
		return &types.ConfigError{Problem: types.CredentialRejected, Err: cause}
	default:
		return &types.NetworkError{Err: cause}
	}
}
