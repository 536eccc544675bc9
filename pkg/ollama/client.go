// Package ollama implements a local detection backend over an Ollama server
// running a vision-capable model. It exists for workflows where the image
// must not leave the machine.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/pii-redactor/pkg/client"
	"github.com/menta2k/pii-redactor/pkg/types"
)

// DefaultModel is a vision-capable model small enough for local inference.
const DefaultModel = "llama3.2-vision"

// requestTimeout bounds one attempt; a hung server surfaces as NetworkError
// instead of blocking the retry schedule.
const requestTimeout = 30 * time.Second

// Client wraps the Ollama API client as a detection backend.
type Client struct {
	client     *api.Client
	model      string
	httpClient *http.Client
}

// NewClient creates an Ollama-backed detection client. The URL may include a
// path (e.g. /api/chat); only scheme and host are used.
func NewClient(serverURL, model string) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	httpClient := &http.Client{Timeout: requestTimeout}
	return &Client{
		client:     api.NewClient(baseURL, httpClient),
		model:      model,
		httpClient: httpClient,
	}, nil
}

// Analyze sends one detection request to the local model and parses the
// JSON array out of its reply.
func (c *Client) Analyze(ctx context.Context, req client.Request) ([]types.RawDetection, error) {
	imgBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream: &streamFalse,
		Format: json.RawMessage(`"json"`),
	}

	var responseContent string
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, classifyChatError(err)
	}
	if responseContent == "" {
		return nil, &types.ParseError{Detail: "empty response from ollama"}
	}

	return client.ParseDetections(responseContent)
}

func classifyChatError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return &types.OverloadedError{StatusCode: statusErr.StatusCode, Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &types.ConfigError{Problem: types.CredentialRejected, Err: err}
		}
	}
	return &types.NetworkError{Err: err}
}
