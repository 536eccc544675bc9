package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/menta2k/pii-redactor/pkg/client"
	"github.com/menta2k/pii-redactor/pkg/types"
)

func testRequest() client.Request {
	return client.Request{
		ImageB64: "aW1hZ2U=",
		MIMEType: "image/jpeg",
		Prompt:   "find PII",
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("test-key", "test-model", srv.URL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return srv, c
}

func candidateResponse(texts ...string) []byte {
	parts := make([]any, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, map[string]any{"text": text})
	}
	resp := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{"parts": parts},
			},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("", "", "")

	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Problem != types.CredentialMissing {
		t.Errorf("problem = %q, want %q", cfgErr.Problem, types.CredentialMissing)
	}
}

func TestAnalyzeParsesDetections(t *testing.T) {
	var gotPath, gotKey string
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		w.Write(candidateResponse(`[{"label":"Face","confidence":0.95,"box_2d":[100,100,200,200]}]`))
	})

	dets, err := c.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(dets) != 1 || dets[0].Label != "Face" {
		t.Errorf("unexpected detections: %+v", dets)
	}
	if gotPath != "/v1beta/models/test-model:generateContent" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
}

func TestAnalyzeJoinsSplitResponseParts(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(candidateResponse(
			`[{"label":"Face","confidence":0.95,"box_2d":[100,100,200,200]},`,
			`{"label":"Email","confidence":0.8,"box_2d":[400,50,430,600]}]`,
		))
	})

	dets, err := c.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(dets) != 2 || dets[0].Label != "Face" || dets[1].Label != "Email" {
		t.Errorf("unexpected detections: %+v", dets)
	}
}

func TestAnalyzeOverloadedStatuses(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte(`{"error":{"message":"try again later"}}`))
		})

		_, err := c.Analyze(context.Background(), testRequest())

		var overErr *types.OverloadedError
		if !errors.As(err, &overErr) {
			t.Errorf("status %d: expected OverloadedError, got %v", code, err)
		} else if overErr.StatusCode != code {
			t.Errorf("status code = %d, want %d", overErr.StatusCode, code)
		}
	}
}

func TestAnalyzeRejectedCredential(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"status":"INVALID_ARGUMENT","message":"API key not valid","details":[{"reason":"API_KEY_INVALID"}]}}`))
	})

	_, err := c.Analyze(context.Background(), testRequest())

	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Problem != types.CredentialRejected {
		t.Errorf("problem = %q, want %q", cfgErr.Problem, types.CredentialRejected)
	}
}

func TestAnalyzeGenericServerError(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := c.Analyze(context.Background(), testRequest())

	var netErr *types.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("expected NetworkError, got %v", err)
	}
}

func TestAnalyzeMalformedCandidates(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := c.Analyze(context.Background(), testRequest())

	var parseErr *types.ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected ParseError, got %v", err)
	}
}

func TestAnalyzeConnectionFailure(t *testing.T) {
	srv, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := c.Analyze(context.Background(), testRequest())

	var netErr *types.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("expected NetworkError, got %v", err)
	}
}
