package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/menta2k/pii-redactor/pkg/client"
	"github.com/menta2k/pii-redactor/pkg/processing"
	"github.com/menta2k/pii-redactor/pkg/resilience"
	"github.com/menta2k/pii-redactor/pkg/types"
)

// fakeClient scripts one response or error per call.
type fakeClient struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	entries []types.RawDetection
	err     error
}

func (f *fakeClient) Analyze(_ context.Context, _ client.Request) ([]types.RawDetection, error) {
	resp := f.responses[len(f.responses)-1]
	if f.calls < len(f.responses) {
		resp = f.responses[f.calls]
	}
	f.calls++
	return resp.entries, resp.err
}

func instantExecutor() (*resilience.Executor, *[]time.Duration) {
	exec := resilience.NewExecutor(resilience.DefaultConfig())
	var waits []time.Duration
	exec.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})
	return exec, &waits
}

func testPrepared() processing.Prepared {
	return processing.Prepared{
		Base64:         "aW1hZ2U=",
		Width:          1024,
		Height:         768,
		OriginalWidth:  2048,
		OriginalHeight: 1536,
	}
}

func TestDetectPostProcessing(t *testing.T) {
	fc := &fakeClient{responses: []fakeResponse{{
		entries: []types.RawDetection{
			{Label: "Face", Confidence: 0.95, Box2D: [4]float64{100, 100, 200, 200}},
			{Label: "Email", Confidence: 0.80, Box2D: [4]float64{400, 50, 430, 600}},
		},
	}}}
	exec, _ := instantExecutor()
	d := NewDetector(fc, WithExecutor(exec))

	dets, err := d.Detect(context.Background(), testPrepared())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2", len(dets))
	}

	// response order preserved
	if dets[0].Label != "Face" || dets[1].Label != "Email" {
		t.Errorf("order not preserved: %q, %q", dets[0].Label, dets[1].Label)
	}

	seen := map[string]bool{}
	for i, det := range dets {
		if det.ID == "" {
			t.Errorf("detection %d has empty id", i)
		}
		if seen[det.ID] {
			t.Errorf("duplicate id %q", det.ID)
		}
		seen[det.ID] = true
		if !det.Selected {
			t.Errorf("detection %d not selected by default", i)
		}
	}

	// the buffered box strictly contains the raw one
	raw := types.BoxFromArray([4]float64{100, 100, 200, 200})
	if !dets[0].Box.Contains(raw) || dets[0].Box == raw {
		t.Errorf("buffered box %+v does not strictly contain raw %+v", dets[0].Box, raw)
	}
}

func TestDetectRetriesOverloadThenSucceeds(t *testing.T) {
	overload := &types.OverloadedError{StatusCode: 429, Err: errors.New("rate limited")}
	fc := &fakeClient{responses: []fakeResponse{
		{err: overload},
		{err: overload},
		{entries: []types.RawDetection{{Label: "Name", Confidence: 0.9, Box2D: [4]float64{10, 10, 20, 20}}}},
	}}
	exec, waits := instantExecutor()
	d := NewDetector(fc, WithExecutor(exec))

	dets, err := d.Detect(context.Background(), testPrepared())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	if fc.calls != 3 {
		t.Errorf("calls = %d, want 3", fc.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*waits) != 2 || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
		t.Errorf("backoff schedule = %v, want %v", *waits, want)
	}
}

func TestDetectRetryExhaustion(t *testing.T) {
	overload := &types.OverloadedError{StatusCode: 503, Err: errors.New("model overloaded")}
	fc := &fakeClient{responses: []fakeResponse{{err: overload}}}
	exec, _ := instantExecutor()
	d := NewDetector(fc, WithExecutor(exec))

	_, err := d.Detect(context.Background(), testPrepared())

	var overErr *types.OverloadedError
	if !errors.As(err, &overErr) {
		t.Fatalf("expected final OverloadedError, got %v", err)
	}
	if fc.calls != 3 {
		t.Errorf("calls = %d, want exactly 3", fc.calls)
	}
}

func TestDetectDoesNotRetryNonTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"parse error", &types.ParseError{Detail: "box_2d has 3 elements, want 4"}},
		{"config error", &types.ConfigError{Problem: types.CredentialMissing}},
		{"network error", &types.NetworkError{Err: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClient{responses: []fakeResponse{{err: tt.err}}}
			exec, waits := instantExecutor()
			d := NewDetector(fc, WithExecutor(exec))

			_, err := d.Detect(context.Background(), testPrepared())
			if err == nil {
				t.Fatal("expected error")
			}
			if fc.calls != 1 {
				t.Errorf("calls = %d, want 1", fc.calls)
			}
			if len(*waits) != 0 {
				t.Errorf("unexpected backoff waits: %v", *waits)
			}
		})
	}
}

func TestDetectEmptyResult(t *testing.T) {
	fc := &fakeClient{responses: []fakeResponse{{entries: []types.RawDetection{}}}}
	exec, _ := instantExecutor()
	d := NewDetector(fc, WithExecutor(exec))

	dets, err := d.Detect(context.Background(), testPrepared())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("got %d detections, want 0", len(dets))
	}
}
