package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"report-service/cache"
	"report-service/models"
)

func newTestClient(endpoint string, verdicts *cache.VerdictCache) *Client {
	return NewClient(Config{
		Endpoint:   endpoint,
		APIKey:     "test-key",
		Model:      "waste-detector-2",
		WasteClass: "waste",
		Timeout:    2 * time.Second,
	}, verdicts)
}

func predictionsBody(dets ...string) string {
	out := "["
	for i, d := range dets {
		if i > 0 {
			out += ","
		}
		out += d
	}
	return `{"predictions":` + out + `]}`
}

func TestClassifyFlatShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("missing api key header, got %q", got)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("expected multipart body: %v", err)
		}
		if r.FormValue("size") != "640" {
			t.Errorf("missing inference size, got %q", r.FormValue("size"))
		}
		fmt.Fprint(w, predictionsBody(
			`{"class":"waste","confidence":0.91}`,
			`{"class":"person","confidence":0.99}`,
			`{"class":"waste","confidence":0.42}`,
		))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	v, err := c.Classify(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsWaste || v.Confidence != 0.91 {
		t.Errorf("unexpected verdict: %+v", v)
	}
	if v.Tier != models.TierHigh || !v.IsVerifiedWaste() {
		t.Errorf("expected high tier verified waste, got %+v", v)
	}
}

func TestClassifyNestedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"predictions":[{"class":"waste","confidence":0.7}]}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	v, err := c.Classify(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsWaste || v.Confidence != 0.7 || v.Tier != models.TierMedium {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

func TestClassifyNoDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"predictions":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	v, err := c.Classify(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.IsWaste || v.Confidence != 0 || v.Tier != models.TierUnverified {
		t.Errorf("expected empty verdict, got %+v", v)
	}
}

func TestVerdictTierBoundaries(t *testing.T) {
	c := newTestClient("http://unused", nil)
	cases := []struct {
		confidence float64
		isWaste    bool
		tier       models.ConfidenceTier
		verified   bool
	}{
		{0.0, false, models.TierUnverified, false},
		{0.24, false, models.TierUnverified, false},
		{0.25, true, models.TierUnverified, false},
		{0.64, true, models.TierUnverified, false},
		{0.65, true, models.TierMedium, false},
		{0.84, true, models.TierMedium, false},
		{0.85, true, models.TierHigh, true},
		{1.0, true, models.TierHigh, true},
	}
	for _, tc := range cases {
		v := c.verdictFrom([]detection{{Class: "waste", Confidence: tc.confidence}})
		if v.IsWaste != tc.isWaste {
			t.Errorf("confidence %f: isWaste = %v, want %v", tc.confidence, v.IsWaste, tc.isWaste)
		}
		if v.Tier != tc.tier {
			t.Errorf("confidence %f: tier = %s, want %s", tc.confidence, v.Tier, tc.tier)
		}
		if v.IsVerifiedWaste() != tc.verified {
			t.Errorf("confidence %f: verified = %v, want %v", tc.confidence, v.IsVerifiedWaste(), tc.verified)
		}
	}
}

func TestNonWasteClassesIgnored(t *testing.T) {
	c := newTestClient("http://unused", nil)
	v := c.verdictFrom([]detection{
		{Class: "person", Confidence: 0.99},
		{Class: "car", Confidence: 0.97},
	})
	if v.IsWaste || v.Confidence != 0 {
		t.Errorf("non-waste detections must not count, got %+v", v)
	}
}

func TestClassifyCachesVerdict(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, `{"predictions":[{"class":"waste","confidence":0.9}]}`)
	}))
	defer srv.Close()

	verdicts := cache.New(5 * time.Minute)
	defer verdicts.Stop()
	c := newTestClient(srv.URL, verdicts)

	img := []byte("same-bytes")
	for i := 0; i < 3; i++ {
		v, err := c.Classify(context.Background(), img)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Confidence != 0.9 {
			t.Errorf("unexpected verdict on call %d: %+v", i, v)
		}
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", n)
	}
}

func TestClassifyFreshCallAfterExpiry(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, `{"predictions":[{"class":"waste","confidence":0.9}]}`)
	}))
	defer srv.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	verdicts := cache.New(5*time.Minute, cache.WithClock(func() time.Time { return now }))
	defer verdicts.Stop()
	c := newTestClient(srv.URL, verdicts)

	img := []byte("same-bytes")
	if _, err := c.Classify(context.Background(), img); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now = now.Add(6 * time.Minute)
	if _, err := c.Classify(context.Background(), img); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Errorf("expected a fresh call after TTL expiry, got %d calls", n)
	}
}

func TestClassifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, `{"predictions":[]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{
		Endpoint: srv.URL,
		Model:    "waste-detector-2",
		Timeout:  50 * time.Millisecond,
	}, nil)

	_, err := c.Classify(context.Background(), []byte("img"))
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindTimeout {
		t.Fatalf("expected SERVICE_TIMEOUT, got %v", err)
	}
}

func TestClassifyServiceDown(t *testing.T) {
	// A closed server refuses connections immediately.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(url, nil)
	_, err := c.Classify(context.Background(), []byte("img"))
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindDown {
		t.Fatalf("expected SERVICE_DOWN, got %v", err)
	}
}

func TestClassifyUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	_, err := c.Classify(context.Background(), []byte("img"))
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindError {
		t.Fatalf("expected SERVICE_ERROR, got %v", err)
	}
	if se.StatusCode != http.StatusBadGateway {
		t.Errorf("expected upstream status preserved, got %d", se.StatusCode)
	}
}

func TestClassifyMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json at all")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	_, err := c.Classify(context.Background(), []byte("img"))
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindError {
		t.Fatalf("expected SERVICE_ERROR for malformed body, got %v", err)
	}
}
