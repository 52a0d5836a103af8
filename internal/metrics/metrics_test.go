package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchTotal == nil || publishTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveFetch("metrics-test", "ok", 128)
	if val := testutil.ToFloat64(fetchTotal.WithLabelValues("metrics-test", "ok")); val != 1 {
		t.Errorf("expected fetch counter 1, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test")); val != 128 {
		t.Errorf("expected fetch bytes 128, got %f", val)
	}

	ObserveRateLimitDenied("metrics-test")
	if val := testutil.ToFloat64(rateLimitDeniedTotal.WithLabelValues("metrics-test")); val != 1 {
		t.Errorf("expected denied counter 1, got %f", val)
	}

	ObservePublish("metrics-test")
	ObservePublishStep("metrics-test", 10*time.Millisecond)
	if val := testutil.ToFloat64(publishTotal.WithLabelValues("metrics-test")); val != 1 {
		t.Errorf("expected publish counter 1, got %f", val)
	}
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
