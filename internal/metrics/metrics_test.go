package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if runsTotal == nil || keywordsTotal == nil ||
		providerRequestsTotal == nil || rateLimitDelaySeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveKeyword("ok")
	if val := testutil.ToFloat64(keywordsTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("Expected keywordsTotal{ok} to be 1, got %f", val)
	}

	ObserveProviderRequest("/get/positions_2/history", "ok")
	if val := testutil.ToFloat64(providerRequestsTotal.WithLabelValues("/get/positions_2/history", "ok")); val != 1 {
		t.Errorf("Expected providerRequestsTotal to be 1, got %f", val)
	}

	IncAccessDenied()
	if val := testutil.ToFloat64(accessDeniedTotal); val != 1 {
		t.Errorf("Expected accessDeniedTotal to be 1, got %f", val)
	}
}
