package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/sssxyd/apistatus-guard/internal/evaluator"
	"github.com/sssxyd/apistatus-guard/internal/rules"
)

func ptr(v float64) *float64 { return &v }

func newTestLimiter(t *testing.T, docs map[string]rules.Document) (*Limiter, *Store) {
	t.Helper()
	now := time.Date(2023, time.October, 1, 0, 10, 0, 0, time.UTC)
	fb := newFakeBackend()
	store, _ := newTestStore(fb, now)
	registry := rules.NewFromDocuments(docs)
	eval := evaluator.New(nil)
	return New(registry, store, eval, "rate", nil), store
}

func TestMissingDeviceHeaderRejectedWhenRulesApply(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]rules.Document{
		"rate": {Global: []rules.Rule{{Feature: rules.FeatureSingleCommandHits, Duration: 60, Threshold: 1}}},
	})

	_, err := limiter.Check(context.Background(), "", "api/orders", "api_orders", "")
	if err != ErrDeviceHeaderRequired {
		t.Fatalf("expected ErrDeviceHeaderRequired, got %v", err)
	}
}

func TestIgnoredCommandSkipsDeviceRequirement(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]rules.Document{
		"rate": {Commands: map[string][]rules.Rule{"api/public": {}}},
	})

	result, err := limiter.Check(context.Background(), "", "api/public", "api_public", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Fused() {
		t.Fatalf("ignored command should never fuse")
	}
}

func TestUnconfiguredCommandPassesWithoutDevice(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]rules.Document{"rate": {}})

	result, err := limiter.Check(context.Background(), "", "api/unconfigured", "api_unconfigured", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Fused() {
		t.Fatalf("unconfigured command should never fuse")
	}
}

func TestMalformedOverrideRejected(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]rules.Document{"rate": {}})

	_, err := limiter.Check(context.Background(), "dev1", "api/orders", "api_orders", "not-a-tuple")
	if err != ErrMalformedOverride {
		t.Fatalf("expected ErrMalformedOverride, got %v", err)
	}
}

func TestDeviceExceedingThresholdIsFused(t *testing.T) {
	limiter, store := newTestLimiter(t, map[string]rules.Document{
		"rate": {Global: []rules.Rule{{Feature: rules.FeatureSingleCommandHits, Duration: 60, Threshold: 2, Probability: ptr(100)}}},
	})

	offset := store.clk.NowMicros()
	store.performWrite(context.Background(), hitTask{deviceNo: "dev1", commandKey: "api_orders", offsetMicros: offset, seq: 100})
	store.performWrite(context.Background(), hitTask{deviceNo: "dev1", commandKey: "api_orders", offsetMicros: offset, seq: 101})

	result, err := limiter.Check(context.Background(), "dev1", "api/orders", "api_orders", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Fused() {
		t.Fatalf("expected device to be rate-limited after exceeding threshold")
	}
}

func TestOverrideHeaderReplacesRegistryRules(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]rules.Document{"rate": {}})

	result, err := limiter.Check(context.Background(), "dev1", "api/orders", "api_orders", "single_command_hits:60:0:100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Fused() {
		t.Fatalf("expected override rule with threshold 0 to fuse immediately")
	}
}
