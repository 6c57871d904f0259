package httpguard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sssxyd/apistatus-guard/internal/backend"
	"github.com/sssxyd/apistatus-guard/internal/breaker"
	"github.com/sssxyd/apistatus-guard/internal/clock"
	"github.com/sssxyd/apistatus-guard/internal/evaluator"
	"github.com/sssxyd/apistatus-guard/internal/ratelimit"
	"github.com/sssxyd/apistatus-guard/internal/rules"
	"github.com/sssxyd/apistatus-guard/internal/telemetry"
)

// fakeBackend is a minimal in-memory stand-in for backend.Store, mirroring
// internal/telemetry's test fake so the rate limiter can be exercised
// without a live Redis server.
type fakeBackend struct {
	mu       sync.Mutex
	zsets    map[string]map[string]float64
	counters map[string]int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{zsets: make(map[string]map[string]float64), counters: make(map[string]int64)}
}

func (f *fakeBackend) ZAdd(_ context.Context, key, member string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	f.zsets[key][member] = score
	return nil
}

func (f *fakeBackend) zrangebyscore(key string, min, max float64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for member, score := range f.zsets[key] {
		if score >= min && score <= max {
			pairs = append(pairs, pair{member, score})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.member)
	}
	return out
}

func (f *fakeBackend) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	return f.zrangebyscore(key, min, max), nil
}

func (f *fakeBackend) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	set := f.zsets[key]
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeBackend) ZRangeAll(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.zsets[key]))
	for member := range f.zsets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (f *fakeBackend) Get(_ context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.counters[key]
	return v, ok, nil
}

func (f *fakeBackend) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeBackend) Expire(context.Context, string, time.Duration) error { return nil }
func (f *fakeBackend) Ping(context.Context) error                         { return nil }
func (f *fakeBackend) Close() error                                       { return nil }

func (f *fakeBackend) Batch() backend.Batch { return &fakeBatch{store: f} }

type fakeBatch struct {
	store *fakeBackend
	ops   []func()
}

func (b *fakeBatch) ZAdd(key, member string, score float64) {
	b.ops = append(b.ops, func() { _ = b.store.ZAdd(context.Background(), key, member, score) })
}

func (b *fakeBatch) ZRangeByScore(key string, min, max float64) func() ([]string, error) {
	var result []string
	b.ops = append(b.ops, func() { result = b.store.zrangebyscore(key, min, max) })
	return func() ([]string, error) { return result, nil }
}

func (b *fakeBatch) ZRemRangeByScore(key string, min, max float64) func() (int64, error) {
	var result int64
	b.ops = append(b.ops, func() { result, _ = b.store.ZRemRangeByScore(context.Background(), key, min, max) })
	return func() (int64, error) { return result, nil }
}

func (b *fakeBatch) ZRangeAll(key string) func() ([]string, error) {
	var result []string
	b.ops = append(b.ops, func() { result, _ = b.store.ZRangeAll(context.Background(), key) })
	return func() ([]string, error) { return result, nil }
}

func (b *fakeBatch) Get(key string) func() (int64, bool, error) {
	var val int64
	var ok bool
	b.ops = append(b.ops, func() { val, ok, _ = b.store.Get(context.Background(), key) })
	return func() (int64, bool, error) { return val, ok, nil }
}

func (b *fakeBatch) Incr(key string) func() (int64, error) {
	var val int64
	b.ops = append(b.ops, func() { val, _ = b.store.Incr(context.Background(), key) })
	return func() (int64, error) { return val, nil }
}

func (b *fakeBatch) Expire(string, time.Duration) { b.ops = append(b.ops, func() {}) }

func (b *fakeBatch) Exec(context.Context) error {
	for _, op := range b.ops {
		op()
	}
	return nil
}

// fakeFetcher implements evaluator.Fetcher directly with pre-baked windows,
// for driving the circuit breaker without a telemetry store.
type fakeFetcher struct {
	primary   evaluator.Window
	secondary evaluator.Window
}

func (f fakeFetcher) FetchPrimary(context.Context, string, int64) (evaluator.Window, error) {
	return f.primary, nil
}

func (f fakeFetcher) FetchSecondary(context.Context, string, int64) (evaluator.Window, error) {
	return f.secondary, nil
}

func ptrVal(v float64) *float64 { return &v }

func newTestRatelimitLimiter(docs map[string]rules.Document) *ratelimit.Limiter {
	epoch := time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewWithNow(epoch, func() time.Time { return epoch.Add(10 * time.Minute) })
	store := ratelimit.NewStore(ratelimit.Config{ExpiredSeconds: 3600, QueueSize: 100}, newFakeBackend(), clk, nil, nil)
	registry := rules.NewFromDocuments(docs)
	eval := evaluator.New(nil)
	return ratelimit.New(registry, store, eval, "rate", nil)
}

func newTestRouter(t *testing.T, upstream *httptest.Server, checker *breaker.Checker, limiter *ratelimit.Limiter) *Router {
	t.Helper()
	r, err := New(
		Config{UpstreamURL: upstream.URL, AdminJWTSecret: "test-secret"},
		nil,
		nil,
		checker,
		limiter,
		nil,
		nil,
		nil,
		NewMetrics(),
		nil,
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestProxyPassesThroughUnclassifiedPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProxyPassesThroughToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerResponseCode, "1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected upstream body to pass through, got %q", rec.Body.String())
	}
}

func TestProxyRejectsWithoutDeviceHeaderWhenRateRulesApply(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	limiter := newTestRatelimitLimiter(map[string]rules.Document{
		"rate": {Global: []rules.Rule{{Feature: rules.FeatureSingleCommandHits, Duration: 60, Threshold: 1}}},
	})
	router := newTestRouter(t, upstream, nil, limiter)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestProxyFusesOnCircuitBreaker(t *testing.T) {
	upstreamHit := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	fetcher := fakeFetcher{primary: evaluator.Window{BizFailCount: 9, TotalExecCount: 10}}
	registry := rules.NewFromDocuments(map[string]rules.Document{
		"fuse": {Global: []rules.Rule{{Feature: rules.FeatureBizFailPercent, Duration: 60, Threshold: 50, Probability: ptrVal(100)}}},
	})
	checker := breaker.New(registry, fetcher, evaluator.New(nil), "fuse", "alarm", nil)
	router := newTestRouter(t, upstream, checker, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get(headerRetryAfter) != retryAfterFuseSeconds {
		t.Fatalf("expected Retry-After header, got %q", rec.Header().Get(headerRetryAfter))
	}
	if upstreamHit {
		t.Fatalf("upstream should not be reached once fused")
	}
}

func TestProxyRejectsMalformedFuseOverrideHeader(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	fetcher := fakeFetcher{}
	registry := rules.NewFromDocuments(map[string]rules.Document{"fuse": {}})
	checker := breaker.New(registry, fetcher, evaluator.New(nil), "fuse", "alarm", nil)
	router := newTestRouter(t, upstream, checker, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set(headerFuseRules, "not-a-valid-tuple")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthzReportsUpWhenCheckersPass(t *testing.T) {
	router, err := New(
		Config{UpstreamURL: "http://127.0.0.1:0"},
		nil, nil, nil, nil, nil, nil, nil, NewMetrics(),
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
		nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthzReportsDegradedOnFailingComponent(t *testing.T) {
	router, err := New(
		Config{UpstreamURL: "http://127.0.0.1:0"},
		nil, nil, nil, nil, nil, nil, nil, NewMetrics(),
		func(context.Context) error { return context.DeadlineExceeded },
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAdminSweepRejectsNonLoopbackWithoutToken(t *testing.T) {
	router, err := New(
		Config{UpstreamURL: "http://127.0.0.1:0", AdminJWTSecret: "s3cr3t"},
		nil, nil, nil, nil, nil, nil, nil, NewMetrics(), nil, nil, nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/sweep", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminSweepAllowsLoopback(t *testing.T) {
	now := time.Date(2023, time.October, 1, 0, 10, 0, 0, time.UTC)
	epoch := time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewWithNow(epoch, func() time.Time { return now })
	telemetryStore := telemetry.New(telemetry.Config{ExpiredSeconds: 3600, QueueSize: 100}, newFakeBackend(), clk, nil, nil)

	router, err := New(
		Config{UpstreamURL: "http://127.0.0.1:0"},
		nil, telemetryStore, nil, nil, nil, nil, nil, NewMetrics(), nil, nil, nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/sweep", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

// fakeMigrationRunner is a minimal in-memory stand-in for *migrate.Runner.
type fakeMigrationRunner struct {
	statusErr   error
	downErr     error
	downTargets []int64
}

func (f *fakeMigrationRunner) Status(context.Context) error { return f.statusErr }

func (f *fakeMigrationRunner) Down(_ context.Context, targetVersion int64) error {
	f.downTargets = append(f.downTargets, targetVersion)
	return f.downErr
}

func newMigrationsRouter(t *testing.T, runner MigrationRunner) *Router {
	t.Helper()
	router, err := New(
		Config{UpstreamURL: "http://127.0.0.1:0"},
		nil, nil, nil, nil, nil, nil, nil, NewMetrics(), nil, nil, runner,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return router
}

func TestAdminMigrationStatusReportsOK(t *testing.T) {
	router := newMigrationsRouter(t, &fakeMigrationRunner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/migrations/status", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminMigrationStatusPropagatesError(t *testing.T) {
	router := newMigrationsRouter(t, &fakeMigrationRunner{statusErr: context.DeadlineExceeded})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/migrations/status", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestAdminMigrationDownUsesRequestedVersion(t *testing.T) {
	runner := &fakeMigrationRunner{}
	router := newMigrationsRouter(t, runner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/migrations/down?version=3", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(runner.downTargets) != 1 || runner.downTargets[0] != 3 {
		t.Fatalf("expected Down called with target version 3, got %v", runner.downTargets)
	}
}

func TestAdminMigrationDownRejectsUnconfiguredRunner(t *testing.T) {
	router := newMigrationsRouter(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/migrations/down", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

