// Package ratelimit implements the device-number rate limiter described in
// base spec §4.6/§5.9: a sibling of the telemetry store with a narrower
// storage shape (hit offsets instead of exec-time/status pairs), read the
// same windowed way and fed into the shared rule evaluator.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/sssxyd/apistatus-guard/internal/backend"
	"github.com/sssxyd/apistatus-guard/internal/clock"
	"github.com/sssxyd/apistatus-guard/internal/evaluator"
)

const sweepBatchSize = 25

// Observer receives best-effort instrumentation hooks, mirroring
// internal/telemetry.Observer.
type Observer interface {
	ObserveQueueDepth(depth int)
	IncDroppedWrites()
	IncWriteErrors()
}

type noopObserver struct{}

func (noopObserver) ObserveQueueDepth(int) {}
func (noopObserver) IncDroppedWrites()     {}
func (noopObserver) IncWriteErrors()       {}

// Config configures the rate limiter's Store.
type Config struct {
	ExpiredSeconds int64
	QueueSize      int
}

type hitTask struct {
	deviceNo     string
	commandKey   string
	offsetMicros int64
	seq          int64
}

// Store records and queries per-device hit events. It is deliberately
// simpler than telemetry.Store: there is no exec-time/status payload, only
// the fact that a hit occurred.
type Store struct {
	backend        backend.Store
	clk            *clock.Source
	expiredSeconds int64
	logger         *slog.Logger
	observer       Observer
	queue          chan hitTask
	seq            atomic.Int64
}

// NewStore constructs a Store. Call Run to start the background write worker(s).
func NewStore(cfg Config, back backend.Store, clk *clock.Source, logger *slog.Logger, observer Observer) *Store {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4000
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Store{
		backend:        back,
		clk:            clk,
		expiredSeconds: cfg.ExpiredSeconds,
		logger:         logger,
		observer:       observer,
		queue:          make(chan hitTask, cfg.QueueSize),
	}
}

// Run starts a fixed-size pool of workers draining the hit queue. It blocks
// until ctx is cancelled.
func (s *Store) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case task := <-s.queue:
					s.observer.ObserveQueueDepth(len(s.queue))
					s.performWrite(context.Background(), task)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	<-ctx.Done()
}

// RecordHit enqueues a device access event asynchronously. Like the
// telemetry write path, it never blocks the request path: on a full queue
// the oldest pending hit is dropped to make room.
func (s *Store) RecordHit(deviceNo, commandKey string) {
	task := hitTask{
		deviceNo:     deviceNo,
		commandKey:   commandKey,
		offsetMicros: s.clk.NowMicros(),
		seq:          s.seq.Add(1),
	}
	select {
	case s.queue <- task:
		return
	default:
	}
	select {
	case <-s.queue:
		s.observer.IncDroppedWrites()
	default:
	}
	select {
	case s.queue <- task:
	default:
		s.observer.IncDroppedWrites()
	}
}

func (s *Store) performWrite(ctx context.Context, task hitTask) {
	ttl := time.Duration(s.expiredSeconds) * time.Second
	member := buildHitMember(task.offsetMicros, task.seq)

	b := s.backend.Batch()
	b.ZAdd(keyRegistry, registryMember(task.deviceNo, task.commandKey), float64(task.offsetMicros))
	b.ZAdd(deviceCommandKey(task.deviceNo, task.commandKey), member, float64(task.offsetMicros))
	b.ZAdd(deviceTotalKey(task.deviceNo), member, float64(task.offsetMicros))
	b.Expire(deviceCommandKey(task.deviceNo, task.commandKey), ttl)
	b.Expire(deviceTotalKey(task.deviceNo), ttl)
	if err := b.Exec(ctx); err != nil {
		s.observer.IncWriteErrors()
		if s.logger != nil {
			s.logger.Warn("ratelimit write failed", "device_no", task.deviceNo, "command_key", task.commandKey, "error", err)
		}
	}
}

// ReadWindow counts hits for (deviceNo, commandKey) over the last
// durationSeconds. Backend failures fail open: zero hits are returned
// alongside the error, so no rate rule fires when the backend is
// unreachable.
func (s *Store) ReadWindow(ctx context.Context, deviceNo, commandKey string, durationSeconds int64) (evaluator.Window, error) {
	count, err := s.countInWindow(ctx, deviceCommandKey(deviceNo, commandKey), durationSeconds)
	if err != nil {
		return evaluator.Window{}, fmt.Errorf("read device command window: %w", err)
	}
	return evaluator.Window{SingleCommandHits: count}, nil
}

// ReadDeviceWindow counts hits for deviceNo across every non-ignored command
// over the last durationSeconds.
func (s *Store) ReadDeviceWindow(ctx context.Context, deviceNo string, durationSeconds int64) (evaluator.Window, error) {
	count, err := s.countInWindow(ctx, deviceTotalKey(deviceNo), durationSeconds)
	if err != nil {
		return evaluator.Window{}, fmt.Errorf("read device total window: %w", err)
	}
	return evaluator.Window{TotalCommandHits: count}, nil
}

func (s *Store) countInWindow(ctx context.Context, key string, durationSeconds int64) (int64, error) {
	end := s.clk.NowMicros()
	start := end - durationSeconds*1_000_000
	members, err := s.backend.ZRangeByScore(ctx, key, float64(start), float64(end))
	if err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

// SweepResult carries the human-readable log an admin endpoint returns.
type SweepResult struct {
	Log string
}

// Sweep deletes hit events older than s.expiredSeconds, per the same
// registry-driven discipline as telemetry.Store.Sweep.
func (s *Store) Sweep(ctx context.Context) (SweepResult, error) {
	startStamp := s.clk.Now()
	expiredOffset := s.clk.NowMicros() - s.expiredSeconds*1_000_000

	members, err := s.backend.ZRangeAll(ctx, keyRegistry)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep: list device registry: %w", err)
	}

	if _, err := s.backend.ZRemRangeByScore(ctx, keyRegistry, 0, float64(expiredOffset)); err != nil && s.logger != nil {
		s.logger.Warn("sweep: trim device registry failed", "error", err)
	}

	total := len(members)
	success, failure := 0, 0
	for _, batch := range chunkStrings(members, sweepBatchSize) {
		b := s.backend.Batch()
		seen := make(map[string]bool, len(batch))
		for _, member := range batch {
			deviceNo, commandKey, ok := splitRegistryMember(member)
			if !ok {
				continue
			}
			b.ZRemRangeByScore(deviceCommandKey(deviceNo, commandKey), 0, float64(expiredOffset))
			if !seen[deviceNo] {
				b.ZRemRangeByScore(deviceTotalKey(deviceNo), 0, float64(expiredOffset))
				seen[deviceNo] = true
			}
		}
		if err := b.Exec(ctx); err != nil {
			failure += len(batch)
			if s.logger != nil {
				s.logger.Warn("rate sweep batch failed", "error", err, "batch_size", len(batch))
			}
			continue
		}
		success += len(batch)
	}

	endStamp := s.clk.Now()
	return SweepResult{Log: fmt.Sprintf(
		"rate sweep start=%s total=%d success=%d failure=%d end=%s",
		startStamp.Format(time.RFC3339), total, success, failure, endStamp.Format(time.RFC3339),
	)}, nil
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
