package telemetry

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/sssxyd/apistatus-guard/internal/backend"
	"github.com/sssxyd/apistatus-guard/internal/clock"
)

const sweepBatchSize = 25

// WindowMetrics is the per-command window read per base spec §4.5.
type WindowMetrics struct {
	AvgExecTimeMs  int64
	BizFailCount   int64
	SysFailCount   int64
	TotalExecCount int64
}

// GlobalWindowMetrics is the global per-second counter window.
type GlobalWindowMetrics struct {
	ExecCount    int64
	BizFailCount int64
	SysFailCount int64
}

// Observer receives best-effort instrumentation hooks from the store. All
// methods must tolerate a nil receiver check by the caller; implementations
// (e.g. Prometheus collectors) should be cheap and never block.
type Observer interface {
	ObserveQueueDepth(depth int)
	IncDroppedWrites()
	IncWriteErrors()
}

type noopObserver struct{}

func (noopObserver) ObserveQueueDepth(int) {}
func (noopObserver) IncDroppedWrites()     {}
func (noopObserver) IncWriteErrors()       {}

// Config configures the telemetry Store.
type Config struct {
	ExpiredSeconds int64
	QueueSize      int
}

type writeTask struct {
	commandKey   string
	offsetMicros int64
	execTimeMs   int64
	execStatus   ExecStatus
	second       int64
}

// Store is the sliding-window telemetry store described in base spec §4.5:
// per-command event streams plus global per-second counters, backed by a
// pooled sorted-set store, with asynchronous writes and expiry-based
// eviction.
type Store struct {
	backend        backend.Store
	clk            *clock.Source
	expiredSeconds int64
	logger         *slog.Logger
	observer       Observer
	queue          chan writeTask
}

// New constructs a Store. Call Run to start the background write workers.
func New(cfg Config, back backend.Store, clk *clock.Source, logger *slog.Logger, observer Observer) *Store {
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
		queue:          make(chan writeTask, cfg.QueueSize),
	}
}

// Run starts a fixed-size pool of workers draining the write queue. It
// blocks until ctx is cancelled.
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

// Write enqueues a telemetry event asynchronously. It never blocks the
// request path: on a full queue the oldest pending write is dropped to make
// room, per base spec §5/§9.
func (s *Store) Write(commandKey string, execTimeMs int64, execStatus ExecStatus) {
	task := writeTask{
		commandKey:   commandKey,
		offsetMicros: s.clk.NowMicros(),
		execTimeMs:   execTimeMs,
		execStatus:   execStatus,
		second:       s.clk.NowSeconds(),
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

func (s *Store) performWrite(ctx context.Context, task writeTask) {
	ttl := time.Duration(s.expiredSeconds) * time.Second
	b := s.backend.Batch()
	b.ZAdd(keyLastExecTime, task.commandKey, float64(task.offsetMicros))
	b.ZAdd(execTimeKey(task.commandKey), buildMember(task.offsetMicros, task.execTimeMs), float64(task.offsetMicros))
	b.ZAdd(execStatusKey(task.commandKey), buildMember(task.offsetMicros, int64(task.execStatus)), float64(task.offsetMicros))
	b.Incr(globalExecCountKey(task.second))
	b.Expire(globalExecCountKey(task.second), ttl)
	if task.execStatus == StatusBizFail {
		b.Incr(globalBizFailKey(task.second))
		b.Expire(globalBizFailKey(task.second), ttl)
	}
	if task.execStatus == StatusSysFail {
		b.Incr(globalSysFailKey(task.second))
		b.Expire(globalSysFailKey(task.second), ttl)
	}
	if err := b.Exec(ctx); err != nil {
		s.observer.IncWriteErrors()
		if s.logger != nil {
			s.logger.Warn("telemetry write failed", "command_key", task.commandKey, "error", err)
		}
	}
}

// ReadWindow computes the per-command window metrics over the last
// durationSeconds. Backend failures fail open: a zero-valued WindowMetrics
// with TotalExecCount substituted to 1 is returned alongside the error, so
// that no rule fires when telemetry is unavailable.
func (s *Store) ReadWindow(ctx context.Context, commandKey string, durationSeconds int64) (WindowMetrics, error) {
	end := s.clk.NowMicros()
	start := end - durationSeconds*1_000_000

	b := s.backend.Batch()
	execTimeFuture := b.ZRangeByScore(execTimeKey(commandKey), float64(start), float64(end))
	execStatusFuture := b.ZRangeByScore(execStatusKey(commandKey), float64(start), float64(end))
	if err := b.Exec(ctx); err != nil {
		return WindowMetrics{TotalExecCount: 1}, fmt.Errorf("read window: %w", err)
	}

	execTimeMembers, err1 := execTimeFuture()
	execStatusMembers, err2 := execStatusFuture()
	if err1 != nil {
		return WindowMetrics{TotalExecCount: 1}, fmt.Errorf("read exec_time window: %w", err1)
	}
	if err2 != nil {
		return WindowMetrics{TotalExecCount: 1}, fmt.Errorf("read exec_status window: %w", err2)
	}

	var sum, count int64
	for _, member := range execTimeMembers {
		v, ok := parseMember(member)
		if !ok {
			continue
		}
		sum += v
		count++
	}
	var avg int64
	if count > 0 {
		avg = sum / count
	}

	var bizFail, sysFail, total int64
	for _, member := range execStatusMembers {
		v, ok := parseMember(member)
		if !ok {
			continue
		}
		total++
		switch ExecStatus(v) {
		case StatusBizFail:
			bizFail++
		case StatusSysFail:
			sysFail++
		}
	}
	if total == 0 {
		total = 1
	}

	return WindowMetrics{
		AvgExecTimeMs:  avg,
		BizFailCount:   bizFail,
		SysFailCount:   sysFail,
		TotalExecCount: total,
	}, nil
}

// ReadGlobalWindow sums the per-second global counters over
// [nowSeconds-durationSeconds, nowSeconds] inclusive.
func (s *Store) ReadGlobalWindow(ctx context.Context, nowSeconds, durationSeconds int64) (GlobalWindowMetrics, error) {
	b := s.backend.Batch()
	type futures struct {
		exec, biz, sys func() (int64, bool, error)
	}
	all := make([]futures, 0, durationSeconds+1)
	for sec := nowSeconds - durationSeconds; sec <= nowSeconds; sec++ {
		all = append(all, futures{
			exec: b.Get(globalExecCountKey(sec)),
			biz:  b.Get(globalBizFailKey(sec)),
			sys:  b.Get(globalSysFailKey(sec)),
		})
	}
	if err := b.Exec(ctx); err != nil {
		return GlobalWindowMetrics{ExecCount: 1}, fmt.Errorf("read global window: %w", err)
	}

	var result GlobalWindowMetrics
	for _, f := range all {
		if v, ok, err := f.exec(); err == nil && ok {
			result.ExecCount += v
		}
		if v, ok, err := f.biz(); err == nil && ok {
			result.BizFailCount += v
		}
		if v, ok, err := f.sys(); err == nil && ok {
			result.SysFailCount += v
		}
	}
	if result.ExecCount == 0 {
		result.ExecCount = 1
	}
	return result, nil
}

// SweepResult carries the human-readable log an admin endpoint returns.
type SweepResult struct {
	Log string
}

// Sweep deletes events older than s.expiredSeconds, per base spec §4.5.
func (s *Store) Sweep(ctx context.Context) (SweepResult, error) {
	startStamp := s.clk.Now()
	expiredOffset := s.clk.NowMicros() - s.expiredSeconds*1_000_000

	commandKeys, err := s.backend.ZRangeAll(ctx, keyLastExecTime)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep: list command keys: %w", err)
	}

	if _, err := s.backend.ZRemRangeByScore(ctx, keyLastExecTime, 0, float64(expiredOffset)); err != nil && s.logger != nil {
		s.logger.Warn("sweep: trim command registry failed", "error", err)
	}

	total := len(commandKeys)
	success, failure := 0, 0
	for _, batch := range chunkStrings(commandKeys, sweepBatchSize) {
		b := s.backend.Batch()
		for _, ck := range batch {
			b.ZRemRangeByScore(execTimeKey(ck), 0, float64(expiredOffset))
			b.ZRemRangeByScore(execStatusKey(ck), 0, float64(expiredOffset))
		}
		if err := b.Exec(ctx); err != nil {
			failure += len(batch)
			if s.logger != nil {
				s.logger.Warn("sweep batch failed", "error", err, "batch_size", len(batch))
			}
			continue
		}
		success += len(batch)
	}

	endStamp := s.clk.Now()
	return SweepResult{Log: fmt.Sprintf(
		"sweep start=%s total=%d success=%d failure=%d end=%s",
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
