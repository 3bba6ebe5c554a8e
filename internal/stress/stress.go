// Package stress drives many cooperating handles against one counter and checks that
// no increment is lost.
package stress

import (
	"context"
	"errors"
	"fmt"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/srediag/cortex/internal/logging"
	"github.com/srediag/cortex/pkg/cortex"
)

// Counter is the value shared by all workers.
type Counter struct {
	Value      uint64
	LastWorker int64
}

// Config describes one run. A zero Key lets the owner pick a random one.
type Config struct {
	Key        cortex.Key
	Workers    int
	Iterations int
	// Hold is how long each worker keeps its handle open after the last increment.
	Hold time.Duration
}

// WorkerResult is what one worker reports back.
type WorkerResult struct {
	Worker     int
	Increments int
	MaxWait    time.Duration
	Err        error
}

// Report summarizes a run.
type Report struct {
	Key      cortex.Key
	Expected uint64
	Final    uint64
	Elapsed  time.Duration
	Workers  []WorkerResult
}

// OK reports whether every increment landed.
func (r Report) OK() bool { return r.Final == r.Expected }

var ErrLostUpdates = errors.New("counter does not match the number of increments")

func (c Config) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	return nil
}

// Run creates the counter, lets Workers pooled goroutines attach to it and increment it
// Iterations times each, and compares the final value with Workers*Iterations.
func Run(ctx context.Context, cfg Config) (Report, error) {
	if err := cfg.validate(); err != nil {
		return Report{}, err
	}
	b := cortex.NewBuilder(Counter{})
	if cfg.Key == 0 {
		b = b.RandomKey()
	} else {
		b = b.Key(cfg.Key)
	}
	owner, err := b.WithDefaultLock()
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if cErr := owner.Close(); cErr != nil {
			logging.L().Error("Error closing stress counter", zap.Int32("key", int32(owner.Key())), zap.Error(cErr))
		}
	}()

	report := Report{
		Key:      owner.Key(),
		Expected: uint64(cfg.Workers) * uint64(cfg.Iterations),
	}
	logging.L().Info("stress run started",
		zap.Int32("key", int32(report.Key)),
		zap.Int("workers", cfg.Workers),
		zap.Int("iterations", cfg.Iterations))

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return report, err
	}
	defer pool.Release()

	results := queuepkg.New(int64(cfg.Workers))
	defer results.Dispose()

	begin := time.Now()
	for worker := range cfg.Workers {
		if err := pool.Submit(func() {
			_ = results.Put(work(ctx, report.Key, worker, cfg))
		}); err != nil {
			_ = results.Put(WorkerResult{Worker: worker, Err: err})
		}
	}

	items, err := results.Get(int64(cfg.Workers))
	for len(items) < cfg.Workers && err == nil {
		var more []interface{}
		more, err = results.Get(int64(cfg.Workers - len(items)))
		items = append(items, more...)
	}
	if err != nil {
		return report, err
	}
	report.Elapsed = time.Since(begin)

	var errs []error
	for _, it := range items {
		r := it.(WorkerResult)
		report.Workers = append(report.Workers, r)
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", r.Worker, r.Err))
		}
	}

	final, err := owner.Read()
	if err != nil {
		return report, err
	}
	report.Final = final.Value
	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	if !report.OK() {
		return report, fmt.Errorf("%w: want %d, got %d", ErrLostUpdates, report.Expected, report.Final)
	}
	logging.L().Info("stress run finished",
		zap.Int32("key", int32(report.Key)),
		zap.Uint64("final", report.Final),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func work(ctx context.Context, key cortex.Key, worker int, cfg Config) (res WorkerResult) {
	res.Worker = worker
	h, err := cortex.Attach[Counter](key)
	if err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if cErr := h.Close(); cErr != nil && res.Err == nil {
			res.Err = cErr
		}
	}()

	for range cfg.Iterations {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		begin := time.Now()
		_, err := h.Update(func(c Counter) Counter {
			c.Value++
			c.LastWorker = int64(worker)
			return c
		})
		if err != nil {
			res.Err = err
			return res
		}
		res.MaxWait = max(res.MaxWait, time.Since(begin))
		res.Increments++
	}
	if cfg.Hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(cfg.Hold):
		}
	}
	return res
}
