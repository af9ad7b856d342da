// Package task runs a list of independent work items on a bounded pool of
// workers and reports per-item failures.
package task

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/mochi/internal/mochitype"
)

// Progress is emitted once per finished item.
type Progress struct {
	// Index is the position of the item that just finished.
	Index int

	// Err is the item's error, or nil.
	Err error

	// Completed counts finished items, failed ones included.
	Completed int
	Failed    int
	Total     int
}

// Ratio returns Completed/Total. An empty run reports 1.
func (p Progress) Ratio() float64 {
	if p.Total <= 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}

// ItemError records the failure of one item.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Report summarizes a finished run.
type Report struct {
	Total     int
	Succeeded int

	// Failures is ordered by item index.
	Failures []*ItemError
}

// Failed returns the number of failed items.
func (r Report) Failed() int {
	return len(r.Failures)
}

// OK reports whether every item succeeded.
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// Err returns nil when every item succeeded and a *PartialError otherwise.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return &PartialError{Failed: len(r.Failures), Total: r.Total, Errs: errs}
}

// PartialError reports a run that completed with failures. errors.Is and
// errors.As see every item error.
type PartialError struct {
	Failed int
	Total  int
	Errs   []error
}

func (e *PartialError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("%d of %d items failed", e.Failed, e.Total)
	}
	return fmt.Sprintf("%d of %d items failed; first: %v", e.Failed, e.Total, e.Errs[0])
}

func (e *PartialError) Unwrap() []error {
	return e.Errs
}

type config struct {
	concurrency int
	rateLimit   time.Duration
	progress    func(Progress)
	complete    func(Report)
	logger      *slog.Logger
	name        string
}

// Option configures a run.
type Option func(*config)

// WithConcurrency sets the number of workers. Values < 1 mean 1.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = max(n, 1)
	}
}

// WithRateLimit spaces consecutive dispatches on the same worker by at
// least d, measured from the start of the previous dispatch.
func WithRateLimit(d time.Duration) Option {
	return func(c *config) {
		c.rateLimit = d
	}
}

// WithProgress sets a callback invoked after every item. Calls are
// serialized and Completed strictly increases.
func WithProgress(fn func(Progress)) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithComplete sets a callback invoked exactly once, after the last
// progress callback, including for an empty item list.
func WithComplete(fn func(Report)) Option {
	return func(c *config) {
		c.complete = fn
	}
}

// WithLogger sets the logger for the run.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithName labels the run in log output.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// run is the shared state of one Run call.
type run struct {
	cfg   config
	total int

	mu       sync.Mutex
	next     int
	done     int
	failures []*ItemError
}

// pull hands out the next item index, or -1 when the queue is empty.
func (r *run) pull() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= r.total {
		return -1
	}
	i := r.next
	r.next++
	return i
}

func (r *run) finish(i int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	if err != nil {
		r.failures = append(r.failures, &ItemError{Index: i, Err: err})
	}
	if r.cfg.progress != nil {
		r.cfg.progress(Progress{
			Index:     i,
			Err:       err,
			Completed: r.done,
			Failed:    len(r.failures),
			Total:     r.total,
		})
	}
}

// Run calls fn once for every item with at most the configured number of
// calls in flight. Item failures never stop sibling items. When ctx ends,
// items not yet started are recorded as failed with ErrCanceled.
func Run[T any](ctx context.Context, items []T, fn func(context.Context, T) error, opts ...Option) Report {
	r := &run{
		cfg:   config{concurrency: 1},
		total: len(items),
	}
	for _, opt := range opts {
		opt(&r.cfg)
	}
	log := r.cfg.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	workers := min(r.cfg.concurrency, len(items))
	log.Debug("task run", "name", r.cfg.name, "items", len(items), "workers", workers)

	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			var last time.Time
			for i := r.pull(); i >= 0; i = r.pull() {
				if err := r.wait(ctx, last); err != nil {
					r.finish(i, err)
					continue
				}
				last = time.Now()
				r.finish(i, call(ctx, items[i], fn))
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	report := Report{Total: r.total, Succeeded: r.total - len(r.failures), Failures: r.failures}
	sortFailures(report.Failures)
	log.Debug("task run complete", "name", r.cfg.name, "succeeded", report.Succeeded, "failed", report.Failed())
	if r.cfg.complete != nil {
		r.cfg.complete(report)
	}
	return report
}

// wait enforces the rate limit and reports cancellation.
func (r *run) wait(ctx context.Context, last time.Time) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", mochitype.ErrCanceled, err)
	}
	if r.cfg.rateLimit <= 0 || last.IsZero() {
		return nil
	}
	delay := r.cfg.rateLimit - time.Since(last)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", mochitype.ErrCanceled, ctx.Err())
	}
}

func call[T any](ctx context.Context, item T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, item)
}

func sortFailures(fs []*ItemError) {
	slices.SortFunc(fs, func(a, b *ItemError) int {
		return cmp.Compare(a.Index, b.Index)
	})
}

// ErrCanceled is recorded for items that never started.
var ErrCanceled = mochitype.ErrCanceled
