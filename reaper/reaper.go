// Package reaper runs the periodic deletion of expired refresh records.
//
// The reaper is an optimization, not a correctness mechanism: expired records
// are already rejected at use time. It exists to keep the store from growing
// without bound, so a failed sweep is logged and retried on the next tick,
// never escalated.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

const defaultInterval = time.Hour

// Sweeper deletes records expired strictly before the given instant and
// reports how many were removed.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the time between sweeps. Non-positive values keep the
// default of one hour.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the logger used for sweep outcomes.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reaper) {
		if log != nil {
			r.log = log
		}
	}
}

// Reaper periodically sweeps expired records from a store.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	log      *slog.Logger
}

// New creates a Reaper around sweeper.
func New(sweeper Sweeper, opts ...Option) *Reaper {
	r := &Reaper{
		sweeper:  sweeper,
		interval: defaultInterval,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps once immediately, then on every interval tick until ctx is
// cancelled. Sweep failures are logged and do not stop the loop.
func (r *Reaper) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of deleted records.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	return r.sweeper.SweepExpired(ctx, time.Now())
}

func (r *Reaper) sweep(ctx context.Context) {
	start := time.Now()
	deleted, err := r.sweeper.SweepExpired(ctx, start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.log.Error("expiry sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		r.log.Info("expiry sweep completed",
			"deleted", deleted,
			"duration", time.Since(start),
		)
	}
}
