package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSweeper struct {
	calls   atomic.Int64
	deleted int
	err     error
}

func (f *fakeSweeper) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	f.calls.Add(1)
	return f.deleted, f.err
}

func TestRunOnce(t *testing.T) {
	fs := &fakeSweeper{deleted: 3}
	r := New(fs)

	deleted, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
}

func TestRunSweepsImmediatelyAndOnTick(t *testing.T) {
	fs := &fakeSweeper{}
	r := New(fs, WithInterval(10*time.Millisecond), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for fs.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 sweeps, got %d", fs.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRunSurvivesSweepErrors(t *testing.T) {
	fs := &fakeSweeper{err: errors.New("backend down")}
	r := New(fs, WithInterval(10*time.Millisecond), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for fs.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected loop to keep sweeping after errors, got %d calls", fs.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWithIntervalIgnoresNonPositive(t *testing.T) {
	r := New(&fakeSweeper{}, WithInterval(-time.Second))
	if r.interval != defaultInterval {
		t.Fatalf("expected default interval, got %v", r.interval)
	}
}
