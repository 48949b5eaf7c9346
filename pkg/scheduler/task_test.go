package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"FilingRadar/pkg/model"
)

type countingScanner struct {
	calls atomic.Int32
	done  chan struct{}
	err   error
}

func (c *countingScanner) Scan(context.Context) ([]*model.Filing, error) {
	if c.calls.Add(1) == 1 && c.done != nil {
		close(c.done)
	}
	return nil, c.err
}

type fakeEarnings struct {
	calls int
	err   error
}

func (f *fakeEarnings) Refresh(context.Context) (int, error) {
	f.calls++
	return 12, f.err
}

type fakeSweeper struct {
	pending, failed int
	batch           int
}

func (f *fakeSweeper) SweepPending(_ context.Context, batch int) (int, error) {
	f.pending++
	f.batch = batch
	return 0, nil
}

func (f *fakeSweeper) RetryFailed(_ context.Context, batch int) (int, error) {
	f.failed++
	return 0, errors.New("db down")
}

func TestStartRunsScanImmediately(t *testing.T) {
	scanner := &countingScanner{done: make(chan struct{}), err: errors.New("rss timeout")}
	s := NewScheduler(scanner, nil, nil, Options{ScanInterval: time.Hour}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	select {
	case <-scanner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not run on start")
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

func TestStartRegistersAllJobs(t *testing.T) {
	s := NewScheduler(&countingScanner{}, &fakeSweeper{}, &fakeEarnings{}, Options{EarningsSync: true}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if n := len(s.cron.Entries()); n != 4 {
		t.Errorf("entries = %d, want 4", n)
	}
}

func TestCheckEarnings(t *testing.T) {
	earnings := &fakeEarnings{}
	s := NewScheduler(&countingScanner{}, nil, earnings, Options{EarningsHour: 6, EarningsSync: true}, nil)
	ctx := context.Background()

	at := func(day, hour int) func() time.Time {
		return func() time.Time { return time.Date(2024, 7, day, hour, 0, 0, 0, time.UTC) }
	}

	s.now = at(1, 5)
	if s.CheckEarnings(ctx) {
		t.Error("synced before earnings hour")
	}

	s.now = at(1, 6)
	if !s.CheckEarnings(ctx) {
		t.Error("did not sync at earnings hour")
	}
	s.now = at(1, 9)
	if s.CheckEarnings(ctx) {
		t.Error("synced twice on the same day")
	}

	earnings.err = errors.New("fmp 503")
	s.now = at(2, 6)
	if s.CheckEarnings(ctx) {
		t.Error("failed refresh reported as synced")
	}
	earnings.err = nil
	s.now = at(2, 7)
	if !s.CheckEarnings(ctx) {
		t.Error("failed refresh was not retried the next hour")
	}
	if earnings.calls != 3 {
		t.Errorf("refresh calls = %d, want 3", earnings.calls)
	}
}

func TestSweepJobsLogErrors(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := NewScheduler(&countingScanner{}, sweeper, nil, Options{SweepBatch: 7}, nil)
	ctx := context.Background()

	s.runSweep(ctx)
	s.runRetry(ctx)
	if sweeper.pending != 1 || sweeper.failed != 1 || sweeper.batch != 7 {
		t.Errorf("sweeper = %+v", sweeper)
	}
}
