package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddJob_InvalidSpec(t *testing.T) {
	s := New(0)
	if err := s.AddJob("bad", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if err := s.AddInterval("zero", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestAddJob_ReplacesByName(t *testing.T) {
	s := New(0)
	noop := func(context.Context) error { return nil }
	if err := s.AddInterval("sweep", time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddInterval("sweep", time.Hour, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("prune", "0 3 * * *", noop); err != nil {
		t.Fatal(err)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Name != "prune" || jobs[1].Name != "sweep" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestIntervalJobRuns(t *testing.T) {
	s := New(time.Second)
	var runs atomic.Int32
	if err := s.AddInterval("tick", time.Second, func(context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("job never ran")
	}
}

func TestRunNow(t *testing.T) {
	s := New(50 * time.Millisecond)
	err := s.RunNow(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
