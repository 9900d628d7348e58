package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/NodeSphereGL/Story-Dapp/lib/scan"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/memory"
)

func TestSchedulerOverlapGuard(t *testing.T) {
	tr := New(memory.New(), scan.New("http://localhost:0", ""), nil, "story", 720)
	s := NewScheduler(tr, time.Hour)

	// simulate a cycle in progress
	if !s.begin() {
		t.Fatalf("begin should succeed on an idle scheduler")
	}
	if !s.Running() {
		t.Errorf("Running should report the cycle in progress")
	}

	if s.Trigger(context.Background(), nil) {
		t.Errorf("Trigger should be dropped while a cycle is running")
	}

	s.end()

	// with no dapps seeded a cycle is a quick no-op
	if !s.Trigger(context.Background(), nil) {
		t.Errorf("Trigger should run once the cycle has finished")
	}
	if s.Running() {
		t.Errorf("guard should be released after the cycle")
	}
}

func TestSchedulerRunStops(t *testing.T) {
	tr := New(memory.New(), scan.New("http://localhost:0", ""), nil, "story", 720)
	s := NewScheduler(tr, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		s.Run(ctx)
		close(done)
	}()

	// the immediate first cycle finds no dapps and returns quickly
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on context cancellation")
	}
}
