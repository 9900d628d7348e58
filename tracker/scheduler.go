package tracker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler fires the tracker for all active dApps on a fixed interval. At most one cycle runs
// at a time: a tick arriving while a cycle is in progress is skipped entirely, never queued.
// Manual triggers share the same guard.
type Scheduler struct {
	t        *Tracker
	interval time.Duration

	mu      sync.Mutex
	running bool
}

// NewScheduler returns a scheduler driving t every interval.
func NewScheduler(t *Tracker, interval time.Duration) *Scheduler {
	return &Scheduler{t: t, interval: interval}
}

// begin sets the cycle-in-progress guard, returning false when a cycle is already running.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true

	return true
}

func (s *Scheduler) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Running reports whether a cycle is currently in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Run blocks driving scheduled cycles until the context is cancelled. An immediate first cycle
// runs at startup so a fresh deployment does not wait a full interval for data.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("scheduler: starting, interval %v", s.interval)
	s.cycle(ctx, nil)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cycle(ctx, nil)
		case <-ctx.Done():
			log.Printf("scheduler: stopped")

			return
		}
	}
}

// Trigger runs a manual sync for the named dApps (all active when empty) under the shared guard.
// It returns false without doing anything when a cycle is already in progress.
func (s *Scheduler) Trigger(ctx context.Context, slugs []string) bool {
	return s.cycle(ctx, slugs)
}

// cycle runs one sync pass. The guard is cleared whatever the outcome, so a failed cycle simply
// yields a partial result and the next tick proceeds normally.
func (s *Scheduler) cycle(ctx context.Context, slugs []string) bool {
	if !s.begin() {
		log.Printf("scheduler: cycle already in progress, skipping")

		return false
	}
	defer s.end()

	var err error
	if len(slugs) > 0 {
		_, err = s.t.SyncSlugs(ctx, slugs)
	} else {
		_, err = s.t.SyncActive(ctx)
	}
	if err != nil {
		log.Printf("scheduler: cycle failed: %v", err)
	}

	return true
}

// ManageSyncReqs starts a go routine to receive and manage manual sync requests published to the
// broker for this network. Requests arriving while a cycle is running are acknowledged and
// dropped, matching the no-queuing backpressure of the ticker path.
func (s *Scheduler) ManageSyncReqs() error {
	if s.t.mb == nil {
		return nil
	}

	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	reqCh, errCh, err := s.t.mb.GetSyncReqs(s.t.network, mut)
	if err != nil {
		return err
	}

	go func() {
		log.Printf("scheduler: [%s] start listening to sync request channel", s.t.network)

		for {
			select {
			case req, ok := <-reqCh:
				if !ok {
					log.Printf("scheduler: [%s] stop listening to sync request channel", s.t.network)

					return
				}

				log.Printf("scheduler: [%s] received sync request %+v", s.t.network, req)
				if req.Network != "" && req.Network != s.t.network {
					log.Printf("scheduler: [%s] sync request has wrong network %s, ignoring", s.t.network, req.Network)
				} else if !s.Trigger(context.Background(), req.Slugs) {
					log.Printf("scheduler: [%s] cycle in progress, sync request dropped", s.t.network)
				}

				mut.Unlock()
			case e, ok := <-errCh:
				if !ok {
					log.Printf("scheduler: [%s] stop listening to sync error channel", s.t.network)

					return
				}

				log.Printf("scheduler: [%s] received error %+v", s.t.network, e)
			}
		}
	}()

	return nil
}
