package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"polymarket-notifier/config"
	"polymarket-notifier/service"
)

// Scheduler owns the single poll loop: a one-slot self-rearming timer. At
// most one tick is scheduled and at most one cycle is in flight at any time.
type Scheduler struct {
	notifier *Notifier
	cache    *service.SubscriberCache

	interval time.Duration
	floor    time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	armed   bool
	stopped bool
}

// NewScheduler builds the driver around a notifier and its cache.
func NewScheduler(notifier *Notifier, cache *service.SubscriberCache, cfg *config.Config) *Scheduler {
	interval := time.Duration(cfg.Poll.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}
	floor := time.Duration(cfg.Poll.MinIntervalMS) * time.Millisecond
	if floor <= 0 {
		floor = time.Second
	}
	return &Scheduler{
		notifier: notifier,
		cache:    cache,
		interval: interval,
		floor:    floor,
	}
}

// EnsureRunning arms the loop if it is not already armed. Idempotent; called
// at startup and opportunistically from the inbound request path so an idle
// deployment self-wakes on first traffic.
func (s *Scheduler) EnsureRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed || s.stopped {
		return
	}
	s.armed = true
	s.timer = time.AfterFunc(0, s.onTick)
}

// TickSoon pulls the next tick forward to the floor delay. Used by the live
// watcher when a watched wallet shows on the activity stream.
func (s *Scheduler) TickSoon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || s.stopped || s.timer == nil {
		return
	}
	if s.timer.Stop() {
		s.timer.Reset(s.floor)
	}
}

// Stop prevents further ticks. An in-flight cycle finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
}

// onTick runs one cycle and rearms. Rearming happens in a defer so a panic
// inside a cycle never kills the loop.
func (s *Scheduler) onTick() {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] cycle panicked: %v", r)
		}
		s.rearm(time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.interval*3)
	defer cancel()

	if !s.cache.Hydrated() {
		if err := s.cache.LoadAll(ctx); err != nil {
			log.Printf("[scheduler] cache hydrate failed, retrying next tick: %v", err)
			return
		}
	}

	result := s.notifier.RunCycle(ctx)
	if result.EventsProcessed > 0 || result.NotificationsSent > 0 {
		log.Printf("[scheduler] cycle done: %d subs, %d addresses, %d events, %d sent in %s",
			result.TotalSubscriptions, result.AddressesChecked, result.EventsProcessed,
			result.NotificationsSent, time.Since(start).Round(time.Millisecond))
	}
}

// rearm schedules the next tick, keeping a roughly constant cadence as cycle
// duration varies.
func (s *Scheduler) rearm(elapsed time.Duration) {
	next := s.interval - elapsed
	if next < s.floor {
		next = s.floor
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = time.AfterFunc(next, s.onTick)
}
