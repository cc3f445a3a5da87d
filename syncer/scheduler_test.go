package syncer

import (
	"fmt"
	"testing"
	"time"

	"polymarket-notifier/api"
	"polymarket-notifier/config"
	"polymarket-notifier/models"
	"polymarket-notifier/notify"
	"polymarket-notifier/service"
	"polymarket-notifier/storage"
)

func newTestScheduler(t *testing.T, store *storage.MockStore, fetcher *fakeFetcher, cfg *config.Config) (*Scheduler, *service.SubscriberCache) {
	t.Helper()
	defaults := models.ChatConfig{Language: models.LangEN}
	cache := service.NewSubscriberCache(store, defaults, 100)
	n := NewNotifier(fetcher, &fakeSender{}, store, cache, cfg, notify.Render)
	return NewScheduler(n, cache, cfg), cache
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEnsureRunningIdempotent(t *testing.T) {
	store := storage.NewMockStore()
	subscribe(store, 1, addrA, 100)

	fetcher := newFakeFetcher()
	cfg := testConfig()
	cfg.Poll.IntervalMS = 3600_000 // keep the rearmed tick far away
	cfg.Poll.MinIntervalMS = 10

	sched, _ := newTestScheduler(t, store, fetcher, cfg)
	defer sched.Stop()

	sched.EnsureRunning()
	sched.EnsureRunning()
	sched.EnsureRunning()

	waitFor(t, time.Second, func() bool { return fetcher.callCount(addrA) >= 1 })
	time.Sleep(50 * time.Millisecond)

	// One armed loop: repeated arming must not stack extra immediate ticks.
	if got := fetcher.callCount(addrA); got != 1 {
		t.Errorf("expected a single immediate tick, got %d fetches", got)
	}
}

func TestTickSoonPullsNextTickForward(t *testing.T) {
	store := storage.NewMockStore()
	subscribe(store, 1, addrA, 100)

	fetcher := newFakeFetcher()
	cfg := testConfig()
	cfg.Poll.IntervalMS = 3600_000
	cfg.Poll.MinIntervalMS = 10

	sched, _ := newTestScheduler(t, store, fetcher, cfg)
	defer sched.Stop()

	sched.EnsureRunning()
	waitFor(t, time.Second, func() bool { return fetcher.callCount(addrA) >= 1 })

	sched.TickSoon()
	waitFor(t, time.Second, func() bool { return fetcher.callCount(addrA) >= 2 })
}

func TestStopHaltsLoop(t *testing.T) {
	store := storage.NewMockStore()
	subscribe(store, 1, addrA, 100)

	fetcher := newFakeFetcher()
	cfg := testConfig()
	cfg.Poll.IntervalMS = 20
	cfg.Poll.MinIntervalMS = 10

	sched, _ := newTestScheduler(t, store, fetcher, cfg)
	sched.EnsureRunning()
	waitFor(t, time.Second, func() bool { return fetcher.callCount(addrA) >= 2 })

	sched.Stop()
	settled := fetcher.callCount(addrA)
	time.Sleep(100 * time.Millisecond)
	// Allow one in-flight cycle to drain, but nothing beyond.
	if got := fetcher.callCount(addrA); got > settled+1 {
		t.Errorf("loop kept ticking after Stop: %d -> %d fetches", settled, got)
	}
}

func TestHydrateFailureRetriesNextTick(t *testing.T) {
	store := storage.NewMockStore()
	subscribe(store, 1, addrA, 100)
	store.ErrorOnNext["ListSubscriptions"] = fmt.Errorf("db down")

	fetcher := newFakeFetcher()
	fetcher.events[addrA] = []api.Activity{trade(200, 100, "nba-game", "tx-1")}
	cfg := testConfig()
	cfg.Poll.IntervalMS = 20
	cfg.Poll.MinIntervalMS = 10

	sched, cache := newTestScheduler(t, store, fetcher, cfg)
	defer sched.Stop()

	sched.EnsureRunning()

	// First tick hits the injected error, a later tick hydrates and polls.
	waitFor(t, 2*time.Second, func() bool { return cache.Hydrated() })
	waitFor(t, 2*time.Second, func() bool { return fetcher.callCount(addrA) >= 1 })
}
