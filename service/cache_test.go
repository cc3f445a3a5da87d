package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"polymarket-notifier/models"
	"polymarket-notifier/storage"
)

const cacheAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func seedSubscriptions(store *storage.MockStore, n int) {
	for i := 0; i < n; i++ {
		store.Subscriptions = append(store.Subscriptions, models.Subscription{
			ChatID:  int64(i + 1),
			Address: cacheAddr,
			AddedAt: time.Now().UTC(),
		})
	}
}

func TestLoadAllPaginates(t *testing.T) {
	store := storage.NewMockStore()
	seedSubscriptions(store, 5)
	store.Configs[3] = models.ChatConfig{ChatID: 3, Language: models.LangZH, MinAmountUSDC: 25}

	cache := NewSubscriberCache(store, models.DefaultChatConfig(0), 2)
	if err := cache.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if got := cache.TotalSubscriptions(); got != 5 {
		t.Errorf("TotalSubscriptions = %d, want 5", got)
	}
	// 5 rows at page size 2 means three pages.
	if got := store.Calls["ListSubscriptions"]; got != 3 {
		t.Errorf("ListSubscriptions called %d times, want 3", got)
	}
	if !cache.Hydrated() {
		t.Error("cache not marked hydrated")
	}

	grouped := cache.GroupedByAddress()
	if got := len(grouped[cacheAddr]); got != 5 {
		t.Errorf("grouped watchers = %d, want 5", got)
	}
}

func TestLoadAllPropagatesStoreErrors(t *testing.T) {
	store := storage.NewMockStore()
	store.ErrorOnNext["ListSubscriptions"] = fmt.Errorf("db down")

	cache := NewSubscriberCache(store, models.DefaultChatConfig(0), 100)
	if err := cache.LoadAll(context.Background()); err == nil {
		t.Fatal("expected hydrate error")
	}
	if cache.Hydrated() {
		t.Error("failed hydrate must not mark the cache ready")
	}
}

func TestConfigForFallsBackToDefaults(t *testing.T) {
	store := storage.NewMockStore()
	defaults := models.ChatConfig{Language: models.LangEN, MinAmountUSDC: 10}
	cache := NewSubscriberCache(store, defaults, 100)
	if err := cache.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	cfg := cache.ConfigFor(42)
	if cfg.ChatID != 42 {
		t.Errorf("ChatID = %d, want 42", cfg.ChatID)
	}
	if cfg.MinAmountUSDC != 10 || cfg.Language != models.LangEN {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestInvalidateSubscriptions(t *testing.T) {
	store := storage.NewMockStore()
	cache := NewSubscriberCache(store, models.DefaultChatConfig(0), 100)
	if err := cache.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	// Follow lands in the store, then the cache is signalled.
	store.Subscriptions = append(store.Subscriptions, models.Subscription{
		ChatID: 7, Address: cacheAddr, AddedAt: time.Now().UTC(),
	})
	if err := cache.Invalidate(context.Background(), 7, KindSubscriptions); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if got := cache.TotalSubscriptions(); got != 1 {
		t.Errorf("TotalSubscriptions = %d, want 1", got)
	}
	if got := cache.Addresses(); len(got) != 1 || got[0] != cacheAddr {
		t.Errorf("Addresses = %v", got)
	}

	// Unfollow empties the chat; its entry must disappear entirely.
	store.Subscriptions = nil
	if err := cache.Invalidate(context.Background(), 7, KindSubscriptions); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if got := cache.TotalSubscriptions(); got != 0 {
		t.Errorf("TotalSubscriptions after unfollow = %d, want 0", got)
	}
}

func TestInvalidateConfig(t *testing.T) {
	store := storage.NewMockStore()
	defaults := models.ChatConfig{Language: models.LangEN, MinAmountUSDC: 10}
	cache := NewSubscriberCache(store, defaults, 100)
	if err := cache.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	store.Configs[7] = models.ChatConfig{ChatID: 7, Language: models.LangZH, MinAmountUSDC: 100}
	if err := cache.Invalidate(context.Background(), 7, KindConfig); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if cfg := cache.ConfigFor(7); cfg.MinAmountUSDC != 100 || cfg.Language != models.LangZH {
		t.Errorf("customized config not picked up: %+v", cfg)
	}

	// Deleting the row falls back to defaults.
	delete(store.Configs, 7)
	if err := cache.Invalidate(context.Background(), 7, KindConfig); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if cfg := cache.ConfigFor(7); cfg.MinAmountUSDC != 10 {
		t.Errorf("defaults not restored: %+v", cfg)
	}
}

func TestInvalidateUnknownKind(t *testing.T) {
	cache := NewSubscriberCache(storage.NewMockStore(), models.DefaultChatConfig(0), 100)
	if err := cache.Invalidate(context.Background(), 1, InvalidateKind("bogus")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
