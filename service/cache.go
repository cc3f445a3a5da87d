// Package service holds the in-memory subscription/config mirror the poll
// cycle reads on every tick.
package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"polymarket-notifier/models"
	"polymarket-notifier/storage"
)

// InvalidateKind names which half of a chat's cached state changed.
type InvalidateKind string

const (
	KindSubscriptions InvalidateKind = "subscriptions"
	KindConfig        InvalidateKind = "config"
)

// SubscriberCache mirrors subscriptions and per-chat settings in memory. The
// command layer is the only writer of the durable rows and signals changes via
// Invalidate; a lost signal self-heals on the next full hydrate.
type SubscriberCache struct {
	store      storage.DataStore
	defaults   models.ChatConfig
	pageSize   int

	mu       sync.RWMutex
	byChat   map[int64][]models.Subscription
	configs  map[int64]models.ChatConfig
	hydrated bool
}

// NewSubscriberCache creates an empty cache. defaults supplies the settings
// for chats that never customized anything.
func NewSubscriberCache(store storage.DataStore, defaults models.ChatConfig, pageSize int) *SubscriberCache {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &SubscriberCache{
		store:    store,
		defaults: defaults,
		pageSize: pageSize,
		byChat:   make(map[int64][]models.Subscription),
		configs:  make(map[int64]models.ChatConfig),
	}
}

// Hydrated reports whether LoadAll has completed at least once.
func (c *SubscriberCache) Hydrated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hydrated
}

// LoadAll bulk-hydrates the cache from the durable store, paging through both
// tables. Replaces the full in-memory state on success.
func (c *SubscriberCache) LoadAll(ctx context.Context) error {
	byChat := make(map[int64][]models.Subscription)
	total := 0
	for offset := 0; ; offset += c.pageSize {
		subs, err := c.store.ListSubscriptions(ctx, offset, c.pageSize)
		if err != nil {
			return fmt.Errorf("hydrate subscriptions: %w", err)
		}
		for _, sub := range subs {
			byChat[sub.ChatID] = append(byChat[sub.ChatID], sub)
		}
		total += len(subs)
		if len(subs) < c.pageSize {
			break
		}
	}

	configs := make(map[int64]models.ChatConfig)
	for offset := 0; ; offset += c.pageSize {
		page, err := c.store.ListChatConfigs(ctx, offset, c.pageSize)
		if err != nil {
			return fmt.Errorf("hydrate chat configs: %w", err)
		}
		for _, cfg := range page {
			configs[cfg.ChatID] = cfg
		}
		if len(page) < c.pageSize {
			break
		}
	}

	c.mu.Lock()
	c.byChat = byChat
	c.configs = configs
	c.hydrated = true
	c.mu.Unlock()

	log.Printf("[cache] hydrated %d subscriptions across %d chats (%d customized)", total, len(byChat), len(configs))
	return nil
}

// Invalidate re-reads one chat's record and replaces or removes the in-memory
// entry. Safe to call while a cycle is running; the cycle keeps reading its
// snapshot for one more tick.
func (c *SubscriberCache) Invalidate(ctx context.Context, chatID int64, kind InvalidateKind) error {
	switch kind {
	case KindSubscriptions:
		subs, err := c.store.ListChatSubscriptions(ctx, chatID)
		if err != nil {
			return fmt.Errorf("invalidate subscriptions for %d: %w", chatID, err)
		}
		c.mu.Lock()
		if len(subs) == 0 {
			delete(c.byChat, chatID)
		} else {
			c.byChat[chatID] = subs
		}
		c.mu.Unlock()
	case KindConfig:
		cfg, err := c.store.GetChatConfig(ctx, chatID)
		if err != nil {
			return fmt.Errorf("invalidate config for %d: %w", chatID, err)
		}
		c.mu.Lock()
		if cfg == nil {
			delete(c.configs, chatID)
		} else {
			c.configs[chatID] = *cfg
		}
		c.mu.Unlock()
	default:
		return fmt.Errorf("unknown invalidate kind %q", kind)
	}
	return nil
}

// GroupedByAddress builds address -> watchers across all chats. The returned
// map is a fresh snapshot the caller owns for the rest of its cycle.
func (c *SubscriberCache) GroupedByAddress() map[string][]models.Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()

	grouped := make(map[string][]models.Subscription)
	for _, subs := range c.byChat {
		for _, sub := range subs {
			grouped[sub.Address] = append(grouped[sub.Address], sub)
		}
	}
	return grouped
}

// Addresses returns the distinct watched addresses.
func (c *SubscriberCache) Addresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var addrs []string
	for _, subs := range c.byChat {
		for _, sub := range subs {
			if !seen[sub.Address] {
				seen[sub.Address] = true
				addrs = append(addrs, sub.Address)
			}
		}
	}
	return addrs
}

// TotalSubscriptions counts (chat, address) pairs.
func (c *SubscriberCache) TotalSubscriptions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, subs := range c.byChat {
		total += len(subs)
	}
	return total
}

// ConfigFor returns a chat's settings, falling back to defaults.
func (c *SubscriberCache) ConfigFor(chatID int64) models.ChatConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cfg, ok := c.configs[chatID]; ok {
		return cfg
	}
	cfg := c.defaults
	cfg.ChatID = chatID
	return cfg
}
