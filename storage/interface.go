package storage

import (
	"context"

	"polymarket-notifier/models"
)

// DataStore abstracts durable persistence so the notifier can run against
// Postgres/Redis in production and MockStore in tests.
type DataStore interface {
	Close() error

	// Subscriptions. The command layer writes, the cache reads.
	ListSubscriptions(ctx context.Context, offset, limit int) ([]models.Subscription, error)
	ListChatSubscriptions(ctx context.Context, chatID int64) ([]models.Subscription, error)
	AddSubscription(ctx context.Context, sub models.Subscription) error
	RemoveSubscription(ctx context.Context, chatID int64, address string) (bool, error)

	// Per-chat settings. Nil config means "never customized" — callers apply
	// defaults.
	GetChatConfig(ctx context.Context, chatID int64) (*models.ChatConfig, error)
	ListChatConfigs(ctx context.Context, offset, limit int) ([]models.ChatConfig, error)
	SaveChatConfig(ctx context.Context, cfg models.ChatConfig) error

	// Watermarks and the bounded dedup set of recent delivery keys, one per
	// delivered (chat, transaction) pair.
	Watermarks(ctx context.Context) (map[string]models.Watermark, error)
	RecentTxIDs(ctx context.Context) (map[string]bool, error)

	// CommitCycle applies staged watermark advances (monotonic per address),
	// merges the cycle's delivery keys into the capped dedup set, and evicts
	// watermarks for addresses outside validAddresses once they age past the
	// orphan TTL.
	CommitCycle(ctx context.Context, updates map[string]int64, newIDs []string, validAddresses map[string]bool) error
}
