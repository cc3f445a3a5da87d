package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"polymarket-notifier/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const recentTxKey = "notifier:recent_txs"

// PostgresStore wraps PostgreSQL persistence with a Redis-backed dedup set.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client

	recentTxCap int
	orphanTTL   time.Duration
}

// NewPostgres creates the store from POSTGRES_*/REDIS_* env vars and runs
// migrations.
func NewPostgres(recentTxCap int, orphanTTL time.Duration) (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "notifier")
	password := getEnv("POSTGRES_PASSWORD", "notifier123")
	dbname := getEnv("POSTGRES_DB", "notifier")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password:   redisPassword,
		DB:         0,
		PoolSize:   20,
		MaxRetries: 3,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	if recentTxCap <= 0 {
		recentTxCap = 1000
	}
	if orphanTTL <= 0 {
		orphanTTL = 90 * 24 * time.Hour
	}

	store := &PostgresStore{
		pool:        pool,
		redis:       rdb,
		recentTxCap: recentTxCap,
		orphanTTL:   orphanTTL,
	}
	if err := store.runMigrations(context.Background()); err != nil {
		pool.Close()
		rdb.Close()
		return nil, err
	}

	return store, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Close releases database connections.
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS subscriptions (
        chat_id  BIGINT NOT NULL,
        address  TEXT NOT NULL,
        alias    TEXT NOT NULL DEFAULT '',
        added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (chat_id, address)
    );
    CREATE INDEX IF NOT EXISTS idx_subscriptions_address ON subscriptions(address);

    CREATE TABLE IF NOT EXISTS chat_configs (
        chat_id           BIGINT PRIMARY KEY,
        language          TEXT NOT NULL DEFAULT 'en',
        min_amount_usdc   DOUBLE PRECISION NOT NULL DEFAULT 10,
        filter_mode       TEXT,
        filter_categories TEXT[]
    );

    CREATE TABLE IF NOT EXISTS watermarks (
        address    TEXT PRIMARY KEY,
        last_seen  BIGINT NOT NULL DEFAULT 0,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    `

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// ListSubscriptions returns subscriptions ordered by (chat_id, address) for
// paged cache hydration.
func (s *PostgresStore) ListSubscriptions(ctx context.Context, offset, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx, `
        SELECT chat_id, address, alias, added_at
        FROM subscriptions
        ORDER BY chat_id, address
        OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// ListChatSubscriptions returns one chat's subscriptions.
func (s *PostgresStore) ListChatSubscriptions(ctx context.Context, chatID int64) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT chat_id, address, alias, added_at
        FROM subscriptions
        WHERE chat_id = $1
        ORDER BY address`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func scanSubscriptions(rows pgx.Rows) ([]models.Subscription, error) {
	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ChatID, &sub.Address, &sub.Alias, &sub.AddedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// AddSubscription upserts a (chat, address) pair. Re-following an address
// refreshes the alias but keeps the original added_at, so the no-backfill
// bound survives an accidental re-add.
func (s *PostgresStore) AddSubscription(ctx context.Context, sub models.Subscription) error {
	addedAt := sub.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO subscriptions (chat_id, address, alias, added_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (chat_id, address) DO UPDATE SET alias = excluded.alias`,
		sub.ChatID, sub.Address, sub.Alias, addedAt)
	return err
}

// RemoveSubscription deletes a pair, reporting whether it existed.
func (s *PostgresStore) RemoveSubscription(ctx context.Context, chatID int64, address string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM subscriptions WHERE chat_id = $1 AND address = $2`, chatID, address)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetChatConfig returns nil when the chat never customized anything.
func (s *PostgresStore) GetChatConfig(ctx context.Context, chatID int64) (*models.ChatConfig, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT chat_id, language, min_amount_usdc, filter_mode, filter_categories
        FROM chat_configs WHERE chat_id = $1`, chatID)

	cfg, err := scanChatConfig(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ListChatConfigs pages through all customized chats for cache hydration.
func (s *PostgresStore) ListChatConfigs(ctx context.Context, offset, limit int) ([]models.ChatConfig, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx, `
        SELECT chat_id, language, min_amount_usdc, filter_mode, filter_categories
        FROM chat_configs
        ORDER BY chat_id
        OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []models.ChatConfig
	for rows.Next() {
		cfg, err := scanChatConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func scanChatConfig(row pgx.Row) (*models.ChatConfig, error) {
	var cfg models.ChatConfig
	var lang string
	var filterMode *string
	var categories []string

	if err := row.Scan(&cfg.ChatID, &lang, &cfg.MinAmountUSDC, &filterMode, &categories); err != nil {
		return nil, err
	}
	cfg.Language = models.Language(lang)
	if filterMode != nil && *filterMode != "" {
		cfg.Filter = &models.CategoryFilter{
			Mode:       models.FilterMode(*filterMode),
			Categories: categories,
		}
	}
	return &cfg, nil
}

// SaveChatConfig upserts a chat's settings.
func (s *PostgresStore) SaveChatConfig(ctx context.Context, cfg models.ChatConfig) error {
	var filterMode *string
	var categories []string
	if cfg.Filter != nil {
		mode := string(cfg.Filter.Mode)
		filterMode = &mode
		categories = cfg.Filter.Categories
	}

	_, err := s.pool.Exec(ctx, `
        INSERT INTO chat_configs (chat_id, language, min_amount_usdc, filter_mode, filter_categories)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (chat_id) DO UPDATE SET
            language = excluded.language,
            min_amount_usdc = excluded.min_amount_usdc,
            filter_mode = excluded.filter_mode,
            filter_categories = excluded.filter_categories`,
		cfg.ChatID, string(cfg.Language), cfg.MinAmountUSDC, filterMode, categories)
	return err
}

// Watermarks loads the full address -> watermark map. The table stays small
// (one row per followed address), so one query per cycle is fine.
func (s *PostgresStore) Watermarks(ctx context.Context) (map[string]models.Watermark, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, last_seen, updated_at FROM watermarks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	marks := make(map[string]models.Watermark)
	for rows.Next() {
		var wm models.Watermark
		if err := rows.Scan(&wm.Address, &wm.LastSeen, &wm.UpdatedAt); err != nil {
			return nil, err
		}
		marks[wm.Address] = wm
	}
	return marks, rows.Err()
}

// RecentTxIDs returns the capped set of delivery keys from Redis.
func (s *PostgresStore) RecentTxIDs(ctx context.Context) (map[string]bool, error) {
	members, err := s.redis.ZRange(ctx, recentTxKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load recent tx ids: %w", err)
	}
	ids := make(map[string]bool, len(members))
	for _, m := range members {
		ids[m] = true
	}
	return ids, nil
}

// CommitCycle persists one cycle's watermark advances, dedup ids and orphan
// eviction. The Postgres half runs in one transaction; the Redis merge follows
// and is itself idempotent, so a crash between the two only re-records ids.
func (s *PostgresStore) CommitCycle(ctx context.Context, updates map[string]int64, newIDs []string, validAddresses map[string]bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	for address, lastSeen := range updates {
		if _, err := tx.Exec(ctx, `
            INSERT INTO watermarks (address, last_seen, updated_at)
            VALUES ($1, $2, now())
            ON CONFLICT (address) DO UPDATE SET
                last_seen = GREATEST(watermarks.last_seen, excluded.last_seen),
                updated_at = now()`,
			address, lastSeen); err != nil {
			return fmt.Errorf("postgres: upsert watermark %s: %w", address, err)
		}
	}

	valid := make([]string, 0, len(validAddresses))
	for addr := range validAddresses {
		valid = append(valid, addr)
	}
	tag, err := tx.Exec(ctx, `
        DELETE FROM watermarks
        WHERE NOT (address = ANY($1))
          AND updated_at < now() - $2::interval`,
		valid, fmt.Sprintf("%d seconds", int64(s.orphanTTL.Seconds())))
	if err != nil {
		return fmt.Errorf("postgres: evict orphans: %w", err)
	}
	if evicted := tag.RowsAffected(); evicted > 0 {
		log.Printf("[storage] evicted %d orphaned watermarks", evicted)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit cycle: %w", err)
	}

	if len(newIDs) > 0 {
		now := float64(time.Now().Unix())
		members := make([]redis.Z, 0, len(newIDs))
		for _, id := range newIDs {
			members = append(members, redis.Z{Score: now, Member: id})
		}
		pipe := s.redis.Pipeline()
		pipe.ZAdd(ctx, recentTxKey, members...)
		pipe.ZRemRangeByRank(ctx, recentTxKey, 0, int64(-s.recentTxCap-1))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis: merge recent tx ids: %w", err)
		}
	}

	return nil
}
