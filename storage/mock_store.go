package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"polymarket-notifier/models"
)

// MockStore is an in-memory DataStore for testing.
type MockStore struct {
	mu sync.RWMutex

	Subscriptions []models.Subscription
	Configs       map[int64]models.ChatConfig
	Marks         map[string]models.Watermark
	RecentIDs     map[string]bool

	RecentTxCap int
	OrphanTTL   time.Duration

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		Configs:     make(map[int64]models.ChatConfig),
		Marks:       make(map[string]models.Watermark),
		RecentIDs:   make(map[string]bool),
		RecentTxCap: 1000,
		OrphanTTL:   90 * 24 * time.Hour,
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockStore) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *MockStore) Close() error {
	return m.trackCall("Close")
}

func (m *MockStore) ListSubscriptions(ctx context.Context, offset, limit int) ([]models.Subscription, error) {
	if err := m.trackCall("ListSubscriptions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := make([]models.Subscription, len(m.Subscriptions))
	copy(subs, m.Subscriptions)
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].ChatID != subs[j].ChatID {
			return subs[i].ChatID < subs[j].ChatID
		}
		return subs[i].Address < subs[j].Address
	})

	if offset >= len(subs) {
		return nil, nil
	}
	subs = subs[offset:]
	if limit > 0 && limit < len(subs) {
		subs = subs[:limit]
	}
	return subs, nil
}

func (m *MockStore) ListChatSubscriptions(ctx context.Context, chatID int64) ([]models.Subscription, error) {
	if err := m.trackCall("ListChatSubscriptions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var subs []models.Subscription
	for _, sub := range m.Subscriptions {
		if sub.ChatID == chatID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (m *MockStore) AddSubscription(ctx context.Context, sub models.Subscription) error {
	if err := m.trackCall("AddSubscription"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.Subscriptions {
		if existing.ChatID == sub.ChatID && existing.Address == sub.Address {
			m.Subscriptions[i].Alias = sub.Alias
			return nil
		}
	}
	if sub.AddedAt.IsZero() {
		sub.AddedAt = time.Now().UTC()
	}
	m.Subscriptions = append(m.Subscriptions, sub)
	return nil
}

func (m *MockStore) RemoveSubscription(ctx context.Context, chatID int64, address string) (bool, error) {
	if err := m.trackCall("RemoveSubscription"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.Subscriptions {
		if sub.ChatID == chatID && sub.Address == address {
			m.Subscriptions = append(m.Subscriptions[:i], m.Subscriptions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) GetChatConfig(ctx context.Context, chatID int64) (*models.ChatConfig, error) {
	if err := m.trackCall("GetChatConfig"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.Configs[chatID]; ok {
		return &cfg, nil
	}
	return nil, nil
}

func (m *MockStore) ListChatConfigs(ctx context.Context, offset, limit int) ([]models.ChatConfig, error) {
	if err := m.trackCall("ListChatConfigs"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]models.ChatConfig, 0, len(m.Configs))
	for _, cfg := range m.Configs {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ChatID < configs[j].ChatID })

	if offset >= len(configs) {
		return nil, nil
	}
	configs = configs[offset:]
	if limit > 0 && limit < len(configs) {
		configs = configs[:limit]
	}
	return configs, nil
}

func (m *MockStore) SaveChatConfig(ctx context.Context, cfg models.ChatConfig) error {
	if err := m.trackCall("SaveChatConfig"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Configs[cfg.ChatID] = cfg
	return nil
}

func (m *MockStore) Watermarks(ctx context.Context) (map[string]models.Watermark, error) {
	if err := m.trackCall("Watermarks"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	marks := make(map[string]models.Watermark, len(m.Marks))
	for addr, wm := range m.Marks {
		marks[addr] = wm
	}
	return marks, nil
}

func (m *MockStore) RecentTxIDs(ctx context.Context) (map[string]bool, error) {
	if err := m.trackCall("RecentTxIDs"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make(map[string]bool, len(m.RecentIDs))
	for id := range m.RecentIDs {
		ids[id] = true
	}
	return ids, nil
}

func (m *MockStore) CommitCycle(ctx context.Context, updates map[string]int64, newIDs []string, validAddresses map[string]bool) error {
	if err := m.trackCall("CommitCycle"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for addr, lastSeen := range updates {
		wm, ok := m.Marks[addr]
		if !ok || lastSeen > wm.LastSeen {
			wm = models.Watermark{Address: addr, LastSeen: lastSeen}
		}
		wm.UpdatedAt = now
		m.Marks[addr] = wm
	}

	for addr, wm := range m.Marks {
		if !validAddresses[addr] && now.Sub(wm.UpdatedAt) > m.OrphanTTL {
			delete(m.Marks, addr)
		}
	}

	for _, id := range newIDs {
		m.RecentIDs[id] = true
	}
	// Cap enforcement: drop arbitrary entries past the limit, matching the
	// production store's rank-based trim closely enough for tests.
	for id := range m.RecentIDs {
		if len(m.RecentIDs) <= m.RecentTxCap {
			break
		}
		delete(m.RecentIDs, id)
	}

	return nil
}
