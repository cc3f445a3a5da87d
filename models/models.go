package models

import "time"

// Language selects the message template set for a chat.
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// FilterMode controls how a category filter is applied.
type FilterMode string

const (
	FilterInclude FilterMode = "include"
	FilterExclude FilterMode = "exclude"
)

// Subscription is one chat following one wallet address.
// Addresses are stored normalized (lowercase 0x hex).
type Subscription struct {
	ChatID  int64     `json:"chatId"`
	Address string    `json:"address"`
	Alias   string    `json:"alias"`
	AddedAt time.Time `json:"addedAt"`
}

// DisplayName returns the alias if set, otherwise a shortened address.
func (s Subscription) DisplayName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return ShortAddress(s.Address)
}

// CategoryFilter restricts notifications to (or away from) market categories.
// Categories are matched against the first hyphen-separated segment of the
// market slug, lowercased.
type CategoryFilter struct {
	Mode       FilterMode `json:"mode"`
	Categories []string   `json:"categories"`
}

// Allows reports whether an event in the given category passes the filter.
func (f *CategoryFilter) Allows(category string) bool {
	if f == nil || len(f.Categories) == 0 {
		return true
	}
	found := false
	for _, c := range f.Categories {
		if c == category {
			found = true
			break
		}
	}
	if f.Mode == FilterExclude {
		return !found
	}
	return found
}

// ChatConfig holds per-chat notification settings.
type ChatConfig struct {
	ChatID        int64           `json:"chatId"`
	Language      Language        `json:"language"`
	MinAmountUSDC float64         `json:"minAmountUsdc"`
	Filter        *CategoryFilter `json:"filter,omitempty"`
}

// DefaultChatConfig returns the settings applied before a chat customizes
// anything: English messages, $10 minimum, no category filter.
func DefaultChatConfig(chatID int64) ChatConfig {
	return ChatConfig{
		ChatID:        chatID,
		Language:      LangEN,
		MinAmountUSDC: 10,
	}
}

// Watermark records the newest event time already processed for an address.
type Watermark struct {
	Address   string
	LastSeen  int64 // unix seconds
	UpdatedAt time.Time
}

// ShortAddress renders 0xabcd…1234 for display.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
