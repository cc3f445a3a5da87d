// Package handlers implements the Telegram webhook command layer. It is glue
// around the durable stores: every write invalidates the subscriber cache so
// the poll loop picks the change up on its next tick.
package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polymarket-notifier/config"
	"polymarket-notifier/models"
	"polymarket-notifier/service"
	"polymarket-notifier/storage"
	"polymarket-notifier/telegram"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const helpText = `Commands:
/follow <address> [alias] — get notified when this wallet trades
/unfollow <address> — stop watching a wallet
/list — show watched wallets
/setmin <usdc> — minimum trade size to notify (0 disables)
/filter include <cat1,cat2> — only these categories
/filter exclude <cat1,cat2> — everything but these
/filter off — remove the category filter
/lang en|zh — message language`

// Handler handles webhook requests from Telegram.
type Handler struct {
	cfg   *config.Config
	store storage.DataStore
	cache *service.SubscriberCache
	tg    *telegram.Client

	// Hooks into the scheduler; wired from main.
	EnsureRunning   func()
	OnAddressChange func()
}

// NewHandler creates the webhook handler.
func NewHandler(cfg *config.Config, store storage.DataStore, cache *service.SubscriberCache, tg *telegram.Client) *Handler {
	return &Handler{
		cfg:   cfg,
		store: store,
		cache: cache,
		tg:    tg,
	}
}

// Health is a liveness endpoint.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Webhook receives Telegram updates. Always answers 200 so Telegram does not
// retry storms on our own errors.
func (h *Handler) Webhook(c *gin.Context) {
	if secret := h.cfg.Server.WebhookSecret; secret != "" {
		if c.GetHeader("X-Telegram-Bot-Api-Secret-Token") != secret {
			c.Status(http.StatusForbidden)
			return
		}
	}

	// Inbound traffic doubles as a liveness kick for the poll loop.
	if h.EnsureRunning != nil {
		h.EnsureRunning()
	}

	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Printf("[handlers] bad update payload: %v", err)
		c.Status(http.StatusOK)
		return
	}

	if update.Message != nil && strings.HasPrefix(update.Message.Text, "/") {
		h.handleCommand(c.Request.Context(), update.Message)
	}
	c.Status(http.StatusOK)
}

func (h *Handler) handleCommand(ctx context.Context, msg *telegram.Message) {
	chatID := msg.Chat.ID
	fields := strings.Fields(msg.Text)
	command := strings.ToLower(fields[0])
	// Group chats address commands as /follow@BotName.
	if i := strings.IndexByte(command, '@'); i > 0 {
		command = command[:i]
	}
	args := fields[1:]

	var reply string
	switch command {
	case "/start", "/help":
		reply = helpText
	case "/follow":
		reply = h.follow(ctx, chatID, args)
	case "/unfollow":
		reply = h.unfollow(ctx, chatID, args)
	case "/list":
		reply = h.list(ctx, chatID)
	case "/setmin":
		reply = h.setMin(ctx, chatID, args)
	case "/filter":
		reply = h.setFilter(ctx, chatID, args)
	case "/lang":
		reply = h.setLanguage(ctx, chatID, args)
	default:
		reply = "Unknown command. Try /help."
	}

	if reply != "" {
		if _, err := h.tg.SendMessage(ctx, chatID, reply); err != nil {
			log.Printf("[handlers] reply to %d failed: %v", chatID, err)
		}
	}
}

func (h *Handler) follow(ctx context.Context, chatID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /follow <address> [alias]"
	}
	address, ok := normalizeAddress(args[0])
	if !ok {
		return "That doesn't look like a wallet address."
	}
	alias := strings.Join(args[1:], " ")

	sub := models.Subscription{
		ChatID:  chatID,
		Address: address,
		Alias:   alias,
		AddedAt: time.Now().UTC(),
	}
	if err := h.store.AddSubscription(ctx, sub); err != nil {
		log.Printf("[handlers] follow %s for %d: %v", address, chatID, err)
		return "Couldn't save that, try again later."
	}
	h.invalidate(ctx, chatID, service.KindSubscriptions)

	return fmt.Sprintf("Watching %s. You'll hear about trades from now on.", sub.DisplayName())
}

func (h *Handler) unfollow(ctx context.Context, chatID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /unfollow <address>"
	}
	address, ok := normalizeAddress(args[0])
	if !ok {
		return "That doesn't look like a wallet address."
	}

	removed, err := h.store.RemoveSubscription(ctx, chatID, address)
	if err != nil {
		log.Printf("[handlers] unfollow %s for %d: %v", address, chatID, err)
		return "Couldn't save that, try again later."
	}
	if !removed {
		return "You weren't watching that wallet."
	}
	h.invalidate(ctx, chatID, service.KindSubscriptions)

	return fmt.Sprintf("Stopped watching %s.", models.ShortAddress(address))
}

func (h *Handler) list(ctx context.Context, chatID int64) string {
	subs, err := h.store.ListChatSubscriptions(ctx, chatID)
	if err != nil {
		log.Printf("[handlers] list for %d: %v", chatID, err)
		return "Couldn't load your list, try again later."
	}
	if len(subs) == 0 {
		return "You aren't watching any wallets yet. /follow <address> to start."
	}

	var b strings.Builder
	b.WriteString("Watched wallets:\n")
	for _, sub := range subs {
		if sub.Alias != "" {
			fmt.Fprintf(&b, "• %s (%s)\n", sub.Alias, models.ShortAddress(sub.Address))
		} else {
			fmt.Fprintf(&b, "• %s\n", models.ShortAddress(sub.Address))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) setMin(ctx context.Context, chatID int64, args []string) string {
	if len(args) != 1 {
		return "Usage: /setmin <usdc amount>"
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil || amount < 0 {
		return "Amount must be a non-negative number."
	}

	cfg := h.cache.ConfigFor(chatID)
	cfg.MinAmountUSDC = amount
	if err := h.saveConfig(ctx, cfg); err != nil {
		return "Couldn't save that, try again later."
	}
	if amount == 0 {
		return "Minimum amount disabled — you'll get every trade."
	}
	return fmt.Sprintf("Only trades of $%.2f and up will be sent.", amount)
}

func (h *Handler) setFilter(ctx context.Context, chatID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /filter include|exclude <categories> or /filter off"
	}

	cfg := h.cache.ConfigFor(chatID)
	mode := strings.ToLower(args[0])
	switch mode {
	case "off":
		cfg.Filter = nil
		if err := h.saveConfig(ctx, cfg); err != nil {
			return "Couldn't save that, try again later."
		}
		return "Category filter removed."
	case "include", "exclude":
		categories := parseCategories(args[1:])
		if len(categories) == 0 {
			return "Give at least one category, e.g. /filter include nba,nfl"
		}
		cfg.Filter = &models.CategoryFilter{
			Mode:       models.FilterMode(mode),
			Categories: categories,
		}
		if err := h.saveConfig(ctx, cfg); err != nil {
			return "Couldn't save that, try again later."
		}
		return fmt.Sprintf("Filter set: %s %s.", mode, strings.Join(categories, ", "))
	default:
		return "Usage: /filter include|exclude <categories> or /filter off"
	}
}

func (h *Handler) setLanguage(ctx context.Context, chatID int64, args []string) string {
	if len(args) != 1 {
		return "Usage: /lang en|zh"
	}
	lang := models.Language(strings.ToLower(args[0]))
	if lang != models.LangEN && lang != models.LangZH {
		return "Supported languages: en, zh"
	}

	cfg := h.cache.ConfigFor(chatID)
	cfg.Language = lang
	if err := h.saveConfig(ctx, cfg); err != nil {
		return "Couldn't save that, try again later."
	}
	if lang == models.LangZH {
		return "好的，之后的通知将使用中文。"
	}
	return "Notifications will be in English."
}

func (h *Handler) saveConfig(ctx context.Context, cfg models.ChatConfig) error {
	if err := h.store.SaveChatConfig(ctx, cfg); err != nil {
		log.Printf("[handlers] save config for %d: %v", cfg.ChatID, err)
		return err
	}
	h.invalidate(ctx, cfg.ChatID, service.KindConfig)
	return nil
}

// invalidate is best-effort: a dropped signal self-heals on the next hydrate.
func (h *Handler) invalidate(ctx context.Context, chatID int64, kind service.InvalidateKind) {
	if err := h.cache.Invalidate(ctx, chatID, kind); err != nil {
		log.Printf("[handlers] invalidate %s for %d: %v", kind, chatID, err)
	}
	if kind == service.KindSubscriptions && h.OnAddressChange != nil {
		h.OnAddressChange()
	}
}

func normalizeAddress(raw string) (string, bool) {
	addr := strings.TrimSpace(raw)
	if !common.IsHexAddress(addr) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), true
}

func parseCategories(args []string) []string {
	var categories []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			cat := strings.ToLower(strings.TrimSpace(part))
			if cat != "" {
				categories = append(categories, cat)
			}
		}
	}
	return categories
}
