// Package syncer drives the notification poll cycle: fetch new activity for
// every watched address, match it against subscriber policy, and deliver.
package syncer

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"polymarket-notifier/api"
	"polymarket-notifier/config"
	"polymarket-notifier/models"
	"polymarket-notifier/service"
	"polymarket-notifier/storage"
)

// batchSeparator joins events batched into a single Telegram message.
const batchSeparator = "\n\n———\n\n"

// ActivityFetcher is the upstream activity feed.
type ActivityFetcher interface {
	GetActivity(ctx context.Context, address string, since int64) ([]api.Activity, error)
}

// MessageSender delivers one rendered message to one chat. ok=false means
// Telegram rejected the send; errors are transport faults.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (bool, error)
}

// RenderFunc formats one event for one subscriber. Empty string means the
// event kind is not notifiable.
type RenderFunc func(ev api.Activity, displayName, address string, lang models.Language) string

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	TotalSubscriptions int
	AddressesChecked   int
	EventsProcessed    int
	NotificationsSent  int
}

// pendingMessage is cycle-local delivery state, discarded after the cycle.
type pendingMessage struct {
	chatID    int64
	address   string
	text      string
	eventTime int64
	txID      string
}

// Notifier runs poll cycles. One instance, one in-flight cycle at a time
// (the scheduler guarantees no overlap).
type Notifier struct {
	fetcher ActivityFetcher
	sender  MessageSender
	store   storage.DataStore
	cache   *service.SubscriberCache
	cfg     *config.Config
	render  RenderFunc

	now func() time.Time
}

// NewNotifier wires the poll cycle's collaborators.
func NewNotifier(fetcher ActivityFetcher, sender MessageSender, store storage.DataStore, cache *service.SubscriberCache, cfg *config.Config, render RenderFunc) *Notifier {
	return &Notifier{
		fetcher: fetcher,
		sender:  sender,
		store:   store,
		cache:   cache,
		cfg:     cfg,
		render:  render,
		now:     time.Now,
	}
}

// RunCycle executes one poll cycle. Per-address and per-send failures are
// logged and skipped; the cycle itself never fails.
func (n *Notifier) RunCycle(ctx context.Context) CycleResult {
	var result CycleResult

	grouped := n.cache.GroupedByAddress()
	result.TotalSubscriptions = n.cache.TotalSubscriptions()
	if len(grouped) == 0 {
		return result
	}

	validAddresses := make(map[string]bool, len(grouped))
	for addr := range grouped {
		validAddresses[addr] = true
	}

	marks, err := n.store.Watermarks(ctx)
	if err != nil {
		log.Printf("[notify] failed to load watermarks, skipping cycle: %v", err)
		return result
	}
	recentIDs, err := n.store.RecentTxIDs(ctx)
	if err != nil {
		// Losing the delivered set only disables same-second tie-breaking
		// and re-send suppression; the strict timestamp predicate still holds.
		log.Printf("[notify] failed to load recent delivery keys: %v", err)
		recentIDs = map[string]bool{}
	}

	var (
		mu      sync.Mutex
		staged  = make(map[string]int64)
		pending []pendingMessage
	)

	concurrency := n.cfg.Poll.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for address, watchers := range grouped {
		wg.Add(1)
		go func(address string, watchers []models.Subscription) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			lastSeen := marks[address].LastSeen
			msgs, maxSeen, processed, err := n.checkAddress(ctx, address, watchers, lastSeen, recentIDs)

			mu.Lock()
			defer mu.Unlock()
			result.AddressesChecked++
			if err != nil {
				log.Printf("[notify] %s: %v", models.ShortAddress(address), err)
				return
			}
			result.EventsProcessed += processed
			if maxSeen > lastSeen {
				staged[address] = maxSeen
			}
			pending = append(pending, msgs...)
		}(address, watchers)
	}
	wg.Wait()

	// Cross-address chronological order for chats watching several wallets.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].eventTime < pending[j].eventTime
	})

	delivered, failClamp := n.deliver(ctx, pending)
	result.NotificationsSent = len(delivered)

	// A failed batch holds its address back so the events stay "new" and are
	// retried next cycle; per-chat delivery keys suppress re-sends to the
	// chats that did receive them.
	for addr, clamp := range failClamp {
		if cur, ok := staged[addr]; ok && cur > clamp {
			if clamp > 0 {
				staged[addr] = clamp
			} else {
				delete(staged, addr)
			}
		}
	}

	if err := n.store.CommitCycle(ctx, staged, delivered, validAddresses); err != nil {
		log.Printf("[notify] failed to commit cycle: %v", err)
	}

	return result
}

// checkAddress fetches and evaluates one address. Returns the rendered
// pending messages, the max event time seen, and the count of new events.
func (n *Notifier) checkAddress(ctx context.Context, address string, watchers []models.Subscription, lastSeen int64, recentIDs map[string]bool) ([]pendingMessage, int64, int, error) {
	var since int64
	if lastSeen > 0 {
		// One second back to tolerate equal-timestamp ties at the boundary.
		since = lastSeen - 1
	} else {
		earliest := earliestAddedAt(watchers)
		if earliest.IsZero() {
			// Legacy subscription rows without a creation time: anchor the
			// watermark at now and pick the address up next cycle.
			return nil, n.now().Unix(), 0, nil
		}
		since = earliest.Unix()
	}

	fetchTimeout := time.Duration(n.cfg.Poll.FetchTimeoutMS) * time.Millisecond
	if fetchTimeout <= 0 {
		fetchTimeout = 8 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	events, err := n.fetcher.GetActivity(fctx, address, since)
	cancel()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("fetch activity: %w", err)
	}

	fresh := make([]api.Activity, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		if !n.isNew(ev, lastSeen, len(recentIDs) > 0) {
			continue
		}
		// Upstream occasionally repeats rows across pages.
		id := ev.TxID()
		if seen[id] {
			continue
		}
		seen[id] = true
		fresh = append(fresh, ev)
	}

	// Oldest first: delivery order must reflect real-world event order.
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Timestamp < fresh[j].Timestamp
	})

	maxSeen := lastSeen
	var msgs []pendingMessage
	for _, ev := range fresh {
		if ev.Timestamp > maxSeen {
			maxSeen = ev.Timestamp
		}
		if !n.notifiable(ev) {
			continue
		}
		category := ev.Category()
		for _, watcher := range watchers {
			if ev.Timestamp <= watcher.AddedAt.Unix() {
				continue // no backfill before the subscription
			}
			if recentIDs[deliveryKey(watcher.ChatID, ev.TxID())] {
				// This chat already got the event; a clamped watermark after a
				// partial failure re-surfaces it for the chats that did not.
				continue
			}
			chatCfg := n.cache.ConfigFor(watcher.ChatID)
			if chatCfg.MinAmountUSDC > 0 && ev.UsdcSize.Float64() < chatCfg.MinAmountUSDC {
				continue
			}
			if !chatCfg.Filter.Allows(category) {
				continue
			}
			text := n.render(ev, watcher.DisplayName(), address, chatCfg.Language)
			if text == "" {
				continue
			}
			msgs = append(msgs, pendingMessage{
				chatID:    watcher.ChatID,
				address:   address,
				text:      text,
				eventTime: ev.Timestamp,
				txID:      ev.TxID(),
			})
		}
	}

	return msgs, maxSeen, len(fresh), nil
}

// isNew is the address-level newness predicate: strictly past the watermark,
// or sharing its second with it. Equal-timestamp events are only candidates
// when delivery history exists (per-chat keys then decide who already got
// them), so a cold watermark cannot cause re-deliveries.
func (n *Notifier) isNew(ev api.Activity, lastSeen int64, haveHistory bool) bool {
	if ev.Timestamp > lastSeen {
		return true
	}
	return ev.Timestamp == lastSeen && haveHistory
}

// deliveryKey identifies one event delivered to one chat. Keying the dedup
// set per chat lets a partial send failure redeliver to the failed chat
// without repeating the send to chats that already received the event.
func deliveryKey(chatID int64, txID string) string {
	return fmt.Sprintf("%d:%s", chatID, txID)
}

// notifiable applies the product-level kind policy.
func (n *Notifier) notifiable(ev api.Activity) bool {
	switch ev.Type {
	case api.TypeTrade:
		return ev.Side == api.SideBuy || ev.Side == api.SideSell
	case api.TypeRedeem:
		return n.cfg.Notify.IncludeRedeem
	default:
		return false
	}
}

// deliver sends pending messages in (chat, address) batches, serially with
// jitter. Returns the delivery keys of sent (chat, event) pairs and, per
// address, the watermark clamp below the earliest failed event.
func (n *Notifier) deliver(ctx context.Context, pending []pendingMessage) ([]string, map[string]int64) {
	failClamp := make(map[string]int64)
	if len(pending) == 0 {
		return nil, failClamp
	}

	batches := buildBatches(pending, n.cfg.Poll.BatchLimit)

	var delivered []string
	for i, batch := range batches {
		if i > 0 {
			n.sendPause()
		}

		texts := make([]string, 0, len(batch))
		for _, msg := range batch {
			texts = append(texts, msg.text)
		}

		ok, err := n.sender.SendMessage(ctx, batch[0].chatID, strings.Join(texts, batchSeparator))
		if err != nil || !ok {
			if err != nil {
				log.Printf("[notify] send to chat %d failed: %v", batch[0].chatID, err)
			} else {
				log.Printf("[notify] send to chat %d rejected", batch[0].chatID)
			}
			addr := batch[0].address
			clamp := batch[0].eventTime - 1
			if cur, ok := failClamp[addr]; !ok || clamp < cur {
				failClamp[addr] = clamp
			}
			continue
		}

		for _, msg := range batch {
			delivered = append(delivered, deliveryKey(msg.chatID, msg.txID))
		}
	}

	return delivered, failClamp
}

// buildBatches groups globally sorted messages by (chat, address) and chunks
// each group. Batch order follows each batch's oldest event.
func buildBatches(pending []pendingMessage, limit int) [][]pendingMessage {
	if limit <= 0 {
		limit = 5
	}

	type batchKey struct {
		chatID  int64
		address string
	}

	order := make([]batchKey, 0)
	groups := make(map[batchKey][]pendingMessage)
	for _, msg := range pending {
		key := batchKey{msg.chatID, msg.address}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], msg)
	}

	var batches [][]pendingMessage
	for _, key := range order {
		msgs := groups[key]
		for start := 0; start < len(msgs); start += limit {
			end := start + limit
			if end > len(msgs) {
				end = len(msgs)
			}
			batches = append(batches, msgs[start:end])
		}
	}

	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i][0].eventTime < batches[j][0].eventTime
	})
	return batches
}

// sendPause sleeps a randomized 100–200ms between sends to stay under the
// per-second send ceiling.
func (n *Notifier) sendPause() {
	minMS := n.cfg.Poll.SendDelayMinMS
	maxMS := n.cfg.Poll.SendDelayMaxMS
	if maxMS <= 0 || maxMS < minMS {
		return
	}
	delay := minMS
	if maxMS > minMS {
		delay += rand.Intn(maxMS - minMS + 1)
	}
	time.Sleep(time.Duration(delay) * time.Millisecond)
}

func earliestAddedAt(watchers []models.Subscription) time.Time {
	var earliest time.Time
	for _, w := range watchers {
		if w.AddedAt.IsZero() {
			continue
		}
		if earliest.IsZero() || w.AddedAt.Before(earliest) {
			earliest = w.AddedAt
		}
	}
	return earliest
}
