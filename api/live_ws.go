package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Polymarket live-data stream (public, no key).
	DefaultLiveDataURL = "wss://ws-live-data.polymarket.com"

	liveReconnectDelay = 5 * time.Second
)

// LiveTradeEvent is the subset of the live activity payload we care about.
type LiveTradeEvent struct {
	ProxyWallet string `json:"proxyWallet"`
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
}

// LiveHintHandler is called when a watched wallet shows up on the live feed.
type LiveHintHandler func(address string)

// LiveWatcher keeps a websocket subscription to the global activity stream
// and nudges the scheduler when a watched wallet trades. The poll loop stays
// authoritative; losing this connection only costs latency, never events.
type LiveWatcher struct {
	url    string
	onHint LiveHintHandler

	conn   *websocket.Conn
	connMu sync.Mutex

	watched   map[string]bool
	watchedMu sync.RWMutex

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLiveWatcher creates a watcher. url falls back to the public endpoint.
func NewLiveWatcher(url string, onHint LiveHintHandler) *LiveWatcher {
	if url == "" {
		url = DefaultLiveDataURL
	}
	return &LiveWatcher{
		url:     url,
		onHint:  onHint,
		watched: make(map[string]bool),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// SetWatchedAddresses replaces the set of wallets worth nudging for.
func (w *LiveWatcher) SetWatchedAddresses(addrs []string) {
	w.watchedMu.Lock()
	defer w.watchedMu.Unlock()
	w.watched = make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		w.watched[strings.ToLower(addr)] = true
	}
}

// Start connects and begins reading. Returns an error only if the first
// connection attempt fails; later failures reconnect in the background.
func (w *LiveWatcher) Start(ctx context.Context) error {
	if w.running {
		return fmt.Errorf("live watcher already running")
	}

	if err := w.connect(); err != nil {
		return fmt.Errorf("live connect: %w", err)
	}

	w.running = true
	go w.readLoop(ctx)

	log.Printf("[live] watching activity stream at %s", w.url)
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (w *LiveWatcher) Stop() {
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.connMu.Unlock()

	select {
	case <-w.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("[live] shutdown timeout")
	}
}

func (w *LiveWatcher) connect() error {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(w.url, nil)
	if err != nil {
		return err
	}

	sub := map[string]interface{}{
		"action": "subscribe",
		"subscriptions": []map[string]string{
			{"topic": "activity", "type": "trades"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe write: %w", err)
	}

	w.conn = conn
	return nil
}

func (w *LiveWatcher) readLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()

		if conn == nil {
			w.reconnect(ctx)
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Printf("[live] read error: %v, reconnecting", err)
			w.reconnect(ctx)
			continue
		}

		w.handleMessage(msg)
	}
}

func (w *LiveWatcher) handleMessage(msg []byte) {
	var envelope struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil || envelope.Topic != "activity" {
		return
	}

	var ev LiveTradeEvent
	if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
		return
	}

	addr := strings.ToLower(ev.ProxyWallet)
	w.watchedMu.RLock()
	watched := w.watched[addr]
	w.watchedMu.RUnlock()

	if watched && w.onHint != nil {
		w.onHint(addr)
	}
}

func (w *LiveWatcher) reconnect(ctx context.Context) {
	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-w.stopCh:
		return
	case <-time.After(liveReconnectDelay):
	}

	if err := w.connect(); err != nil {
		log.Printf("[live] reconnect failed: %v", err)
	}
}
