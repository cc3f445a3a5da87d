package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// Public Polymarket data API (no key required).
	DefaultDataAPIURL = "https://data-api.polymarket.com"

	// Maximum results per activity request.
	DefaultPageLimit = 500

	// Safety cap on pagination per address per cycle.
	maxActivityPages = 10
)

// Activity event types as returned by the data API.
const (
	TypeTrade  = "TRADE"
	TypeRedeem = "REDEEM"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Activity represents one entry from the data API activity feed.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Type            string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE, etc.
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            Numeric `json:"size"`
	UsdcSize        Numeric `json:"usdcSize"` // For REDEEM this is the payout amount
	Price           Numeric `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	EventSlug       string  `json:"eventSlug"`
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	Name            string  `json:"name"`
	Pseudonym       string  `json:"pseudonym"`
	TransactionHash string  `json:"transactionHash"`
}

// TxID returns a stable identifier for dedup purposes. The data API sometimes
// omits transactionHash (e.g. for rewards), so fall back to a composite key.
func (a Activity) TxID() string {
	if a.TransactionHash != "" {
		return a.TransactionHash
	}
	return fmt.Sprintf("%s-%d-%s", a.ProxyWallet, a.Timestamp, a.Asset)
}

// Category derives the market category from the slug: first hyphen-separated
// segment, lowercased ("nba-lakers-vs-celtics" -> "nba").
func (a Activity) Category() string {
	slug := a.Slug
	if slug == "" {
		slug = a.EventSlug
	}
	if i := strings.IndexByte(slug, '-'); i > 0 {
		slug = slug[:i]
	}
	return strings.ToLower(slug)
}

// Client queries the Polymarket data API.
type Client struct {
	baseURL    string
	pageLimit  int
	httpClient *http.Client
}

// NewClient creates a data API client. baseURL and pageLimit fall back to
// sensible defaults when zero-valued.
func NewClient(baseURL string, pageLimit int) *Client {
	if baseURL == "" {
		baseURL = DefaultDataAPIURL
	}
	if pageLimit <= 0 || pageLimit > DefaultPageLimit {
		pageLimit = DefaultPageLimit
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageLimit: pageLimit,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetActivity fetches activity for one wallet with timestamp >= since,
// oldest first. Paginates until a short page or the page cap.
func (c *Client) GetActivity(ctx context.Context, address string, since int64) ([]Activity, error) {
	address = strings.ToLower(address)

	var all []Activity
	for page := 0; page < maxActivityPages; page++ {
		batch, err := c.fetchActivityPage(ctx, address, since, len(all))
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < c.pageLimit {
			break
		}
	}
	return all, nil
}

func (c *Client) fetchActivityPage(ctx context.Context, address string, since int64, offset int) ([]Activity, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("limit", strconv.Itoa(c.pageLimit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sortBy", "TIMESTAMP")
	params.Set("sortDirection", "ASC")
	if since > 0 {
		params.Set("start", strconv.FormatInt(since, 10))
	}

	reqURL := fmt.Sprintf("%s/activity?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build activity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch activity for %s: %w", address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read activity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("activity request for %s: status %d: %s", address, resp.StatusCode, truncate(string(body), 200))
	}

	var activities []Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("decode activity response: %w", err)
	}
	return activities, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
