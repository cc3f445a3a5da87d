package notify

import (
	"strings"
	"testing"

	"polymarket-notifier/api"
	"polymarket-notifier/models"
)

func sampleTrade(side string) api.Activity {
	return api.Activity{
		Type:            api.TypeTrade,
		Side:            side,
		Timestamp:       1700000000,
		UsdcSize:        1234.5,
		Size:            2469,
		Price:           0.5,
		Title:           "Lakers vs Celtics",
		Slug:            "nba-lakers-vs-celtics",
		EventSlug:       "nba-lakers-vs-celtics",
		Outcome:         "Lakers",
		TransactionHash: "0xabc",
	}
}

func TestRenderBuyEnglish(t *testing.T) {
	got := Render(sampleTrade(api.SideBuy), "whale", "0xaaaa", models.LangEN)

	for _, want := range []string{
		"bought",
		"<b>whale</b>",
		"<b>Lakers</b>",
		"50¢",
		"$1,234.50",
		"2,469 shares",
		"<i>Lakers vs Celtics</i>",
		"polymarket.com/event/nba-lakers-vs-celtics",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q:\n%s", want, got)
		}
	}
}

func TestRenderSellChinese(t *testing.T) {
	got := Render(sampleTrade(api.SideSell), "whale", "0xaaaa", models.LangZH)

	if !strings.Contains(got, "卖出") {
		t.Errorf("expected Chinese sell verb, got:\n%s", got)
	}
	if !strings.Contains(got, "$1,234.50") {
		t.Errorf("amount missing, got:\n%s", got)
	}
}

func TestRenderRedeem(t *testing.T) {
	ev := sampleTrade("")
	ev.Type = api.TypeRedeem

	got := Render(ev, "whale", "0xaaaa", models.LangEN)
	if !strings.Contains(got, "redeemed") {
		t.Errorf("expected redeem message, got:\n%s", got)
	}
	if strings.Contains(got, "shares") {
		t.Errorf("redeem message should not mention shares:\n%s", got)
	}
}

func TestRenderUnsupportedKinds(t *testing.T) {
	split := sampleTrade("")
	split.Type = "SPLIT"
	if got := Render(split, "whale", "0xaaaa", models.LangEN); got != "" {
		t.Errorf("SPLIT rendered: %q", got)
	}

	sidelessTrade := sampleTrade("LIMIT")
	if got := Render(sidelessTrade, "whale", "0xaaaa", models.LangEN); got != "" {
		t.Errorf("unknown trade side rendered: %q", got)
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	ev := sampleTrade(api.SideBuy)
	ev.Title = "Will <script> win?"

	got := Render(ev, "a<b>user", "0xaaaa", models.LangEN)
	if strings.Contains(got, "<script>") {
		t.Errorf("title not escaped:\n%s", got)
	}
	if !strings.Contains(got, "a&lt;b&gt;user") {
		t.Errorf("display name not escaped:\n%s", got)
	}
}

func TestRenderFallsBackToShortAddress(t *testing.T) {
	got := Render(sampleTrade(api.SideBuy), "", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", models.LangEN)
	if !strings.Contains(got, models.ShortAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")) {
		t.Errorf("expected shortened address in message:\n%s", got)
	}
}

func TestRenderUnknownLanguageDefaultsToEnglish(t *testing.T) {
	got := Render(sampleTrade(api.SideBuy), "whale", "0xaaaa", models.Language("fr"))
	if !strings.Contains(got, "bought") {
		t.Errorf("expected English fallback, got:\n%s", got)
	}
}

func TestFormatUSDC(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{9.9, "9.90"},
		{1234.5, "1,234.50"},
		{1000000, "1,000,000.00"},
		{-1234.5, "-1,234.50"},
	}
	for _, tt := range tests {
		if got := formatUSDC(tt.in); got != tt.want {
			t.Errorf("formatUSDC(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatShares(t *testing.T) {
	if got := formatShares(2469); got != "2,469" {
		t.Errorf("formatShares(2469) = %q, want 2,469", got)
	}
	if got := formatShares(10.5); got != "10.50" {
		t.Errorf("formatShares(10.5) = %q, want 10.50", got)
	}
}
