// Package notify renders activity events into per-language Telegram messages.
package notify

import (
	"fmt"
	"html"
	"strings"

	"polymarket-notifier/api"
	"polymarket-notifier/models"
)

// messageSet holds the format strings for one language. Argument order is
// fixed: name, outcome, price in cents, title, USDC amount, share count.
type messageSet struct {
	buy    string
	sell   string
	redeem string
}

var messagesByLang = map[models.Language]messageSet{
	models.LangEN: {
		buy:    "🟢 <b>%s</b> bought <b>%s</b> at %d¢\n%s\n💵 $%s (%s shares)",
		sell:   "🔴 <b>%s</b> sold <b>%s</b> at %d¢\n%s\n💵 $%s (%s shares)",
		redeem: "🏆 <b>%s</b> redeemed <b>%s</b>\n%s\n💵 $%s",
	},
	models.LangZH: {
		buy:    "🟢 <b>%s</b> 买入 <b>%s</b>，价格 %d¢\n%s\n💵 $%s（%s 股）",
		sell:   "🔴 <b>%s</b> 卖出 <b>%s</b>，价格 %d¢\n%s\n💵 $%s（%s 股）",
		redeem: "🏆 <b>%s</b> 赎回 <b>%s</b>\n%s\n💵 $%s",
	},
}

// Render formats one activity event for one subscriber. Returns "" for event
// kinds that are not notifiable (splits, merges, rewards, conversions).
func Render(ev api.Activity, displayName, address string, lang models.Language) string {
	set, ok := messagesByLang[lang]
	if !ok {
		set = messagesByLang[models.LangEN]
	}

	name := html.EscapeString(displayName)
	if name == "" {
		name = models.ShortAddress(address)
	}
	outcome := html.EscapeString(ev.Outcome)
	title := titleLine(ev)
	amount := formatUSDC(ev.UsdcSize.Float64())
	shares := formatShares(ev.Size.Float64())

	var body string
	switch ev.Type {
	case api.TypeTrade:
		cents := int(ev.Price.Float64()*100 + 0.5)
		switch ev.Side {
		case api.SideBuy:
			body = fmt.Sprintf(set.buy, name, outcome, cents, title, amount, shares)
		case api.SideSell:
			body = fmt.Sprintf(set.sell, name, outcome, cents, title, amount, shares)
		default:
			return ""
		}
	case api.TypeRedeem:
		body = fmt.Sprintf(set.redeem, name, outcome, title, amount)
	default:
		return ""
	}

	if link := marketLink(ev); link != "" {
		body += "\n" + link
	}
	return body
}

func titleLine(ev api.Activity) string {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = ev.Slug
	}
	return "<i>" + html.EscapeString(title) + "</i>"
}

func marketLink(ev api.Activity) string {
	if ev.EventSlug == "" {
		return ""
	}
	return fmt.Sprintf(`<a href="https://polymarket.com/event/%s">polymarket.com</a>`, ev.EventSlug)
}

// formatUSDC renders an amount with thousands separators and two decimals.
func formatUSDC(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]

	neg := false
	if strings.HasPrefix(intPart, "-") {
		neg = true
		intPart = intPart[1:]
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

func formatShares(v float64) string {
	s := formatUSDC(v)
	if strings.HasSuffix(s, ".00") {
		return s[:len(s)-3]
	}
	return s
}
