package usage

import "fmt"

const premiumBannerText = "You have unlimited analyses with your premium account."

// Banner is the rendered quota banner.
type Banner struct {
	Visible   bool   `json:"visible"`
	Unlimited bool   `json:"unlimited"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Text      string `json:"text"`
}

// RenderBanner projects a summary into the banner. Counts are clamped at zero
// since the server value may be stale during a race.
func RenderBanner(s *Summary) Banner {
	if s == nil {
		return Banner{}
	}
	if s.IsPremium {
		return Banner{Visible: true, Unlimited: true, Text: premiumBannerText}
	}
	if s.Limit == nil || s.RemainingToday == nil {
		return Banner{}
	}

	limit := *s.Limit
	remaining := *s.RemainingToday
	used := limit - remaining
	if s.UsedToday != nil {
		used = *s.UsedToday
	}
	used = max(0, used)
	remaining = max(0, remaining)

	return Banner{
		Visible:   true,
		Used:      used,
		Remaining: remaining,
		Limit:     limit,
		Text:      fmt.Sprintf("Free analyses today: %d / %d (used %d).", remaining, limit, used),
	}
}
