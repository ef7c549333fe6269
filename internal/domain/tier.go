package domain

import "time"

// Tier classifies subscribers. It controls broadcast cadence, payload size
// and which notification channels are eligible.
type Tier int

const (
	TierFree Tier = iota
	TierPro
	TierElite
)

func (t Tier) String() string {
	switch t {
	case TierElite:
		return "elite"
	case TierPro:
		return "pro"
	default:
		return "free"
	}
}

// ParseTier maps a stored tier name to a Tier, defaulting to free.
func ParseTier(s string) Tier {
	switch s {
	case "elite":
		return TierElite
	case "pro":
		return TierPro
	default:
		return TierFree
	}
}

// TierConfig is the static per-tier delivery profile. Cadence zero means
// "push every update" (subject to the broadcaster's coalescing window).
// RowLimit zero means unlimited.
type TierConfig struct {
	Tier     Tier
	Cadence  time.Duration
	RowLimit int
}

// DefaultTierConfigs mirror the product tiers: elite gets every update,
// pro every 5 minutes, free every 15 minutes with a trimmed payload.
func DefaultTierConfigs() []TierConfig {
	return []TierConfig{
		{Tier: TierElite, Cadence: 0, RowLimit: 0},
		{Tier: TierPro, Cadence: 5 * time.Minute, RowLimit: 500},
		{Tier: TierFree, Cadence: 15 * time.Minute, RowLimit: 50},
	}
}
