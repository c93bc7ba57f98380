package locks

import (
	"github.com/shopspring/decimal"

	"github.com/stake-plus/stakegate/src/api/types"
)

// TierRule is one row of the tier table. Amounts are in the stake denom's
// smallest unit.
type TierRule struct {
	Tier       types.Tier      `json:"tier"`
	MinAmount  int64           `json:"minAmount"`
	MinDays    int             `json:"minDurationDays"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// tierTable is ordered lowest privilege first.
var tierTable = []TierRule{
	{Tier: types.TierBronze, MinAmount: 1_000, MinDays: 30, Multiplier: decimal.RequireFromString("1.0")},
	{Tier: types.TierSilver, MinAmount: 10_000, MinDays: 90, Multiplier: decimal.RequireFromString("1.25")},
	{Tier: types.TierGold, MinAmount: 50_000, MinDays: 180, Multiplier: decimal.RequireFromString("1.5")},
	{Tier: types.TierDiamond, MinAmount: 250_000, MinDays: 365, Multiplier: decimal.RequireFromString("2.0")},
}

// ListTiers returns a copy of the tier table, lowest first.
func ListTiers() []TierRule {
	out := make([]TierRule, len(tierTable))
	copy(out, tierTable)
	return out
}

// CalculateTier returns the highest tier whose amount and duration minimums
// are both met, or TierNone.
func CalculateTier(amount int64, durationDays int) types.Tier {
	best := types.TierNone
	for _, r := range tierTable {
		if amount >= r.MinAmount && durationDays >= r.MinDays {
			best = r.Tier
		}
	}
	return best
}

// Multiplier is the voting weight applied to stake locked at tier t. TierNone
// weighs nothing.
func Multiplier(t types.Tier) decimal.Decimal {
	for _, r := range tierTable {
		if r.Tier == t {
			return r.Multiplier
		}
	}
	return decimal.Zero
}
