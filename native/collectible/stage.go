package collectible

import "math/big"

// Stage names the visual tier of the owner's collectible token. The selection
// below is the only coupling between the accounting engine and the
// presentation layer's asset; it is pure and advisory.
type Stage string

const (
	// StageSeed is shown while the vault is empty.
	StageSeed Stage = "seed"
	// StageTree is shown for any non-zero balance below the legendary
	// threshold.
	StageTree Stage = "tree"
	// StageLegendary is shown at or above the legendary threshold.
	StageLegendary Stage = "legendary"
)

// DefaultLegendaryThreshold is 10 whole units at 10^9 base units each.
var DefaultLegendaryThreshold = new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000))

// StageForBalance selects the tier for a vault balance. A nil threshold falls
// back to DefaultLegendaryThreshold; a nil balance counts as zero.
func StageForBalance(balance, legendaryThreshold *big.Int) Stage {
	if legendaryThreshold == nil || legendaryThreshold.Sign() <= 0 {
		legendaryThreshold = DefaultLegendaryThreshold
	}
	if balance == nil || balance.Sign() == 0 {
		return StageSeed
	}
	if balance.Cmp(legendaryThreshold) >= 0 {
		return StageLegendary
	}
	return StageTree
}
