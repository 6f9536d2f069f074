package crypto

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Seed labels for program-governed accounts. They must never change: every
// process reconstructs account addresses from these labels alone, with no
// stored mapping.
const (
	vaultSeed       = "vault"
	rewardSeed      = "reward"
	collectibleSeed = "collectible"
	treasurySeed    = "treasury"

	// programTag namespaces all derived accounts so a different deployment
	// of the same owner key cannot collide with ours.
	programTag = "growvault/v1"
)

// ErrInvalidIdentity is returned when the supplied owner identity cannot be
// used for derivation.
var ErrInvalidIdentity = errors.New("crypto: invalid owner identity")

func deriveAccountAddress(seed string, owner Address) (Address, error) {
	if len(owner.Bytes()) != 20 {
		return Address{}, ErrInvalidIdentity
	}
	h := ethcrypto.Keccak256([]byte(seed), []byte(programTag), owner.Bytes())
	return NewAddress(GVPrefix, h[12:]), nil
}

// DeriveVaultAddress computes the owner's vault account address. The result is
// a pure function of the owner identity and fixed seed labels.
func DeriveVaultAddress(owner Address) (Address, error) {
	return deriveAccountAddress(vaultSeed, owner)
}

// DeriveRewardAddress computes the owner's reward accrual account address.
func DeriveRewardAddress(owner Address) (Address, error) {
	return deriveAccountAddress(rewardSeed, owner)
}

// TreasuryAddress returns the reward treasury module address. It takes no
// owner: there is exactly one treasury per deployment.
func TreasuryAddress() Address {
	h := ethcrypto.Keccak256([]byte(treasurySeed), []byte(programTag))
	return NewAddress(GVPrefix, h[12:])
}

// DeriveCollectibleKey derives the keypair backing the owner's collectible
// token identity. The seed is a one-way hash of a fixed label and the owner
// identity, so each owner maps to at most one collectible and its existence
// can be checked without a lookup table.
func DeriveCollectibleKey(owner Address) (*PrivateKey, error) {
	if len(owner.Bytes()) != 20 {
		return nil, ErrInvalidIdentity
	}
	seed := ethcrypto.Keccak256([]byte(collectibleSeed), []byte(programTag), owner.Bytes())
	for {
		key, err := ethcrypto.ToECDSA(seed)
		if err == nil {
			return &PrivateKey{key}, nil
		}
		// The hash fell outside the curve order. Re-hash deterministically
		// until a valid scalar appears; in practice this never iterates.
		seed = ethcrypto.Keccak256(seed)
	}
}
