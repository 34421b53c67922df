// asset.go - Fungible and non-fungible assets held in account vaults.
//
// Assets are a closed set of two variants distinguished by an explicit kind
// tag. A fungible asset is an amount issued by a faucet account; a
// non-fungible asset is a unique item keyed in vaults by its own commitment.

package asset

import (
	"errors"
	"fmt"

	"notechain/internal/crypto"
)

// MaxAmount is the maximum amount of a fungible asset. It is kept below
// 2^63 so kernel-internal balance arithmetic can never overflow the field.
const MaxAmount = uint64(1<<63) - 1

var (
	// ErrAmountOverflow is returned when fungible arithmetic exceeds MaxAmount.
	ErrAmountOverflow = errors.New("asset: fungible amount overflows maximum")
	// ErrInsufficientAmount is returned when removing more than is held.
	ErrInsufficientAmount = errors.New("asset: insufficient fungible amount")
	// ErrInvalidAmount is returned for amounts above MaxAmount.
	ErrInvalidAmount = errors.New("asset: amount exceeds maximum")
)

// Domain separation tags for vault keys.
var (
	tagFungibleKey    = crypto.WordFromUint64(0x6b01)
	tagNonFungibleKey = crypto.WordFromUint64(0x6b02)
)

// Kind tags the asset variant.
type Kind uint8

const (
	// KindFungible marks an amount of a faucet-issued asset.
	KindFungible Kind = iota + 1
	// KindNonFungible marks a unique asset.
	KindNonFungible
)

// FungibleAsset is an amount of an asset issued by the faucet identified by
// Faucet (the faucet account ID packed into a word).
type FungibleAsset struct {
	Faucet crypto.Word `json:"faucet"`
	Amount uint64      `json:"amount"`
}

// NewFungibleAsset returns a fungible asset after validating the amount.
func NewFungibleAsset(faucet crypto.Word, amount uint64) (FungibleAsset, error) {
	if amount > MaxAmount {
		return FungibleAsset{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return FungibleAsset{Faucet: faucet, Amount: amount}, nil
}

// Add returns the sum of two fungible assets of the same faucet.
func (f FungibleAsset) Add(other FungibleAsset) (FungibleAsset, error) {
	if f.Faucet != other.Faucet {
		return FungibleAsset{}, fmt.Errorf("asset: cannot add assets of faucets %s and %s", f.Faucet, other.Faucet)
	}
	sum := f.Amount + other.Amount
	if sum < f.Amount || sum > MaxAmount {
		return FungibleAsset{}, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, f.Amount, other.Amount)
	}
	return FungibleAsset{Faucet: f.Faucet, Amount: sum}, nil
}

// Sub returns the difference of two fungible assets of the same faucet.
func (f FungibleAsset) Sub(other FungibleAsset) (FungibleAsset, error) {
	if f.Faucet != other.Faucet {
		return FungibleAsset{}, fmt.Errorf("asset: cannot subtract assets of faucets %s and %s", f.Faucet, other.Faucet)
	}
	if other.Amount > f.Amount {
		return FungibleAsset{}, fmt.Errorf("%w: have %d, removing %d", ErrInsufficientAmount, f.Amount, other.Amount)
	}
	return FungibleAsset{Faucet: f.Faucet, Amount: f.Amount - other.Amount}, nil
}

// VaultKey returns the vault tree key for this asset. All amounts of the
// same faucet share one key.
func (f FungibleAsset) VaultKey() crypto.Word {
	return crypto.Hash(tagFungibleKey, f.Faucet)
}

// NonFungibleAsset is a unique asset issued by a faucet. DataHash commits
// to the asset's payload.
type NonFungibleAsset struct {
	Faucet   crypto.Word `json:"faucet"`
	DataHash crypto.Word `json:"data_hash"`
}

// NewNonFungibleAsset returns a non-fungible asset for the given payload.
func NewNonFungibleAsset(faucet crypto.Word, data []byte) NonFungibleAsset {
	return NonFungibleAsset{Faucet: faucet, DataHash: crypto.HashBytes(data)}
}

// VaultKey returns the vault tree key for this asset, which is the asset's
// own commitment.
func (n NonFungibleAsset) VaultKey() crypto.Word {
	return crypto.Hash(tagNonFungibleKey, n.Faucet, n.DataHash)
}

// Asset is the tagged union of the two asset variants.
type Asset struct {
	Kind        Kind             `json:"kind"`
	Fungible    FungibleAsset    `json:"fungible,omitempty"`
	NonFungible NonFungibleAsset `json:"non_fungible,omitempty"`
}

// NewAsset wraps a fungible asset.
func NewAsset(f FungibleAsset) Asset {
	return Asset{Kind: KindFungible, Fungible: f}
}

// NewNonFungible wraps a non-fungible asset.
func NewNonFungible(n NonFungibleAsset) Asset {
	return Asset{Kind: KindNonFungible, NonFungible: n}
}

// VaultKey returns the vault tree key of the underlying variant.
func (a Asset) VaultKey() crypto.Word {
	switch a.Kind {
	case KindFungible:
		return a.Fungible.VaultKey()
	case KindNonFungible:
		return a.NonFungible.VaultKey()
	}
	return crypto.EmptyWord
}

// Commitment returns the word committing to this asset at the top level of
// note asset hashes.
func (a Asset) Commitment() crypto.Word {
	switch a.Kind {
	case KindFungible:
		return crypto.Hash(a.Fungible.VaultKey(), crypto.WordFromUint64(a.Fungible.Amount))
	case KindNonFungible:
		return a.NonFungible.VaultKey()
	}
	return crypto.EmptyWord
}
