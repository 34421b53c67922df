// partial.go - Partial vaults: a vault commitment plus lazily verified
// witnesses for the assets a transaction actually touches.
//
// The view is writable: once a vault key is tracked, deltas can be
// applied and the new vault root recomputed from the witnessed paths,
// which is what lets a client advance a private account it only holds
// openings for.

package asset

import (
	"errors"
	"fmt"

	"notechain/internal/crypto"
	"notechain/internal/smt"
)

// ErrAssetUntracked is returned when querying a partial vault for an asset
// no witness has been tracked for.
var ErrAssetUntracked = errors.New("asset: vault key not tracked in partial vault")

// AssetWitness is a Merkle opening of one vault leaf.
type AssetWitness struct {
	Key     crypto.Word `json:"key"`
	Value   crypto.Word `json:"value"`
	Opening smt.Opening `json:"opening"`
}

// PartialVault is a view of a vault carrying authentication paths only for
// the vault keys that were accessed. Witnesses are verified against the
// vault root before they are trusted.
type PartialVault struct {
	tree *smt.PartialTree
}

// NewPartialVault returns an empty partial view of a vault with the given
// root.
func NewPartialVault(root crypto.Word) *PartialVault {
	return &PartialVault{tree: smt.NewPartialTree(root)}
}

// Root returns the current vault commitment of the view.
func (p *PartialVault) Root() crypto.Word {
	return p.tree.Root()
}

// Track verifies a witness against the vault root and absorbs its path.
func (p *PartialVault) Track(w AssetWitness) error {
	if w.Opening.Value(w.Key) != w.Value {
		return fmt.Errorf("asset: witness for key %s attests a different value", w.Key)
	}
	if err := p.tree.AddOpening(w.Key, w.Opening); err != nil {
		return fmt.Errorf("asset: witness for key %s rejected: %w", w.Key, err)
	}
	return nil
}

// IsTracked reports whether a witness for the key has been recorded.
func (p *PartialVault) IsTracked(key crypto.Word) bool {
	return p.tree.IsTracked(key)
}

// Balance returns the authenticated fungible balance for the given faucet.
func (p *PartialVault) Balance(faucet crypto.Word) (uint64, error) {
	value, err := p.tree.Get(FungibleAsset{Faucet: faucet}.VaultKey())
	if err != nil {
		return 0, fmt.Errorf("%w: faucet %s", ErrAssetUntracked, faucet)
	}
	if value.IsEmpty() {
		return 0, nil
	}
	_, amount := decodeFungibleValue(value)
	return amount, nil
}

// HasNonFungible returns whether the vault holds the asset, based on a
// previously tracked witness.
func (p *PartialVault) HasNonFungible(n NonFungibleAsset) (bool, error) {
	key := n.VaultKey()
	value, err := p.tree.Get(key)
	if err != nil {
		return false, fmt.Errorf("%w: key %s", ErrAssetUntracked, key)
	}
	return !value.IsEmpty(), nil
}

// ApplyDelta applies a vault delta through the witnessed paths, updating
// the root. Every touched vault key must already be tracked.
func (p *PartialVault) ApplyDelta(d VaultDelta) error {
	for faucet, adjust := range d.Fungible {
		key := FungibleAsset{Faucet: faucet}.VaultKey()
		current, err := p.tree.Get(key)
		if err != nil {
			return fmt.Errorf("%w: faucet %s", ErrAssetUntracked, faucet)
		}
		var held uint64
		if !current.IsEmpty() {
			_, held = decodeFungibleValue(current)
		}
		var next uint64
		if adjust >= 0 {
			next = held + uint64(adjust)
			if next > MaxAmount || next < held {
				return fmt.Errorf("%w: faucet %s", ErrAmountOverflow, faucet)
			}
		} else {
			sub := uint64(-adjust)
			if sub > held {
				return fmt.Errorf("%w: faucet %s holds %d, removing %d", ErrInsufficientAmount, faucet, held, sub)
			}
			next = held - sub
		}
		value := crypto.EmptyWord
		if next > 0 {
			value = encodeFungibleValue(faucet, next)
		}
		if err := p.tree.Insert(key, value); err != nil {
			return err
		}
	}
	for key, change := range d.NonFungible {
		current, err := p.tree.Get(key)
		if err != nil {
			return fmt.Errorf("%w: key %s", ErrAssetUntracked, key)
		}
		switch change.Action {
		case ActionAdd:
			if !current.IsEmpty() {
				return fmt.Errorf("%w: %s", ErrDuplicateNonFungible, key)
			}
			if err := p.tree.Insert(key, change.Asset.DataHash); err != nil {
				return err
			}
		case ActionRemove:
			if current.IsEmpty() {
				return fmt.Errorf("%w: %s", ErrAssetNotFound, key)
			}
			if err := p.tree.Insert(key, crypto.EmptyWord); err != nil {
				return err
			}
		}
	}
	return nil
}
