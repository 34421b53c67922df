// delta.go - Vault deltas: the normalized asset changes of one transaction.

package asset

import (
	"errors"
	"fmt"
	"sort"

	"notechain/internal/crypto"
)

// ErrConflictingNonFungible is returned when merging deltas that add and
// re-add (or remove and re-remove) the same non-fungible asset.
var ErrConflictingNonFungible = errors.New("asset: conflicting non-fungible delta actions")

// NonFungibleAction says whether a non-fungible asset enters or leaves the
// vault.
type NonFungibleAction uint8

const (
	// ActionAdd puts the asset into the vault.
	ActionAdd NonFungibleAction = iota + 1
	// ActionRemove takes the asset out of the vault.
	ActionRemove
)

// NonFungibleChange pairs an action with the asset it applies to.
type NonFungibleChange struct {
	Action NonFungibleAction `json:"action"`
	Asset  NonFungibleAsset  `json:"asset"`
}

// VaultDelta is the minimal set of vault changes of one transaction.
// Fungible changes are signed net amounts keyed by faucet; zero entries are
// never stored. Non-fungible changes are add/remove actions keyed by the
// asset's vault key.
type VaultDelta struct {
	Fungible    map[crypto.Word]int64             `json:"fungible,omitempty"`
	NonFungible map[crypto.Word]NonFungibleChange `json:"non_fungible,omitempty"`
}

// NewVaultDelta returns an empty vault delta.
func NewVaultDelta() VaultDelta {
	return VaultDelta{
		Fungible:    make(map[crypto.Word]int64),
		NonFungible: make(map[crypto.Word]NonFungibleChange),
	}
}

// IsEmpty reports whether the delta holds no effective changes.
func (d VaultDelta) IsEmpty() bool {
	return len(d.Fungible) == 0 && len(d.NonFungible) == 0
}

// AddFungible records a net increase of the given fungible asset.
// A delta that nets out to zero is dropped entirely.
func (d VaultDelta) AddFungible(f FungibleAsset) error {
	return d.adjustFungible(f.Faucet, int64(f.Amount))
}

// RemoveFungible records a net decrease of the given fungible asset.
func (d VaultDelta) RemoveFungible(f FungibleAsset) error {
	return d.adjustFungible(f.Faucet, -int64(f.Amount))
}

func (d VaultDelta) adjustFungible(faucet crypto.Word, amount int64) error {
	if amount == 0 {
		return nil
	}
	next := d.Fungible[faucet] + amount
	// The vault enforces balance bounds; the delta only guards against
	// accumulating past the representable range.
	if amount > 0 && next < d.Fungible[faucet] {
		return fmt.Errorf("%w: faucet %s", ErrAmountOverflow, faucet)
	}
	if amount < 0 && next > d.Fungible[faucet] {
		return fmt.Errorf("%w: faucet %s", ErrAmountOverflow, faucet)
	}
	if next == 0 {
		delete(d.Fungible, faucet)
		return nil
	}
	d.Fungible[faucet] = next
	return nil
}

// AddNonFungible records the addition of a non-fungible asset. Adding an
// asset the delta already removes cancels the removal.
func (d VaultDelta) AddNonFungible(n NonFungibleAsset) error {
	return d.applyNonFungible(n, ActionAdd)
}

// RemoveNonFungible records the removal of a non-fungible asset. Removing
// an asset the delta already adds cancels the addition.
func (d VaultDelta) RemoveNonFungible(n NonFungibleAsset) error {
	return d.applyNonFungible(n, ActionRemove)
}

func (d VaultDelta) applyNonFungible(n NonFungibleAsset, action NonFungibleAction) error {
	key := n.VaultKey()
	if existing, ok := d.NonFungible[key]; ok {
		if existing.Action == action {
			return fmt.Errorf("%w: asset %s", ErrConflictingNonFungible, key)
		}
		// Add then remove (or the reverse) nets out to nothing.
		delete(d.NonFungible, key)
		return nil
	}
	d.NonFungible[key] = NonFungibleChange{Action: action, Asset: n}
	return nil
}

// Merge folds another delta into this one. Merging is associative: applying
// a merged delta equals applying both deltas in order.
func (d VaultDelta) Merge(other VaultDelta) error {
	for faucet, amount := range other.Fungible {
		if err := d.adjustFungible(faucet, amount); err != nil {
			return err
		}
	}
	for _, change := range other.NonFungible {
		if err := d.applyNonFungible(change.Asset, change.Action); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the delta.
func (d VaultDelta) Clone() VaultDelta {
	c := NewVaultDelta()
	for k, v := range d.Fungible {
		c.Fungible[k] = v
	}
	for k, v := range d.NonFungible {
		c.NonFungible[k] = v
	}
	return c
}

// CommitmentWords returns the delta's contribution to the account delta
// commitment: a deterministic word sequence over sorted entries.
func (d VaultDelta) CommitmentWords() []crypto.Word {
	words := make([]crypto.Word, 0, 3*(len(d.Fungible)+len(d.NonFungible)))

	faucets := make([]crypto.Word, 0, len(d.Fungible))
	for faucet := range d.Fungible {
		faucets = append(faucets, faucet)
	}
	sort.Slice(faucets, func(i, j int) bool { return faucets[i].Cmp(faucets[j]) < 0 })
	for _, faucet := range faucets {
		amount := d.Fungible[faucet]
		sign := uint64(0)
		if amount < 0 {
			sign = 1
			amount = -amount
		}
		words = append(words, faucet, crypto.WordFromUint64Pair(sign, uint64(amount)))
	}

	keys := make([]crypto.Word, 0, len(d.NonFungible))
	for key := range d.NonFungible {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
	for _, key := range keys {
		change := d.NonFungible[key]
		words = append(words, key, crypto.WordFromUint64(uint64(change.Action)))
	}

	return words
}
