// vault.go - The asset vault: an SMT-backed container for account assets.
//
// Fungible assets occupy one leaf per issuing faucet; non-fungible assets
// are keyed by their own commitment. The vault reduces to the root of its
// tree, which is the vault commitment used in account commitments.

package asset

import (
	"errors"
	"fmt"
	"sort"

	"notechain/internal/crypto"
	"notechain/internal/smt"
)

var (
	// ErrDuplicateNonFungible is returned when issuing a non-fungible asset
	// the vault already holds.
	ErrDuplicateNonFungible = errors.New("asset: duplicate non-fungible asset")
	// ErrAssetNotFound is returned when removing an asset the vault does
	// not hold.
	ErrAssetNotFound = errors.New("asset: asset not found in vault")
)

// Vault stores the assets of one account in a sparse Merkle tree.
type Vault struct {
	tree *smt.Tree
	// nonFungible keeps the full asset per vault key; the tree leaf alone
	// stores only the data hash.
	nonFungible map[crypto.Word]NonFungibleAsset
}

// NewVault returns a vault holding the provided assets.
func NewVault(assets []Asset) (*Vault, error) {
	v := &Vault{
		tree:        smt.NewTree(),
		nonFungible: make(map[crypto.Word]NonFungibleAsset),
	}
	for _, a := range assets {
		if _, err := v.AddAsset(a); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Root returns the vault commitment.
func (v *Vault) Root() crypto.Word {
	return v.tree.Root()
}

// Balance returns the fungible amount held for the given faucet, or 0.
func (v *Vault) Balance(faucet crypto.Word) uint64 {
	value := v.tree.Get(FungibleAsset{Faucet: faucet}.VaultKey())
	if value.IsEmpty() {
		return 0
	}
	_, amount := decodeFungibleValue(value)
	return amount
}

// HasNonFungible reports whether the vault holds the given asset.
func (v *Vault) HasNonFungible(n NonFungibleAsset) bool {
	return !v.tree.Get(n.VaultKey()).IsEmpty()
}

// AddAsset adds an asset to the vault and returns the resulting holding.
// Adding a zero-amount fungible asset to a vault that does not hold the
// asset is a no-op and leaves the vault commitment unchanged.
func (v *Vault) AddAsset(a Asset) (Asset, error) {
	switch a.Kind {
	case KindFungible:
		f, err := v.addFungible(a.Fungible)
		return NewAsset(f), err
	case KindNonFungible:
		return a, v.addNonFungible(a.NonFungible)
	}
	return Asset{}, fmt.Errorf("asset: unknown asset kind %d", a.Kind)
}

// RemoveAsset removes an asset from the vault and returns the removed
// asset.
func (v *Vault) RemoveAsset(a Asset) (Asset, error) {
	switch a.Kind {
	case KindFungible:
		return a, v.removeFungible(a.Fungible)
	case KindNonFungible:
		return a, v.removeNonFungible(a.NonFungible)
	}
	return Asset{}, fmt.Errorf("asset: unknown asset kind %d", a.Kind)
}

func (v *Vault) addFungible(f FungibleAsset) (FungibleAsset, error) {
	if f.Amount > MaxAmount {
		return FungibleAsset{}, fmt.Errorf("%w: %d", ErrInvalidAmount, f.Amount)
	}
	key := f.VaultKey()
	current := v.tree.Get(key)
	if current.IsEmpty() {
		if f.Amount == 0 {
			return f, nil
		}
		_, err := v.tree.Insert(key, encodeFungibleValue(f.Faucet, f.Amount))
		return f, err
	}
	faucet, amount := decodeFungibleValue(current)
	held := FungibleAsset{Faucet: faucet, Amount: amount}
	next, err := held.Add(f)
	if err != nil {
		return FungibleAsset{}, err
	}
	_, err = v.tree.Insert(key, encodeFungibleValue(next.Faucet, next.Amount))
	return next, err
}

func (v *Vault) removeFungible(f FungibleAsset) error {
	key := f.VaultKey()
	current := v.tree.Get(key)
	if current.IsEmpty() {
		return fmt.Errorf("%w: faucet %s", ErrAssetNotFound, f.Faucet)
	}
	faucet, amount := decodeFungibleValue(current)
	held := FungibleAsset{Faucet: faucet, Amount: amount}
	next, err := held.Sub(f)
	if err != nil {
		return err
	}
	value := crypto.EmptyWord
	if next.Amount > 0 {
		value = encodeFungibleValue(next.Faucet, next.Amount)
	}
	_, err = v.tree.Insert(key, value)
	return err
}

func (v *Vault) addNonFungible(n NonFungibleAsset) error {
	key := n.VaultKey()
	if !v.tree.Get(key).IsEmpty() {
		return fmt.Errorf("%w: %s", ErrDuplicateNonFungible, key)
	}
	if _, err := v.tree.Insert(key, n.DataHash); err != nil {
		return err
	}
	v.nonFungible[key] = n
	return nil
}

func (v *Vault) removeNonFungible(n NonFungibleAsset) error {
	key := n.VaultKey()
	if v.tree.Get(key).IsEmpty() {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}
	if _, err := v.tree.Insert(key, crypto.EmptyWord); err != nil {
		return err
	}
	delete(v.nonFungible, key)
	return nil
}

// ApplyDelta applies a vault delta to the vault.
func (v *Vault) ApplyDelta(d VaultDelta) error {
	for faucet, amount := range d.Fungible {
		if amount >= 0 {
			if _, err := v.addFungible(FungibleAsset{Faucet: faucet, Amount: uint64(amount)}); err != nil {
				return err
			}
		} else if err := v.removeFungible(FungibleAsset{Faucet: faucet, Amount: uint64(-amount)}); err != nil {
			return err
		}
	}
	for _, change := range d.NonFungible {
		switch change.Action {
		case ActionAdd:
			if err := v.addNonFungible(change.Asset); err != nil {
				return err
			}
		case ActionRemove:
			if err := v.removeNonFungible(change.Asset); err != nil {
				return err
			}
		}
	}
	return nil
}

// Assets returns all assets in the vault, sorted by vault key.
func (v *Vault) Assets() []Asset {
	entries := v.tree.Entries()
	assets := make([]Asset, 0, len(entries))
	for _, e := range entries {
		if n, ok := v.nonFungible[e.Key]; ok {
			assets = append(assets, NewNonFungible(n))
			continue
		}
		faucet, amount := decodeFungibleValue(e.Value)
		assets = append(assets, NewAsset(FungibleAsset{Faucet: faucet, Amount: amount}))
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].VaultKey().Cmp(assets[j].VaultKey()) < 0
	})
	return assets
}

// Open returns a Merkle opening for the given vault key.
func (v *Vault) Open(key crypto.Word) smt.Opening {
	return v.tree.Open(key)
}

// NumAssets returns the number of assets in the vault.
func (v *Vault) NumAssets() int {
	return v.tree.NumEntries()
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	c := &Vault{
		tree:        v.tree.Clone(),
		nonFungible: make(map[crypto.Word]NonFungibleAsset, len(v.nonFungible)),
	}
	for k, n := range v.nonFungible {
		c.nonFungible[k] = n
	}
	return c
}

// Fungible vault leaves pack the faucet identity and the amount into one
// word so the balance is recoverable from the leaf value alone.
func encodeFungibleValue(faucet crypto.Word, amount uint64) crypto.Word {
	hi, lo := faucet.Uint64Pair()
	value := crypto.WordFromUint64Pair(hi, lo)
	for i := 0; i < 8; i++ {
		value[crypto.WordSize-24+i] = byte(amount >> (56 - 8*i))
	}
	return value
}

func decodeFungibleValue(value crypto.Word) (faucet crypto.Word, amount uint64) {
	hi, lo := value.Uint64Pair()
	faucet = crypto.WordFromUint64Pair(hi, lo)
	for i := 0; i < 8; i++ {
		amount = amount<<8 | uint64(value[crypto.WordSize-24+i])
	}
	return faucet, amount
}
