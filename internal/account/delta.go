// delta.go - Account deltas: the normalized state change of one transaction.
//
// A delta carries storage-slot updates, vault changes and a nonce
// increment. Deltas are left-foldable: applying merge(a, b) to an account
// equals applying a then b. A delta with no effective changes commits to a
// fixed empty-delta constant regardless of the account it targets.

package account

import (
	"errors"
	"fmt"
	"sort"

	"notechain/internal/asset"
	"notechain/internal/crypto"
)

var (
	// ErrInvalidDelta is returned for deltas that cannot be applied to the
	// target account.
	ErrInvalidDelta = errors.New("account: invalid delta")
	// ErrDeltaAccountMismatch is returned when merging or applying a delta
	// built for a different account.
	ErrDeltaAccountMismatch = errors.New("account: delta targets a different account")
)

var (
	tagDelta      = crypto.WordFromUint64(0xd301)
	tagEmptyDelta = crypto.WordFromUint64(0xd300)
)

// EmptyDeltaCommitment is the commitment of any delta with no effective
// changes, independent of the account.
func EmptyDeltaCommitment() crypto.Word {
	return crypto.Hash(tagEmptyDelta)
}

// StorageDelta is the storage part of an account delta.
type StorageDelta struct {
	Values map[uint8]crypto.Word                 `json:"values,omitempty"`
	Maps   map[uint8]map[crypto.Word]crypto.Word `json:"maps,omitempty"`
}

// NewStorageDelta returns an empty storage delta.
func NewStorageDelta() StorageDelta {
	return StorageDelta{
		Values: make(map[uint8]crypto.Word),
		Maps:   make(map[uint8]map[crypto.Word]crypto.Word),
	}
}

// IsEmpty reports whether the storage delta has no changes.
func (d StorageDelta) IsEmpty() bool {
	return len(d.Values) == 0 && len(d.Maps) == 0
}

// SetValue records a slot update.
func (d StorageDelta) SetValue(index uint8, value crypto.Word) {
	d.Values[index] = value
}

// SetMapEntry records a map entry update.
func (d StorageDelta) SetMapEntry(index uint8, key, value crypto.Word) {
	entries, ok := d.Maps[index]
	if !ok {
		entries = make(map[crypto.Word]crypto.Word)
		d.Maps[index] = entries
	}
	entries[key] = value
}

// RemoveValue drops a recorded slot update, if any.
func (d StorageDelta) RemoveValue(index uint8) {
	delete(d.Values, index)
}

// RemoveMapEntry drops a recorded map entry update, if any.
func (d StorageDelta) RemoveMapEntry(index uint8, key crypto.Word) {
	entries, ok := d.Maps[index]
	if !ok {
		return
	}
	delete(entries, key)
	if len(entries) == 0 {
		delete(d.Maps, index)
	}
}

// Merge folds another storage delta into this one; later writes win.
func (d StorageDelta) Merge(other StorageDelta) {
	for index, value := range other.Values {
		d.Values[index] = value
	}
	for index, entries := range other.Maps {
		for key, value := range entries {
			d.SetMapEntry(index, key, value)
		}
	}
}

// Clone returns a deep copy.
func (d StorageDelta) Clone() StorageDelta {
	c := NewStorageDelta()
	c.Merge(d)
	return c
}

// commitmentWords returns a deterministic word sequence over the delta.
func (d StorageDelta) commitmentWords() []crypto.Word {
	var words []crypto.Word

	valueSlots := make([]int, 0, len(d.Values))
	for index := range d.Values {
		valueSlots = append(valueSlots, int(index))
	}
	sort.Ints(valueSlots)
	for _, index := range valueSlots {
		words = append(words, crypto.WordFromUint64(uint64(index)), d.Values[uint8(index)])
	}

	mapSlots := make([]int, 0, len(d.Maps))
	for index := range d.Maps {
		mapSlots = append(mapSlots, int(index))
	}
	sort.Ints(mapSlots)
	for _, index := range mapSlots {
		entries := d.Maps[uint8(index)]
		keys := make([]crypto.Word, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
		for _, key := range keys {
			words = append(words, crypto.WordFromUint64(uint64(index)), key, entries[key])
		}
	}
	return words
}

// Delta is the full state change of one transaction against one account.
type Delta struct {
	AccountID  ID               `json:"account_id"`
	Storage    StorageDelta     `json:"storage"`
	Vault      asset.VaultDelta `json:"vault"`
	NonceDelta uint64           `json:"nonce_delta"`
}

// NewDelta returns an empty delta for the given account.
func NewDelta(id ID) *Delta {
	return &Delta{
		AccountID: id,
		Storage:   NewStorageDelta(),
		Vault:     asset.NewVaultDelta(),
	}
}

// IsEmpty reports whether the delta carries no effective changes. The
// nonce increment alone does not make a delta non-empty for conflict
// accounting, but it does change the commitment.
func (d *Delta) IsEmpty() bool {
	return d.Storage.IsEmpty() && d.Vault.IsEmpty() && d.NonceDelta == 0
}

// HasStateChanges reports whether the delta mutates storage or vault.
func (d *Delta) HasStateChanges() bool {
	return !d.Storage.IsEmpty() || !d.Vault.IsEmpty()
}

// Merge folds a later delta into this one. Deltas are associative under
// merge.
func (d *Delta) Merge(other *Delta) error {
	if d.AccountID != other.AccountID {
		return fmt.Errorf("%w: %s vs %s", ErrDeltaAccountMismatch, d.AccountID, other.AccountID)
	}
	next := d.NonceDelta + other.NonceDelta
	if next < d.NonceDelta {
		return fmt.Errorf("%w: nonce delta overflow", ErrInvalidDelta)
	}
	d.Storage.Merge(other.Storage)
	if err := d.Vault.Merge(other.Vault); err != nil {
		return err
	}
	d.NonceDelta = next
	return nil
}

// Clone returns a deep copy of the delta.
func (d *Delta) Clone() *Delta {
	return &Delta{
		AccountID:  d.AccountID,
		Storage:    d.Storage.Clone(),
		Vault:      d.Vault.Clone(),
		NonceDelta: d.NonceDelta,
	}
}

// Commitment returns the delta commitment. Empty deltas commit to the
// fixed empty-delta constant.
func (d *Delta) Commitment() crypto.Word {
	if d.IsEmpty() {
		return EmptyDeltaCommitment()
	}
	words := []crypto.Word{
		tagDelta,
		d.AccountID.Word(),
		crypto.WordFromUint64(d.NonceDelta),
	}
	words = append(words, d.Storage.commitmentWords()...)
	words = append(words, d.Vault.CommitmentWords()...)
	return crypto.Hash(words...)
}
