// partial.go - Partial accounts: header plus witnessed fragments.
//
// A partial account anchors on the header commitment and tracks only the
// vault entries and storage slots a transaction actually touches, each
// backed by a Merkle opening or a full slot payload. Reads outside the
// tracked set fail rather than guessing, and writes flow through the
// witnessed paths so the post-transaction commitment is computable
// without the full state.

package account

import (
	"errors"
	"fmt"
	"math"

	"notechain/internal/asset"
	"notechain/internal/crypto"
	"notechain/internal/smt"
)

// ErrUntrackedState is returned when touching account state the partial
// view does not carry a witness for.
var ErrUntrackedState = errors.New("account: state not tracked by partial account")

// PartialStorage is a storage view holding only witnessed slots.
type PartialStorage struct {
	slots  []SlotHeader
	values map[uint8]crypto.Word
	maps   map[uint8]*smt.PartialTree
}

// NewPartialStorage returns an empty partial view over the given header.
func NewPartialStorage(header StorageHeader) *PartialStorage {
	return &PartialStorage{
		slots:  append([]SlotHeader(nil), header.Slots...),
		values: make(map[uint8]crypto.Word),
		maps:   make(map[uint8]*smt.PartialTree),
	}
}

// Header returns the storage header reflecting any writes so far.
func (p *PartialStorage) Header() StorageHeader {
	return StorageHeader{Slots: append([]SlotHeader(nil), p.slots...)}
}

// Commitment returns the current storage commitment of the view.
func (p *PartialStorage) Commitment() crypto.Word {
	return p.Header().Commitment()
}

// TrackValue records a value slot, checking it against the header.
func (p *PartialStorage) TrackValue(index uint8, value crypto.Word) error {
	slot, err := p.slotHeader(index, SlotValue)
	if err != nil {
		return err
	}
	witness := Slot{Kind: SlotValue, Value: value}
	if witness.Commitment() != slot.Commitment {
		return fmt.Errorf("account: value witness for slot %d does not match header", index)
	}
	p.values[index] = value
	return nil
}

// TrackMapEntry records one map entry, verifying its opening against the
// slot's committed root.
func (p *PartialStorage) TrackMapEntry(index uint8, root crypto.Word, key crypto.Word, opening smt.Opening) error {
	slot, err := p.slotHeader(index, SlotMap)
	if err != nil {
		return err
	}
	if crypto.Hash(crypto.WordFromUint64(uint64(SlotMap)), root) != slot.Commitment {
		return fmt.Errorf("account: map root for slot %d does not match header", index)
	}
	tree, ok := p.maps[index]
	if !ok {
		tree = smt.NewPartialTree(root)
		p.maps[index] = tree
	}
	return tree.AddOpening(key, opening)
}

// GetItem reads a tracked value slot.
func (p *PartialStorage) GetItem(index uint8) (crypto.Word, error) {
	if _, err := p.slotHeader(index, SlotValue); err != nil {
		return crypto.EmptyWord, err
	}
	value, ok := p.values[index]
	if !ok {
		return crypto.EmptyWord, fmt.Errorf("%w: value slot %d", ErrUntrackedState, index)
	}
	return value, nil
}

// SetItem writes a tracked value slot and refreshes its commitment.
func (p *PartialStorage) SetItem(index uint8, value crypto.Word) error {
	if _, err := p.slotHeader(index, SlotValue); err != nil {
		return err
	}
	if _, ok := p.values[index]; !ok {
		return fmt.Errorf("%w: value slot %d", ErrUntrackedState, index)
	}
	p.values[index] = value
	slot := Slot{Kind: SlotValue, Value: value}
	p.slots[index].Commitment = slot.Commitment()
	return nil
}

// GetMapItem reads a tracked map entry.
func (p *PartialStorage) GetMapItem(index uint8, key crypto.Word) (crypto.Word, error) {
	if _, err := p.slotHeader(index, SlotMap); err != nil {
		return crypto.EmptyWord, err
	}
	tree, ok := p.maps[index]
	if !ok {
		return crypto.EmptyWord, fmt.Errorf("%w: map slot %d", ErrUntrackedState, index)
	}
	value, err := tree.Get(key)
	if err != nil {
		return crypto.EmptyWord, fmt.Errorf("%w: map slot %d key %s", ErrUntrackedState, index, key)
	}
	return value, nil
}

// SetMapItem writes a tracked map entry through its witnessed path.
func (p *PartialStorage) SetMapItem(index uint8, key, value crypto.Word) error {
	if _, err := p.slotHeader(index, SlotMap); err != nil {
		return err
	}
	tree, ok := p.maps[index]
	if !ok {
		return fmt.Errorf("%w: map slot %d", ErrUntrackedState, index)
	}
	if err := tree.Insert(key, value); err != nil {
		if errors.Is(err, smt.ErrUntrackedKey) {
			return fmt.Errorf("%w: map slot %d key %s", ErrUntrackedState, index, key)
		}
		return err
	}
	p.slots[index].Commitment = crypto.Hash(crypto.WordFromUint64(uint64(SlotMap)), tree.Root())
	return nil
}

// ApplyDelta applies a storage delta through the witnessed paths.
func (p *PartialStorage) ApplyDelta(d *StorageDelta) error {
	for index, value := range d.Values {
		if err := p.SetItem(index, value); err != nil {
			return err
		}
	}
	for index, entries := range d.Maps {
		for key, value := range entries {
			if err := p.SetMapItem(index, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *PartialStorage) slotHeader(index uint8, kind SlotKind) (SlotHeader, error) {
	if int(index) >= len(p.slots) {
		return SlotHeader{}, fmt.Errorf("%w: slot %d of %d", ErrSlotOutOfRange, index, len(p.slots))
	}
	slot := p.slots[index]
	if slot.Kind != kind {
		return SlotHeader{}, fmt.Errorf("%w: slot %d is kind %d", ErrSlotKindMismatch, index, slot.Kind)
	}
	return slot, nil
}

// PartialAccount is an account view for execution against private or
// remote state: the header plus witnessed vault and storage fragments and
// the full code.
type PartialAccount struct {
	id    ID
	nonce uint64

	vault   *asset.PartialVault
	storage *PartialStorage
	code    *Code

	seed *crypto.Word
}

// NewPartialAccount assembles a partial account. The vault and storage
// views must anchor on the header's roots; new accounts (nonce zero) must
// carry their seed.
func NewPartialAccount(header Header, vault *asset.PartialVault, storage *PartialStorage, code *Code, seed *crypto.Word) (*PartialAccount, error) {
	if vault.Root() != header.VaultRoot {
		return nil, fmt.Errorf("account: partial vault root does not match header for %s", header.ID)
	}
	if storage.Commitment() != header.StorageCommitment {
		return nil, fmt.Errorf("account: partial storage does not match header for %s", header.ID)
	}
	if code.Commitment() != header.CodeCommitment {
		return nil, fmt.Errorf("account: code does not match header for %s", header.ID)
	}
	if header.Nonce == 0 {
		if seed == nil {
			return nil, fmt.Errorf("%w: %s", ErrSeedRequired, header.ID)
		}
		if err := header.ID.ValidateSeed(*seed, header.CodeCommitment, header.StorageCommitment); err != nil {
			return nil, err
		}
	} else if seed != nil {
		return nil, fmt.Errorf("%w: %s", ErrSeedForbidden, header.ID)
	}
	return &PartialAccount{
		id:      header.ID,
		nonce:   header.Nonce,
		vault:   vault,
		storage: storage,
		code:    code,
		seed:    seed,
	}, nil
}

// Header returns the header reflecting the current view state.
func (p *PartialAccount) Header() Header {
	return Header{
		ID:                p.id,
		Nonce:             p.nonce,
		VaultRoot:         p.vault.Root(),
		StorageCommitment: p.storage.Commitment(),
		CodeCommitment:    p.code.Commitment(),
	}
}

// ID returns the account identifier.
func (p *PartialAccount) ID() ID { return p.id }

// Nonce returns the current nonce.
func (p *PartialAccount) Nonce() uint64 { return p.nonce }

// Vault returns the witnessed vault view.
func (p *PartialAccount) Vault() *asset.PartialVault { return p.vault }

// Storage returns the witnessed storage view.
func (p *PartialAccount) Storage() *PartialStorage { return p.storage }

// Code returns the full account code.
func (p *PartialAccount) Code() *Code { return p.code }

// Seed returns the derivation seed of a new account.
func (p *PartialAccount) Seed() (crypto.Word, bool) {
	if p.seed == nil {
		return crypto.EmptyWord, false
	}
	return *p.seed, true
}

// IsNew reports whether the account has never appeared on chain.
func (p *PartialAccount) IsNew() bool { return p.nonce == 0 }

// Commitment returns the account commitment of the current view state.
func (p *PartialAccount) Commitment() crypto.Word { return p.Header().Commitment() }

// ApplyDelta applies a delta through the witnessed paths, mirroring the
// full account's delta rules.
func (p *PartialAccount) ApplyDelta(d *Delta) error {
	if d.AccountID != p.id {
		return fmt.Errorf("%w: delta for %s applied to %s", ErrDeltaAccountMismatch, d.AccountID, p.id)
	}
	if d.HasStateChanges() && d.NonceDelta == 0 {
		return fmt.Errorf("%w: state changes require a nonce increment", ErrInvalidDelta)
	}
	if d.NonceDelta > math.MaxUint64-p.nonce {
		return fmt.Errorf("%w: %d + %d", ErrNonceOverflow, p.nonce, d.NonceDelta)
	}
	if err := p.storage.ApplyDelta(&d.Storage); err != nil {
		return err
	}
	if err := p.vault.ApplyDelta(d.Vault); err != nil {
		return err
	}
	p.nonce += d.NonceDelta
	if p.nonce > 0 {
		p.seed = nil
	}
	return nil
}
