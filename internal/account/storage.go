// storage.go - Account storage: indexed slots holding words or maps.
//
// A slot holds either a single word or a sparse Merkle map. The storage
// commitment hashes the per-slot commitments in slot order, so slot layout
// is part of the account's identity for seed-derived accounts.

package account

import (
	"errors"
	"fmt"

	"notechain/internal/crypto"
	"notechain/internal/smt"
)

// MaxStorageSlots bounds the number of slots in one account.
const MaxStorageSlots = 255

// SlotKind distinguishes value slots from map slots.
type SlotKind uint8

const (
	// SlotValue holds a single word.
	SlotValue SlotKind = iota + 1
	// SlotMap holds a key-value map committed by its tree root.
	SlotMap
)

var (
	// ErrSlotOutOfRange is returned when addressing a slot the account
	// does not have.
	ErrSlotOutOfRange = errors.New("account: storage slot out of range")
	// ErrSlotKindMismatch is returned when a value operation targets a map
	// slot or the reverse.
	ErrSlotKindMismatch = errors.New("account: storage slot kind mismatch")
)

// Slot is one storage slot.
type Slot struct {
	Kind  SlotKind    `json:"kind"`
	Value crypto.Word `json:"value,omitempty"`
	Map   *smt.Tree   `json:"map,omitempty"`
}

// NewValueSlot returns a value slot holding the given word.
func NewValueSlot(value crypto.Word) Slot {
	return Slot{Kind: SlotValue, Value: value}
}

// NewMapSlot returns an empty map slot.
func NewMapSlot() Slot {
	return Slot{Kind: SlotMap, Map: smt.NewTree()}
}

// Commitment returns the slot commitment: the value itself for value
// slots, the map root for map slots, domain-separated by kind.
func (s *Slot) Commitment() crypto.Word {
	switch s.Kind {
	case SlotValue:
		return crypto.Hash(crypto.WordFromUint64(uint64(s.Kind)), s.Value)
	case SlotMap:
		return crypto.Hash(crypto.WordFromUint64(uint64(s.Kind)), s.Map.Root())
	}
	return crypto.EmptyWord
}

// Storage is the full key-value state of one account.
type Storage struct {
	Slots []Slot `json:"slots"`
}

// NewStorage returns storage over the given slots.
func NewStorage(slots []Slot) (*Storage, error) {
	if len(slots) > MaxStorageSlots {
		return nil, fmt.Errorf("account: too many storage slots: %d", len(slots))
	}
	return &Storage{Slots: slots}, nil
}

// NumSlots returns the number of slots.
func (s *Storage) NumSlots() int {
	return len(s.Slots)
}

// Commitment returns the storage commitment.
func (s *Storage) Commitment() crypto.Word {
	words := make([]crypto.Word, 0, len(s.Slots)+1)
	words = append(words, crypto.WordFromUint64(uint64(len(s.Slots))))
	for i := range s.Slots {
		words = append(words, s.Slots[i].Commitment())
	}
	return crypto.Hash(words...)
}

// Header returns the slot kinds and commitments without the slot payloads.
func (s *Storage) Header() StorageHeader {
	header := StorageHeader{Slots: make([]SlotHeader, len(s.Slots))}
	for i := range s.Slots {
		header.Slots[i] = SlotHeader{Kind: s.Slots[i].Kind, Commitment: s.Slots[i].Commitment()}
	}
	return header
}

// GetItem reads a value slot.
func (s *Storage) GetItem(index uint8) (crypto.Word, error) {
	slot, err := s.slot(index, SlotValue)
	if err != nil {
		return crypto.EmptyWord, err
	}
	return slot.Value, nil
}

// SetItem writes a value slot.
func (s *Storage) SetItem(index uint8, value crypto.Word) error {
	slot, err := s.slot(index, SlotValue)
	if err != nil {
		return err
	}
	slot.Value = value
	return nil
}

// GetMapItem reads one entry of a map slot. Absent keys read as the empty
// word.
func (s *Storage) GetMapItem(index uint8, key crypto.Word) (crypto.Word, error) {
	slot, err := s.slot(index, SlotMap)
	if err != nil {
		return crypto.EmptyWord, err
	}
	return slot.Map.Get(key), nil
}

// SetMapItem writes one entry of a map slot.
func (s *Storage) SetMapItem(index uint8, key, value crypto.Word) error {
	slot, err := s.slot(index, SlotMap)
	if err != nil {
		return err
	}
	_, err = slot.Map.Insert(key, value)
	return err
}

// OpenMapItem returns a Merkle opening for one entry of a map slot.
func (s *Storage) OpenMapItem(index uint8, key crypto.Word) (smt.Opening, error) {
	slot, err := s.slot(index, SlotMap)
	if err != nil {
		return smt.Opening{}, err
	}
	return slot.Map.Open(key), nil
}

func (s *Storage) slot(index uint8, kind SlotKind) (*Slot, error) {
	if int(index) >= len(s.Slots) {
		return nil, fmt.Errorf("%w: slot %d of %d", ErrSlotOutOfRange, index, len(s.Slots))
	}
	slot := &s.Slots[index]
	if slot.Kind != kind {
		return nil, fmt.Errorf("%w: slot %d is kind %d", ErrSlotKindMismatch, index, slot.Kind)
	}
	return slot, nil
}

// ApplyDelta applies a storage delta.
func (s *Storage) ApplyDelta(d *StorageDelta) error {
	for index, value := range d.Values {
		if err := s.SetItem(index, value); err != nil {
			return err
		}
	}
	for index, entries := range d.Maps {
		for key, value := range entries {
			if err := s.SetMapItem(index, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the storage.
func (s *Storage) Clone() *Storage {
	clone := &Storage{Slots: make([]Slot, len(s.Slots))}
	for i, slot := range s.Slots {
		clone.Slots[i] = Slot{Kind: slot.Kind, Value: slot.Value}
		if slot.Map != nil {
			clone.Slots[i].Map = slot.Map.Clone()
		}
	}
	return clone
}

// SlotHeader is the kind and commitment of one slot.
type SlotHeader struct {
	Kind       SlotKind    `json:"kind"`
	Commitment crypto.Word `json:"commitment"`
}

// StorageHeader commits to a storage layout without carrying payloads.
type StorageHeader struct {
	Slots []SlotHeader `json:"slots"`
}

// Commitment returns the same commitment as the full storage would.
func (h StorageHeader) Commitment() crypto.Word {
	words := make([]crypto.Word, 0, len(h.Slots)+1)
	words = append(words, crypto.WordFromUint64(uint64(len(h.Slots))))
	for _, slot := range h.Slots {
		words = append(words, slot.Commitment)
	}
	return crypto.Hash(words...)
}
