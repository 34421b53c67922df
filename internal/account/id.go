// id.go - Account identifiers.
//
// An account ID is a pair of 64-bit limbs. The top byte of the prefix
// encodes the account type and the storage mode; the remaining bits are
// derived from a seed (private and network accounts) or chosen explicitly
// (public accounts). The prefix alone keys the global account tree, so
// prefixes must be unique chain-wide.

package account

import (
	"errors"
	"fmt"

	"notechain/internal/crypto"
)

// Type describes what an account is allowed to do.
type Type uint8

const (
	// TypeRegular is an ordinary asset-holding account.
	TypeRegular Type = iota
	// TypeFungibleFaucet can issue fungible assets.
	TypeFungibleFaucet
	// TypeNonFungibleFaucet can issue non-fungible assets.
	TypeNonFungibleFaucet
)

// StorageMode describes where an account's full state lives.
type StorageMode uint8

const (
	// ModePublic accounts keep their full state on chain.
	ModePublic StorageMode = iota
	// ModePrivate accounts publish only their commitment.
	ModePrivate
	// ModeNetwork accounts are operated by the network on behalf of users.
	ModeNetwork
)

var (
	// ErrInvalidID is returned for malformed identifier encodings.
	ErrInvalidID = errors.New("account: invalid account ID")
	// ErrSeedMismatch is returned when a seed does not derive the claimed ID.
	ErrSeedMismatch = errors.New("account: seed does not match account ID")
)

var tagIDDerivation = crypto.WordFromUint64(0x1d01)

// ID uniquely identifies an account.
type ID struct {
	prefix uint64
	suffix uint64
}

// NewID derives an ID from a seed and the commitments of the account's
// initial code and storage. Used for private and network accounts, whose
// identity must be bound to their genesis state.
func NewID(seed crypto.Word, typ Type, mode StorageMode, codeCommitment, storageCommitment crypto.Word) ID {
	digest := crypto.Hash(tagIDDerivation, seed, codeCommitment, storageCommitment)
	hi, lo := digest.Uint64Pair()
	return newIDFromLimbs(hi, lo, typ, mode)
}

// NewPublicID builds an ID for a public account from explicit entropy.
func NewPublicID(typ Type, entropy crypto.Word) ID {
	hi, lo := entropy.Uint64Pair()
	return newIDFromLimbs(hi, lo, typ, ModePublic)
}

func newIDFromLimbs(hi, lo uint64, typ Type, mode StorageMode) ID {
	meta := uint64(typ)<<6 | uint64(mode)<<4
	prefix := meta<<56 | hi&0x00ffffffffffffff
	if prefix&0x00ffffffffffffff == 0 {
		// An all-zero body would collide with the empty tree marker.
		prefix |= 1
	}
	return ID{prefix: prefix, suffix: lo}
}

// IDFromParts reassembles an ID from its limbs, validating the metadata
// byte.
func IDFromParts(prefix, suffix uint64) (ID, error) {
	meta := prefix >> 56
	if typ := Type(meta >> 6); typ > TypeNonFungibleFaucet {
		return ID{}, fmt.Errorf("%w: unknown account type %d", ErrInvalidID, typ)
	}
	if mode := StorageMode(meta >> 4 & 0x3); mode > ModeNetwork {
		return ID{}, fmt.Errorf("%w: unknown storage mode %d", ErrInvalidID, meta>>4&0x3)
	}
	if meta&0xf != 0 {
		return ID{}, fmt.Errorf("%w: reserved metadata bits set", ErrInvalidID)
	}
	if prefix&0x00ffffffffffffff == 0 {
		return ID{}, fmt.Errorf("%w: zero prefix body", ErrInvalidID)
	}
	return ID{prefix: prefix, suffix: suffix}, nil
}

// ValidateSeed checks that the seed derives exactly this ID given the
// claimed initial code and storage commitments.
func (id ID) ValidateSeed(seed, codeCommitment, storageCommitment crypto.Word) error {
	derived := NewID(seed, id.Type(), id.StorageMode(), codeCommitment, storageCommitment)
	if derived != id {
		return fmt.Errorf("%w: derived %s, claimed %s", ErrSeedMismatch, derived, id)
	}
	return nil
}

// Prefix returns the prefix limb. Prefixes key the global account tree.
func (id ID) Prefix() uint64 { return id.prefix }

// Suffix returns the suffix limb.
func (id ID) Suffix() uint64 { return id.suffix }

// Type returns the account type encoded in the prefix.
func (id ID) Type() Type { return Type(id.prefix >> 62) }

// StorageMode returns the storage mode encoded in the prefix.
func (id ID) StorageMode() StorageMode { return StorageMode(id.prefix >> 60 & 0x3) }

// IsFaucet reports whether this account can issue assets.
func (id ID) IsFaucet() bool {
	return id.Type() == TypeFungibleFaucet || id.Type() == TypeNonFungibleFaucet
}

// HasPublicState reports whether the account's full state is on chain.
func (id ID) HasPublicState() bool {
	return id.StorageMode() == ModePublic || id.StorageMode() == ModeNetwork
}

// Word packs the ID into a single field element, used wherever an account
// identity participates in a hash.
func (id ID) Word() crypto.Word {
	return crypto.WordFromUint64Pair(id.prefix, id.suffix)
}

// PrefixWord returns the account-tree key for this ID.
func (id ID) PrefixWord() crypto.Word {
	return crypto.WordFromUint64Pair(id.prefix, 0)
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.prefix == 0 && id.suffix == 0
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("0x%016x%016x", id.prefix, id.suffix)
}

// MarshalText encodes the ID for JSON artifacts.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%016x%016x", id.prefix, id.suffix)), nil
}

// UnmarshalText decodes the ID from its text form.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) != 32 {
		return fmt.Errorf("%w: encoding has %d characters, want 32", ErrInvalidID, len(text))
	}
	var prefix, suffix uint64
	if _, err := fmt.Sscanf(string(text), "%016x%016x", &prefix, &suffix); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	decoded, err := IDFromParts(prefix, suffix)
	if err != nil {
		return err
	}
	*id = decoded
	return nil
}
