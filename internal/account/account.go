// account.go - The full in-memory account.
//
// An account with nonce zero is new: it carries its derivation seed and
// has never appeared on chain. The first transaction against it must
// increment the nonce, at which point the seed is dropped and the account
// is anchored by the global account tree instead.

package account

import (
	"errors"
	"fmt"
	"math"

	"notechain/internal/asset"
	"notechain/internal/crypto"
)

var (
	// ErrNonceOverflow is returned when a nonce increment would wrap.
	ErrNonceOverflow = errors.New("account: nonce overflow")
	// ErrSeedRequired is returned when building a new account without its
	// derivation seed.
	ErrSeedRequired = errors.New("account: new account requires a derivation seed")
	// ErrSeedForbidden is returned when an existing account carries a seed.
	ErrSeedForbidden = errors.New("account: existing account must not carry a seed")
)

var tagAccount = crypto.WordFromUint64(0xac01)

// Account is the full state of one account.
type Account struct {
	id      ID
	vault   *asset.Vault
	storage *Storage
	code    *Code
	nonce   uint64

	// seed is present exactly while nonce == 0.
	seed *crypto.Word
}

// New builds a new account with nonce zero. The seed must derive the
// given ID from the initial code and storage commitments.
func New(id ID, seed crypto.Word, vault *asset.Vault, storage *Storage, code *Code) (*Account, error) {
	if err := id.ValidateSeed(seed, code.Commitment(), storage.Commitment()); err != nil {
		return nil, err
	}
	s := seed
	return &Account{id: id, vault: vault, storage: storage, code: code, seed: &s}, nil
}

// NewExisting restores an account that already appeared on chain.
func NewExisting(id ID, vault *asset.Vault, storage *Storage, code *Code, nonce uint64) (*Account, error) {
	if nonce == 0 {
		return nil, fmt.Errorf("%w: nonce is zero", ErrSeedRequired)
	}
	return &Account{id: id, vault: vault, storage: storage, code: code, nonce: nonce}, nil
}

// ID returns the account identifier.
func (a *Account) ID() ID { return a.id }

// Vault returns the asset vault.
func (a *Account) Vault() *asset.Vault { return a.vault }

// Storage returns the key-value storage.
func (a *Account) Storage() *Storage { return a.storage }

// Code returns the account code.
func (a *Account) Code() *Code { return a.code }

// Nonce returns the current nonce.
func (a *Account) Nonce() uint64 { return a.nonce }

// IsNew reports whether the account has never appeared on chain.
func (a *Account) IsNew() bool { return a.nonce == 0 }

// Seed returns the derivation seed of a new account.
func (a *Account) Seed() (crypto.Word, bool) {
	if a.seed == nil {
		return crypto.EmptyWord, false
	}
	return *a.seed, true
}

// Commitment returns the account commitment binding identity, nonce,
// vault root, storage and code.
func (a *Account) Commitment() crypto.Word {
	return commitment(a.id, a.nonce, a.vault.Root(), a.storage.Commitment(), a.code.Commitment())
}

func commitment(id ID, nonce uint64, vaultRoot, storageCommitment, codeCommitment crypto.Word) crypto.Word {
	return crypto.Hash(
		tagAccount,
		id.Word(),
		crypto.WordFromUint64(nonce),
		vaultRoot,
		storageCommitment,
		codeCommitment,
	)
}

// Header returns the account header: the commitment pre-image without the
// full state.
func (a *Account) Header() Header {
	return Header{
		ID:                a.id,
		Nonce:             a.nonce,
		VaultRoot:         a.vault.Root(),
		StorageCommitment: a.storage.Commitment(),
		CodeCommitment:    a.code.Commitment(),
	}
}

// ApplyDelta applies a delta in place. A delta with state changes must
// also increment the nonce; the seed is dropped on the first increment.
func (a *Account) ApplyDelta(d *Delta) error {
	if d.AccountID != a.id {
		return fmt.Errorf("%w: delta for %s applied to %s", ErrDeltaAccountMismatch, d.AccountID, a.id)
	}
	if d.HasStateChanges() && d.NonceDelta == 0 {
		return fmt.Errorf("%w: state changes require a nonce increment", ErrInvalidDelta)
	}
	if d.NonceDelta > math.MaxUint64-a.nonce {
		return fmt.Errorf("%w: %d + %d", ErrNonceOverflow, a.nonce, d.NonceDelta)
	}
	if err := a.storage.ApplyDelta(&d.Storage); err != nil {
		return err
	}
	if err := a.vault.ApplyDelta(d.Vault); err != nil {
		return err
	}
	a.nonce += d.NonceDelta
	if a.nonce > 0 {
		a.seed = nil
	}
	return nil
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	clone := &Account{
		id:      a.id,
		vault:   a.vault.Clone(),
		storage: a.storage.Clone(),
		code:    a.code.Clone(),
		nonce:   a.nonce,
	}
	if a.seed != nil {
		s := *a.seed
		clone.seed = &s
	}
	return clone
}
