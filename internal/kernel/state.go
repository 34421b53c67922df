// state.go - The account state the kernel executes against.
//
// The kernel never touches an account type directly: it reads and
// finally applies its delta through this interface, which both the full
// account and the witness-backed partial account satisfy. That is what
// makes execution work identically for clients holding complete state
// and clients holding only openings.

package kernel

import (
	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/crypto"
)

// AccountState is the kernel's view of the transacting (or a foreign)
// account.
type AccountState interface {
	ID() account.ID
	Nonce() uint64
	Code() *account.Code
	Commitment() crypto.Word
	IsNew() bool
	Seed() (crypto.Word, bool)

	GetItem(index uint8) (crypto.Word, error)
	GetMapItem(index uint8, key crypto.Word) (crypto.Word, error)
	Balance(faucet crypto.Word) (uint64, error)
	HasNonFungible(n asset.NonFungibleAsset) (bool, error)

	// ApplyDelta advances the state and returns the new commitment.
	ApplyDelta(d *account.Delta) (crypto.Word, error)
}

type fullState struct {
	acct *account.Account
}

// StateFromAccount wraps a full account. The account is cloned so the
// caller's copy stays at the pre-transaction state.
func StateFromAccount(a *account.Account) AccountState {
	return &fullState{acct: a.Clone()}
}

func (s *fullState) ID() account.ID            { return s.acct.ID() }
func (s *fullState) Nonce() uint64             { return s.acct.Nonce() }
func (s *fullState) Code() *account.Code       { return s.acct.Code() }
func (s *fullState) Commitment() crypto.Word   { return s.acct.Commitment() }
func (s *fullState) IsNew() bool               { return s.acct.IsNew() }
func (s *fullState) Seed() (crypto.Word, bool) { return s.acct.Seed() }

func (s *fullState) GetItem(index uint8) (crypto.Word, error) {
	return s.acct.Storage().GetItem(index)
}

func (s *fullState) GetMapItem(index uint8, key crypto.Word) (crypto.Word, error) {
	return s.acct.Storage().GetMapItem(index, key)
}

func (s *fullState) Balance(faucet crypto.Word) (uint64, error) {
	return s.acct.Vault().Balance(faucet), nil
}

func (s *fullState) HasNonFungible(n asset.NonFungibleAsset) (bool, error) {
	return s.acct.Vault().HasNonFungible(n), nil
}

func (s *fullState) ApplyDelta(d *account.Delta) (crypto.Word, error) {
	if err := s.acct.ApplyDelta(d); err != nil {
		return crypto.EmptyWord, err
	}
	return s.acct.Commitment(), nil
}

type partialState struct {
	acct *account.PartialAccount
}

// StateFromPartial wraps a witness-backed partial account.
func StateFromPartial(p *account.PartialAccount) AccountState {
	return &partialState{acct: p}
}

func (s *partialState) ID() account.ID            { return s.acct.ID() }
func (s *partialState) Nonce() uint64             { return s.acct.Nonce() }
func (s *partialState) Code() *account.Code       { return s.acct.Code() }
func (s *partialState) Commitment() crypto.Word   { return s.acct.Commitment() }
func (s *partialState) IsNew() bool               { return s.acct.IsNew() }
func (s *partialState) Seed() (crypto.Word, bool) { return s.acct.Seed() }

func (s *partialState) GetItem(index uint8) (crypto.Word, error) {
	return s.acct.Storage().GetItem(index)
}

func (s *partialState) GetMapItem(index uint8, key crypto.Word) (crypto.Word, error) {
	return s.acct.Storage().GetMapItem(index, key)
}

func (s *partialState) Balance(faucet crypto.Word) (uint64, error) {
	return s.acct.Vault().Balance(faucet)
}

func (s *partialState) HasNonFungible(n asset.NonFungibleAsset) (bool, error) {
	return s.acct.Vault().HasNonFungible(n)
}

func (s *partialState) ApplyDelta(d *account.Delta) (crypto.Word, error) {
	if err := s.acct.ApplyDelta(d); err != nil {
		return crypto.EmptyWord, err
	}
	return s.acct.Commitment(), nil
}
