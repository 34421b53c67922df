// lazy.go - Lazily assembled partial account state.
//
// Execution starts from nothing but the account header and code. The
// first read of any storage slot or vault key fetches its witness from
// the data store, verifies it against the committed header and absorbs
// it into the partial account; later reads and the final delta
// application run entirely on the witnessed view. Untouched state is
// never transferred.

package executor

import (
	"context"
	"errors"
	"fmt"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/crypto"
	"notechain/internal/kernel"
)

// lazyState implements kernel.AccountState over a partial account,
// extending the witnessed set on demand. The context is the one bound
// to the execution request; AccountState reads carry no context of
// their own.
type lazyState struct {
	ctx   context.Context
	store DataStore
	acct  *account.PartialAccount
}

// newLazyState anchors a fresh partial view on the account's committed
// header.
func newLazyState(ctx context.Context, store DataStore, id account.ID) (*lazyState, error) {
	header, err := store.AccountHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	code, err := store.AccountCode(ctx, id)
	if err != nil {
		return nil, err
	}
	storageHeader, err := store.StorageHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	acct, err := account.NewPartialAccount(
		header,
		asset.NewPartialVault(header.VaultRoot),
		account.NewPartialStorage(storageHeader),
		code,
		nil,
	)
	if err != nil {
		return nil, err
	}
	return &lazyState{ctx: ctx, store: store, acct: acct}, nil
}

func (l *lazyState) ID() account.ID            { return l.acct.ID() }
func (l *lazyState) Nonce() uint64             { return l.acct.Nonce() }
func (l *lazyState) Code() *account.Code       { return l.acct.Code() }
func (l *lazyState) Commitment() crypto.Word   { return l.acct.Commitment() }
func (l *lazyState) IsNew() bool               { return l.acct.IsNew() }
func (l *lazyState) Seed() (crypto.Word, bool) { return l.acct.Seed() }

func (l *lazyState) GetItem(index uint8) (crypto.Word, error) {
	value, err := l.acct.Storage().GetItem(index)
	if !errors.Is(err, account.ErrUntrackedState) {
		return value, err
	}
	fetched, err := l.store.StorageValue(l.ctx, l.acct.ID(), index)
	if err != nil {
		return crypto.EmptyWord, err
	}
	if err := l.acct.Storage().TrackValue(index, fetched); err != nil {
		return crypto.EmptyWord, err
	}
	return l.acct.Storage().GetItem(index)
}

func (l *lazyState) GetMapItem(index uint8, key crypto.Word) (crypto.Word, error) {
	value, err := l.acct.Storage().GetMapItem(index, key)
	if !errors.Is(err, account.ErrUntrackedState) {
		return value, err
	}
	fetched, opening, err := l.store.StorageMapEntry(l.ctx, l.acct.ID(), index, key)
	if err != nil {
		return crypto.EmptyWord, err
	}
	if opening.Value(key) != fetched {
		return crypto.EmptyWord, fmt.Errorf("%w: map entry witness for slot %d", ErrUnauthenticated, index)
	}
	root := opening.ComputeRoot(key)
	if err := l.acct.Storage().TrackMapEntry(index, root, key, opening); err != nil {
		return crypto.EmptyWord, err
	}
	return l.acct.Storage().GetMapItem(index, key)
}

func (l *lazyState) Balance(faucet crypto.Word) (uint64, error) {
	balance, err := l.acct.Vault().Balance(faucet)
	if !errors.Is(err, asset.ErrAssetUntracked) {
		return balance, err
	}
	key := asset.FungibleAsset{Faucet: faucet}.VaultKey()
	if err := l.trackVaultKey(key); err != nil {
		return 0, err
	}
	return l.acct.Vault().Balance(faucet)
}

func (l *lazyState) HasNonFungible(n asset.NonFungibleAsset) (bool, error) {
	held, err := l.acct.Vault().HasNonFungible(n)
	if !errors.Is(err, asset.ErrAssetUntracked) {
		return held, err
	}
	if err := l.trackVaultKey(n.VaultKey()); err != nil {
		return false, err
	}
	return l.acct.Vault().HasNonFungible(n)
}

func (l *lazyState) trackVaultKey(key crypto.Word) error {
	witness, err := l.store.VaultAsset(l.ctx, l.acct.ID(), key)
	if err != nil {
		return err
	}
	return l.acct.Vault().Track(witness)
}

// ApplyDelta applies the delta through the witnessed paths. Every key
// the delta touches was read during execution and is already tracked.
func (l *lazyState) ApplyDelta(d *account.Delta) (crypto.Word, error) {
	if err := l.acct.ApplyDelta(d); err != nil {
		return crypto.EmptyWord, err
	}
	return l.acct.Commitment(), nil
}

var _ kernel.AccountState = (*lazyState)(nil)
