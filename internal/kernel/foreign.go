// foreign.go - Foreign account calls.
//
// A foreign call reads another account's committed state through one of
// its exported procedures. Calls run on an explicit stack with a depth
// bound; foreign state is resolved lazily, cached per execution, and
// exposed read-only, so a foreign account can never be mutated by someone
// else's transaction.

package kernel

import (
	"context"
	"fmt"

	"notechain/internal/account"
	"notechain/internal/crypto"
)

// MaxForeignCallDepth bounds nested foreign calls.
const MaxForeignCallDepth = 64

// ForeignResolver loads foreign account state on demand.
type ForeignResolver interface {
	ForeignAccount(ctx context.Context, id account.ID) (AccountState, error)
}

type foreignCalls struct {
	resolver ForeignResolver
	cache    map[account.ID]AccountState
	stack    []account.ID
}

func newForeignCalls(resolver ForeignResolver) *foreignCalls {
	return &foreignCalls{
		resolver: resolver,
		cache:    make(map[account.ID]AccountState),
	}
}

func (f *foreignCalls) push(id account.ID) error {
	if len(f.stack) >= MaxForeignCallDepth {
		return fmt.Errorf("%w: depth %d", ErrForeignCallDepth, len(f.stack))
	}
	f.stack = append(f.stack, id)
	return nil
}

func (f *foreignCalls) pop() {
	f.stack = f.stack[:len(f.stack)-1]
}

func (f *foreignCalls) resolve(ctx context.Context, id account.ID) (AccountState, error) {
	if state, ok := f.cache[id]; ok {
		return state, nil
	}
	if f.resolver == nil {
		return nil, fmt.Errorf("%w: no foreign resolver for %s", ErrForeignCallViolation, id)
	}
	state, err := f.resolver.ForeignAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("kernel: loading foreign account %s: %w", id, err)
	}
	f.cache[id] = state
	return state, nil
}

// getItem performs a foreign read of a value storage slot.
func (f *foreignCalls) getItem(ctx context.Context, id account.ID, index uint8) (crypto.Word, error) {
	var value crypto.Word
	err := f.call(ctx, id, account.ProcGetItem, func(state AccountState) error {
		var err error
		value, err = state.GetItem(index)
		return err
	})
	return value, err
}

// getMapItem performs a foreign read of a map storage slot entry.
func (f *foreignCalls) getMapItem(ctx context.Context, id account.ID, index uint8, key crypto.Word) (crypto.Word, error) {
	var value crypto.Word
	err := f.call(ctx, id, account.ProcGetMapItem, func(state AccountState) error {
		var err error
		value, err = state.GetMapItem(index, key)
		return err
	})
	return value, err
}

// getBalance performs a foreign read of a fungible balance.
func (f *foreignCalls) getBalance(ctx context.Context, id account.ID, faucet crypto.Word) (uint64, error) {
	var balance uint64
	err := f.call(ctx, id, account.ProcGetBalance, func(state AccountState) error {
		var err error
		balance, err = state.Balance(faucet)
		return err
	})
	return balance, err
}

// getNonce performs a foreign read of the account nonce.
func (f *foreignCalls) getNonce(ctx context.Context, id account.ID) (uint64, error) {
	var nonce uint64
	err := f.call(ctx, id, account.ProcGetNonce, func(state AccountState) error {
		nonce = state.Nonce()
		return nil
	})
	return nonce, err
}

func (f *foreignCalls) call(ctx context.Context, id account.ID, proc account.ProcedureKind, read func(AccountState) error) error {
	if err := f.push(id); err != nil {
		return err
	}
	defer f.pop()

	state, err := f.resolve(ctx, id)
	if err != nil {
		return err
	}
	if !state.Code().Exports(proc) {
		return fmt.Errorf("%w: account %s does not export procedure %d", ErrForeignCallViolation, id, proc)
	}
	return read(state)
}
