// context.go - Per-execution context: the mutable scratch state of one
// transaction.
//
// All writes accumulate in the account delta; reads overlay the delta on
// the initial account state, so scripts observe their own earlier writes
// while the initial values stay queryable for delta normalization and
// signing. Nothing is applied to the account until the epilogue.

package kernel

import (
	"context"
	"fmt"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/crypto"
	"notechain/internal/note"
)

type execContext struct {
	state    AccountState
	params   Params
	blockNum uint32

	delta       *account.Delta
	outputNotes []note.OutputNote
	readLog     []crypto.Word

	foreign  *foreignCalls
	viewOnly bool
}

func newExecContext(state AccountState, params Params, blockNum uint32, resolver ForeignResolver) *execContext {
	return &execContext{
		state:    state,
		params:   params,
		blockNum: blockNum,
		delta:    account.NewDelta(state.ID()),
		foreign:  newForeignCalls(resolver),
	}
}

// getItem reads a value slot through the delta overlay.
func (e *execContext) getItem(index uint8) (crypto.Word, error) {
	if value, ok := e.delta.Storage.Values[index]; ok {
		return value, nil
	}
	return e.state.GetItem(index)
}

// getMapItem reads a map entry through the delta overlay.
func (e *execContext) getMapItem(index uint8, key crypto.Word) (crypto.Word, error) {
	if entries, ok := e.delta.Storage.Maps[index]; ok {
		if value, ok := entries[key]; ok {
			return value, nil
		}
	}
	return e.state.GetMapItem(index, key)
}

// balance returns the effective fungible balance: initial plus pending
// delta adjustments.
func (e *execContext) balance(faucet crypto.Word) (uint64, error) {
	base, err := e.state.Balance(faucet)
	if err != nil {
		return 0, err
	}
	adjust := e.delta.Vault.Fungible[faucet]
	if adjust >= 0 {
		next := base + uint64(adjust)
		if next > asset.MaxAmount || next < base {
			return 0, fmt.Errorf("%w: faucet %s", asset.ErrAmountOverflow, faucet)
		}
		return next, nil
	}
	sub := uint64(-adjust)
	if sub > base {
		return 0, fmt.Errorf("%w: faucet %s", asset.ErrInsufficientAmount, faucet)
	}
	return base - sub, nil
}

func (e *execContext) setItem(index uint8, value crypto.Word) error {
	if e.viewOnly {
		return fmt.Errorf("%w: storage write in view mode", ErrScriptFailure)
	}
	// Read the initial value so bad indices or kinds fail at write time,
	// and so restoring it normalizes to no recorded change.
	initial, err := e.state.GetItem(index)
	if err != nil {
		return err
	}
	if value == initial {
		e.delta.Storage.RemoveValue(index)
		return nil
	}
	e.delta.Storage.SetValue(index, value)
	return nil
}

func (e *execContext) setMapItem(index uint8, key, value crypto.Word) error {
	if e.viewOnly {
		return fmt.Errorf("%w: storage write in view mode", ErrScriptFailure)
	}
	initial, err := e.state.GetMapItem(index, key)
	if err != nil {
		return err
	}
	if value == initial {
		e.delta.Storage.RemoveMapEntry(index, key)
		return nil
	}
	e.delta.Storage.SetMapEntry(index, key, value)
	return nil
}

// addAsset credits an asset to the account.
func (e *execContext) addAsset(a asset.Asset) error {
	if e.viewOnly {
		return fmt.Errorf("%w: vault write in view mode", ErrScriptFailure)
	}
	switch a.Kind {
	case asset.KindFungible:
		if a.Fungible.Amount == 0 {
			return nil
		}
		balance, err := e.balance(a.Fungible.Faucet)
		if err != nil {
			return err
		}
		if balance+a.Fungible.Amount > asset.MaxAmount || balance+a.Fungible.Amount < balance {
			return fmt.Errorf("%w: faucet %s", asset.ErrAmountOverflow, a.Fungible.Faucet)
		}
		return e.delta.Vault.AddFungible(a.Fungible)
	case asset.KindNonFungible:
		held, err := e.holdsNonFungible(a.NonFungible)
		if err != nil {
			return err
		}
		if held {
			return fmt.Errorf("%w: %s", asset.ErrDuplicateNonFungible, a.NonFungible.VaultKey())
		}
		return e.delta.Vault.AddNonFungible(a.NonFungible)
	}
	return fmt.Errorf("%w: unknown asset kind %d", ErrScriptFailure, a.Kind)
}

// removeAsset debits an asset from the account.
func (e *execContext) removeAsset(a asset.Asset) error {
	if e.viewOnly {
		return fmt.Errorf("%w: vault write in view mode", ErrScriptFailure)
	}
	switch a.Kind {
	case asset.KindFungible:
		balance, err := e.balance(a.Fungible.Faucet)
		if err != nil {
			return err
		}
		if a.Fungible.Amount > balance {
			return fmt.Errorf("%w: faucet %s holds %d, removing %d",
				asset.ErrInsufficientAmount, a.Fungible.Faucet, balance, a.Fungible.Amount)
		}
		return e.delta.Vault.RemoveFungible(a.Fungible)
	case asset.KindNonFungible:
		held, err := e.holdsNonFungible(a.NonFungible)
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("%w: %s", asset.ErrAssetNotFound, a.NonFungible.VaultKey())
		}
		return e.delta.Vault.RemoveNonFungible(a.NonFungible)
	}
	return fmt.Errorf("%w: unknown asset kind %d", ErrScriptFailure, a.Kind)
}

func (e *execContext) holdsNonFungible(n asset.NonFungibleAsset) (bool, error) {
	if change, ok := e.delta.Vault.NonFungible[n.VaultKey()]; ok {
		return change.Action == asset.ActionAdd, nil
	}
	return e.state.HasNonFungible(n)
}

// emitNote debits the note's assets from the account and records the
// output note.
func (e *execContext) emitNote(recipientDigest crypto.Word, assets note.Assets, tag uint32) error {
	if e.viewOnly {
		return fmt.Errorf("%w: note emission in view mode", ErrScriptFailure)
	}
	out, err := note.NewOutputNote(recipientDigest, assets, note.Metadata{
		Sender: e.state.ID(),
		Tag:    tag,
		Hint:   note.HintAlwaysExecutable(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptFailure, err)
	}
	for _, a := range assets {
		if err := e.removeAsset(a); err != nil {
			return err
		}
	}
	e.outputNotes = append(e.outputNotes, out)
	return nil
}

// emitOutput records a fully formed output note, debiting its assets.
func (e *execContext) emitOutput(out note.OutputNote) error {
	if e.viewOnly {
		return fmt.Errorf("%w: note emission in view mode", ErrScriptFailure)
	}
	for _, a := range out.Assets {
		if err := e.removeAsset(a); err != nil {
			return err
		}
	}
	e.outputNotes = append(e.outputNotes, out)
	return nil
}

// runScript dispatches one note script against the context.
func (e *execContext) runScript(ctx context.Context, s note.Script, assets note.Assets) error {
	switch s.Kind {
	case note.ScriptTransfer, note.ScriptMultisig:
		return e.consumeAssets(assets)

	case note.ScriptSwap:
		if err := e.consumeAssets(assets); err != nil {
			return err
		}
		payback, err := note.NewOutputNote(s.Swap.RecipientDigest, note.Assets{s.Swap.RequestedAsset}, note.Metadata{
			Sender: e.state.ID(),
			Tag:    s.Swap.PaybackTag,
			Hint:   note.HintAlwaysExecutable(),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrScriptFailure, err)
		}
		return e.emitOutput(payback)

	case note.ScriptCustom:
		for i, op := range s.Ops {
			if err := e.runOp(ctx, op, assets); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: script kind %d", ErrScriptFailure, s.Kind)
}

func (e *execContext) consumeAssets(assets note.Assets) error {
	for _, a := range assets {
		if err := e.addAsset(a); err != nil {
			return err
		}
	}
	return nil
}

func (e *execContext) runOp(ctx context.Context, op note.Op, assets note.Assets) error {
	switch op.Kind {
	case note.OpAddAssets:
		return e.consumeAssets(assets)

	case note.OpSetItem:
		return e.setItem(op.Slot, op.Value)

	case note.OpSetMapItem:
		return e.setMapItem(op.Slot, op.Key, op.Value)

	case note.OpEmitNote:
		return e.emitNote(op.Recipient, note.Assets(op.Assets), op.Tag)

	case note.OpFail:
		return fmt.Errorf("%w: explicit abort", ErrScriptFailure)

	case note.OpReadItem:
		value, err := e.readItem(ctx, op)
		if err != nil {
			return err
		}
		e.readLog = append(e.readLog, value)
		return nil

	case note.OpReadMapItem:
		value, err := e.readMapItem(ctx, op)
		if err != nil {
			return err
		}
		e.readLog = append(e.readLog, value)
		return nil

	case note.OpReadBalance:
		balance, err := e.readBalance(ctx, op)
		if err != nil {
			return err
		}
		e.readLog = append(e.readLog, crypto.WordFromUint64(balance))
		return nil

	case note.OpReadNonce:
		nonce, err := e.readNonce(ctx, op)
		if err != nil {
			return err
		}
		e.readLog = append(e.readLog, crypto.WordFromUint64(nonce))
		return nil

	case note.OpForeignAssertItem:
		value, err := e.foreign.getItem(ctx, op.Foreign, op.Slot)
		if err != nil {
			return err
		}
		if value != op.Value {
			return fmt.Errorf("%w: foreign slot %d of %s holds %s, want %s",
				ErrScriptFailure, op.Slot, op.Foreign, value, op.Value)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown op kind %d", ErrScriptFailure, op.Kind)
}

func (e *execContext) readItem(ctx context.Context, op note.Op) (crypto.Word, error) {
	if !op.Foreign.IsZero() {
		return e.foreign.getItem(ctx, op.Foreign, op.Slot)
	}
	return e.getItem(op.Slot)
}

func (e *execContext) readMapItem(ctx context.Context, op note.Op) (crypto.Word, error) {
	if !op.Foreign.IsZero() {
		return e.foreign.getMapItem(ctx, op.Foreign, op.Slot, op.Key)
	}
	return e.getMapItem(op.Slot, op.Key)
}

func (e *execContext) readBalance(ctx context.Context, op note.Op) (uint64, error) {
	if !op.Foreign.IsZero() {
		return e.foreign.getBalance(ctx, op.Foreign, op.Faucet)
	}
	return e.balance(op.Faucet)
}

func (e *execContext) readNonce(ctx context.Context, op note.Op) (uint64, error) {
	if !op.Foreign.IsZero() {
		return e.foreign.getNonce(ctx, op.Foreign)
	}
	return e.state.Nonce(), nil
}
