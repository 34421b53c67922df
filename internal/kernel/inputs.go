// inputs.go - Transaction inputs and kernel parameters.

package kernel

import (
	"fmt"

	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/note"
)

// Default fee schedule, in units of the native fungible asset.
const (
	DefaultBaseFee    = 32
	DefaultPerNoteFee = 8
)

// MaxInputNotes bounds the number of notes one transaction may consume.
const MaxInputNotes = 256

// Params fixes the kernel-wide constants for a deployment.
type Params struct {
	// FeeFaucet is the native fee faucet's account ID packed into a word.
	FeeFaucet crypto.Word
	// BaseFee is charged per transaction.
	BaseFee uint64
	// PerNoteFee is charged per consumed note.
	PerNoteFee uint64
}

// DefaultParams returns the default fee schedule for the given native
// faucet.
func DefaultParams(feeFaucet crypto.Word) Params {
	return Params{FeeFaucet: feeFaucet, BaseFee: DefaultBaseFee, PerNoteFee: DefaultPerNoteFee}
}

// Fee returns the total fee for a transaction consuming n notes.
func (p Params) Fee(n int) uint64 {
	return p.BaseFee + p.PerNoteFee*uint64(n)
}

// Inputs is everything a transaction execution consumes.
type Inputs struct {
	// Account is the transacting account's state as of the reference block.
	Account AccountState
	// BlockHeader is the reference block the execution anchors on.
	BlockHeader chain.BlockHeader
	// InputNotes are the notes to consume, in consumption order.
	InputNotes []*note.InputNote
	// TxScript optionally runs after the note loop. Must be a custom script.
	TxScript *note.Script
	// Args are made available to the transaction script.
	Args []crypto.Word
	// Salt blinds the transaction summary.
	Salt crypto.Word
}

// Validate performs the structural checks that reject a transaction
// before any execution.
func (in *Inputs) Validate() error {
	if in.Account == nil {
		return fmt.Errorf("%w: no account", ErrInvalidInputs)
	}
	if len(in.InputNotes) > MaxInputNotes {
		return fmt.Errorf("%w: %d input notes", ErrInvalidInputs, len(in.InputNotes))
	}
	seen := make(map[note.Nullifier]bool, len(in.InputNotes))
	for i, input := range in.InputNotes {
		if input == nil || input.Note == nil {
			return fmt.Errorf("%w: input note %d missing details", ErrInvalidInputs, i)
		}
		if err := input.Note.Recipient.Script.Validate(); err != nil {
			return fmt.Errorf("%w: input note %d: %v", ErrInvalidInputs, i, err)
		}
		nf := input.Note.Nullifier()
		if seen[nf] {
			return fmt.Errorf("%w: duplicate nullifier %s", ErrInvalidInputs, nf)
		}
		seen[nf] = true
	}
	if in.TxScript != nil {
		if in.TxScript.Kind != note.ScriptCustom {
			return fmt.Errorf("%w: transaction script must be a custom script", ErrInvalidInputs)
		}
		if err := in.TxScript.Validate(); err != nil {
			return fmt.Errorf("%w: transaction script: %v", ErrInvalidInputs, err)
		}
	}
	return nil
}
