// errors.go - Kernel failure taxonomy.
//
// Input errors reject a transaction before anything runs; execution
// errors abort the whole transaction with no observable partial state;
// authentication and fee failures are distinguished so callers can react
// (re-sign, top up) without re-running the scripts.

package kernel

import (
	"errors"
	"fmt"

	"notechain/internal/note"
)

var (
	// ErrInvalidInputs rejects malformed transaction inputs.
	ErrInvalidInputs = errors.New("kernel: invalid transaction inputs")
	// ErrNoteNotConsumable is returned when a note's script or hint forbids
	// consumption by this account in this block.
	ErrNoteNotConsumable = errors.New("kernel: note not consumable")
	// ErrScriptFailure aborts the transaction on any note or transaction
	// script failure.
	ErrScriptFailure = errors.New("kernel: script execution failed")
	// ErrAuthFailed is returned when the epilogue authentication check fails.
	ErrAuthFailed = errors.New("kernel: transaction authentication failed")
	// ErrInsufficientFeeBalance is returned when the post-fee native balance
	// would go negative.
	ErrInsufficientFeeBalance = errors.New("kernel: insufficient balance for transaction fee")
	// ErrForeignCallDepth is returned when nested foreign calls exceed the
	// depth bound.
	ErrForeignCallDepth = errors.New("kernel: foreign call depth exceeded")
	// ErrForeignCallViolation is returned when a foreign call targets a
	// procedure the account does not export.
	ErrForeignCallViolation = errors.New("kernel: foreign call not permitted")
)

// NoteError attributes an execution failure to a single input note, so
// callers can retry without the offending note. It wraps one of the
// sentinel errors above.
type NoteError struct {
	Index  int
	NoteID note.ID
	Err    error
}

func (e *NoteError) Error() string {
	return fmt.Sprintf("kernel: note %d (%s): %v", e.Index, e.NoteID, e.Err)
}

func (e *NoteError) Unwrap() error {
	return e.Err
}

// IntrospectionError aborts execution right before authentication and
// carries the summary the caller wanted to inspect or sign out of band.
type IntrospectionError struct {
	Summary TransactionSummary
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("kernel: execution aborted for introspection of summary %s", e.Summary.Commitment())
}
