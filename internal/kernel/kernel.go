// kernel.go - The transaction kernel: prologue, note loop, epilogue.
//
// Execution is a three-phase state machine. The prologue authenticates
// and stages every input; the note loop runs each note script against the
// delta overlay; the epilogue charges the fee, finalizes the delta,
// obtains exactly one authorization over the summary and applies the
// delta to produce the final commitment. Any failure aborts the whole
// transaction; no partial account mutation is ever observable because the
// delta is applied only as the very last step.

package kernel

import (
	"context"
	"fmt"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/crypto"
	"notechain/internal/note"
)

type phase uint8

const (
	phasePrologue phase = iota
	phaseNoteLoop
	phaseEpilogue
	phaseDone
)

// Options tunes one kernel run.
type Options struct {
	// Authenticator signs the transaction summary in the epilogue.
	Authenticator Authenticator
	// ForeignResolver loads foreign account state on demand.
	ForeignResolver ForeignResolver
	// IntrospectOnly aborts right before authentication, surfacing the
	// summary via IntrospectionError.
	IntrospectOnly bool
}

// Kernel executes transactions under a fixed parameter set.
type Kernel struct {
	params Params
}

// New returns a kernel with the given parameters.
func New(params Params) *Kernel {
	return &Kernel{params: params}
}

// Params returns the kernel's parameter set.
func (k *Kernel) Params() Params {
	return k.params
}

// Execute runs one transaction to completion.
func (k *Kernel) Execute(ctx context.Context, in Inputs, opts Options) (*ExecutedTransaction, error) {
	run := &kernelRun{
		kernel: k,
		inputs: in,
		opts:   opts,
		phase:  phasePrologue,
	}
	if err := run.prologue(); err != nil {
		return nil, err
	}
	if err := run.noteLoop(ctx); err != nil {
		return nil, err
	}
	return run.epilogue(ctx)
}

// ExecuteView runs a script for inspection only: no delta is produced, no
// fee charged, no authentication performed. Mutating operations fail.
func (k *Kernel) ExecuteView(ctx context.Context, state AccountState, script note.Script, resolver ForeignResolver) ([]crypto.Word, error) {
	if script.Kind != note.ScriptCustom {
		return nil, fmt.Errorf("%w: view scripts must be custom scripts", ErrInvalidInputs)
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInputs, err)
	}
	ec := newExecContext(state, k.params, 0, resolver)
	ec.viewOnly = true
	if err := ec.runScript(ctx, script, nil); err != nil {
		return nil, err
	}
	return ec.readLog, nil
}

type kernelRun struct {
	kernel *Kernel
	inputs Inputs
	opts   Options
	phase  phase

	ec                *execContext
	initialCommitment crypto.Word
}

// prologue stages the account and authenticates every input note.
func (r *kernelRun) prologue() error {
	in := &r.inputs
	if err := in.Validate(); err != nil {
		return err
	}

	state := in.Account
	if state.IsNew() {
		// New accounts prove their identity by seed instead of by tree
		// membership; the constructors validated the derivation already.
		if _, ok := state.Seed(); !ok {
			return fmt.Errorf("%w: new account %s without seed", ErrInvalidInputs, state.ID())
		}
		r.initialCommitment = crypto.EmptyWord
	} else {
		r.initialCommitment = state.Commitment()
	}

	blockNum := in.BlockHeader.BlockNum
	for i, input := range in.InputNotes {
		n := input.Note
		if !n.Metadata.Hint.ExecutableAt(blockNum) {
			return &NoteError{Index: i, NoteID: n.ID(),
				Err: fmt.Errorf("%w: not executable at block %d", ErrNoteNotConsumable, blockNum)}
		}
		if input.IsAuthenticated() {
			if input.Proof.NoteRoot != in.BlockHeader.NoteRoot {
				return &NoteError{Index: i, NoteID: n.ID(),
					Err: fmt.Errorf("%w: proven against a different note root", ErrInvalidInputs)}
			}
			if err := input.Proof.Verify(n.Header()); err != nil {
				return &NoteError{Index: i, NoteID: n.ID(),
					Err: fmt.Errorf("%w: %v", ErrInvalidInputs, err)}
			}
		}
		// Unauthenticated notes are accepted here; the batch or block layer
		// must discharge their inclusion obligation.
	}

	r.ec = newExecContext(state, r.kernel.params, blockNum, r.opts.ForeignResolver)
	r.phase = phaseNoteLoop
	return nil
}

// noteLoop consumes the input notes in order, then runs the transaction
// script.
func (r *kernelRun) noteLoop(ctx context.Context) error {
	if r.phase != phaseNoteLoop {
		return fmt.Errorf("%w: note loop out of order", ErrInvalidInputs)
	}
	consumer := r.inputs.Account.ID()
	for i, input := range r.inputs.InputNotes {
		if err := ctx.Err(); err != nil {
			return err
		}
		script := input.Note.Recipient.Script
		if !script.MayBeConsumedBy(consumer) {
			return &NoteError{Index: i, NoteID: input.Note.ID(),
				Err: fmt.Errorf("%w: not addressed to %s", ErrNoteNotConsumable, consumer)}
		}
		if err := r.ec.runScript(ctx, script, input.Note.Assets); err != nil {
			return &NoteError{Index: i, NoteID: input.Note.ID(), Err: err}
		}
	}
	if r.inputs.TxScript != nil {
		if err := r.ec.runScript(ctx, *r.inputs.TxScript, nil); err != nil {
			return fmt.Errorf("transaction script: %w", err)
		}
	}
	r.phase = phaseEpilogue
	return nil
}

// epilogue charges the fee, finalizes the delta, authenticates once, and
// applies the delta.
func (r *kernelRun) epilogue(ctx context.Context) (*ExecutedTransaction, error) {
	if r.phase != phaseEpilogue {
		return nil, fmt.Errorf("%w: epilogue out of order", ErrInvalidInputs)
	}
	ec := r.ec
	params := r.kernel.params

	fee := params.Fee(len(r.inputs.InputNotes))
	if fee > 0 {
		balance, err := ec.balance(params.FeeFaucet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFeeBalance, err)
		}
		if balance < fee {
			return nil, fmt.Errorf("%w: balance %d, fee %d", ErrInsufficientFeeBalance, balance, fee)
		}
		if err := ec.delta.Vault.RemoveFungible(asset.FungibleAsset{Faucet: params.FeeFaucet, Amount: fee}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFeeBalance, err)
		}
	}

	// Every transaction advances the nonce by exactly one.
	ec.delta.NonceDelta = 1

	summary := TransactionSummary{
		DeltaCommitment:       ec.delta.Commitment(),
		InputNotesCommitment:  InputNotesCommitment(nullifiersOf(r.inputs.InputNotes)),
		OutputNotesCommitment: OutputNotesCommitment(ec.outputNotes),
		Salt:                  r.inputs.Salt,
	}

	if r.opts.IntrospectOnly {
		return nil, &IntrospectionError{Summary: summary}
	}
	if r.opts.Authenticator == nil {
		return nil, fmt.Errorf("%w: no authenticator", ErrAuthFailed)
	}
	signature, err := r.opts.Authenticator.SignSummary(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	// The only place authorization is ever checked; account procedures
	// cannot reach it.
	if err := account.VerifyAuthorization(ec.state.Code(), summary.Commitment(), signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	finalCommitment, err := ec.state.ApplyDelta(ec.delta)
	if err != nil {
		return nil, err
	}
	r.phase = phaseDone

	return &ExecutedTransaction{
		AccountID:         ec.state.ID(),
		InitialCommitment: r.initialCommitment,
		FinalCommitment:   finalCommitment,
		Delta:             ec.delta,
		InputNotes:        r.inputs.InputNotes,
		OutputNotes:       ec.outputNotes,
		Summary:           summary,
		Signature:         signature,
		Fee:               fee,
		BlockNum:          r.inputs.BlockHeader.BlockNum,
		BlockCommitment:   r.inputs.BlockHeader.Commitment(),
	}, nil
}

func nullifiersOf(inputs []*note.InputNote) []note.Nullifier {
	out := make([]note.Nullifier, len(inputs))
	for i, in := range inputs {
		out[i] = in.Note.Nullifier()
	}
	return out
}
