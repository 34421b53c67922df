// executor.go - Transaction execution orchestration.
//
// The executor binds a data store to the kernel: it anchors a request on
// the chain tip, assembles the account view (full if the caller holds
// it, lazily witnessed otherwise), resolves input notes with inclusion
// proofs where the chain has them, and drives the kernel. Three failure
// shapes reach callers: an introspection abort carrying the summary, a
// hard execution failure, and an authorization failure.

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notechain/internal/account"
	"notechain/internal/crypto"
	"notechain/internal/kernel"
	"notechain/internal/note"
)

// ErrUnauthorized is returned when a transaction executed fully but its
// authorization did not verify against the account's scheme.
var ErrUnauthorized = errors.New("executor: transaction authorization failed")

// Request describes one transaction to execute.
type Request struct {
	// AccountID is the transacting account.
	AccountID account.ID
	// Account optionally supplies the full local state, e.g. for new
	// accounts or wallets holding their own data. When nil the state is
	// assembled lazily from the store.
	Account *account.Account
	// NoteIDs are consumed notes resolved through the store; notes the
	// chain has committed get inclusion proofs attached.
	NoteIDs []note.ID
	// Notes are caller-supplied input notes, e.g. from note files.
	Notes []*note.InputNote
	// TxScript optionally runs after the note loop.
	TxScript *note.Script
	// Args are made available to the transaction script.
	Args []crypto.Word
	// Salt blinds the transaction summary. Fix it across an
	// introspect-then-sign round-trip.
	Salt crypto.Word
	// Authenticator signs the transaction summary.
	Authenticator kernel.Authenticator
}

// RetryPolicy bounds re-execution after transient failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries twice with doubling backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// Executor prepares and runs transactions against a data store.
type Executor struct {
	store  DataStore
	kernel *kernel.Kernel
}

// New returns an executor over the store with the given kernel
// parameters.
func New(store DataStore, params kernel.Params) *Executor {
	return &Executor{store: store, kernel: kernel.New(params)}
}

// Store returns the executor's data store.
func (e *Executor) Store() DataStore {
	return e.store
}

// prepare assembles kernel inputs for a request. Each call builds a
// fresh account view, so a failed execution leaves nothing behind.
func (e *Executor) prepare(ctx context.Context, req Request) (kernel.Inputs, error) {
	header, err := e.store.LatestHeader(ctx)
	if err != nil {
		return kernel.Inputs{}, err
	}

	var state kernel.AccountState
	if req.Account != nil {
		state = kernel.StateFromAccount(req.Account)
	} else {
		state, err = newLazyState(ctx, e.store, req.AccountID)
		if err != nil {
			return kernel.Inputs{}, err
		}
	}

	inputs := make([]*note.InputNote, 0, len(req.NoteIDs)+len(req.Notes))
	for _, id := range req.NoteIDs {
		input, err := e.resolveNote(ctx, id)
		if err != nil {
			return kernel.Inputs{}, err
		}
		inputs = append(inputs, input)
	}
	inputs = append(inputs, req.Notes...)

	return kernel.Inputs{
		Account:     state,
		BlockHeader: header,
		InputNotes:  inputs,
		TxScript:    req.TxScript,
		Args:        req.Args,
		Salt:        req.Salt,
	}, nil
}

// resolveNote loads a note and attaches an inclusion proof when the
// chain commits it; otherwise the note rides as unauthenticated and the
// batch or block stage must discharge it.
func (e *Executor) resolveNote(ctx context.Context, id note.ID) (*note.InputNote, error) {
	n, err := e.store.Note(ctx, id)
	if err != nil {
		return nil, err
	}
	proof, err := e.store.NoteInclusion(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return note.NewUnauthenticatedInput(n), nil
		}
		return nil, err
	}
	return note.NewAuthenticatedInput(n, proof)
}

// ExecuteTransaction runs one transaction end to end.
func (e *Executor) ExecuteTransaction(ctx context.Context, req Request) (*kernel.ExecutedTransaction, error) {
	inputs, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	tx, err := e.kernel.Execute(ctx, inputs, kernel.Options{
		Authenticator:   req.Authenticator,
		ForeignResolver: e.store,
	})
	if err != nil {
		if errors.Is(err, kernel.ErrAuthFailed) {
			return nil, errors.Join(ErrUnauthorized, err)
		}
		return nil, err
	}
	return tx, nil
}

// ExecuteWithRetry re-runs a transaction after transient failures,
// backing off between attempts. Deterministic failures are returned
// immediately.
func (e *Executor) ExecuteWithRetry(ctx context.Context, req Request, policy RetryPolicy) (*kernel.ExecutedTransaction, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	var lastErr error
	delay := policy.BaseDelay
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		tx, err := e.ExecuteTransaction(ctx, req)
		if err == nil {
			return tx, nil
		}
		if !transient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("executor: %d attempts exhausted: %w", policy.Attempts, lastErr)
}

// BuildSummary executes the transaction up to the authorization point
// and returns the summary that would be signed. Nothing is mutated and
// no fee is spent.
func (e *Executor) BuildSummary(ctx context.Context, req Request) (kernel.TransactionSummary, error) {
	inputs, err := e.prepare(ctx, req)
	if err != nil {
		return kernel.TransactionSummary{}, err
	}
	_, err = e.kernel.Execute(ctx, inputs, kernel.Options{
		ForeignResolver: e.store,
		IntrospectOnly:  true,
	})
	var introspection *kernel.IntrospectionError
	if errors.As(err, &introspection) {
		return introspection.Summary, nil
	}
	if err == nil {
		return kernel.TransactionSummary{}, fmt.Errorf("executor: introspection did not abort")
	}
	return kernel.TransactionSummary{}, err
}

// ExecuteViewScript runs a read-only script against an account's
// committed state and returns the read log.
func (e *Executor) ExecuteViewScript(ctx context.Context, id account.ID, script note.Script) ([]crypto.Word, error) {
	state, err := newLazyState(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	return e.kernel.ExecuteView(ctx, state, script, e.store)
}

// transient reports whether an error is worth retrying: store hiccups
// and stale-state races are, deterministic execution outcomes are not.
func transient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, kernel.ErrInvalidInputs),
		errors.Is(err, kernel.ErrScriptFailure),
		errors.Is(err, kernel.ErrNoteNotConsumable),
		errors.Is(err, kernel.ErrInsufficientFeeBalance),
		errors.Is(err, kernel.ErrForeignCallDepth),
		errors.Is(err, kernel.ErrForeignCallViolation):
		return false
	}
	var introspection *kernel.IntrospectionError
	return !errors.As(err, &introspection)
}
