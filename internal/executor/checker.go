// checker.go - Note consumption feasibility.
//
// Before committing to a transaction, a wallet can ask which of a set of
// candidate notes is actually consumable together: a note may be
// misaddressed, gated on a future block, or poisoned by a failing
// script. The checker attempts the full candidate set and, whenever the
// kernel attributes the failure to a specific note, drops that note and
// retries with the rest, until an attempt succeeds. Candidates are
// ordered lexicographically by note ID first, so the result does not
// depend on the order the caller discovered the notes. The check runs in
// introspection mode: no fee is spent, no state touched, no signature
// required.

package executor

import (
	"context"
	"errors"
	"sort"

	"notechain/internal/kernel"
	"notechain/internal/note"
)

// NoteConsumptionChecker finds consumable subsets of candidate notes.
// Its verdict is advisory; the authoritative check is the execution
// itself.
type NoteConsumptionChecker struct {
	exec *Executor
}

// NewNoteConsumptionChecker returns a checker over the executor.
func NewNoteConsumptionChecker(exec *Executor) *NoteConsumptionChecker {
	return &NoteConsumptionChecker{exec: exec}
}

// FindConsumableSubset returns the subset of the request's notes
// (NoteIDs and Notes together) that the account can consume in one
// transaction, in lexicographic note-ID order. Failures the kernel
// cannot pin on a note are returned as errors.
func (c *NoteConsumptionChecker) FindConsumableSubset(ctx context.Context, req Request) ([]*note.InputNote, error) {
	remaining := make([]*note.InputNote, 0, len(req.NoteIDs)+len(req.Notes))
	for _, id := range req.NoteIDs {
		input, err := c.exec.resolveNote(ctx, id)
		if err != nil {
			return nil, err
		}
		remaining = append(remaining, input)
	}
	remaining = append(remaining, req.Notes...)

	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].Note.ID().Cmp(remaining[j].Note.ID()) < 0
	})

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := c.attempt(ctx, req, remaining)
		if err == nil {
			return remaining, nil
		}
		var noteErr *kernel.NoteError
		if !errors.As(err, &noteErr) {
			return nil, err
		}
		next, ok := dropNote(remaining, noteErr.NoteID)
		if !ok {
			return nil, err
		}
		remaining = next
	}
	return remaining, nil
}

// attempt reports whether the account can consume exactly this note
// set. An introspection abort means the execution reached the
// authorization point, which is all feasibility requires.
func (c *NoteConsumptionChecker) attempt(ctx context.Context, req Request, notes []*note.InputNote) error {
	trial := req
	trial.NoteIDs = nil
	trial.Notes = notes
	trial.Authenticator = nil
	_, err := c.exec.BuildSummary(ctx, trial)
	return err
}

func dropNote(notes []*note.InputNote, id note.ID) ([]*note.InputNote, bool) {
	for i, n := range notes {
		if n.Note.ID() == id {
			return append(notes[:i:i], notes[i+1:]...), true
		}
	}
	return notes, false
}
