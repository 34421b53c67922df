// summary.go - Transaction summaries: the signing message of a transaction.
//
// The summary binds the account delta and the consumed/produced note sets
// under a salt, and its commitment is the only message the account's
// authentication scheme ever signs. Signing the summary therefore
// authorizes exactly one state transition.

package kernel

import (
	"notechain/internal/crypto"
	"notechain/internal/note"
)

var (
	tagSummary     = crypto.WordFromUint64(0x5501)
	tagInputNotes  = crypto.WordFromUint64(0x5502)
	tagOutputNotes = crypto.WordFromUint64(0x5503)
)

// TransactionSummary is the pre-image of the signing message.
type TransactionSummary struct {
	DeltaCommitment       crypto.Word `json:"delta_commitment"`
	InputNotesCommitment  crypto.Word `json:"input_notes_commitment"`
	OutputNotesCommitment crypto.Word `json:"output_notes_commitment"`
	Salt                  crypto.Word `json:"salt"`
}

// Commitment returns the signing message.
func (s TransactionSummary) Commitment() crypto.Word {
	return crypto.Hash(
		tagSummary,
		s.DeltaCommitment,
		s.InputNotesCommitment,
		s.OutputNotesCommitment,
		s.Salt,
	)
}

// InputNotesCommitment folds the nullifiers of the consumed notes in
// consumption order.
func InputNotesCommitment(nullifiers []note.Nullifier) crypto.Word {
	words := make([]crypto.Word, 0, len(nullifiers)+2)
	words = append(words, tagInputNotes, crypto.WordFromUint64(uint64(len(nullifiers))))
	words = append(words, nullifiers...)
	return crypto.Hash(words...)
}

// OutputNotesCommitment folds the IDs of the emitted notes in emission
// order.
func OutputNotesCommitment(notes []note.OutputNote) crypto.Word {
	words := make([]crypto.Word, 0, len(notes)+2)
	words = append(words, tagOutputNotes, crypto.WordFromUint64(uint64(len(notes))))
	for _, n := range notes {
		words = append(words, n.ID())
	}
	return crypto.Hash(words...)
}
