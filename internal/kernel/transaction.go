// transaction.go - Executed and proven transactions.

package kernel

import (
	"notechain/internal/account"
	"notechain/internal/crypto"
	"notechain/internal/note"
)

var tagTransaction = crypto.WordFromUint64(0x7a01)

// InputNoteCommitment is what a transaction publicly reveals about one
// consumed note: always the nullifier, plus the note ID when the note was
// unauthenticated and still owes an inclusion proof.
type InputNoteCommitment struct {
	Nullifier     note.Nullifier `json:"nullifier"`
	NoteID        note.ID        `json:"note_id,omitempty"`
	Authenticated bool           `json:"authenticated"`
}

// ExecutedTransaction is the full result of one kernel run, before
// proving.
type ExecutedTransaction struct {
	AccountID         account.ID         `json:"account_id"`
	InitialCommitment crypto.Word        `json:"initial_commitment"`
	FinalCommitment   crypto.Word        `json:"final_commitment"`
	Delta             *account.Delta     `json:"delta"`
	InputNotes        []*note.InputNote  `json:"input_notes"`
	OutputNotes       []note.OutputNote  `json:"output_notes"`
	Summary           TransactionSummary `json:"summary"`
	Signature         []byte             `json:"signature"`
	Fee               uint64             `json:"fee"`
	BlockNum          uint32             `json:"block_num"`
	BlockCommitment   crypto.Word        `json:"block_commitment"`
}

// Nullifiers returns the consumed nullifiers in consumption order.
func (tx *ExecutedTransaction) Nullifiers() []note.Nullifier {
	out := make([]note.Nullifier, len(tx.InputNotes))
	for i, in := range tx.InputNotes {
		out[i] = in.Note.Nullifier()
	}
	return out
}

// InputNoteCommitments returns the public input-note records.
func (tx *ExecutedTransaction) InputNoteCommitments() []InputNoteCommitment {
	out := make([]InputNoteCommitment, len(tx.InputNotes))
	for i, in := range tx.InputNotes {
		out[i] = InputNoteCommitment{
			Nullifier:     in.Note.Nullifier(),
			Authenticated: in.IsAuthenticated(),
		}
		if !in.IsAuthenticated() {
			out[i].NoteID = in.Note.ID()
		}
	}
	return out
}

// ID returns the transaction identity, binding account transition and
// note sets.
func (tx *ExecutedTransaction) ID() crypto.Word {
	return transactionID(tx.AccountID, tx.InitialCommitment, tx.FinalCommitment,
		tx.Summary.InputNotesCommitment, tx.Summary.OutputNotesCommitment)
}

func transactionID(id account.ID, initial, final, inputC, outputC crypto.Word) crypto.Word {
	return crypto.Hash(tagTransaction, id.Word(), initial, final, inputC, outputC)
}

// ProvenTransaction is the self-contained, provable form of a
// transaction: public inputs plus proof bytes, with enough note data for
// batch-level linkage.
type ProvenTransaction struct {
	AccountID         account.ID            `json:"account_id"`
	InitialCommitment crypto.Word           `json:"initial_commitment"`
	FinalCommitment   crypto.Word           `json:"final_commitment"`
	DeltaCommitment   crypto.Word           `json:"delta_commitment"`
	Delta             *account.Delta        `json:"delta"`
	InputNotes        []InputNoteCommitment `json:"input_notes"`
	OutputNotes       []note.OutputNote     `json:"output_notes"`
	Fee               uint64                `json:"fee"`
	BlockNum          uint32                `json:"block_num"`
	BlockCommitment   crypto.Word           `json:"block_commitment"`
	Proof             []byte                `json:"proof"`
}

// NewProvenTransaction pairs an executed transaction with its proof.
func NewProvenTransaction(tx *ExecutedTransaction, proof []byte) *ProvenTransaction {
	return &ProvenTransaction{
		AccountID:         tx.AccountID,
		InitialCommitment: tx.InitialCommitment,
		FinalCommitment:   tx.FinalCommitment,
		DeltaCommitment:   tx.Delta.Commitment(),
		Delta:             tx.Delta.Clone(),
		InputNotes:        tx.InputNoteCommitments(),
		OutputNotes:       append([]note.OutputNote(nil), tx.OutputNotes...),
		Fee:               tx.Fee,
		BlockNum:          tx.BlockNum,
		BlockCommitment:   tx.BlockCommitment,
		Proof:             append([]byte(nil), proof...),
	}
}

// Nullifiers returns the consumed nullifiers.
func (tx *ProvenTransaction) Nullifiers() []note.Nullifier {
	out := make([]note.Nullifier, len(tx.InputNotes))
	for i, in := range tx.InputNotes {
		out[i] = in.Nullifier
	}
	return out
}

// ID returns the transaction identity.
func (tx *ProvenTransaction) ID() crypto.Word {
	nullifiers := tx.Nullifiers()
	return transactionID(tx.AccountID, tx.InitialCommitment, tx.FinalCommitment,
		InputNotesCommitment(nullifiers), OutputNotesCommitment(tx.OutputNotes))
}
