// batch.go - Proposing a batch from proven transactions.
//
// A batch is an ordered set of proven transactions with its internal
// note traffic resolved: no nullifier appears twice, an unauthenticated
// input either matches an output of an earlier transaction in the same
// batch (and is erased from the batch's output set) or is carried
// forward as a cross-batch obligation for the block to discharge, and
// transactions touching the same account must chain commitments
// head-to-tail. Violations surface as a BatchError naming the offender;
// transactions are never silently dropped.

package batch

import (
	"fmt"

	"notechain/internal/account"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/kernel"
	"notechain/internal/note"
	"notechain/internal/prover"
	"notechain/internal/smt"
)

// MaxBatchTransactions bounds a batch to what one aggregate proof can
// fold.
const MaxBatchTransactions = prover.MaxLinks

// BatchError reports which transaction broke which batch invariant.
type BatchError struct {
	TxIndex   int
	Nullifier note.Nullifier
	NoteID    note.ID
	Reason    string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch: transaction %d: %s", e.TxIndex, e.Reason)
}

// ProposedBatch is a validated batch awaiting its aggregate proof.
type ProposedBatch struct {
	Transactions []*kernel.ProvenTransaction `json:"transactions"`
	// AccountUpdates holds one net commitment transition per touched
	// account, transactions on the same account chained in order.
	AccountUpdates []chain.AccountUpdate `json:"account_updates"`
	// Nullifiers are all consumed nullifiers, in consumption order.
	Nullifiers []note.Nullifier `json:"nullifiers"`
	// OutputNotes are the produced notes surviving the batch, i.e. not
	// consumed by a later transaction within it.
	OutputNotes []note.OutputNote `json:"output_notes"`
	// CrossBatchInputs are unauthenticated inputs no transaction in this
	// batch produced; the block stage must resolve them.
	CrossBatchInputs []kernel.InputNoteCommitment `json:"cross_batch_inputs"`
	// NoteRoot commits to the surviving output notes.
	NoteRoot crypto.Word `json:"note_root"`
}

// Propose validates the transaction set and assembles the batch.
func Propose(txs []*kernel.ProvenTransaction) (*ProposedBatch, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("batch: no transactions")
	}
	if len(txs) > MaxBatchTransactions {
		return nil, fmt.Errorf("batch: %d transactions, limit %d", len(txs), MaxBatchTransactions)
	}

	seenNullifiers := make(map[note.Nullifier]int)
	produced := make(map[note.ID]int)
	consumedIntraBatch := make(map[note.ID]bool)

	accountUpdates := make(map[account.ID]*chain.AccountUpdate)
	var accountOrder []account.ID

	b := &ProposedBatch{Transactions: txs}

	for i, tx := range txs {
		for _, in := range tx.InputNotes {
			if prev, dup := seenNullifiers[in.Nullifier]; dup {
				return nil, &BatchError{
					TxIndex:   i,
					Nullifier: in.Nullifier,
					Reason:    fmt.Sprintf("nullifier %s already consumed by transaction %d", in.Nullifier, prev),
				}
			}
			seenNullifiers[in.Nullifier] = i
			b.Nullifiers = append(b.Nullifiers, in.Nullifier)

			if in.Authenticated {
				continue
			}
			if _, ok := produced[in.NoteID]; ok {
				consumedIntraBatch[in.NoteID] = true
			} else {
				b.CrossBatchInputs = append(b.CrossBatchInputs, in)
			}
		}

		for _, out := range tx.OutputNotes {
			id := out.ID()
			if prev, dup := produced[id]; dup {
				return nil, &BatchError{
					TxIndex: i,
					NoteID:  id,
					Reason:  fmt.Sprintf("note %s already produced by transaction %d", id, prev),
				}
			}
			produced[id] = i
		}

		update, ok := accountUpdates[tx.AccountID]
		if !ok {
			accountUpdates[tx.AccountID] = &chain.AccountUpdate{
				ID:                tx.AccountID,
				InitialCommitment: tx.InitialCommitment,
				FinalCommitment:   tx.FinalCommitment,
			}
			accountOrder = append(accountOrder, tx.AccountID)
		} else if update.FinalCommitment == tx.InitialCommitment {
			update.FinalCommitment = tx.FinalCommitment
		} else {
			return nil, &BatchError{
				TxIndex: i,
				Reason:  fmt.Sprintf("account %s does not extend the batch's pending state", tx.AccountID),
			}
		}
	}

	noteTree := smt.NewTree()
	for _, tx := range txs {
		for _, out := range tx.OutputNotes {
			if consumedIntraBatch[out.ID()] {
				continue
			}
			b.OutputNotes = append(b.OutputNotes, out)
			if _, err := noteTree.Insert(out.ID(), out.Header().Commitment()); err != nil {
				return nil, err
			}
		}
	}
	b.NoteRoot = noteTree.Root()

	for _, id := range accountOrder {
		b.AccountUpdates = append(b.AccountUpdates, *accountUpdates[id])
	}
	return b, nil
}

// Digest folds the transaction IDs into the batch note root; it is the
// public statement the aggregate proof attests.
func (b *ProposedBatch) Digest() (crypto.Word, error) {
	links := make([]crypto.Word, len(b.Transactions))
	for i, tx := range b.Transactions {
		links[i] = tx.ID()
	}
	return prover.Fold(b.NoteRoot, links)
}

// Witness returns the batch's transition statement for proving.
func (b *ProposedBatch) Witness() (prover.Witness, error) {
	links := make([]crypto.Word, len(b.Transactions))
	for i, tx := range b.Transactions {
		links[i] = tx.ID()
	}
	return prover.NewWitness(b.NoteRoot, links...)
}
