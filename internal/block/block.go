// block.go - Proposing a block from proven batches.
//
// Block proposal repeats the batch checks at chain scope: nullifiers
// must be fresh across all batches and the chain, every cross-batch
// note obligation must be discharged by an earlier batch's output or by
// the chain's note tree, and each account may carry at most one
// effective state transition per block. Conflicting account updates are
// rejected outright, never merged.

package block

import (
	"errors"
	"fmt"

	"notechain/internal/account"
	"notechain/internal/batch"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/note"
	"notechain/internal/prover"
)

// MaxBlockBatches bounds a block to what one aggregate proof can fold.
const MaxBlockBatches = prover.MaxLinks

// BlockError reports which batch broke which block invariant.
type BlockError struct {
	BatchIndex int
	AccountID  account.ID
	Nullifier  note.Nullifier
	NoteID     note.ID
	Reason     string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block: batch %d: %s", e.BatchIndex, e.Reason)
}

// ProposedBlock is a validated block awaiting proof and commit.
type ProposedBlock struct {
	Batches []*batch.ProvenBatch `json:"batches"`
	// Update is the state transition the block applies to the chain.
	Update chain.StateUpdate `json:"update"`
}

// Propose validates the batches against each other and the chain state
// and assembles the block's state update.
func Propose(c *chain.ChainState, timestamp uint64, batches []*batch.ProvenBatch) (*ProposedBlock, error) {
	if len(batches) == 0 {
		return nil, errors.New("block: no batches")
	}
	if len(batches) > MaxBlockBatches {
		return nil, fmt.Errorf("block: %d batches, limit %d", len(batches), MaxBlockBatches)
	}

	seenNullifiers := make(map[note.Nullifier]int)
	seenAccounts := make(map[account.ID]int)
	producedBy := make(map[note.ID]int)
	consumedInBlock := make(map[note.ID]bool)

	update := chain.StateUpdate{Timestamp: timestamp}

	for i, b := range batches {
		for _, nf := range b.Nullifiers {
			if prev, dup := seenNullifiers[nf]; dup {
				return nil, &BlockError{
					BatchIndex: i,
					Nullifier:  nf,
					Reason:     fmt.Sprintf("nullifier %s already consumed by batch %d", nf, prev),
				}
			}
			if c.ContainsNullifier(nf) {
				return nil, &BlockError{
					BatchIndex: i,
					Nullifier:  nf,
					Reason:     fmt.Sprintf("nullifier %s already spent on chain", nf),
				}
			}
			seenNullifiers[nf] = i
			update.Nullifiers = append(update.Nullifiers, nf)
		}

		for _, in := range b.CrossBatchInputs {
			// Outputs of earlier batches are recorded by now, so a hit
			// here always means an earlier producer.
			if _, ok := producedBy[in.NoteID]; ok {
				consumedInBlock[in.NoteID] = true
				continue
			}
			if _, err := c.NoteProof(in.NoteID); err != nil {
				return nil, &BlockError{
					BatchIndex: i,
					NoteID:     in.NoteID,
					Reason:     fmt.Sprintf("note %s is neither produced in this block nor on chain", in.NoteID),
				}
			}
		}

		for _, out := range b.OutputNotes {
			producedBy[out.ID()] = i
		}

		for _, au := range b.AccountUpdates {
			if prev, dup := seenAccounts[au.ID]; dup {
				return nil, &BlockError{
					BatchIndex: i,
					AccountID:  au.ID,
					Reason:     fmt.Sprintf("account %s already updated by batch %d", au.ID, prev),
				}
			}
			seenAccounts[au.ID] = i

			committed := c.AccountCommitment(au.ID)
			if au.InitialCommitment.IsEmpty() {
				if !committed.IsEmpty() {
					return nil, &BlockError{
						BatchIndex: i,
						AccountID:  au.ID,
						Reason:     fmt.Sprintf("new account %s collides with an existing prefix", au.ID),
					}
				}
			} else if committed != au.InitialCommitment {
				return nil, &BlockError{
					BatchIndex: i,
					AccountID:  au.ID,
					Reason:     fmt.Sprintf("account %s does not extend the committed chain state", au.ID),
				}
			}
			update.Accounts = append(update.Accounts, au)
		}
	}

	for _, b := range batches {
		for _, out := range b.OutputNotes {
			if consumedInBlock[out.ID()] {
				continue
			}
			update.Notes = append(update.Notes, out.Header())
		}
	}

	txCommitment, err := txCommitmentOf(batches)
	if err != nil {
		return nil, err
	}
	update.TxCommitment = txCommitment

	return &ProposedBlock{Batches: batches, Update: update}, nil
}

// txCommitmentOf folds the batch identities into the block's
// transaction commitment.
func txCommitmentOf(batches []*batch.ProvenBatch) (crypto.Word, error) {
	links := make([]crypto.Word, len(batches))
	for i, b := range batches {
		id, err := b.ID()
		if err != nil {
			return crypto.EmptyWord, err
		}
		links[i] = id
	}
	return prover.Fold(crypto.EmptyWord, links)
}
