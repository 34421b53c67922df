// prove.go - Binding transactions to the proof service.
//
// A transaction proof attests the transition digest folding the
// account's initial commitment through the final commitment, the delta
// commitment and the two note-set commitments. Everything in the fold is
// recomputable from a proven transaction's public fields, so verifiers
// never need the witness.

package kernel

import (
	"context"

	"notechain/internal/crypto"
	"notechain/internal/prover"
)

// TransactionWitness returns the transition statement a transaction's
// proof attests.
func TransactionWitness(tx *ExecutedTransaction) (prover.Witness, error) {
	return prover.NewWitness(tx.InitialCommitment,
		tx.FinalCommitment,
		tx.Delta.Commitment(),
		tx.Summary.InputNotesCommitment,
		tx.Summary.OutputNotesCommitment,
	)
}

// ProveTransaction proves an executed transaction and packages it.
func ProveTransaction(ctx context.Context, svc prover.Service, tx *ExecutedTransaction) (*ProvenTransaction, error) {
	witness, err := TransactionWitness(tx)
	if err != nil {
		return nil, err
	}
	proof, err := svc.ProveTransition(ctx, witness)
	if err != nil {
		return nil, err
	}
	return NewProvenTransaction(tx, proof), nil
}

// VerifyTransactionProof checks a proven transaction's proof against its
// public fields.
func VerifyTransactionProof(svc prover.Service, tx *ProvenTransaction) error {
	digest, err := prover.Fold(tx.InitialCommitment, []crypto.Word{
		tx.FinalCommitment,
		tx.DeltaCommitment,
		InputNotesCommitment(tx.Nullifiers()),
		OutputNotesCommitment(tx.OutputNotes),
	})
	if err != nil {
		return err
	}
	return svc.Verify(prover.Proof(tx.Proof), tx.InitialCommitment, digest)
}
