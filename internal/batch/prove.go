// prove.go - Aggregating a proposed batch into a proven batch.

package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"notechain/internal/crypto"
	"notechain/internal/kernel"
	"notechain/internal/prover"
)

// ProvenBatch is a proposed batch with its aggregate proof attached.
type ProvenBatch struct {
	ProposedBatch
	Proof prover.Proof `json:"proof"`
}

// ID returns the batch identity, equal to its transition digest.
func (b *ProvenBatch) ID() (crypto.Word, error) {
	return b.Digest()
}

// Prover turns proposed batches into proven ones.
type Prover struct {
	svc prover.Service
}

// NewProver returns a batch prover over the proof service.
func NewProver(svc prover.Service) *Prover {
	return &Prover{svc: svc}
}

// Prove verifies every transaction proof in the batch, then produces the
// aggregate proof. Transaction verification fans out; batches are
// independent, so callers may overlap Prove calls freely.
func (p *Prover) Prove(ctx context.Context, b *ProposedBatch) (*ProvenBatch, error) {
	g, ctx := errgroup.WithContext(ctx)
	for i, tx := range b.Transactions {
		i, tx := i, tx
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := kernel.VerifyTransactionProof(p.svc, tx); err != nil {
				return fmt.Errorf("batch: transaction %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	witness, err := b.Witness()
	if err != nil {
		return nil, err
	}
	proof, err := p.svc.ProveTransition(ctx, witness)
	if err != nil {
		return nil, err
	}
	return &ProvenBatch{ProposedBatch: *b, Proof: proof}, nil
}

// Verify checks a proven batch's aggregate proof against its public
// fields.
func Verify(svc prover.Service, b *ProvenBatch) error {
	digest, err := b.Digest()
	if err != nil {
		return err
	}
	return svc.Verify(b.Proof, b.NoteRoot, digest)
}
