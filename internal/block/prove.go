// prove.go - Proving a proposed block and committing it to the chain.

package block

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"notechain/internal/batch"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/prover"
)

// ProvenBlock is a committed block: its header, the applied state
// update and the aggregate proof. Once produced it is immutable and
// becomes the authoritative input for the next proposal.
type ProvenBlock struct {
	Header  chain.BlockHeader    `json:"header"`
	Batches []*batch.ProvenBatch `json:"batches"`
	Update  chain.StateUpdate    `json:"update"`
	Proof   prover.Proof         `json:"proof"`
}

// Prover turns proposed blocks into proven ones. Block proving is
// strictly sequential: each block extends the exact chain state the
// previous one produced.
type Prover struct {
	svc prover.Service
	c   *chain.ChainState
}

// NewProver returns a block prover over the proof service and chain.
func NewProver(svc prover.Service, c *chain.ChainState) *Prover {
	return &Prover{svc: svc, c: c}
}

// Prove verifies every batch proof, produces the block's aggregate
// proof, and advances the chain. A failure at any step leaves the chain
// untouched.
func (p *Prover) Prove(ctx context.Context, proposed *ProposedBlock) (*ProvenBlock, error) {
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range proposed.Batches {
		i, b := i, b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := batch.Verify(p.svc, b); err != nil {
				return fmt.Errorf("block: batch %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tip := p.c.LatestHeader()
	witness, err := blockWitness(tip.Commitment(), proposed.Batches)
	if err != nil {
		return nil, err
	}
	proof, err := p.svc.ProveTransition(ctx, witness)
	if err != nil {
		return nil, err
	}

	header, err := p.c.Advance(proposed.Update)
	if err != nil {
		return nil, err
	}
	return &ProvenBlock{
		Header:  header,
		Batches: proposed.Batches,
		Update:  proposed.Update,
		Proof:   proof,
	}, nil
}

// VerifyProof checks a proven block's aggregate proof against the
// previous block's commitment and its batch identities.
func VerifyProof(svc prover.Service, prevCommitment crypto.Word, b *ProvenBlock) error {
	witness, err := blockWitness(prevCommitment, b.Batches)
	if err != nil {
		return err
	}
	return svc.Verify(b.Proof, witness.Initial, witness.Digest)
}

// blockWitness folds the batch identities from the previous block's
// commitment.
func blockWitness(prevCommitment crypto.Word, batches []*batch.ProvenBatch) (prover.Witness, error) {
	links := make([]crypto.Word, len(batches))
	for i, b := range batches {
		id, err := b.ID()
		if err != nil {
			return prover.Witness{}, err
		}
		links[i] = id
	}
	return prover.NewWitness(prevCommitment, links...)
}
