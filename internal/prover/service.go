// service.go - The proof-service contract shared by local, remote and
// pooled provers.
//
// Callers describe a state transition as a witness (public starting
// commitment, public digest, private link chain) and get back opaque
// proof bytes. Failures are structured: a malformed witness and an
// over-capacity worker are the caller's problem, an internal fault is
// the service's, and ErrProvingFailed is terminal after all retry
// avenues are exhausted.

package prover

import (
	"context"
	"errors"

	"notechain/internal/crypto"
)

var (
	// ErrMalformedWitness flags a witness the service cannot prove:
	// oversized link chain or a digest that does not match the fold.
	ErrMalformedWitness = errors.New("prover: malformed witness")

	// ErrCapacityExceeded means the worker is saturated; the request may
	// succeed on another worker or later.
	ErrCapacityExceeded = errors.New("prover: capacity exceeded")

	// ErrInternalFault covers faults inside the proving backend.
	ErrInternalFault = errors.New("prover: internal fault")

	// ErrProvingFailed is terminal: every available worker was tried and
	// none produced a proof.
	ErrProvingFailed = errors.New("prover: proving failed")

	// ErrInvalidProof is returned by Verify when the proof does not hold
	// for the given public inputs.
	ErrInvalidProof = errors.New("prover: invalid proof")
)

// Proof is an opaque serialized Groth16 proof.
type Proof []byte

// Witness is one transition statement. Initial and Digest are public;
// the link chain is private.
type Witness struct {
	Initial crypto.Word   `json:"initial"`
	Digest  crypto.Word   `json:"digest"`
	Links   []crypto.Word `json:"links"`
}

// NewWitness folds the link chain natively and returns the complete
// witness for it.
func NewWitness(initial crypto.Word, links ...crypto.Word) (Witness, error) {
	digest, err := Fold(initial, links)
	if err != nil {
		return Witness{}, err
	}
	return Witness{Initial: initial, Digest: digest, Links: links}, nil
}

// Validate checks the witness against the native fold.
func (w Witness) Validate() error {
	digest, err := Fold(w.Initial, w.Links)
	if err != nil {
		return err
	}
	if digest != w.Digest {
		return errors.Join(ErrMalformedWitness, errors.New("digest does not match link chain"))
	}
	return nil
}

// Service produces and checks transition proofs.
type Service interface {
	// ProveTransition proves the witness, honoring ctx cancellation.
	ProveTransition(ctx context.Context, w Witness) (Proof, error)
	// Verify checks a proof against the public inputs only.
	Verify(proof Proof, initial, digest crypto.Word) error
	// Health reports whether the service can currently take work.
	Health(ctx context.Context) error
}
