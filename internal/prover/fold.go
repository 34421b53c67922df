// fold.go - The native side of the transition relation.
//
// A proof attests that a public transition digest was derived from a
// public starting commitment by folding a bounded chain of link words
// through MiMC. The same fold runs natively here and inside the circuit
// in circuit.go; both must stay in lockstep.

package prover

import (
	"fmt"

	"notechain/internal/crypto"
)

// MaxLinks is the fixed link-chain length of the transition circuit.
// Shorter chains are padded with the empty word.
const MaxLinks = 8

// Fold computes the transition digest for a starting commitment and a
// link chain. The chain is padded to MaxLinks so the digest is uniform
// regardless of how many links the caller supplied.
func Fold(initial crypto.Word, links []crypto.Word) (crypto.Word, error) {
	if len(links) > MaxLinks {
		return crypto.Word{}, fmt.Errorf("%w: %d links, limit %d", ErrMalformedWitness, len(links), MaxLinks)
	}
	acc := initial
	for i := 0; i < MaxLinks; i++ {
		var link crypto.Word
		if i < len(links) {
			link = links[i]
		}
		acc = crypto.Hash(acc, link)
	}
	return acc, nil
}

// padLinks returns the link chain extended to MaxLinks with empty words.
func padLinks(links []crypto.Word) [MaxLinks]crypto.Word {
	var out [MaxLinks]crypto.Word
	copy(out[:], links)
	return out
}
