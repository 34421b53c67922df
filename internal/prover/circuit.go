// circuit.go - The Groth16 transition circuit.
//
// Mirrors Fold in fold.go: starting from the public initial commitment,
// the circuit absorbs each private link word through MiMC and constrains
// the result to equal the public digest.

package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

// TransitionCircuit proves knowledge of a link chain folding the initial
// commitment into the digest.
type TransitionCircuit struct {
	Initial frontend.Variable `gnark:",public"`
	Digest  frontend.Variable `gnark:",public"`

	Links [MaxLinks]frontend.Variable
}

// Define implements frontend.Circuit.
func (c *TransitionCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	acc := c.Initial
	for i := 0; i < MaxLinks; i++ {
		hasher.Reset()
		hasher.Write(acc)
		hasher.Write(c.Links[i])
		acc = hasher.Sum()
	}

	api.AssertIsEqual(c.Digest, acc)
	return nil
}

// CompileTransitionCircuit compiles the circuit into an R1CS over
// BW6-761.
func CompileTransitionCircuit() (constraint.ConstraintSystem, error) {
	var circuit TransitionCircuit
	return frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
}
