// local.go - In-process Groth16 prover.

package prover

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"notechain/internal/crypto"
)

// LocalProver proves transitions with an in-process Groth16 backend.
// It is safe for concurrent use.
type LocalProver struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewLocalProver compiles the transition circuit and runs a fresh
// trusted setup.
func NewLocalProver() (*LocalProver, error) {
	return NewLocalProverWithKeys("", "")
}

// NewLocalProverWithKeys compiles the circuit and loads the Groth16 keys
// from the given paths, generating and saving them when absent. Empty
// paths skip persistence entirely.
func NewLocalProverWithKeys(pkPath, vkPath string) (*LocalProver, error) {
	ccs, err := CompileTransitionCircuit()
	if err != nil {
		return nil, fmt.Errorf("compiling transition circuit: %w", err)
	}
	pk, vk, err := setupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return nil, err
	}
	return &LocalProver{ccs: ccs, pk: pk, vk: vk}, nil
}

// ProveTransition implements Service.
func (p *LocalProver) ProveTransition(ctx context.Context, w Witness) (Proof, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	assignment := assignWitness(w)
	fullWitness, err := frontend.NewWitness(&assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWitness, err)
	}

	// Proving is CPU-bound and not interruptible; run it aside so the
	// caller's deadline still holds.
	type result struct {
		proof groth16.Proof
		err   error
	}
	done := make(chan result, 1)
	go func() {
		proof, err := groth16.Prove(p.ccs, p.pk, fullWitness)
		done <- result{proof: proof, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalFault, res.err)
		}
		var buf bytes.Buffer
		if _, err := res.proof.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("%w: serializing proof: %v", ErrInternalFault, err)
		}
		return buf.Bytes(), nil
	}
}

// Verify implements Service.
func (p *LocalProver) Verify(proof Proof, initial, digest crypto.Word) error {
	assignment := TransitionCircuit{
		Initial: initial.BigInt(),
		Digest:  digest.BigInt(),
	}
	publicWitness, err := frontend.NewWitness(&assignment, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalFault, err)
	}

	decoded := groth16.NewProof(ecc.BW6_761)
	if _, err := decoded.ReadFrom(bytes.NewReader(proof)); err != nil {
		return fmt.Errorf("%w: undecodable proof: %v", ErrInvalidProof, err)
	}
	if err := groth16.Verify(decoded, p.vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// Health implements Service.
func (p *LocalProver) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.pk == nil || p.vk == nil {
		return fmt.Errorf("%w: keys not initialized", ErrInternalFault)
	}
	return nil
}

// VerifyingKey exposes the verifying key for out-of-band distribution.
func (p *LocalProver) VerifyingKey() groth16.VerifyingKey {
	return p.vk
}

func assignWitness(w Witness) TransitionCircuit {
	assignment := TransitionCircuit{
		Initial: w.Initial.BigInt(),
		Digest:  w.Digest.BigInt(),
	}
	padded := padLinks(w.Links)
	for i, link := range padded {
		assignment.Links[i] = link.BigInt()
	}
	return assignment
}

// setupOrLoadKeys loads the Groth16 keys from disk when both files
// exist, otherwise runs setup and persists the result.
func setupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	if pkPath != "" && vkPath != "" {
		if _, errPK := os.Stat(pkPath); errPK == nil {
			if _, errVK := os.Stat(vkPath); errVK == nil {
				pk, err := loadProvingKey(pkPath)
				if err != nil {
					return nil, nil, err
				}
				vk, err := loadVerifyingKey(vkPath)
				if err != nil {
					return nil, nil, err
				}
				return pk, vk, nil
			}
		}
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if pkPath != "" && vkPath != "" {
		if err := saveProvingKey(pkPath, pk); err != nil {
			return nil, nil, err
		}
		if err := saveVerifyingKey(vkPath, vk); err != nil {
			return nil, nil, err
		}
	}
	return pk, vk, nil
}

func saveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

func saveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

func loadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}
