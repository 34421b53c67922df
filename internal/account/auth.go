// auth.go - Account authentication schemes.
//
// Authentication is a closed set of tagged schemes. The native scheme is
// EdDSA over the BLS12-377 embedded twisted Edwards curve with MiMC as the
// signing hash; multisig requires a threshold of native signatures. The
// signing message is always the commitment of a transaction summary, so a
// signature binds the full account delta and note set of one transaction.

package account

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	frBls "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	mimcBls "github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards/eddsa"

	"notechain/internal/crypto"
)

// AuthScheme tags the authentication variant of an account.
type AuthScheme uint8

const (
	// AuthEdDSA is the native single-key scheme.
	AuthEdDSA AuthScheme = iota + 1
	// AuthMultisig requires a threshold of native signatures.
	AuthMultisig
)

var (
	// ErrInvalidSignature is returned when a signature fails verification.
	ErrInvalidSignature = errors.New("account: invalid signature")
	// ErrUnknownAuthScheme is returned for unrecognized scheme tags.
	ErrUnknownAuthScheme = errors.New("account: unknown authentication scheme")
)

// SecretKey is the signing half of the native scheme.
type SecretKey struct {
	inner *eddsa.PrivateKey
}

// GenerateSecretKey creates a fresh native signing key.
func GenerateSecretKey() (*SecretKey, error) {
	key, err := eddsa.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("account: key generation failed: %w", err)
	}
	return &SecretKey{inner: key}, nil
}

// SecretKeyFromBytes restores a secret key from its serialized form.
func SecretKeyFromBytes(data []byte) (*SecretKey, error) {
	key := new(eddsa.PrivateKey)
	if _, err := key.SetBytes(data); err != nil {
		return nil, fmt.Errorf("account: malformed secret key: %w", err)
	}
	return &SecretKey{inner: key}, nil
}

// Bytes serializes the secret key for key files.
func (sk *SecretKey) Bytes() []byte {
	return sk.inner.Bytes()
}

// PublicKey returns the serialized verification key.
func (sk *SecretKey) PublicKey() []byte {
	return sk.inner.PublicKey.Bytes()
}

// Sign produces a native signature over the given message word.
func (sk *SecretKey) Sign(message crypto.Word) ([]byte, error) {
	sig, err := sk.inner.Sign(signingBytes(message), mimcBls.NewMiMC())
	if err != nil {
		return nil, fmt.Errorf("account: signing failed: %w", err)
	}
	return sig, nil
}

// VerifySignature checks a native signature against a serialized public
// key.
func VerifySignature(publicKey []byte, message crypto.Word, signature []byte) error {
	pub := new(eddsa.PublicKey)
	if _, err := pub.SetBytes(publicKey); err != nil {
		return fmt.Errorf("%w: malformed public key: %v", ErrInvalidSignature, err)
	}
	ok, err := pub.Verify(signature, signingBytes(message), mimcBls.NewMiMC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// signingBytes reduces a commitment word into the signing curve's scalar
// field so the MiMC signing hash accepts it as a canonical block.
func signingBytes(message crypto.Word) []byte {
	var e frBls.Element
	e.SetBigInt(message.BigInt())
	raw := e.Bytes()
	return raw[:]
}

// SignaturePart is one signer's contribution to a multisig signature.
type SignaturePart struct {
	KeyIndex  int    `json:"key_index"`
	Signature []byte `json:"signature"`
}

// EncodeMultiSignature serializes a set of signature parts.
func EncodeMultiSignature(parts []SignaturePart) ([]byte, error) {
	return json.Marshal(parts)
}

// VerifyAuthorization checks a signature blob against the account's
// authentication scheme as declared by its code.
func VerifyAuthorization(code *Code, message crypto.Word, signature []byte) error {
	switch code.AuthScheme {
	case AuthEdDSA:
		if len(code.AuthKeys) != 1 {
			return fmt.Errorf("%w: native scheme requires exactly one key, have %d", ErrInvalidSignature, len(code.AuthKeys))
		}
		return VerifySignature(code.AuthKeys[0], message, signature)

	case AuthMultisig:
		var parts []SignaturePart
		if err := json.Unmarshal(signature, &parts); err != nil {
			return fmt.Errorf("%w: malformed multisig blob: %v", ErrInvalidSignature, err)
		}
		seen := make(map[int]bool)
		valid := 0
		for _, part := range parts {
			if part.KeyIndex < 0 || part.KeyIndex >= len(code.AuthKeys) || seen[part.KeyIndex] {
				continue
			}
			if VerifySignature(code.AuthKeys[part.KeyIndex], message, part.Signature) == nil {
				seen[part.KeyIndex] = true
				valid++
			}
		}
		if valid < int(code.AuthThreshold) {
			return fmt.Errorf("%w: %d of %d required signatures", ErrInvalidSignature, valid, code.AuthThreshold)
		}
		return nil
	}
	return fmt.Errorf("%w: scheme %d", ErrUnknownAuthScheme, code.AuthScheme)
}
