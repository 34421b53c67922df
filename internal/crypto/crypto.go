// crypto.go - Commitment primitives for the notechain protocol.
//
// All commitments are MiMC hashes over the BW6-761 scalar field, so that the
// same hash can be re-computed inside Groth16 circuits during proof
// generation. A Word is the canonical big-endian encoding of one field
// element and is the unit of every commitment, tree key and tree value in
// the system.

package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	fr "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// WordSize is the byte length of a canonical field element.
const WordSize = fr.Bytes

// Word is a single field element in canonical big-endian form.
// The zero value is the empty word.
type Word [WordSize]byte

// EmptyWord is the all-zero word. It doubles as the "no value" marker in
// sparse Merkle trees.
var EmptyWord Word

// IsEmpty returns true if the word is all zeroes.
func (w Word) IsEmpty() bool {
	return w == EmptyWord
}

// Hex returns the hex encoding of the word.
func (w Word) Hex() string {
	return hex.EncodeToString(w[:])
}

// String returns a short human-readable form of the word.
func (w Word) String() string {
	return hex.EncodeToString(w[:8])
}

// BigInt returns the word interpreted as a big-endian integer.
func (w Word) BigInt() *big.Int {
	return new(big.Int).SetBytes(w[:])
}

// Cmp compares two words lexicographically.
func (w Word) Cmp(other Word) int {
	return bytes.Compare(w[:], other[:])
}

// MarshalText implements encoding.TextMarshaler so words survive JSON
// round-trips, including as map keys.
func (w Word) MarshalText() ([]byte, error) {
	return []byte(w.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Word) UnmarshalText(text []byte) error {
	decoded, err := WordFromHex(string(text))
	if err != nil {
		return err
	}
	*w = decoded
	return nil
}

// WordFromHex decodes a word from its hex encoding.
func WordFromHex(s string) (Word, error) {
	var w Word
	raw, err := hex.DecodeString(s)
	if err != nil {
		return w, fmt.Errorf("invalid word encoding: %w", err)
	}
	if len(raw) != WordSize {
		return w, fmt.Errorf("invalid word length: got %d bytes, want %d", len(raw), WordSize)
	}
	copy(w[:], raw)
	return w, nil
}

// WordFromBig returns the word for v reduced modulo the field order.
func WordFromBig(v *big.Int) Word {
	var e fr.Element
	e.SetBigInt(v)
	return Word(e.Bytes())
}

// WordFromUint64 returns the word encoding the given integer.
func WordFromUint64(v uint64) Word {
	var w Word
	var e fr.Element
	e.SetUint64(v)
	w = e.Bytes()
	return w
}

// WordFromUint64Pair packs two integers into a single word. The result is
// always a canonical field element since it uses only the low 16 bytes.
func WordFromUint64Pair(hi, lo uint64) Word {
	var w Word
	for i := 0; i < 8; i++ {
		w[WordSize-16+i] = byte(hi >> (56 - 8*i))
		w[WordSize-8+i] = byte(lo >> (56 - 8*i))
	}
	return w
}

// Uint64Pair unpacks a word previously built with WordFromUint64Pair.
func (w Word) Uint64Pair() (hi, lo uint64) {
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(w[WordSize-16+i])
		lo = lo<<8 | uint64(w[WordSize-8+i])
	}
	return hi, lo
}

// WordFromBytes reduces arbitrary bytes into a word. Inputs longer than the
// field size are reduced modulo the field order, so this must only be used
// where the input is itself a digest or short identifier.
func WordFromBytes(b []byte) Word {
	return WordFromBig(new(big.Int).SetBytes(b))
}

// RandomWord returns a uniformly random field element.
func RandomWord() Word {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		panic(fmt.Sprintf("randomness source failed: %v", err))
	}
	return Word(e.Bytes())
}

// Hash computes the MiMC hash of the given words.
func Hash(words ...Word) Word {
	h := mimcNative.NewMiMC()
	for _, w := range words {
		// Words are canonical field elements, Write cannot fail.
		h.Write(w[:])
	}
	return WordFromBytes(h.Sum(nil))
}

// HashBytes hashes arbitrary bytes by splitting them into field-sized
// chunks. Used for commitments over encoded structures (account code,
// script bodies) rather than over existing words.
func HashBytes(data []byte) Word {
	h := mimcNative.NewMiMC()
	lengthWord := WordFromUint64(uint64(len(data)))
	h.Write(lengthWord[:])
	// Chunk below the field size so every block is canonical.
	const chunk = WordSize - 1
	for start := 0; start < len(data); start += chunk {
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		w := WordFromBytes(data[start:end])
		h.Write(w[:])
	}
	return WordFromBytes(h.Sum(nil))
}
