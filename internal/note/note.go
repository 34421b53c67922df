// note.go - Notes: asset-carrying, script-gated messages between accounts.
//
// The recipient digest binds script, inputs and serial number; it commits
// to who may consume the note and how, without the assets. The note ID
// hashes the recipient digest together with the asset commitment, so two
// notes with equal consumption terms but different payloads have distinct
// identities. The nullifier re-derives from the same pre-image plus the
// serial, and its publication is the only on-chain trace of consumption.

package note

import (
	"errors"
	"fmt"

	"notechain/internal/asset"
	"notechain/internal/crypto"
	"notechain/internal/smt"
)

// MaxAssets bounds the number of assets one note can carry.
const MaxAssets = 255

var (
	// ErrInvalidNote is returned for structurally malformed notes.
	ErrInvalidNote = errors.New("note: invalid note")
	// ErrDuplicateAsset is returned when a note carries the same asset twice.
	ErrDuplicateAsset = errors.New("note: duplicate asset in note")
)

// Domain separation tags.
var (
	tagRecipient = crypto.WordFromUint64(0x4e01)
	tagNoteID    = crypto.WordFromUint64(0x4e02)
	tagNullifier = crypto.WordFromUint64(0x4e03)
	tagInputs    = crypto.WordFromUint64(0x4e04)
	tagAssets    = crypto.WordFromUint64(0x4e05)
	tagMetadata  = crypto.WordFromUint64(0x4e06)
)

// Inputs are the script arguments fixed at note creation.
type Inputs []crypto.Word

// Commitment returns the inputs commitment.
func (in Inputs) Commitment() crypto.Word {
	words := make([]crypto.Word, 0, len(in)+2)
	words = append(words, tagInputs, crypto.WordFromUint64(uint64(len(in))))
	words = append(words, in...)
	return crypto.Hash(words...)
}

// Assets is the ordered asset payload of a note.
type Assets []asset.Asset

// NewAssets validates an asset list for note use.
func NewAssets(assets ...asset.Asset) (Assets, error) {
	if len(assets) > MaxAssets {
		return nil, fmt.Errorf("%w: %d assets", ErrInvalidNote, len(assets))
	}
	seen := make(map[crypto.Word]bool, len(assets))
	for _, a := range assets {
		key := a.VaultKey()
		if seen[key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, key)
		}
		seen[key] = true
	}
	return Assets(assets), nil
}

// Commitment returns the asset commitment.
func (a Assets) Commitment() crypto.Word {
	words := make([]crypto.Word, 0, len(a)+2)
	words = append(words, tagAssets, crypto.WordFromUint64(uint64(len(a))))
	for _, item := range a {
		words = append(words, item.Commitment())
	}
	return crypto.Hash(words...)
}

// Recipient is the consumption half of a note: serial number, script and
// inputs.
type Recipient struct {
	Serial crypto.Word `json:"serial"`
	Script Script      `json:"script"`
	Inputs Inputs      `json:"inputs"`
}

// NewRecipient builds a recipient with a fresh random serial number.
func NewRecipient(script Script, inputs Inputs) (Recipient, error) {
	if err := script.Validate(); err != nil {
		return Recipient{}, err
	}
	return Recipient{Serial: crypto.RandomWord(), Script: script, Inputs: inputs}, nil
}

// Digest returns the recipient digest. It is independent of the asset
// payload.
func (r Recipient) Digest() crypto.Word {
	return crypto.Hash(tagRecipient, r.Script.Commitment(), r.Inputs.Commitment(), r.Serial)
}

// ID identifies a note.
type ID = crypto.Word

// Nullifier is a note's unique consumption marker.
type Nullifier = crypto.Word

// Note is an immutable asset-carrying message.
type Note struct {
	Assets    Assets    `json:"assets"`
	Metadata  Metadata  `json:"metadata"`
	Recipient Recipient `json:"recipient"`
}

// NewNote assembles and validates a note.
func NewNote(assets Assets, metadata Metadata, recipient Recipient) (*Note, error) {
	if err := recipient.Script.Validate(); err != nil {
		return nil, err
	}
	if err := metadata.Hint.validate(); err != nil {
		return nil, err
	}
	if _, err := NewAssets(assets...); err != nil {
		return nil, err
	}
	return &Note{Assets: assets, Metadata: metadata, Recipient: recipient}, nil
}

// ID returns the note identity.
func (n *Note) ID() ID {
	return crypto.Hash(tagNoteID, n.Recipient.Digest(), n.Assets.Commitment())
}

// Nullifier returns the note's consumption marker.
func (n *Note) Nullifier() Nullifier {
	return crypto.Hash(
		tagNullifier,
		n.Recipient.Serial,
		n.Recipient.Script.Commitment(),
		n.Recipient.Inputs.Commitment(),
		n.Assets.Commitment(),
	)
}

// Header returns the public header of the note.
func (n *Note) Header() Header {
	return Header{ID: n.ID(), Metadata: n.Metadata}
}

// Header is the public part of a note: identity plus metadata.
type Header struct {
	ID       ID       `json:"id"`
	Metadata Metadata `json:"metadata"`
}

// Commitment folds the header into a single word for note-tree leaves.
func (h Header) Commitment() crypto.Word {
	return crypto.Hash(tagNoteID, h.ID, h.Metadata.Word())
}

// InclusionProof authenticates a note against the note tree of a specific
// block.
type InclusionProof struct {
	BlockNum uint32      `json:"block_num"`
	NoteRoot crypto.Word `json:"note_root"`
	Opening  smt.Opening `json:"opening"`
}

// Verify checks the proof for the given note header.
func (p *InclusionProof) Verify(h Header) error {
	return p.Opening.Verify(p.NoteRoot, h.ID, h.Commitment())
}

// InputNote is a note presented for consumption: either authenticated by
// an inclusion proof or unauthenticated pending a later proof obligation.
type InputNote struct {
	Note  *Note           `json:"note"`
	Proof *InclusionProof `json:"proof,omitempty"`
}

// NewAuthenticatedInput pairs a note with its inclusion proof.
func NewAuthenticatedInput(n *Note, proof InclusionProof) (*InputNote, error) {
	if err := proof.Verify(n.Header()); err != nil {
		return nil, err
	}
	return &InputNote{Note: n, Proof: &proof}, nil
}

// NewUnauthenticatedInput wraps a note whose inclusion must be proven
// later, typically because it was produced earlier in the same batch.
func NewUnauthenticatedInput(n *Note) *InputNote {
	return &InputNote{Note: n}
}

// IsAuthenticated reports whether the input carries an inclusion proof.
func (in *InputNote) IsAuthenticated() bool { return in.Proof != nil }
