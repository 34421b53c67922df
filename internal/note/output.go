// output.go - Output notes: notes as emitted by a transaction.
//
// An output note may be known only by its recipient digest (the producer
// keeps the script, inputs and serial private), so it carries the digest
// directly instead of a full recipient. Its ID hashes exactly like a full
// note's, which is what lets a later transaction consume it by revealing
// the pre-image.

package note

import "notechain/internal/crypto"

// OutputNote is a note emitted by a transaction.
type OutputNote struct {
	RecipientDigest crypto.Word `json:"recipient_digest"`
	Assets          Assets      `json:"assets"`
	Metadata        Metadata    `json:"metadata"`
}

// NewOutputNote builds an output note from a recipient digest.
func NewOutputNote(recipientDigest crypto.Word, assets Assets, metadata Metadata) (OutputNote, error) {
	if _, err := NewAssets(assets...); err != nil {
		return OutputNote{}, err
	}
	if err := metadata.Hint.validate(); err != nil {
		return OutputNote{}, err
	}
	return OutputNote{RecipientDigest: recipientDigest, Assets: assets, Metadata: metadata}, nil
}

// OutputFromNote converts a full note into its output form.
func OutputFromNote(n *Note) OutputNote {
	return OutputNote{
		RecipientDigest: n.Recipient.Digest(),
		Assets:          n.Assets,
		Metadata:        n.Metadata,
	}
}

// ID returns the note identity, identical to the full note's ID.
func (o OutputNote) ID() ID {
	return crypto.Hash(tagNoteID, o.RecipientDigest, o.Assets.Commitment())
}

// Header returns the public header of the note.
func (o OutputNote) Header() Header {
	return Header{ID: o.ID(), Metadata: o.Metadata}
}
