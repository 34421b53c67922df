// file.go - Note files: the JSON artifact for handing a note to its
// consumer.
//
// A file carries either the full note details or only the header plus an
// inclusion proof, whichever the producer wants to reveal. An optional
// after-block constraint mirrors the execution hint for planning tools.

package note

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrIncompleteFile is returned when a file carries neither full details
// nor a provable header.
var ErrIncompleteFile = errors.New("note: file carries neither note details nor inclusion proof")

// File is the serialized form of a note in transit.
type File struct {
	Note       *Note           `json:"note,omitempty"`
	Header     *Header         `json:"header,omitempty"`
	Proof      *InclusionProof `json:"proof,omitempty"`
	AfterBlock *uint32         `json:"after_block,omitempty"`
}

// NewFile captures a full note, with its proof when available.
func NewFile(n *Note, proof *InclusionProof) *File {
	f := &File{Note: n, Proof: proof}
	if n.Metadata.Hint.Kind == HintAfterBlock {
		block := n.Metadata.Hint.Block
		f.AfterBlock = &block
	}
	return f
}

// NewHeaderFile captures only the header and proof, withholding details.
func NewHeaderFile(h Header, proof InclusionProof) *File {
	return &File{Header: &h, Proof: &proof}
}

// Validate checks internal consistency: proofs must verify against the
// carried note or header.
func (f *File) Validate() error {
	header := f.Header
	if f.Note != nil {
		h := f.Note.Header()
		if header != nil && header.ID != h.ID {
			return fmt.Errorf("%w: header does not match note", ErrInvalidNote)
		}
		header = &h
	}
	if header == nil {
		return ErrIncompleteFile
	}
	if f.Proof != nil {
		return f.Proof.Verify(*header)
	}
	if f.Note == nil {
		return ErrIncompleteFile
	}
	return nil
}

// InputNote converts the file into a consumable input. Files without full
// note details cannot be consumed directly.
func (f *File) InputNote() (*InputNote, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Note == nil {
		return nil, fmt.Errorf("%w: details withheld", ErrIncompleteFile)
	}
	if f.Proof != nil {
		return NewAuthenticatedInput(f.Note, *f.Proof)
	}
	return NewUnauthenticatedInput(f.Note), nil
}

// Write saves the file as JSON.
func (f *File) Write(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("note: encoding note file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("note: writing note file: %w", err)
	}
	return nil
}

// ReadFile loads a note file from disk.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("note: reading note file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("note: decoding note file: %w", err)
	}
	return &f, nil
}
