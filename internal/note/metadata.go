// metadata.go - Note metadata: routing and consumability information
// published alongside a note's commitment.

package note

import (
	"errors"
	"fmt"

	"notechain/internal/account"
	"notechain/internal/crypto"
)

// HintKind tags the execution hint variant.
type HintKind uint8

const (
	// HintAlways marks a note consumable in any block.
	HintAlways HintKind = iota + 1
	// HintAfterBlock marks a note consumable only at or after a block.
	HintAfterBlock
)

// ErrInvalidHint is returned for unrecognized hint encodings.
var ErrInvalidHint = errors.New("note: invalid execution hint")

// ExecutionHint tells consumers when a note becomes executable. The hint
// is advisory for planning but enforced by the kernel prologue.
type ExecutionHint struct {
	Kind  HintKind `json:"kind"`
	Block uint32   `json:"block,omitempty"`
}

// HintAlwaysExecutable returns the unconditional hint.
func HintAlwaysExecutable() ExecutionHint {
	return ExecutionHint{Kind: HintAlways}
}

// HintExecutableAfter returns a hint gating consumption on a block height.
func HintExecutableAfter(block uint32) ExecutionHint {
	return ExecutionHint{Kind: HintAfterBlock, Block: block}
}

// ExecutableAt reports whether a note with this hint may be consumed in
// the given block.
func (h ExecutionHint) ExecutableAt(block uint32) bool {
	switch h.Kind {
	case HintAlways:
		return true
	case HintAfterBlock:
		return block >= h.Block
	}
	return false
}

func (h ExecutionHint) validate() error {
	if h.Kind != HintAlways && h.Kind != HintAfterBlock {
		return fmt.Errorf("%w: kind %d", ErrInvalidHint, h.Kind)
	}
	return nil
}

// Metadata is the public part of a note.
type Metadata struct {
	Sender account.ID    `json:"sender"`
	Tag    uint32        `json:"tag"`
	Hint   ExecutionHint `json:"hint"`
	Aux    crypto.Word   `json:"aux"`
}

// Word folds the metadata into a single field element for header hashing.
func (m Metadata) Word() crypto.Word {
	return crypto.Hash(
		tagMetadata,
		m.Sender.Word(),
		crypto.WordFromUint64Pair(uint64(m.Tag), uint64(m.Hint.Kind)<<32|uint64(m.Hint.Block)),
		m.Aux,
	)
}
