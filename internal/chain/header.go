// header.go - Block headers.
//
// A header commits to the state roots after applying its block, to the
// previous header, and to the running chain commitment that folds every
// header so far. Header commitments are the leaves of that fold, so a
// verifier holding the latest chain commitment can check any prefix of
// the chain.

package chain

import (
	"notechain/internal/crypto"
)

var (
	tagHeader = crypto.WordFromUint64(0xb101)
	tagChain  = crypto.WordFromUint64(0xb102)
)

// BlockHeader is the public summary of one block.
type BlockHeader struct {
	BlockNum        uint32      `json:"block_num"`
	Timestamp       uint64      `json:"timestamp"`
	PrevCommitment  crypto.Word `json:"prev_commitment"`
	ChainCommitment crypto.Word `json:"chain_commitment"`
	AccountRoot     crypto.Word `json:"account_root"`
	NullifierRoot   crypto.Word `json:"nullifier_root"`
	NoteRoot        crypto.Word `json:"note_root"`
	TxCommitment    crypto.Word `json:"tx_commitment"`
}

// Commitment returns the header commitment.
func (h BlockHeader) Commitment() crypto.Word {
	return crypto.Hash(
		tagHeader,
		crypto.WordFromUint64Pair(uint64(h.BlockNum), h.Timestamp),
		h.PrevCommitment,
		h.ChainCommitment,
		h.AccountRoot,
		h.NullifierRoot,
		h.NoteRoot,
		h.TxCommitment,
	)
}

// FoldChainCommitment advances the running chain commitment by one header.
func FoldChainCommitment(prev, headerCommitment crypto.Word) crypto.Word {
	return crypto.Hash(tagChain, prev, headerCommitment)
}
