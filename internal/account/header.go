// header.go - Account headers: the commitment pre-image of an account.

package account

import "notechain/internal/crypto"

// Header carries everything needed to recompute an account commitment
// without the full vault, storage or code payloads.
type Header struct {
	ID                ID          `json:"id"`
	Nonce             uint64      `json:"nonce"`
	VaultRoot         crypto.Word `json:"vault_root"`
	StorageCommitment crypto.Word `json:"storage_commitment"`
	CodeCommitment    crypto.Word `json:"code_commitment"`
}

// Commitment returns the same commitment as the full account would.
func (h Header) Commitment() crypto.Word {
	return commitment(h.ID, h.Nonce, h.VaultRoot, h.StorageCommitment, h.CodeCommitment)
}
