// authenticator.go - The authorization callback invoked by the epilogue.
//
// The kernel never sees key material: it hands the transaction summary to
// an Authenticator and verifies whatever comes back against the account's
// declared scheme. Wallets implement this over local keys; custodial
// setups forward the summary to a remote signer.

package kernel

import (
	"context"
	"errors"
	"fmt"

	"notechain/internal/account"
)

// ErrSignerDeclined is returned by authenticators refusing to sign.
var ErrSignerDeclined = errors.New("kernel: signer declined transaction summary")

// Authenticator produces a proof of authorization for a transaction
// summary.
type Authenticator interface {
	SignSummary(ctx context.Context, summary TransactionSummary) ([]byte, error)
}

// SingleKeyAuthenticator signs with one native key.
type SingleKeyAuthenticator struct {
	Key *account.SecretKey
}

// SignSummary implements Authenticator.
func (a *SingleKeyAuthenticator) SignSummary(_ context.Context, summary TransactionSummary) ([]byte, error) {
	return a.Key.Sign(summary.Commitment())
}

// MultisigAuthenticator collects a threshold of native signatures from
// locally held keys. KeyIndexes map each key to its slot in the account
// code's key list.
type MultisigAuthenticator struct {
	Keys       []*account.SecretKey
	KeyIndexes []int
}

// SignSummary implements Authenticator.
func (a *MultisigAuthenticator) SignSummary(_ context.Context, summary TransactionSummary) ([]byte, error) {
	if len(a.Keys) != len(a.KeyIndexes) {
		return nil, fmt.Errorf("kernel: %d keys but %d key indexes", len(a.Keys), len(a.KeyIndexes))
	}
	message := summary.Commitment()
	parts := make([]account.SignaturePart, len(a.Keys))
	for i, key := range a.Keys {
		sig, err := key.Sign(message)
		if err != nil {
			return nil, err
		}
		parts[i] = account.SignaturePart{KeyIndex: a.KeyIndexes[i], Signature: sig}
	}
	return account.EncodeMultiSignature(parts)
}
