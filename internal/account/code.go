// code.go - Account code: the public interface of an account.
//
// Code declares the authentication scheme and the closed set of procedures
// an account exposes to its own transactions and to foreign callers. The
// code commitment is part of the account commitment and, for seed-derived
// accounts, of the identity itself.

package account

import (
	"encoding/json"
	"errors"
	"fmt"

	"notechain/internal/crypto"
)

// ProcedureKind is the closed set of procedures accounts can expose.
type ProcedureKind uint8

const (
	// ProcGetItem reads a value storage slot.
	ProcGetItem ProcedureKind = iota + 1
	// ProcGetMapItem reads one entry of a map storage slot.
	ProcGetMapItem
	// ProcGetBalance reads the fungible balance for a faucet.
	ProcGetBalance
	// ProcGetNonce reads the account nonce.
	ProcGetNonce
)

// ErrUnknownProcedure is returned when invoking a procedure an account's
// code does not export.
var ErrUnknownProcedure = errors.New("account: procedure not exported by account code")

// Procedure describes one exported procedure.
type Procedure struct {
	Kind ProcedureKind `json:"kind"`
	Name string        `json:"name"`
}

// Code is the public interface of an account.
type Code struct {
	AuthScheme    AuthScheme  `json:"auth_scheme"`
	AuthKeys      [][]byte    `json:"auth_keys"`
	AuthThreshold uint8       `json:"auth_threshold,omitempty"`
	Procedures    []Procedure `json:"procedures"`
}

// StandardCode returns code exporting all read procedures under the native
// single-key scheme.
func StandardCode(publicKey []byte) *Code {
	return &Code{
		AuthScheme: AuthEdDSA,
		AuthKeys:   [][]byte{publicKey},
		Procedures: []Procedure{
			{Kind: ProcGetItem, Name: "get_item"},
			{Kind: ProcGetMapItem, Name: "get_map_item"},
			{Kind: ProcGetBalance, Name: "get_balance"},
			{Kind: ProcGetNonce, Name: "get_nonce"},
		},
	}
}

// MultisigCode returns standard code gated by a threshold of the provided
// keys.
func MultisigCode(threshold uint8, publicKeys ...[]byte) (*Code, error) {
	if int(threshold) == 0 || int(threshold) > len(publicKeys) {
		return nil, fmt.Errorf("account: invalid multisig threshold %d of %d keys", threshold, len(publicKeys))
	}
	code := StandardCode(nil)
	code.AuthScheme = AuthMultisig
	code.AuthKeys = publicKeys
	code.AuthThreshold = threshold
	return code, nil
}

// Exports reports whether the code exports a procedure of the given kind.
func (c *Code) Exports(kind ProcedureKind) bool {
	for _, p := range c.Procedures {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// Commitment returns the code commitment.
func (c *Code) Commitment() crypto.Word {
	encoded, err := json.Marshal(c)
	if err != nil {
		// Code contains only marshalable fields.
		panic(fmt.Sprintf("account: code encoding failed: %v", err))
	}
	return crypto.HashBytes(encoded)
}

// Clone returns a deep copy of the code.
func (c *Code) Clone() *Code {
	clone := &Code{
		AuthScheme:    c.AuthScheme,
		AuthThreshold: c.AuthThreshold,
		Procedures:    append([]Procedure(nil), c.Procedures...),
	}
	for _, key := range c.AuthKeys {
		clone.AuthKeys = append(clone.AuthKeys, append([]byte(nil), key...))
	}
	return clone
}
