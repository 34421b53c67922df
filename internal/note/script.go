// script.go - Note scripts: the closed set of consumption programs.
//
// A script decides what happens when a note is consumed. The set is
// closed and tagged: transfer hands the assets to a fixed target, swap
// additionally emits a payback note toward the sender, multisig restricts
// the consumer set, and custom runs a small structured operation list.
// Dispatch is by tag; the kernel interprets each variant directly.

package note

import (
	"encoding/json"
	"errors"
	"fmt"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/crypto"
)

// ScriptKind tags the script variant.
type ScriptKind uint8

const (
	// ScriptTransfer moves the note's assets into the target account.
	ScriptTransfer ScriptKind = iota + 1
	// ScriptSwap moves the assets and emits a payback note to the sender.
	ScriptSwap
	// ScriptMultisig is a transfer consumable only by listed accounts.
	ScriptMultisig
	// ScriptCustom runs an explicit operation list.
	ScriptCustom
)

// OpKind tags one operation of a custom script.
type OpKind uint8

const (
	// OpAddAssets moves the note's assets into the consuming account.
	OpAddAssets OpKind = iota + 1
	// OpSetItem writes a value storage slot.
	OpSetItem
	// OpSetMapItem writes one entry of a map storage slot.
	OpSetMapItem
	// OpEmitNote emits an output note carrying the given assets.
	OpEmitNote
	// OpFail aborts the consuming transaction unconditionally.
	OpFail
	// OpReadItem records a value slot in the script's read log.
	OpReadItem
	// OpReadMapItem records a map entry in the read log.
	OpReadMapItem
	// OpReadBalance records a fungible balance in the read log.
	OpReadBalance
	// OpReadNonce records an account nonce in the read log.
	OpReadNonce
	// OpForeignAssertItem reads a slot of another account through a foreign
	// call and aborts unless it equals Value.
	OpForeignAssertItem
)

// ErrInvalidScript is returned for malformed script definitions.
var ErrInvalidScript = errors.New("note: invalid script")

// Op is one operation of a custom script.
type Op struct {
	Kind OpKind `json:"kind"`

	// OpSetItem / OpSetMapItem.
	Slot  uint8       `json:"slot,omitempty"`
	Key   crypto.Word `json:"key,omitempty"`
	Value crypto.Word `json:"value,omitempty"`

	// OpEmitNote.
	Recipient crypto.Word   `json:"recipient,omitempty"`
	Assets    []asset.Asset `json:"assets,omitempty"`
	Tag       uint32        `json:"tag,omitempty"`

	// OpReadBalance / OpForeignAssertItem.
	Faucet  crypto.Word `json:"faucet,omitempty"`
	Foreign account.ID  `json:"foreign,omitempty"`
}

// SwapTerms describes the payback half of a swap script.
type SwapTerms struct {
	// RecipientDigest commits to the payback note's consumption terms.
	RecipientDigest crypto.Word `json:"recipient_digest"`
	// RequestedAsset must be carried by the payback note.
	RequestedAsset asset.Asset `json:"requested_asset"`
	// PaybackTag routes the payback note.
	PaybackTag uint32 `json:"payback_tag"`
}

// Script is a tagged note consumption program.
type Script struct {
	Kind ScriptKind `json:"kind"`

	// ScriptTransfer / ScriptSwap / ScriptMultisig.
	Target account.ID `json:"target,omitempty"`

	// ScriptSwap.
	Swap *SwapTerms `json:"swap,omitempty"`

	// ScriptMultisig.
	Consumers []account.ID `json:"consumers,omitempty"`

	// ScriptCustom.
	Ops []Op `json:"ops,omitempty"`
}

// TransferScript returns a script handing the note's assets to target.
func TransferScript(target account.ID) Script {
	return Script{Kind: ScriptTransfer, Target: target}
}

// SwapScript returns a script that trades the note's assets for the
// requested asset, paid back to a note with the given recipient digest.
func SwapScript(target account.ID, terms SwapTerms) Script {
	return Script{Kind: ScriptSwap, Target: target, Swap: &terms}
}

// MultisigScript returns a transfer consumable by any of the listed
// accounts.
func MultisigScript(target account.ID, consumers ...account.ID) Script {
	return Script{Kind: ScriptMultisig, Target: target, Consumers: consumers}
}

// CustomScript returns a script running the given operations.
func CustomScript(ops ...Op) Script {
	return Script{Kind: ScriptCustom, Ops: ops}
}

// Validate checks the script's structural invariants.
func (s Script) Validate() error {
	switch s.Kind {
	case ScriptTransfer:
		if s.Target.IsZero() {
			return fmt.Errorf("%w: transfer without target", ErrInvalidScript)
		}
	case ScriptSwap:
		if s.Target.IsZero() || s.Swap == nil {
			return fmt.Errorf("%w: swap without target or terms", ErrInvalidScript)
		}
	case ScriptMultisig:
		if s.Target.IsZero() || len(s.Consumers) == 0 {
			return fmt.Errorf("%w: multisig without consumers", ErrInvalidScript)
		}
	case ScriptCustom:
		if len(s.Ops) == 0 {
			return fmt.Errorf("%w: custom script without operations", ErrInvalidScript)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidScript, s.Kind)
	}
	return nil
}

// MayBeConsumedBy reports whether the script permits consumption by the
// given account. Transfer and swap notes are bound to their target;
// multisig notes to their consumer list; custom notes are open.
func (s Script) MayBeConsumedBy(id account.ID) bool {
	switch s.Kind {
	case ScriptTransfer, ScriptSwap:
		return s.Target == id
	case ScriptMultisig:
		for _, c := range s.Consumers {
			if c == id {
				return true
			}
		}
		return false
	case ScriptCustom:
		return true
	}
	return false
}

// Commitment returns the script commitment.
func (s Script) Commitment() crypto.Word {
	encoded, err := json.Marshal(s)
	if err != nil {
		// Scripts contain only marshalable fields.
		panic(fmt.Sprintf("note: script encoding failed: %v", err))
	}
	return crypto.HashBytes(encoded)
}
