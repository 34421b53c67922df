// store.go - The data source a transaction execution draws from.
//
// Executions anchor on a reference block and pull the rest of their
// inputs lazily: account headers, storage and vault witnesses, note
// details and inclusion proofs. All calls are context-bound so callers
// control timeouts. "Not found" and "not authenticated" are distinct
// failures: the first means the store has never seen the record, the
// second that the record no longer matches the committed chain state.

package executor

import (
	"context"
	"errors"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/kernel"
	"notechain/internal/note"
	"notechain/internal/smt"
)

var (
	// ErrNotFound is returned for records the store does not hold.
	ErrNotFound = errors.New("executor: record not found")
	// ErrUnauthenticated is returned for records the store holds but can
	// no longer authenticate against the chain state.
	ErrUnauthenticated = errors.New("executor: record not authenticated against chain state")
)

// DataStore supplies everything a transaction execution reads. The
// ForeignAccount method makes every store usable as the kernel's foreign
// resolver.
type DataStore interface {
	// AccountHeader returns the committed header of an account.
	AccountHeader(ctx context.Context, id account.ID) (account.Header, error)
	// AccountCode returns the full code of an account.
	AccountCode(ctx context.Context, id account.ID) (*account.Code, error)
	// StorageHeader returns the slot headers of an account's storage.
	StorageHeader(ctx context.Context, id account.ID) (account.StorageHeader, error)
	// StorageValue returns the payload of a value slot.
	StorageValue(ctx context.Context, id account.ID, index uint8) (crypto.Word, error)
	// StorageMapEntry returns one map slot entry with its opening against
	// the slot's committed root.
	StorageMapEntry(ctx context.Context, id account.ID, index uint8, key crypto.Word) (crypto.Word, smt.Opening, error)
	// VaultAsset returns the witness for one vault key.
	VaultAsset(ctx context.Context, id account.ID, key crypto.Word) (asset.AssetWitness, error)

	// Note returns the full details of a note.
	Note(ctx context.Context, id note.ID) (*note.Note, error)
	// NoteInclusion proves a note's membership in the chain's note tree.
	NoteInclusion(ctx context.Context, id note.ID) (note.InclusionProof, error)

	// LatestHeader returns the chain tip executions anchor on.
	LatestHeader(ctx context.Context) (chain.BlockHeader, error)
	// BlockHeader returns one block header.
	BlockHeader(ctx context.Context, blockNum uint32) (chain.BlockHeader, error)
	// BlockHeaders returns the headers in [from, to], both inclusive.
	BlockHeaders(ctx context.Context, from, to uint32) ([]chain.BlockHeader, error)

	// ForeignAccount returns a read-only state view of another account,
	// satisfying kernel.ForeignResolver.
	ForeignAccount(ctx context.Context, id account.ID) (kernel.AccountState, error)
}

var _ kernel.ForeignResolver = (DataStore)(nil)
