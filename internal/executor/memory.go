// memory.go - An in-process DataStore over the chain state.
//
// Backs executions in tests and the single-node pipeline. Account and
// note details live in plain maps; authentication always goes through
// the chain state, so a stored account that has drifted from the
// committed tree is reported as unauthenticated, not served silently.

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/kernel"
	"notechain/internal/note"
	"notechain/internal/smt"
)

// MemoryStore is a DataStore over in-memory account and note records,
// authenticated against a ChainState.
type MemoryStore struct {
	mu       sync.RWMutex
	chain    *chain.ChainState
	accounts map[account.ID]*account.Account
	notes    map[note.ID]*note.Note
}

// NewMemoryStore returns an empty store over the given chain.
func NewMemoryStore(c *chain.ChainState) *MemoryStore {
	return &MemoryStore{
		chain:    c,
		accounts: make(map[account.ID]*account.Account),
		notes:    make(map[note.ID]*note.Note),
	}
}

// PutAccount records an account's full state. The caller keeps it in
// sync with the chain as blocks advance.
func (s *MemoryStore) PutAccount(a *account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID()] = a.Clone()
}

// PutNote records a note's full details.
func (s *MemoryStore) PutNote(n *note.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.ID()] = n
}

// lookup returns the stored account after checking it still matches the
// committed chain state.
func (s *MemoryStore) lookup(ctx context.Context, id account.ID) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	a, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	if s.chain.AccountCommitment(id) != a.Commitment() {
		return nil, fmt.Errorf("%w: account %s", ErrUnauthenticated, id)
	}
	return a, nil
}

// AccountHeader implements DataStore.
func (s *MemoryStore) AccountHeader(ctx context.Context, id account.ID) (account.Header, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return account.Header{}, err
	}
	return a.Header(), nil
}

// AccountCode implements DataStore.
func (s *MemoryStore) AccountCode(ctx context.Context, id account.ID) (*account.Code, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Code(), nil
}

// StorageHeader implements DataStore.
func (s *MemoryStore) StorageHeader(ctx context.Context, id account.ID) (account.StorageHeader, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return account.StorageHeader{}, err
	}
	return a.Storage().Header(), nil
}

// StorageValue implements DataStore.
func (s *MemoryStore) StorageValue(ctx context.Context, id account.ID, index uint8) (crypto.Word, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return crypto.EmptyWord, err
	}
	return a.Storage().GetItem(index)
}

// StorageMapEntry implements DataStore.
func (s *MemoryStore) StorageMapEntry(ctx context.Context, id account.ID, index uint8, key crypto.Word) (crypto.Word, smt.Opening, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return crypto.EmptyWord, smt.Opening{}, err
	}
	value, err := a.Storage().GetMapItem(index, key)
	if err != nil {
		return crypto.EmptyWord, smt.Opening{}, err
	}
	opening, err := a.Storage().OpenMapItem(index, key)
	if err != nil {
		return crypto.EmptyWord, smt.Opening{}, err
	}
	return value, opening, nil
}

// VaultAsset implements DataStore.
func (s *MemoryStore) VaultAsset(ctx context.Context, id account.ID, key crypto.Word) (asset.AssetWitness, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return asset.AssetWitness{}, err
	}
	opening := a.Vault().Open(key)
	return asset.AssetWitness{Key: key, Value: opening.Value(key), Opening: opening}, nil
}

// Note implements DataStore.
func (s *MemoryStore) Note(ctx context.Context, id note.ID) (*note.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	n, ok := s.notes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return n, nil
}

// NoteInclusion implements DataStore.
func (s *MemoryStore) NoteInclusion(ctx context.Context, id note.ID) (note.InclusionProof, error) {
	if err := ctx.Err(); err != nil {
		return note.InclusionProof{}, err
	}
	proof, err := s.chain.NoteProof(id)
	if err != nil {
		if errors.Is(err, chain.ErrUnknownNote) {
			return note.InclusionProof{}, fmt.Errorf("%w: note %s", ErrNotFound, id)
		}
		return note.InclusionProof{}, err
	}
	return proof, nil
}

// LatestHeader implements DataStore.
func (s *MemoryStore) LatestHeader(ctx context.Context) (chain.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return chain.BlockHeader{}, err
	}
	return s.chain.LatestHeader(), nil
}

// BlockHeader implements DataStore.
func (s *MemoryStore) BlockHeader(ctx context.Context, blockNum uint32) (chain.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return chain.BlockHeader{}, err
	}
	header, err := s.chain.Header(blockNum)
	if err != nil {
		return chain.BlockHeader{}, fmt.Errorf("%w: block %d", ErrNotFound, blockNum)
	}
	return header, nil
}

// BlockHeaders implements DataStore.
func (s *MemoryStore) BlockHeaders(ctx context.Context, from, to uint32) ([]chain.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	headers, err := s.chain.Headers(from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: blocks %d..%d", ErrNotFound, from, to)
	}
	return headers, nil
}

// ForeignAccount implements DataStore and kernel.ForeignResolver.
func (s *MemoryStore) ForeignAccount(ctx context.Context, id account.ID) (kernel.AccountState, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return kernel.StateFromAccount(a), nil
}
