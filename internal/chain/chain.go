// chain.go - Global chain state: account tree, nullifier tree, note tree
// and header history.
//
// The chain state is owned by the block-assembly stage. Everything before
// that stage reads immutable snapshots or witnesses; Advance is the only
// mutation and applies one block's worth of updates atomically, verifying
// every account transition and nullifier insert before touching the trees.

package chain

import (
	"errors"
	"fmt"
	"sync"

	"notechain/internal/account"
	"notechain/internal/crypto"
	"notechain/internal/note"
	"notechain/internal/smt"
)

var (
	// ErrDuplicateAccountPrefix is returned when a new account's ID prefix
	// already keys the account tree.
	ErrDuplicateAccountPrefix = errors.New("chain: account ID prefix already in use")
	// ErrStaleAccountState is returned when an update's initial commitment
	// does not match the tree.
	ErrStaleAccountState = errors.New("chain: account update does not extend current state")
	// ErrNullifierExists is returned when consuming an already-spent note.
	ErrNullifierExists = errors.New("chain: nullifier already recorded")
	// ErrUnknownBlock is returned for header lookups past the chain tip.
	ErrUnknownBlock = errors.New("chain: unknown block")
	// ErrUnknownNote is returned when opening a note absent from the tree.
	ErrUnknownNote = errors.New("chain: note not in note tree")
	// ErrInvalidUpdate is returned for structurally malformed state updates.
	ErrInvalidUpdate = errors.New("chain: invalid state update")
)

// AccountUpdate is one account's commitment transition within a block.
// InitialCommitment is the empty word for accounts created by the block.
type AccountUpdate struct {
	ID                account.ID  `json:"id"`
	InitialCommitment crypto.Word `json:"initial_commitment"`
	FinalCommitment   crypto.Word `json:"final_commitment"`
}

// StateUpdate is everything one block applies to the chain state.
type StateUpdate struct {
	Timestamp    uint64           `json:"timestamp"`
	TxCommitment crypto.Word      `json:"tx_commitment"`
	Accounts     []AccountUpdate  `json:"accounts"`
	Nullifiers   []note.Nullifier `json:"nullifiers"`
	Notes        []note.Header    `json:"notes"`
}

// ChainState holds the authenticated global state and the header history.
type ChainState struct {
	mu         sync.RWMutex
	accounts   *smt.Tree
	nullifiers *smt.Tree
	notes      *smt.Tree
	headers    []BlockHeader
}

// Genesis initializes a chain with the given bootstrap accounts, typically
// the native fee faucet.
func Genesis(timestamp uint64, bootstrap ...account.Header) (*ChainState, error) {
	accounts := smt.NewTree()
	for _, h := range bootstrap {
		key := h.ID.PrefixWord()
		if !accounts.Get(key).IsEmpty() {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAccountPrefix, h.ID)
		}
		if _, err := accounts.Insert(key, h.Commitment()); err != nil {
			return nil, err
		}
	}
	nullifiers := smt.NewTree()
	notes := smt.NewTree()

	genesis := BlockHeader{
		BlockNum:        0,
		Timestamp:       timestamp,
		PrevCommitment:  crypto.EmptyWord,
		ChainCommitment: crypto.EmptyWord,
		AccountRoot:     accounts.Root(),
		NullifierRoot:   nullifiers.Root(),
		NoteRoot:        notes.Root(),
		TxCommitment:    crypto.EmptyWord,
	}
	return &ChainState{
		accounts:   accounts,
		nullifiers: nullifiers,
		notes:      notes,
		headers:    []BlockHeader{genesis},
	}, nil
}

// LatestHeader returns the chain tip.
func (c *ChainState) LatestHeader() BlockHeader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers[len(c.headers)-1]
}

// Header returns the header of a specific block.
func (c *ChainState) Header(blockNum uint32) (BlockHeader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(blockNum) >= len(c.headers) {
		return BlockHeader{}, fmt.Errorf("%w: %d", ErrUnknownBlock, blockNum)
	}
	return c.headers[blockNum], nil
}

// Headers returns the headers in [from, to], both inclusive.
func (c *ChainState) Headers(from, to uint32) ([]BlockHeader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if from > to || int(to) >= len(c.headers) {
		return nil, fmt.Errorf("%w: range %d..%d of %d", ErrUnknownBlock, from, to, len(c.headers))
	}
	out := make([]BlockHeader, to-from+1)
	copy(out, c.headers[from:to+1])
	return out, nil
}

// ChainCommitment returns the fold of all header commitments so far.
func (c *ChainState) ChainCommitment() crypto.Word {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tip := c.headers[len(c.headers)-1]
	return FoldChainCommitment(tip.ChainCommitment, tip.Commitment())
}

// AccountCommitment returns the committed state of an account, or the
// empty word if the account is not in the tree.
func (c *ChainState) AccountCommitment(id account.ID) crypto.Word {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accounts.Get(id.PrefixWord())
}

// AccountWitness returns the account's commitment with a Merkle opening
// against the current account root.
func (c *ChainState) AccountWitness(id account.ID) (crypto.Word, smt.Opening) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := id.PrefixWord()
	return c.accounts.Get(key), c.accounts.Open(key)
}

// ContainsNullifier reports whether a note has been consumed.
func (c *ChainState) ContainsNullifier(n note.Nullifier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.nullifiers.Get(n).IsEmpty()
}

// NullifierWitness returns the nullifier's marker (empty if unspent) with
// an opening against the current nullifier root.
func (c *ChainState) NullifierWitness(n note.Nullifier) (crypto.Word, smt.Opening) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nullifiers.Get(n), c.nullifiers.Open(n)
}

// NoteProof builds an inclusion proof for a note committed by the chain.
func (c *ChainState) NoteProof(id note.ID) (note.InclusionProof, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.notes.Get(id).IsEmpty() {
		return note.InclusionProof{}, fmt.Errorf("%w: %s", ErrUnknownNote, id)
	}
	return note.InclusionProof{
		BlockNum: uint32(len(c.headers) - 1),
		NoteRoot: c.notes.Root(),
		Opening:  c.notes.Open(id),
	}, nil
}

// Advance applies one block's state update and appends its header. The
// update is validated in full before any tree is mutated; on error the
// chain state is unchanged.
func (c *ChainState) Advance(u StateUpdate) (BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.headers[len(c.headers)-1]
	if u.Timestamp < tip.Timestamp {
		return BlockHeader{}, fmt.Errorf("%w: timestamp regresses", ErrInvalidUpdate)
	}
	blockNum := uint32(len(c.headers))

	accounts := c.accounts.Clone()
	seenAccounts := make(map[uint64]bool, len(u.Accounts))
	for _, au := range u.Accounts {
		if seenAccounts[au.ID.Prefix()] {
			return BlockHeader{}, fmt.Errorf("%w: account %s updated twice", ErrInvalidUpdate, au.ID)
		}
		seenAccounts[au.ID.Prefix()] = true

		key := au.ID.PrefixWord()
		current := accounts.Get(key)
		if au.InitialCommitment.IsEmpty() {
			if !current.IsEmpty() {
				return BlockHeader{}, fmt.Errorf("%w: %s", ErrDuplicateAccountPrefix, au.ID)
			}
		} else if current != au.InitialCommitment {
			return BlockHeader{}, fmt.Errorf("%w: account %s", ErrStaleAccountState, au.ID)
		}
		if _, err := accounts.Insert(key, au.FinalCommitment); err != nil {
			return BlockHeader{}, err
		}
	}

	nullifiers := c.nullifiers.Clone()
	marker := crypto.WordFromUint64Pair(uint64(blockNum), 1)
	seenNullifiers := make(map[crypto.Word]bool, len(u.Nullifiers))
	for _, nf := range u.Nullifiers {
		if seenNullifiers[nf] {
			return BlockHeader{}, fmt.Errorf("%w: duplicate nullifier %s", ErrInvalidUpdate, nf)
		}
		seenNullifiers[nf] = true
		if !nullifiers.Get(nf).IsEmpty() {
			return BlockHeader{}, fmt.Errorf("%w: %s", ErrNullifierExists, nf)
		}
		if _, err := nullifiers.Insert(nf, marker); err != nil {
			return BlockHeader{}, err
		}
	}

	notes := c.notes.Clone()
	for _, h := range u.Notes {
		if _, err := notes.Insert(h.ID, h.Commitment()); err != nil {
			return BlockHeader{}, err
		}
	}

	header := BlockHeader{
		BlockNum:        blockNum,
		Timestamp:       u.Timestamp,
		PrevCommitment:  tip.Commitment(),
		ChainCommitment: FoldChainCommitment(tip.ChainCommitment, tip.Commitment()),
		AccountRoot:     accounts.Root(),
		NullifierRoot:   nullifiers.Root(),
		NoteRoot:        notes.Root(),
		TxCommitment:    u.TxCommitment,
	}

	c.accounts = accounts
	c.nullifiers = nullifiers
	c.notes = notes
	c.headers = append(c.headers, header)
	return header, nil
}

// AccountRoot returns the current account tree root.
func (c *ChainState) AccountRoot() crypto.Word {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accounts.Root()
}

// NullifierRoot returns the current nullifier tree root.
func (c *ChainState) NullifierRoot() crypto.Word {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nullifiers.Root()
}

// NoteRoot returns the current note tree root.
func (c *ChainState) NoteRoot() crypto.Word {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notes.Root()
}

// BlockNum returns the current chain tip height.
func (c *ChainState) BlockNum() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint32(len(c.headers) - 1)
}
