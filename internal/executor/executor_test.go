package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/kernel"
	"notechain/internal/note"
)

type testEnv struct {
	feeFaucet crypto.Word
	assetX    crypto.Word
	params    kernel.Params

	chain *chain.ChainState
	store *MemoryStore
	exec  *Executor

	acct *account.Account
	key  *account.SecretKey
}

// newTestEnv builds a chain whose genesis commits one funded account,
// with the account's full state registered in the store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		feeFaucet: account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord()).Word(),
		assetX:    account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord()).Word(),
	}
	env.params = kernel.Params{FeeFaucet: env.feeFaucet, BaseFee: 10, PerNoteFee: 5}

	env.acct, env.key = env.newAccount(t,
		env.fungible(t, env.assetX, 100),
		env.fungible(t, env.feeFaucet, 1000),
	)

	c, err := chain.Genesis(1000, env.acct.Header())
	require.NoError(t, err)
	env.chain = c
	env.store = NewMemoryStore(c)
	env.store.PutAccount(env.acct)
	env.exec = New(env.store, env.params)
	return env
}

func (env *testEnv) fungible(t *testing.T, faucet crypto.Word, amount uint64) asset.Asset {
	t.Helper()
	f, err := asset.NewFungibleAsset(faucet, amount)
	require.NoError(t, err)
	return asset.NewAsset(f)
}

func (env *testEnv) newAccount(t *testing.T, assets ...asset.Asset) (*account.Account, *account.SecretKey) {
	t.Helper()
	sk, err := account.GenerateSecretKey()
	require.NoError(t, err)
	code := account.StandardCode(sk.PublicKey())
	storage, err := account.NewStorage([]account.Slot{
		account.NewValueSlot(crypto.WordFromUint64(7)),
		account.NewMapSlot(),
	})
	require.NoError(t, err)
	require.NoError(t, storage.SetMapItem(1, crypto.WordFromUint64(3), crypto.WordFromUint64(33)))
	vault, err := asset.NewVault(assets)
	require.NoError(t, err)
	acct, err := account.NewExisting(
		account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
		vault, storage, code, 1)
	require.NoError(t, err)
	return acct, sk
}

func (env *testEnv) transferNote(t *testing.T, target account.ID, assets ...asset.Asset) *note.Note {
	t.Helper()
	recipient, err := note.NewRecipient(note.TransferScript(target), nil)
	require.NoError(t, err)
	n, err := note.NewNote(assets, note.Metadata{
		Sender: account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
		Tag:    1,
		Hint:   note.HintAlwaysExecutable(),
	}, recipient)
	require.NoError(t, err)
	return n
}

func (env *testEnv) failingNote(t *testing.T) *note.Note {
	t.Helper()
	recipient, err := note.NewRecipient(note.CustomScript(note.Op{Kind: note.OpFail}), nil)
	require.NoError(t, err)
	n, err := note.NewNote(nil, note.Metadata{
		Sender: account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
		Hint:   note.HintAlwaysExecutable(),
	}, recipient)
	require.NoError(t, err)
	return n
}

// commitNotes registers the notes in the store and advances one block
// committing them to the note tree.
func (env *testEnv) commitNotes(t *testing.T, notes ...*note.Note) {
	t.Helper()
	headers := make([]note.Header, len(notes))
	for i, n := range notes {
		env.store.PutNote(n)
		headers[i] = n.Header()
	}
	tip := env.chain.LatestHeader()
	_, err := env.chain.Advance(chain.StateUpdate{
		Timestamp: tip.Timestamp + 1,
		Notes:     headers,
	})
	require.NoError(t, err)
}

func TestExecuteTransactionFromStoreState(t *testing.T) {
	env := newTestEnv(t)
	n := env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 30))
	env.commitNotes(t, n)

	tx, err := env.exec.ExecuteTransaction(context.Background(), Request{
		AccountID:     env.acct.ID(),
		NoteIDs:       []note.ID{n.ID()},
		Salt:          crypto.RandomWord(),
		Authenticator: &kernel.SingleKeyAuthenticator{Key: env.key},
	})
	require.NoError(t, err)

	require.True(t, tx.InputNotes[0].IsAuthenticated())
	assert.EqualValues(t, 30, tx.Delta.Vault.Fungible[env.assetX])
	assert.EqualValues(t, -15, tx.Delta.Vault.Fungible[env.feeFaucet])
	assert.EqualValues(t, 15, tx.Fee)

	// The lazily witnessed view must land on the same final commitment
	// as the full account.
	check := env.acct.Clone()
	require.NoError(t, check.ApplyDelta(tx.Delta))
	assert.Equal(t, check.Commitment(), tx.FinalCommitment)
}

func TestExecuteUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.exec.ExecuteTransaction(context.Background(), Request{
		AccountID: account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaleStoredAccountIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	stray, _ := env.newAccount(t)
	env.store.PutAccount(stray)

	_, err := env.exec.ExecuteTransaction(context.Background(), Request{
		AccountID: stray.ID(),
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestUnauthenticatedNoteRidesWithoutProof(t *testing.T) {
	env := newTestEnv(t)
	n := env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 5))
	env.store.PutNote(n) // known to the store, not committed on chain

	tx, err := env.exec.ExecuteTransaction(context.Background(), Request{
		AccountID:     env.acct.ID(),
		NoteIDs:       []note.ID{n.ID()},
		Authenticator: &kernel.SingleKeyAuthenticator{Key: env.key},
	})
	require.NoError(t, err)
	assert.False(t, tx.InputNotes[0].IsAuthenticated())
}

func TestBuildSummaryMatchesSignedExecution(t *testing.T) {
	env := newTestEnv(t)
	n := env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 10))
	env.commitNotes(t, n)

	req := Request{
		AccountID: env.acct.ID(),
		NoteIDs:   []note.ID{n.ID()},
		Salt:      crypto.WordFromUint64(424242),
	}
	summary, err := env.exec.BuildSummary(context.Background(), req)
	require.NoError(t, err)

	req.Authenticator = &kernel.SingleKeyAuthenticator{Key: env.key}
	tx, err := env.exec.ExecuteTransaction(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, summary, tx.Summary)
	assert.Equal(t, summary.Commitment(), tx.Summary.Commitment())
}

func TestAuthorizationFailureIsDistinct(t *testing.T) {
	env := newTestEnv(t)
	n := env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 10))
	env.commitNotes(t, n)

	wrongKey, err := account.GenerateSecretKey()
	require.NoError(t, err)

	_, err = env.exec.ExecuteTransaction(context.Background(), Request{
		AccountID:     env.acct.ID(),
		NoteIDs:       []note.ID{n.ID()},
		Authenticator: &kernel.SingleKeyAuthenticator{Key: wrongKey},
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, kernel.ErrAuthFailed)
}

func TestExecuteViewScriptReadsLazily(t *testing.T) {
	env := newTestEnv(t)

	log, err := env.exec.ExecuteViewScript(context.Background(), env.acct.ID(), note.CustomScript(
		note.Op{Kind: note.OpReadItem, Slot: 0},
		note.Op{Kind: note.OpReadMapItem, Slot: 1, Key: crypto.WordFromUint64(3)},
		note.Op{Kind: note.OpReadBalance, Faucet: env.assetX},
	))
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, crypto.WordFromUint64(7), log[0])
	assert.Equal(t, crypto.WordFromUint64(33), log[1])
	assert.Equal(t, crypto.WordFromUint64(100), log[2])
}

func TestFindConsumableSubset(t *testing.T) {
	env := newTestEnv(t)

	notes := []*note.Note{
		env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 1)),
		env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 2)),
		env.failingNote(t),
		env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 3)),
		env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 4)),
	}
	env.commitNotes(t, notes...)

	ids := make([]note.ID, len(notes))
	for i, n := range notes {
		ids[i] = n.ID()
	}

	checker := NewNoteConsumptionChecker(env.exec)
	subset, err := checker.FindConsumableSubset(context.Background(), Request{
		AccountID: env.acct.ID(),
		NoteIDs:   ids,
	})
	require.NoError(t, err)
	require.Len(t, subset, 4)
	for _, in := range subset {
		assert.NotEqual(t, notes[2].ID(), in.Note.ID())
	}

	// Same verdict regardless of candidate discovery order.
	reversed := make([]note.ID, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	again, err := checker.FindConsumableSubset(context.Background(), Request{
		AccountID: env.acct.ID(),
		NoteIDs:   reversed,
	})
	require.NoError(t, err)
	require.Len(t, again, 4)
	for i := range subset {
		assert.Equal(t, subset[i].Note.ID(), again[i].Note.ID())
	}

	// The subset executes as-is.
	_, err = env.exec.ExecuteTransaction(context.Background(), Request{
		AccountID:     env.acct.ID(),
		Notes:         subset,
		Authenticator: &kernel.SingleKeyAuthenticator{Key: env.key},
	})
	require.NoError(t, err)
}

// flakyStore fails its first LatestHeader calls to exercise retry.
type flakyStore struct {
	DataStore
	failures int
	calls    int
}

func (f *flakyStore) LatestHeader(ctx context.Context) (chain.BlockHeader, error) {
	f.calls++
	if f.calls <= f.failures {
		return chain.BlockHeader{}, errors.New("store offline")
	}
	return f.DataStore.LatestHeader(ctx)
}

func TestExecuteWithRetryRecoversTransientFailures(t *testing.T) {
	env := newTestEnv(t)
	n := env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, 10))
	env.commitNotes(t, n)

	flaky := &flakyStore{DataStore: env.store, failures: 1}
	exec := New(flaky, env.params)

	tx, err := exec.ExecuteWithRetry(context.Background(), Request{
		AccountID:     env.acct.ID(),
		NoteIDs:       []note.ID{n.ID()},
		Authenticator: &kernel.SingleKeyAuthenticator{Key: env.key},
	}, RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls)
	assert.EqualValues(t, 10, tx.Delta.Vault.Fungible[env.assetX])
}

func TestExecuteWithRetryStopsOnDeterministicFailure(t *testing.T) {
	env := newTestEnv(t)
	poisoned := env.failingNote(t)
	env.commitNotes(t, poisoned)

	flaky := &flakyStore{DataStore: env.store}
	exec := New(flaky, env.params)

	_, err := exec.ExecuteWithRetry(context.Background(), Request{
		AccountID:     env.acct.ID(),
		NoteIDs:       []note.ID{poisoned.ID()},
		Authenticator: &kernel.SingleKeyAuthenticator{Key: env.key},
	}, RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond})
	assert.ErrorIs(t, err, kernel.ErrScriptFailure)
	assert.Equal(t, 1, flaky.calls)
}

func TestFindConsumableSubsetDropsJointlyInfeasibleNote(t *testing.T) {
	env := newTestEnv(t)

	// Each note is consumable on its own, but together they push the
	// vault past the amount bound; elimination keeps the one that
	// executes first in note-ID order.
	half := asset.MaxAmount / 2
	notes := []*note.Note{
		env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, half)),
		env.transferNote(t, env.acct.ID(), env.fungible(t, env.assetX, half)),
	}
	env.commitNotes(t, notes...)

	first := notes[0]
	if notes[1].ID().Cmp(first.ID()) < 0 {
		first = notes[1]
	}

	checker := NewNoteConsumptionChecker(env.exec)
	subset, err := checker.FindConsumableSubset(context.Background(), Request{
		AccountID: env.acct.ID(),
		NoteIDs:   []note.ID{notes[0].ID(), notes[1].ID()},
	})
	require.NoError(t, err)
	require.Len(t, subset, 1)
	assert.Equal(t, first.ID(), subset[0].Note.ID())

	// Same survivor regardless of discovery order.
	again, err := checker.FindConsumableSubset(context.Background(), Request{
		AccountID: env.acct.ID(),
		NoteIDs:   []note.ID{notes[1].ID(), notes[0].ID()},
	})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first.ID(), again[0].Note.ID())
}

func TestFindConsumableSubsetSurfacesAccountFailure(t *testing.T) {
	env := newTestEnv(t)

	// A failure no single note is responsible for cannot be eliminated
	// away and reaches the caller.
	poor, _ := env.newAccount(t, env.fungible(t, env.feeFaucet, 5))
	n := env.transferNote(t, poor.ID())

	checker := NewNoteConsumptionChecker(env.exec)
	_, err := checker.FindConsumableSubset(context.Background(), Request{
		AccountID: poor.ID(),
		Account:   poor,
		Notes:     []*note.InputNote{note.NewUnauthenticatedInput(n)},
	})
	require.ErrorIs(t, err, kernel.ErrInsufficientFeeBalance)
}
