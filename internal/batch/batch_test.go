package batch

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/kernel"
	"notechain/internal/note"
	"notechain/internal/prover"
	"notechain/internal/smt"
)

// stubService stands in for the Groth16 backend: the "proof" is the
// transition digest itself, so verification still catches any mismatch
// between proof and public inputs.
type stubService struct{}

func (stubService) ProveTransition(_ context.Context, w prover.Witness) (prover.Proof, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return prover.Proof(w.Digest[:]), nil
}

func (stubService) Verify(proof prover.Proof, _, digest crypto.Word) error {
	if !bytes.Equal(proof, digest[:]) {
		return prover.ErrInvalidProof
	}
	return nil
}

func (stubService) Health(context.Context) error { return nil }

type testEnv struct {
	feeFaucet crypto.Word
	assetX    crypto.Word
	kernel    *kernel.Kernel
	svc       stubService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		feeFaucet: account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord()).Word(),
		assetX:    account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord()).Word(),
	}
	env.kernel = kernel.New(kernel.Params{FeeFaucet: env.feeFaucet, BaseFee: 10, PerNoteFee: 5})
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
	storage, err := account.NewStorage([]account.Slot{account.NewValueSlot(crypto.EmptyWord)})
	require.NoError(t, err)
	vault, err := asset.NewVault(assets)
	require.NoError(t, err)
	acct, err := account.NewExisting(
		account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
		vault, storage, code, 1)
	require.NoError(t, err)
	return acct, sk
}

func (env *testEnv) anyoneNote(t *testing.T, assets ...asset.Asset) *note.Note {
	t.Helper()
	recipient, err := note.NewRecipient(note.CustomScript(note.Op{Kind: note.OpAddAssets}), nil)
	require.NoError(t, err)
	n, err := note.NewNote(assets, note.Metadata{
		Sender: account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
		Hint:   note.HintAlwaysExecutable(),
	}, recipient)
	require.NoError(t, err)
	return n
}

// execute runs one transaction and attaches a stub proof.
func (env *testEnv) execute(t *testing.T, acct *account.Account, sk *account.SecretKey, notes []*note.InputNote, txScript *note.Script) *kernel.ProvenTransaction {
	t.Helper()
	tx, err := env.kernel.Execute(context.Background(), kernel.Inputs{
		Account:     kernel.StateFromAccount(acct),
		BlockHeader: chain.BlockHeader{BlockNum: 1, NoteRoot: smt.EmptyRoot()},
		InputNotes:  notes,
		TxScript:    txScript,
		Salt:        crypto.RandomWord(),
	}, kernel.Options{Authenticator: &kernel.SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)

	proven, err := kernel.ProveTransaction(context.Background(), env.svc, tx)
	require.NoError(t, err)
	return proven
}

func TestProposeRejectsDuplicateNullifier(t *testing.T) {
	env := newTestEnv(t)
	acctA, skA := env.newAccount(t, env.fungible(t, env.feeFaucet, 100))
	acctB, skB := env.newAccount(t, env.fungible(t, env.feeFaucet, 100))

	n := env.anyoneNote(t, env.fungible(t, env.assetX, 5))
	txA := env.execute(t, acctA, skA, []*note.InputNote{note.NewUnauthenticatedInput(n)}, nil)
	txB := env.execute(t, acctB, skB, []*note.InputNote{note.NewUnauthenticatedInput(n)}, nil)

	_, err := Propose([]*kernel.ProvenTransaction{txA, txB})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 1, batchErr.TxIndex)
	assert.Equal(t, n.Nullifier(), batchErr.Nullifier)
}

func TestIntraBatchNoteLinkErasesConsumedOutput(t *testing.T) {
	env := newTestEnv(t)
	acctA, skA := env.newAccount(t,
		env.fungible(t, env.assetX, 50),
		env.fungible(t, env.feeFaucet, 100),
	)
	acctB, skB := env.newAccount(t, env.fungible(t, env.feeFaucet, 100))
	acctC, skC := env.newAccount(t, env.fungible(t, env.feeFaucet, 100))

	// A emits a note to B; B consumes it within the same batch.
	payment := env.fungible(t, env.assetX, 20)
	recipient, err := note.NewRecipient(note.TransferScript(acctB.ID()), nil)
	require.NoError(t, err)
	emit := note.CustomScript(note.Op{
		Kind:      note.OpEmitNote,
		Recipient: recipient.Digest(),
		Assets:    []asset.Asset{payment},
		Tag:       7,
	})
	txA := env.execute(t, acctA, skA, nil, &emit)
	require.Len(t, txA.OutputNotes, 1)

	assets, err := note.NewAssets(payment)
	require.NoError(t, err)
	linked, err := note.NewNote(assets, note.Metadata{
		Sender: acctA.ID(),
		Tag:    7,
		Hint:   note.HintAlwaysExecutable(),
	}, recipient)
	require.NoError(t, err)
	require.Equal(t, txA.OutputNotes[0].ID(), linked.ID())

	txB := env.execute(t, acctB, skB, []*note.InputNote{note.NewUnauthenticatedInput(linked)}, nil)
	txC := env.execute(t, acctC, skC, nil, nil)

	b, err := Propose([]*kernel.ProvenTransaction{txA, txB, txC})
	require.NoError(t, err)

	// The intra-batch note is erased from the output set and owes no
	// external proof.
	assert.Empty(t, b.OutputNotes)
	assert.Empty(t, b.CrossBatchInputs)
	assert.Contains(t, b.Nullifiers, linked.Nullifier())
	assert.Equal(t, smt.EmptyRoot(), b.NoteRoot)
}

func TestCrossBatchInputCarriesObligation(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 100))

	n := env.anyoneNote(t, env.fungible(t, env.assetX, 5))
	tx := env.execute(t, acct, sk, []*note.InputNote{note.NewUnauthenticatedInput(n)}, nil)

	b, err := Propose([]*kernel.ProvenTransaction{tx})
	require.NoError(t, err)
	require.Len(t, b.CrossBatchInputs, 1)
	assert.Equal(t, n.ID(), b.CrossBatchInputs[0].NoteID)
	assert.Equal(t, n.Nullifier(), b.CrossBatchInputs[0].Nullifier)
}

func TestSameAccountTransactionsMustChain(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 100))

	tx1 := env.execute(t, acct, sk, nil, nil)

	chained := acct.Clone()
	require.NoError(t, chained.ApplyDelta(tx1.Delta))
	tx2 := env.execute(t, chained, sk, nil, nil)

	b, err := Propose([]*kernel.ProvenTransaction{tx1, tx2})
	require.NoError(t, err)
	require.Len(t, b.AccountUpdates, 1)
	assert.Equal(t, tx1.InitialCommitment, b.AccountUpdates[0].InitialCommitment)
	assert.Equal(t, tx2.FinalCommitment, b.AccountUpdates[0].FinalCommitment)

	// A second transaction from the stale initial state forks the
	// account and is rejected.
	forked := env.execute(t, acct, sk, nil, nil)
	_, err = Propose([]*kernel.ProvenTransaction{tx1, forked})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 1, batchErr.TxIndex)
}

func TestProveBatchVerifiesTransactions(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 100))
	tx := env.execute(t, acct, sk, nil, nil)

	b, err := Propose([]*kernel.ProvenTransaction{tx})
	require.NoError(t, err)

	proven, err := NewProver(env.svc).Prove(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, Verify(env.svc, proven))

	// A corrupted transaction proof fails batch proving.
	tx.Proof[0] ^= 0xff
	_, err = NewProver(env.svc).Prove(context.Background(), b)
	assert.ErrorIs(t, err, prover.ErrInvalidProof)
}
