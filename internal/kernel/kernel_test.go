package kernel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/chain"
	"notechain/internal/crypto"
	"notechain/internal/note"
	"notechain/internal/smt"
)

type testEnv struct {
	feeFaucet crypto.Word
	assetX    crypto.Word
	params    Params
	kernel    *Kernel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		feeFaucet: account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord()).Word(),
		assetX:    account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord()).Word(),
	}
	env.params = Params{FeeFaucet: env.feeFaucet, BaseFee: 10, PerNoteFee: 5}
	env.kernel = New(env.params)
	return env
}

func (env *testEnv) fungible(t *testing.T, faucet crypto.Word, amount uint64) asset.Asset {
	t.Helper()
	f, err := asset.NewFungibleAsset(faucet, amount)
	require.NoError(t, err)
	return asset.NewAsset(f)
}

// newAccount builds an existing account holding the given assets.
func (env *testEnv) newAccount(t *testing.T, assets ...asset.Asset) (*account.Account, *account.SecretKey) {
	t.Helper()
	sk, err := account.GenerateSecretKey()
	require.NoError(t, err)
	code := account.StandardCode(sk.PublicKey())
	storage, err := account.NewStorage([]account.Slot{
		account.NewValueSlot(crypto.WordFromUint64(1)),
		account.NewMapSlot(),
	})
	require.NoError(t, err)
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

func (env *testEnv) customNote(t *testing.T, ops ...note.Op) *note.Note {
	t.Helper()
	recipient, err := note.NewRecipient(note.CustomScript(ops...), nil)
	require.NoError(t, err)
	n, err := note.NewNote(nil, note.Metadata{
		Sender: account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
		Hint:   note.HintAlwaysExecutable(),
	}, recipient)
	require.NoError(t, err)
	return n
}

func (env *testEnv) header(blockNum uint32) chain.BlockHeader {
	return chain.BlockHeader{BlockNum: blockNum, NoteRoot: smt.EmptyRoot()}
}

func TestConsumeTransferNote(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t,
		env.fungible(t, env.assetX, 100),
		env.fungible(t, env.feeFaucet, 1000),
	)
	initial := acct.Commitment()
	n := env.transferNote(t, acct.ID(), env.fungible(t, env.assetX, 30))

	tx, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(5),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
		Salt:        crypto.RandomWord(),
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)

	require.Equal(t, initial, tx.InitialCommitment)
	require.NotEqual(t, tx.InitialCommitment, tx.FinalCommitment)
	require.EqualValues(t, 1, tx.Delta.NonceDelta)
	require.EqualValues(t, 30, tx.Delta.Vault.Fungible[env.assetX])
	require.EqualValues(t, -15, tx.Delta.Vault.Fungible[env.feeFaucet])
	require.EqualValues(t, 15, tx.Fee)

	// The final commitment equals applying the delta to the account.
	check := acct.Clone()
	require.NoError(t, check.ApplyDelta(tx.Delta))
	require.EqualValues(t, 2, check.Nonce())
	require.Equal(t, check.Commitment(), tx.FinalCommitment)
	require.EqualValues(t, 130, check.Vault().Balance(env.assetX))
	require.EqualValues(t, 985, check.Vault().Balance(env.feeFaucet))

	// The caller's account is untouched.
	require.Equal(t, initial, acct.Commitment())
}

func TestPartialStateExecutionMatchesFull(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t,
		env.fungible(t, env.assetX, 100),
		env.fungible(t, env.feeFaucet, 1000),
	)
	n := env.transferNote(t, acct.ID(), env.fungible(t, env.assetX, 30))

	inputs := func(state AccountState) Inputs {
		return Inputs{
			Account:     state,
			BlockHeader: env.header(5),
			InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
			Salt:        crypto.WordFromUint64(777),
		}
	}
	opts := Options{Authenticator: &SingleKeyAuthenticator{Key: sk}}

	full, err := env.kernel.Execute(context.Background(), inputs(StateFromAccount(acct)), opts)
	require.NoError(t, err)

	// Assemble the partial view with witnesses for the touched vault keys.
	pv := asset.NewPartialVault(acct.Vault().Root())
	for _, faucet := range []crypto.Word{env.assetX, env.feeFaucet} {
		key := asset.FungibleAsset{Faucet: faucet}.VaultKey()
		require.NoError(t, pv.Track(asset.AssetWitness{
			Key:     key,
			Value:   pvValue(t, acct, key),
			Opening: acct.Vault().Open(key),
		}))
	}
	partial, err := account.NewPartialAccount(acct.Header(), pv,
		account.NewPartialStorage(acct.Storage().Header()), acct.Code(), nil)
	require.NoError(t, err)

	viaPartial, err := env.kernel.Execute(context.Background(), inputs(StateFromPartial(partial)), opts)
	require.NoError(t, err)

	require.Equal(t, full.FinalCommitment, viaPartial.FinalCommitment)
	require.Equal(t, full.Summary.DeltaCommitment, viaPartial.Summary.DeltaCommitment)
}

func pvValue(t *testing.T, acct *account.Account, key crypto.Word) crypto.Word {
	t.Helper()
	opening := acct.Vault().Open(key)
	return opening.Value(key)
}

func TestAuthenticatedNoteVerifiesAgainstNoteRoot(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	n := env.transferNote(t, acct.ID())

	tree := smt.NewTree()
	_, err := tree.Insert(n.ID(), n.Header().Commitment())
	require.NoError(t, err)
	header := chain.BlockHeader{BlockNum: 9, NoteRoot: tree.Root()}

	input, err := note.NewAuthenticatedInput(n, note.InclusionProof{
		BlockNum: 9, NoteRoot: tree.Root(), Opening: tree.Open(n.ID()),
	})
	require.NoError(t, err)

	_, err = env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: header,
		InputNotes:  []*note.InputNote{input},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)

	// A proof against a different root is rejected in the prologue.
	_, err = env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(9),
		InputNotes:  []*note.InputNote{input},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.ErrorIs(t, err, ErrInvalidInputs)
}

func TestScriptFailureAbortsTransaction(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	n := env.customNote(t,
		note.Op{Kind: note.OpSetItem, Slot: 0, Value: crypto.WordFromUint64(9)},
		note.Op{Kind: note.OpFail},
	)

	_, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.ErrorIs(t, err, ErrScriptFailure)
}

func TestNoteNotAddressedToConsumer(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	other := account.NewPublicID(account.TypeRegular, crypto.RandomWord())
	n := env.transferNote(t, other)

	_, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.ErrorIs(t, err, ErrNoteNotConsumable)
}

func TestHintBlocksEarlyConsumption(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	recipient, err := note.NewRecipient(note.TransferScript(acct.ID()), nil)
	require.NoError(t, err)
	n, err := note.NewNote(nil, note.Metadata{
		Sender: acct.ID(),
		Hint:   note.HintExecutableAfter(50),
	}, recipient)
	require.NoError(t, err)

	_, err = env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(49),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.ErrorIs(t, err, ErrNoteNotConsumable)
}

func TestInsufficientFeeBalance(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 5))

	_, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.ErrorIs(t, err, ErrInsufficientFeeBalance)
}

func TestAuthenticationFailure(t *testing.T) {
	env := newTestEnv(t)
	acct, _ := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	wrongKey, err := account.GenerateSecretKey()
	require.NoError(t, err)

	_, err = env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: wrongKey}})
	require.ErrorIs(t, err, ErrAuthFailed)
}

type canned struct {
	signature []byte
}

func (c *canned) SignSummary(context.Context, TransactionSummary) ([]byte, error) {
	return c.signature, nil
}

func TestIntrospectionThenExternalSigning(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	inputs := Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		Salt:        crypto.WordFromUint64(42),
	}

	_, err := env.kernel.Execute(context.Background(), inputs, Options{IntrospectOnly: true})
	var aborted *IntrospectionError
	require.ErrorAs(t, err, &aborted)

	// Sign the surfaced summary out of band and re-run.
	sig, err := sk.Sign(aborted.Summary.Commitment())
	require.NoError(t, err)
	inputs.Account = StateFromAccount(acct)
	tx, err := env.kernel.Execute(context.Background(), inputs, Options{Authenticator: &canned{signature: sig}})
	require.NoError(t, err)
	require.Equal(t, aborted.Summary, tx.Summary)
}

func TestSwapNoteEmitsPayback(t *testing.T) {
	env := newTestEnv(t)
	assetY := account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord()).Word()
	acct, sk := env.newAccount(t,
		env.fungible(t, env.feeFaucet, 1000),
		env.fungible(t, assetY, 50),
	)

	paybackRecipient, err := note.NewRecipient(note.TransferScript(account.NewPublicID(account.TypeRegular, crypto.RandomWord())), nil)
	require.NoError(t, err)
	terms := note.SwapTerms{
		RecipientDigest: paybackRecipient.Digest(),
		RequestedAsset:  env.fungible(t, assetY, 10),
		PaybackTag:      9,
	}
	recipient, err := note.NewRecipient(note.SwapScript(acct.ID(), terms), nil)
	require.NoError(t, err)
	n, err := note.NewNote(note.Assets{env.fungible(t, env.assetX, 30)}, note.Metadata{
		Sender: account.NewPublicID(account.TypeRegular, crypto.RandomWord()),
		Hint:   note.HintAlwaysExecutable(),
	}, recipient)
	require.NoError(t, err)

	tx, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)

	require.Len(t, tx.OutputNotes, 1)
	payback := tx.OutputNotes[0]
	require.Equal(t, paybackRecipient.Digest(), payback.RecipientDigest)
	require.EqualValues(t, 9, payback.Metadata.Tag)
	require.EqualValues(t, 30, tx.Delta.Vault.Fungible[env.assetX])
	require.EqualValues(t, -10, tx.Delta.Vault.Fungible[assetY])
}

type resolverMap map[account.ID]AccountState

func (r resolverMap) ForeignAccount(_ context.Context, id account.ID) (AccountState, error) {
	state, ok := r[id]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return state, nil
}

func TestForeignAssertItem(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	foreign, _ := env.newAccount(t)
	resolver := resolverMap{foreign.ID(): StateFromAccount(foreign)}

	pass := env.customNote(t, note.Op{
		Kind:    note.OpForeignAssertItem,
		Foreign: foreign.ID(),
		Slot:    0,
		Value:   crypto.WordFromUint64(1),
	})
	_, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(pass)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}, ForeignResolver: resolver})
	require.NoError(t, err)

	fail := env.customNote(t, note.Op{
		Kind:    note.OpForeignAssertItem,
		Foreign: foreign.ID(),
		Slot:    0,
		Value:   crypto.WordFromUint64(999),
	})
	_, err = env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(fail)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}, ForeignResolver: resolver})
	require.ErrorIs(t, err, ErrScriptFailure)
}

func TestViewModeReadsWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	acct, _ := env.newAccount(t, env.fungible(t, env.assetX, 75))

	reads, err := env.kernel.ExecuteView(context.Background(), StateFromAccount(acct), note.CustomScript(
		note.Op{Kind: note.OpReadItem, Slot: 0},
		note.Op{Kind: note.OpReadBalance, Faucet: env.assetX},
		note.Op{Kind: note.OpReadNonce},
	), nil)
	require.NoError(t, err)
	require.Equal(t, []crypto.Word{
		crypto.WordFromUint64(1),
		crypto.WordFromUint64(75),
		crypto.WordFromUint64(1),
	}, reads)

	_, err = env.kernel.ExecuteView(context.Background(), StateFromAccount(acct), note.CustomScript(
		note.Op{Kind: note.OpSetItem, Slot: 0, Value: crypto.WordFromUint64(2)},
	), nil)
	require.ErrorIs(t, err, ErrScriptFailure)
}

func TestDuplicateInputNullifierRejected(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	n := env.transferNote(t, acct.ID())

	_, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes: []*note.InputNote{
			note.NewUnauthenticatedInput(n),
			note.NewUnauthenticatedInput(n),
		},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.ErrorIs(t, err, ErrInvalidInputs)
}

func TestProvenTransactionCarriesLinkageData(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	n := env.transferNote(t, acct.ID())

	tx, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)

	proven := NewProvenTransaction(tx, []byte("proof"))
	require.Equal(t, tx.ID(), proven.ID())
	require.Len(t, proven.InputNotes, 1)
	require.False(t, proven.InputNotes[0].Authenticated)
	require.Equal(t, n.ID(), proven.InputNotes[0].NoteID)
	require.Equal(t, n.Nullifier(), proven.InputNotes[0].Nullifier)
}

func TestRestoringStorageLeavesDeltaNormalized(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))

	// Writing back the values the account already holds must not register
	// as a storage change.
	noop := env.customNote(t,
		note.Op{Kind: note.OpSetItem, Slot: 0, Value: crypto.WordFromUint64(1)},
		note.Op{Kind: note.OpSetMapItem, Slot: 1, Key: crypto.WordFromUint64(3), Value: crypto.EmptyWord},
	)
	tx, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(noop)},
		Salt:        crypto.WordFromUint64(11),
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)
	require.True(t, tx.Delta.Storage.IsEmpty())

	// The commitment matches a transaction that never touched storage.
	idle := env.customNote(t, note.Op{Kind: note.OpReadNonce})
	ref, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(idle)},
		Salt:        crypto.WordFromUint64(11),
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)
	require.Equal(t, ref.Summary.DeltaCommitment, tx.Summary.DeltaCommitment)
	require.Equal(t, ref.FinalCommitment, tx.FinalCommitment)
}

func TestWriteThenRevertLeavesDeltaNormalized(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))

	n := env.customNote(t,
		note.Op{Kind: note.OpSetItem, Slot: 0, Value: crypto.WordFromUint64(9)},
		note.Op{Kind: note.OpSetMapItem, Slot: 1, Key: crypto.WordFromUint64(3), Value: crypto.WordFromUint64(5)},
		note.Op{Kind: note.OpSetItem, Slot: 0, Value: crypto.WordFromUint64(1)},
		note.Op{Kind: note.OpSetMapItem, Slot: 1, Key: crypto.WordFromUint64(3), Value: crypto.EmptyWord},
	)
	tx, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes:  []*note.InputNote{note.NewUnauthenticatedInput(n)},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})
	require.NoError(t, err)
	require.True(t, tx.Delta.Storage.IsEmpty())
}

func TestNoteFailureIdentifiesOffendingNote(t *testing.T) {
	env := newTestEnv(t)
	acct, sk := env.newAccount(t, env.fungible(t, env.feeFaucet, 1000))
	good := env.transferNote(t, acct.ID())
	bad := env.customNote(t, note.Op{Kind: note.OpFail})

	_, err := env.kernel.Execute(context.Background(), Inputs{
		Account:     StateFromAccount(acct),
		BlockHeader: env.header(1),
		InputNotes: []*note.InputNote{
			note.NewUnauthenticatedInput(good),
			note.NewUnauthenticatedInput(bad),
		},
	}, Options{Authenticator: &SingleKeyAuthenticator{Key: sk}})

	var noteErr *NoteError
	require.ErrorAs(t, err, &noteErr)
	require.Equal(t, 1, noteErr.Index)
	require.Equal(t, bad.ID(), noteErr.NoteID)
	require.ErrorIs(t, err, ErrScriptFailure)
}
