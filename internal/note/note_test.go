package note

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"notechain/internal/account"
	"notechain/internal/asset"
	"notechain/internal/crypto"
	"notechain/internal/smt"
)

func testAccountID(t *testing.T) account.ID {
	t.Helper()
	return account.NewPublicID(account.TypeRegular, crypto.RandomWord())
}

func testAsset(t *testing.T, amount uint64) asset.Asset {
	t.Helper()
	faucet := account.NewPublicID(account.TypeFungibleFaucet, crypto.RandomWord())
	f, err := asset.NewFungibleAsset(faucet.Word(), amount)
	require.NoError(t, err)
	return asset.NewAsset(f)
}

func testNote(t *testing.T) *Note {
	t.Helper()
	sender := testAccountID(t)
	target := testAccountID(t)
	recipient, err := NewRecipient(TransferScript(target), Inputs{crypto.WordFromUint64(1)})
	require.NoError(t, err)
	n, err := NewNote(Assets{testAsset(t, 30)}, Metadata{
		Sender: sender,
		Tag:    7,
		Hint:   HintAlwaysExecutable(),
	}, recipient)
	require.NoError(t, err)
	return n
}

func TestRecipientDigestIgnoresAssets(t *testing.T) {
	recipient, err := NewRecipient(TransferScript(testAccountID(t)), nil)
	require.NoError(t, err)

	a, err := NewNote(Assets{testAsset(t, 1)}, Metadata{Sender: testAccountID(t), Hint: HintAlwaysExecutable()}, recipient)
	require.NoError(t, err)
	b, err := NewNote(Assets{testAsset(t, 2)}, Metadata{Sender: testAccountID(t), Hint: HintAlwaysExecutable()}, recipient)
	require.NoError(t, err)

	require.Equal(t, a.Recipient.Digest(), b.Recipient.Digest())
	require.NotEqual(t, a.ID(), b.ID())
}

func TestNullifierInjective(t *testing.T) {
	base := testNote(t)

	serialTwin := *base
	serialTwin.Recipient.Serial = crypto.RandomWord()

	scriptTwin := *base
	scriptTwin.Recipient.Script = TransferScript(testAccountID(t))

	inputsTwin := *base
	inputsTwin.Recipient.Inputs = Inputs{crypto.WordFromUint64(2)}

	assetsTwin := *base
	assetsTwin.Assets = Assets{testAsset(t, 31)}

	seen := map[crypto.Word]string{base.Nullifier(): "base"}
	for name, n := range map[string]*Note{
		"serial": &serialTwin,
		"script": &scriptTwin,
		"inputs": &inputsTwin,
		"assets": &assetsTwin,
	} {
		nf := n.Nullifier()
		prev, dup := seen[nf]
		require.False(t, dup, "nullifier collision between %s and %s", name, prev)
		seen[nf] = name
	}
}

func TestNoteSerializationStable(t *testing.T) {
	n := testNote(t)
	data, err := json.Marshal(n)
	require.NoError(t, err)

	var decoded Note
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, n.ID(), decoded.ID())
	require.Equal(t, n.Nullifier(), decoded.Nullifier())
}

func TestDuplicateAssetRejected(t *testing.T) {
	a := testAsset(t, 5)
	_, err := NewAssets(a, a)
	require.ErrorIs(t, err, ErrDuplicateAsset)
}

func TestExecutionHintGating(t *testing.T) {
	require.True(t, HintAlwaysExecutable().ExecutableAt(0))
	after := HintExecutableAfter(10)
	require.False(t, after.ExecutableAt(9))
	require.True(t, after.ExecutableAt(10))
}

func TestScriptConsumerBinding(t *testing.T) {
	target := testAccountID(t)
	other := testAccountID(t)

	require.True(t, TransferScript(target).MayBeConsumedBy(target))
	require.False(t, TransferScript(target).MayBeConsumedBy(other))

	multisig := MultisigScript(target, target, other)
	require.True(t, multisig.MayBeConsumedBy(other))
	require.False(t, multisig.MayBeConsumedBy(testAccountID(t)))

	require.True(t, CustomScript(Op{Kind: OpAddAssets}).MayBeConsumedBy(other))
}

func TestScriptValidation(t *testing.T) {
	require.ErrorIs(t, Script{Kind: ScriptTransfer}.Validate(), ErrInvalidScript)
	require.ErrorIs(t, Script{Kind: ScriptCustom}.Validate(), ErrInvalidScript)
	require.ErrorIs(t, Script{Kind: 99}.Validate(), ErrInvalidScript)
	require.NoError(t, TransferScript(testAccountID(t)).Validate())
}

func TestInclusionProofVerification(t *testing.T) {
	n := testNote(t)
	tree := smt.NewTree()
	_, err := tree.Insert(n.ID(), n.Header().Commitment())
	require.NoError(t, err)

	proof := InclusionProof{BlockNum: 3, NoteRoot: tree.Root(), Opening: tree.Open(n.ID())}
	require.NoError(t, proof.Verify(n.Header()))

	input, err := NewAuthenticatedInput(n, proof)
	require.NoError(t, err)
	require.True(t, input.IsAuthenticated())

	forged := proof
	forged.NoteRoot = crypto.RandomWord()
	require.Error(t, forged.Verify(n.Header()))
	_, err = NewAuthenticatedInput(n, forged)
	require.Error(t, err)
}

func TestNoteFileRoundTrip(t *testing.T) {
	n := testNote(t)
	tree := smt.NewTree()
	_, err := tree.Insert(n.ID(), n.Header().Commitment())
	require.NoError(t, err)
	proof := InclusionProof{BlockNum: 1, NoteRoot: tree.Root(), Opening: tree.Open(n.ID())}

	path := filepath.Join(t.TempDir(), "note.json")
	require.NoError(t, NewFile(n, &proof).Write(path))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())

	input, err := loaded.InputNote()
	require.NoError(t, err)
	require.True(t, input.IsAuthenticated())
	require.Equal(t, n.ID(), input.Note.ID())
	require.Equal(t, n.Nullifier(), input.Note.Nullifier())
}

func TestHeaderOnlyFileCannotBeConsumed(t *testing.T) {
	n := testNote(t)
	tree := smt.NewTree()
	_, err := tree.Insert(n.ID(), n.Header().Commitment())
	require.NoError(t, err)
	proof := InclusionProof{BlockNum: 1, NoteRoot: tree.Root(), Opening: tree.Open(n.ID())}

	f := NewHeaderFile(n.Header(), proof)
	require.NoError(t, f.Validate())
	_, err = f.InputNote()
	require.ErrorIs(t, err, ErrIncompleteFile)

	require.ErrorIs(t, (&File{}).Validate(), ErrIncompleteFile)
}
