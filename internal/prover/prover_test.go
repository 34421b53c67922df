package prover

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notechain/internal/crypto"
)

var (
	sharedOnce   sync.Once
	sharedProver *LocalProver
	sharedErr    error
)

// sharedLocalProver compiles the circuit and runs setup once for the
// whole package; setup dominates test time otherwise.
func sharedLocalProver(t *testing.T) *LocalProver {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Groth16 setup in short mode")
	}
	sharedOnce.Do(func() {
		sharedProver, sharedErr = NewLocalProver()
	})
	require.NoError(t, sharedErr)
	return sharedProver
}

func testWords(n int) []crypto.Word {
	out := make([]crypto.Word, n)
	for i := range out {
		out[i] = crypto.WordFromUint64(uint64(i + 1))
	}
	return out
}

func TestFoldPadsShortChains(t *testing.T) {
	initial := crypto.WordFromUint64(7)
	links := testWords(3)

	short, err := Fold(initial, links)
	require.NoError(t, err)

	padded := append(append([]crypto.Word(nil), links...),
		crypto.EmptyWord, crypto.EmptyWord, crypto.EmptyWord, crypto.EmptyWord, crypto.EmptyWord)
	full, err := Fold(initial, padded)
	require.NoError(t, err)

	assert.Equal(t, full, short)
}

func TestFoldRejectsOversizedChain(t *testing.T) {
	_, err := Fold(crypto.EmptyWord, testWords(MaxLinks+1))
	assert.ErrorIs(t, err, ErrMalformedWitness)
}

func TestWitnessValidation(t *testing.T) {
	w, err := NewWitness(crypto.WordFromUint64(1), testWords(2)...)
	require.NoError(t, err)
	require.NoError(t, w.Validate())

	w.Digest = crypto.WordFromUint64(99)
	assert.ErrorIs(t, w.Validate(), ErrMalformedWitness)
}

func TestLocalProveAndVerify(t *testing.T) {
	p := sharedLocalProver(t)

	w, err := NewWitness(crypto.WordFromUint64(42), testWords(4)...)
	require.NoError(t, err)

	proof, err := p.ProveTransition(context.Background(), w)
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	require.NoError(t, p.Verify(proof, w.Initial, w.Digest))

	// Tampered public inputs must not verify.
	err = p.Verify(proof, w.Initial, crypto.WordFromUint64(1))
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestLocalProveRejectsBadDigest(t *testing.T) {
	p := sharedLocalProver(t)

	w, err := NewWitness(crypto.WordFromUint64(1), testWords(1)...)
	require.NoError(t, err)
	w.Digest = crypto.WordFromUint64(2)

	_, err = p.ProveTransition(context.Background(), w)
	assert.ErrorIs(t, err, ErrMalformedWitness)
}

func TestRemoteProverRoundTrip(t *testing.T) {
	p := sharedLocalProver(t)

	srv := NewServer(p)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Shutdown(context.Background())

	client := NewRemoteProver(srv.Addr())
	require.NoError(t, client.Health(context.Background()))

	w, err := NewWitness(crypto.WordFromUint64(7), testWords(2)...)
	require.NoError(t, err)

	proof, err := client.ProveTransition(context.Background(), w)
	require.NoError(t, err)
	require.NoError(t, client.Verify(proof, w.Initial, w.Digest))

	err = client.Verify(proof, w.Initial, crypto.WordFromUint64(3))
	assert.ErrorIs(t, err, ErrInvalidProof)

	// Malformed witnesses keep their failure kind across the wire.
	w.Digest = crypto.WordFromUint64(5)
	_, err = client.ProveTransition(context.Background(), w)
	assert.ErrorIs(t, err, ErrMalformedWitness)
}

// fakeService scripts a worker's behavior for pool tests.
type fakeService struct {
	mu     sync.Mutex
	fail   error
	calls  int
	health error
}

func (f *fakeService) ProveTransition(_ context.Context, w Witness) (Proof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return Proof(w.Digest[:]), nil
}

func (f *fakeService) Verify(proof Proof, _, digest crypto.Word) error {
	if string(proof) != string(digest[:]) {
		return ErrInvalidProof
	}
	return nil
}

func (f *fakeService) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPoolRetriesNextWorker(t *testing.T) {
	broken := &fakeService{fail: errors.New("worker crashed")}
	healthy := &fakeService{}
	pool := NewPool(broken, healthy)

	w, err := NewWitness(crypto.WordFromUint64(1), testWords(1)...)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		proof, err := pool.ProveTransition(context.Background(), w)
		require.NoError(t, err)
		require.NoError(t, pool.Verify(proof, w.Initial, w.Digest))
	}
	assert.Equal(t, 4, healthy.callCount())
	assert.Greater(t, broken.callCount(), 0)
}

func TestPoolTerminalFailure(t *testing.T) {
	pool := NewPool(
		&fakeService{fail: errors.New("down")},
		&fakeService{fail: ErrCapacityExceeded},
	)

	w, err := NewWitness(crypto.WordFromUint64(1), testWords(1)...)
	require.NoError(t, err)

	_, err = pool.ProveTransition(context.Background(), w)
	assert.ErrorIs(t, err, ErrProvingFailed)
}

func TestPoolDoesNotRetryMalformedWitness(t *testing.T) {
	first := &fakeService{fail: ErrMalformedWitness}
	second := &fakeService{}
	pool := NewPool(first, second)

	w := Witness{Initial: crypto.WordFromUint64(1), Digest: crypto.WordFromUint64(2)}
	_, err := pool.ProveTransition(context.Background(), w)
	assert.ErrorIs(t, err, ErrMalformedWitness)
	assert.Equal(t, 0, second.callCount())
}

func TestPoolWorkerReplacement(t *testing.T) {
	failing := &fakeService{fail: errors.New("down"), health: errors.New("down")}
	pool := NewPool(failing)

	require.Error(t, pool.Health(context.Background()))

	replacement := &fakeService{}
	pool.AddWorker(replacement)
	require.NoError(t, pool.Health(context.Background()))

	assert.Equal(t, 1, pool.EvictUnhealthy(context.Background()))
	assert.Equal(t, 1, pool.Size())

	w, err := NewWitness(crypto.WordFromUint64(1), testWords(1)...)
	require.NoError(t, err)
	_, err = pool.ProveTransition(context.Background(), w)
	require.NoError(t, err)
}
