package registry

import (
	"fmt"
	"sync"
	"testing"

	uuid "github.com/kthomas/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/registry/providers"
)

func ephemeralRegistry() *Registry {
	curve := common.StringOrNil("bn254")
	commitmentStoreID, _ := uuid.NewV4()
	nullifierStoreID, _ := uuid.NewV4()

	return NewRegistry(
		providers.InitEphemeralDenseMerkleTreeStoreProvider(commitmentStoreID, curve),
		providers.InitEphemeralSparseMerkleTreeStoreProvider(nullifierStoreID, curve),
	)
}

func TestRegisterCommitment(t *testing.T) {
	r := ephemeralRegistry()

	require.False(t, r.IsCommitmentValid("cm-1"))

	err := r.RegisterCommitment("cm-1")
	require.NoError(t, err)
	assert.True(t, r.IsCommitmentValid("cm-1"))

	err = r.RegisterCommitment("cm-1")
	assert.ErrorIs(t, err, ErrCommitmentExists)
}

func TestCommitmentRootChangesOnInsert(t *testing.T) {
	r := ephemeralRegistry()

	require.NoError(t, r.RegisterCommitment("cm-1"))
	root1, err := r.CommitmentRoot()
	require.NoError(t, err)
	require.NotNil(t, root1)

	require.NoError(t, r.RegisterCommitment("cm-2"))
	root2, err := r.CommitmentRoot()
	require.NoError(t, err)
	require.NotNil(t, root2)

	assert.NotEqual(t, *root1, *root2)
	assert.True(t, r.IsCommitmentValid("cm-1"))
	assert.True(t, r.IsCommitmentValid("cm-2"))
}

func TestSpendNullifier(t *testing.T) {
	r := ephemeralRegistry()

	require.False(t, r.IsNullifierUsed("nf-1"))

	err := r.SpendNullifier("nf-1")
	require.NoError(t, err)
	assert.True(t, r.IsNullifierUsed("nf-1"))

	err = r.SpendNullifier("nf-1")
	assert.ErrorIs(t, err, ErrNullifierReused)
}

func TestConcurrentDoubleSpendHasExactlyOneWinner(t *testing.T) {
	r := ephemeralRegistry()

	attempts := 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.SpendNullifier("nf-contended")
		}()
	}

	wg.Wait()
	close(results)

	succeeded := 0
	reused := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			assert.ErrorIs(t, err, ErrNullifierReused)
			reused++
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, reused)
	assert.True(t, r.IsNullifierUsed("nf-contended"))
}

func TestConcurrentRegistrationIsAppendOnly(t *testing.T) {
	r := ephemeralRegistry()

	count := 16
	var wg sync.WaitGroup

	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := r.RegisterCommitment(fmt.Sprintf("cm-%d", i))
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	for i := 0; i < count; i++ {
		assert.True(t, r.IsCommitmentValid(fmt.Sprintf("cm-%d", i)))
	}
}

func TestStateAt(t *testing.T) {
	r := ephemeralRegistry()

	require.NoError(t, r.RegisterCommitment("cm-1"))
	require.NoError(t, r.SpendNullifier("nf-1"))

	commitmentState, nullifierState, err := r.StateAt(1)
	require.NoError(t, err)
	require.NotNil(t, commitmentState)
	require.NotNil(t, nullifierState)

	assert.Equal(t, uint64(1), commitmentState.Epoch)
	require.Len(t, commitmentState.StateClaims, 1)
	assert.NotNil(t, commitmentState.StateClaims[0].Root)
}
