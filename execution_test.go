package noncepool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KriptoChewbacca/BEJ-sub001/testutil"
)

func TestExecutionContextDurable(t *testing.T) {
	lease := newTestLease(t, time.Minute, nil)
	ec := NewExecutionContext(lease)

	require.True(t, ec.IsDurable())
	info, ok := ec.NonceInfo()
	require.True(t, ok)
	assert.Equal(t, testutil.TestNonceAccount1, info.Account)
	assert.Equal(t, testutil.TestAuthority, info.Authority)
	assert.Equal(t, testutil.TestBlockhash1, info.Blockhash)
}

func TestExecutionContextNonDurable(t *testing.T) {
	ec := NewExecutionContext(nil)
	assert.False(t, ec.IsDurable())
	_, ok := ec.NonceInfo()
	assert.False(t, ok)
	assert.Nil(t, ec.ExtractLease())

	var nilCtx *ExecutionContext
	assert.False(t, nilCtx.IsDurable())
	assert.Nil(t, nilCtx.ExtractLease())
}

func TestExecutionContextExtractLeaseOnce(t *testing.T) {
	var releases atomic.Int32
	lease := newTestLease(t, time.Minute, func(ReleaseReason) {
		releases.Add(1)
	})
	ec := NewExecutionContext(lease)

	extracted := ec.ExtractLease()
	require.Same(t, lease, extracted)
	assert.Nil(t, ec.ExtractLease())
	assert.False(t, ec.IsDurable())

	// Close after extraction finds nothing; the extracted lease releases
	// exactly once.
	ec.Close()
	require.NoError(t, extracted.Release(context.Background()))
	assert.Equal(t, int32(1), releases.Load())
}

func TestExecutionContextCloseReleasesEmbeddedLease(t *testing.T) {
	var releases atomic.Int32
	lease := newTestLease(t, time.Minute, func(ReleaseReason) {
		releases.Add(1)
	})
	ec := NewExecutionContext(lease)

	ec.Close()
	ec.Close()
	assert.Equal(t, int32(1), releases.Load())
}

func TestNewBuildOutputRequiredSigners(t *testing.T) {
	tx := testutil.NewDurableTx(testutil.TestNonceAccount1, testutil.TestAuthority, testutil.TestBlockhash1)

	out, err := NewBuildOutput(tx, nil)
	require.NoError(t, err)

	signers := out.RequiredSigners()
	require.NotEmpty(t, signers)
	assert.Equal(t, testutil.TestPayer, signers[0])
	assert.Contains(t, signers, testutil.TestAuthority)
	assert.False(t, out.HoldsLease())
}

func TestNewBuildOutputNilTx(t *testing.T) {
	_, err := NewBuildOutput(nil, nil)
	assert.ErrorIs(t, err, ErrNilTransaction)
}

func TestBuildOutputReleaseNonce(t *testing.T) {
	var releases atomic.Int32
	lease := newTestLease(t, time.Minute, func(reason ReleaseReason) {
		assert.Equal(t, ReleaseExplicit, reason)
		releases.Add(1)
	})
	tx := testutil.NewDurableTx(testutil.TestNonceAccount1, testutil.TestAuthority, testutil.TestBlockhash1)

	out, err := NewBuildOutput(tx, lease)
	require.NoError(t, err)
	require.True(t, out.HoldsLease())

	require.NoError(t, out.ReleaseNonce(context.Background()))
	assert.False(t, out.HoldsLease())

	// Idempotent on both paths.
	require.NoError(t, out.ReleaseNonce(context.Background()))
	out.Close()
	assert.Equal(t, int32(1), releases.Load())
}

func TestBuildOutputCloseReleasesAttachedLease(t *testing.T) {
	var releases atomic.Int32
	lease := newTestLease(t, time.Minute, func(reason ReleaseReason) {
		assert.Equal(t, ReleaseDropped, reason)
		releases.Add(1)
	})
	tx := testutil.NewDurableTx(testutil.TestNonceAccount1, testutil.TestAuthority, testutil.TestBlockhash1)

	out, err := NewBuildOutput(tx, lease)
	require.NoError(t, err)

	out.Close()
	assert.Equal(t, int32(1), releases.Load())
}

func TestBuildOutputIntoTx(t *testing.T) {
	lease := newTestLease(t, time.Minute, nil)
	tx := testutil.NewDurableTx(testutil.TestNonceAccount1, testutil.TestAuthority, testutil.TestBlockhash1)

	out, err := NewBuildOutput(tx, lease)
	require.NoError(t, err)

	gotTx, gotLease := out.IntoTx()
	assert.Same(t, tx, gotTx)
	assert.Same(t, lease, gotLease)
	assert.False(t, out.HoldsLease())
}

func TestValidateDurableTx(t *testing.T) {
	account, authority := testutil.TestNonceAccount1, testutil.TestAuthority
	hash := testutil.TestBlockhash1

	assert.NoError(t, ValidateDurableTx(testutil.NewDurableTx(account, authority, hash)))
	assert.ErrorIs(t, ValidateDurableTx(nil), ErrNilTransaction)
	assert.ErrorIs(t, ValidateDurableTx(testutil.NewPlainTx(hash)), ErrAdvanceNonceNotFirst)
	assert.ErrorIs(t, ValidateDurableTx(testutil.NewMisorderedDurableTx(account, authority, hash)), ErrAdvanceNonceNotFirst)
	assert.ErrorIs(t, ValidateDurableTx(testutil.NewDoubleAdvanceTx(account, authority, hash)), ErrDuplicateAdvanceNonce)
}

func TestSimulationInstructionsStripsAdvance(t *testing.T) {
	durable := testutil.DurableInstructions(testutil.TestNonceAccount1, testutil.TestAuthority)
	stripped := SimulationInstructions(durable)
	require.Len(t, stripped, len(durable)-1)

	data, err := stripped[0].Data()
	require.NoError(t, err)
	advData, err := durable[0].Data()
	require.NoError(t, err)
	assert.NotEqual(t, advData, data)
}

func TestSimulationInstructionsLeavesPlainUntouched(t *testing.T) {
	plain := testutil.PlainInstructions()
	assert.Equal(t, plain, SimulationInstructions(plain))
	assert.Empty(t, SimulationInstructions(nil))
}

func TestNewAdvanceNonceInstructionShape(t *testing.T) {
	inst := NewAdvanceNonceInstruction(testutil.TestNonceAccount1, testutil.TestAuthority)

	assert.True(t, inst.ProgramID().Equals(solana.SystemProgramID))
	data, err := inst.Data()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 4)
	assert.Equal(t, []byte{4, 0, 0, 0}, data[:4])
}
