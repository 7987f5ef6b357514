package transfer

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	src := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)
	dst := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)

	tr, err := New(KindPush, src, dst, decimal.NewFromInt(100), "dist-1", "")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, tr.State)
	assert.Equal(t, "XFER_"+tr.ID.String()+"_DR", tr.DebitReference())
	assert.Equal(t, "XFER_"+tr.ID.String()+"_CR", tr.CreditReference())
	assert.Equal(t, "XFER_"+tr.ID.String()+"_COMP", tr.CompensationReference())

	_, err = New(KindPull, src, src, decimal.NewFromInt(100), "dist-1", "")
	assert.ErrorIs(t, err, ErrSameWallet)
}

func TestTransfer_TransitionTo(t *testing.T) {
	tr := &Transfer{ID: uuid.New(), State: StateStarted}

	require.NoError(t, tr.TransitionTo(StateDebited, nil))
	require.NoError(t, tr.TransitionTo(StateCompensating, errors.New("credit failed")))
	assert.Equal(t, "credit failed", tr.LastError)
	require.NoError(t, tr.TransitionTo(StateCompensationFailed, errors.New("db down")))
	require.NoError(t, tr.TransitionTo(StateCompensating, nil))
	require.NoError(t, tr.TransitionTo(StateCompensated, nil))
	assert.True(t, tr.State.IsTerminal())

	var invalid ErrInvalidTransition
	assert.ErrorAs(t, tr.TransitionTo(StateCompleted, nil), &invalid)
}

func TestErrCompensationFailed_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := ErrCompensationFailed{TransferID: uuid.New(), Cause: cause}
	assert.ErrorIs(t, err, cause)
}
