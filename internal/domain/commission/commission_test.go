package commission

import (
	"testing"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/partner"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPolicy() SharePolicy {
	return SharePolicy{
		DistributorPercent:       dec("30"),
		MasterDistributorPercent: dec("10"),
		LockOnCreate:             true,
		MaxAdjustmentPercent:     dec("50"),
	}
}

func TestSharePolicy_Validate(t *testing.T) {
	assert.NoError(t, testPolicy().Validate())

	tests := []struct {
		name string
		p    SharePolicy
	}{
		{"negative", SharePolicy{DistributorPercent: dec("-1")}},
		{"exceeds fee", SharePolicy{DistributorPercent: dec("80"), MasterDistributorPercent: dec("30")}},
		{"not decreasing", SharePolicy{DistributorPercent: dec("10"), MasterDistributorPercent: dec("10")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.p.Validate(), ErrInvalidSharePolicy)
		})
	}
}

func TestSharePolicy_Shares(t *testing.T) {
	dist := &partner.Partner{ID: uuid.New(), Role: shared.RoleDistributor, IsActive: true}
	master := &partner.Partner{ID: uuid.New(), Role: shared.RoleMasterDistributor, IsActive: true}

	t.Run("full upline", func(t *testing.T) {
		shares := testPolicy().Shares(dec("10"), partner.Upline{dist, master})
		require.Len(t, shares, 2)
		assert.Equal(t, dist, shares[0].Beneficiary)
		assert.Equal(t, "3.00", shares[0].Amount.StringFixed(2))
		assert.Equal(t, master, shares[1].Beneficiary)
		assert.Equal(t, "1.00", shares[1].Amount.StringFixed(2))
	})

	t.Run("missing distributor is not reassigned", func(t *testing.T) {
		shares := testPolicy().Shares(dec("10"), partner.Upline{master})
		require.Len(t, shares, 1)
		assert.Equal(t, shared.RoleMasterDistributor, shares[0].Role)
		assert.Equal(t, "1.00", shares[0].Amount.StringFixed(2))
	})

	t.Run("inactive beneficiary skipped", func(t *testing.T) {
		inactive := &partner.Partner{ID: uuid.New(), Role: shared.RoleDistributor}
		shares := testPolicy().Shares(dec("10"), partner.Upline{inactive})
		assert.Empty(t, shares)
	})

	t.Run("rounds to zero", func(t *testing.T) {
		shares := testPolicy().Shares(dec("0.01"), partner.Upline{dist, master})
		assert.Empty(t, shares)
	})
}

func TestSharePolicy_CheckAdjustment(t *testing.T) {
	entry := &Entry{OriginalAmount: dec("10"), Amount: dec("10"), IsLocked: true}

	assert.NoError(t, testPolicy().CheckAdjustment(entry, dec("14")))
	assert.NoError(t, testPolicy().CheckAdjustment(entry, dec("5")))
	assert.ErrorIs(t, testPolicy().CheckAdjustment(entry, dec("15.01")), ErrAdjustmentOutOfBounds)
	assert.ErrorIs(t, testPolicy().CheckAdjustment(entry, dec("-1")), ErrNegativeCommission)
	assert.ErrorIs(t, testPolicy().CheckAdjustment(entry, dec("10")), ErrNoChange)

	released := *entry
	released.IsLocked = false
	assert.ErrorIs(t, testPolicy().CheckAdjustment(&released, dec("12")), ErrCommissionReleased)
}

func TestReferences(t *testing.T) {
	assert.Equal(t, "COMM_TXN1_distributor", Reference("TXN1", shared.RoleDistributor))
	id := uuid.New()
	assert.Equal(t, "COMM_ADJ_"+id.String(), AdjustmentReference(id))
	assert.Equal(t, "594.00", NetSettlement(dec("600"), dec("6")).StringFixed(2))
}
