package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/ledger_core"
)

// walletRef reads the :partner_id and :wallet_type path parameters
func walletRef(c *gin.Context) (wallet.Ref, bool) {
	partnerID, err := uuid.Parse(c.Param("partner_id"))
	if err != nil {
		RespondBadRequest(c, "Invalid partner ID")
		return wallet.Ref{}, false
	}
	walletType := shared.WalletType(c.Param("wallet_type"))
	if !walletType.Valid() {
		RespondBadRequest(c, "Invalid wallet type")
		return wallet.Ref{}, false
	}
	return wallet.NewRef(partnerID, walletType), true
}

// pathID reads the :id path parameter as a uuid
func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, fmt.Sprintf("Invalid %s ID", what))
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID parses an optional identifier, returning fallback when empty
func optionalUUID(raw string, fallback uuid.UUID) uuid.UUID {
	if raw == "" {
		return fallback
	}
	return uuid.MustParse(raw)
}

// canView lets partners read their own wallets and operators read any wallet
func canView(c *gin.Context, partnerID uuid.UUID) bool {
	caps := middleware.GetCapabilities(c)
	if caps.Has(capability.ScopeWalletAdmin) || (partnerID != uuid.Nil && caps.PartnerID() == partnerID) {
		return true
	}
	RespondForbidden(c, "Not allowed to view this wallet")
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func mapEntryToResponse(e *ledger.Entry) EntryResponse {
	return EntryResponse{
		ID:             e.ID.String(),
		WalletID:       e.WalletID.String(),
		PartnerID:      e.PartnerID.String(),
		WalletType:     string(e.WalletType),
		FundCategory:   string(e.FundCategory),
		ServiceType:    string(e.ServiceType),
		TxnType:        e.TxnType,
		Credit:         shared.FormatMoney(e.Credit),
		Debit:          shared.FormatMoney(e.Debit),
		OpeningBalance: shared.FormatMoney(e.OpeningBalance),
		ClosingBalance: shared.FormatMoney(e.ClosingBalance),
		ReferenceID:    e.ReferenceID,
		TransactionRef: e.TransactionRef,
		Status:         string(e.Status),
		Remarks:        e.Remarks,
		CreatedBy:      e.CreatedBy,
		CreatedAt:      formatTime(e.CreatedAt),
		UpdatedAt:      formatTime(e.UpdatedAt),
	}
}

func mapBalanceToResponse(b *ledger_core.Balance) BalanceResponse {
	return BalanceResponse{
		WalletID:         b.WalletID.String(),
		PartnerID:        b.Wallet.PartnerID.String(),
		WalletType:       string(b.Wallet.Type),
		Balance:          shared.FormatMoney(b.Balance),
		HeldAmount:       shared.FormatMoney(b.HeldAmount),
		ReservedAmount:   shared.FormatMoney(b.ReservedAmount),
		Spendable:        shared.FormatMoney(b.Spendable),
		IsFrozen:         b.IsFrozen,
		IsSettlementHeld: b.IsSettlementHeld,
		UpdatedAt:        formatTime(b.UpdatedAt),
	}
}
