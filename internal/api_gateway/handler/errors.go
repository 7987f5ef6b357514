package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/dispute"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/partner"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/transfer"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/transfer_saga"
)

var badRequestErrors = []error{
	shared.ErrMissingExternalID,
	shared.ErrMissingPartner,
	shared.ErrInvalidServiceType,
	ledger.ErrInvalidReference,
	scheme.ErrInvalidRate,
	scheme.ErrRateScopeFields,
	settlement.ErrInvalidMode,
	settlement.ErrInvalidAction,
	dispute.ErrInvalidAction,
	dispute.ErrMissingReference,
	dispute.ErrResolutionMissing,
	transfer.ErrSameWallet,
	service.ErrInvalidRange,
}

var adjustmentErrors = []error{
	commission.ErrAdjustmentOutOfBounds,
	commission.ErrNegativeCommission,
	commission.ErrNoChange,
}

// RespondError maps an engine error onto the response envelope. Low
// balance and administrative freezes get distinct codes because partners
// see the message.
func RespondError(c *gin.Context, log *slog.Logger, err error) {
	var (
		forbidden           capability.ErrForbidden
		walletNotFound      wallet.ErrWalletNotFound
		entryNotFound       ledger.ErrEntryNotFound
		settlementNotFound  settlement.ErrSettlementNotFound
		disputeNotFound     dispute.ErrDisputeNotFound
		transferNotFound    transfer.ErrTransferNotFound
		commissionNotFound  commission.ErrCommissionNotFound
		partnerNotFound     partner.ErrPartnerNotFound
		transactionNotFound batch.ErrTransactionNotFound
		noScheme            scheme.ErrNoApplicableScheme
		ledgerTransition    ledger.ErrInvalidTransition
		settleTransition    settlement.ErrInvalidTransition
		disputeTransition   dispute.ErrInvalidTransition
		transferTransition  transfer.ErrInvalidTransition
		duplicate           ledger.ErrDuplicateReference
		activeDispute       dispute.ErrActiveDispute
		batchRunning        batch.ErrConcurrentBatchRun
		payoutFailed        settlement.ErrPayoutFailed
		compensation        transfer.ErrCompensationFailed
		walletConflict      wallet.ErrConcurrentModification
		commissionConflict  commission.ErrConcurrentModification
	)

	switch {
	case errors.As(err, &forbidden), errors.Is(err, transfer_saga.ErrNotInHierarchy):
		RespondForbidden(c, err.Error())
	case errors.Is(err, shared.ErrInvalidAmount):
		RespondWithError(c, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		RespondWithError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, wallet.ErrWalletFrozen):
		RespondWithError(c, http.StatusLocked, "WALLET_FROZEN", err.Error())
	case errors.Is(err, wallet.ErrSettlementHeld):
		RespondWithError(c, http.StatusLocked, "SETTLEMENT_HELD", err.Error())
	case errors.As(err, &walletNotFound), errors.As(err, &entryNotFound),
		errors.As(err, &settlementNotFound), errors.As(err, &disputeNotFound),
		errors.As(err, &transferNotFound), errors.As(err, &commissionNotFound),
		errors.As(err, &partnerNotFound), errors.As(err, &transactionNotFound):
		RespondNotFound(c, err.Error())
	case errors.As(err, &noScheme):
		RespondWithError(c, http.StatusUnprocessableEntity, "NO_APPLICABLE_SCHEME", err.Error())
	case errors.As(err, &ledgerTransition), errors.As(err, &settleTransition),
		errors.As(err, &disputeTransition), errors.As(err, &transferTransition):
		RespondWithError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.As(err, &duplicate):
		RespondWithError(c, http.StatusConflict, "DUPLICATE_REFERENCE", err.Error())
	case errors.As(err, &activeDispute):
		RespondWithError(c, http.StatusConflict, "ACTIVE_DISPUTE", err.Error())
	case errors.As(err, &batchRunning):
		RespondWithError(c, http.StatusConflict, "BATCH_RUNNING", err.Error())
	case errors.Is(err, commission.ErrCommissionReleased):
		RespondWithError(c, http.StatusConflict, "COMMISSION_RELEASED", err.Error())
	case errors.As(err, &walletConflict), errors.As(err, &commissionConflict):
		RespondWithError(c, http.StatusConflict, "CONCURRENT_MODIFICATION", err.Error())
	case errors.As(err, &payoutFailed):
		RespondWithError(c, http.StatusBadGateway, "PAYOUT_FAILED", err.Error())
	case errors.Is(err, settlement.ErrPayoutTimeout):
		RespondWithError(c, http.StatusGatewayTimeout, "PAYOUT_TIMEOUT", err.Error())
	case errors.As(err, &compensation):
		logger.FromContext(c.Request.Context(), log).Error("Transfer left awaiting compensation", "error", err)
		RespondWithError(c, http.StatusInternalServerError, "COMPENSATION_PENDING", err.Error())
	case matchesAny(err, adjustmentErrors):
		RespondWithError(c, http.StatusUnprocessableEntity, "INVALID_ADJUSTMENT", err.Error())
	case matchesAny(err, badRequestErrors):
		RespondBadRequest(c, err.Error())
	default:
		logger.FromContext(c.Request.Context(), log).Error("Request failed",
			"path", c.FullPath(),
			"error", err,
		)
		RespondInternalError(c)
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
