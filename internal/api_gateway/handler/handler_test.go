package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/dispute_controller"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/dispute"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/transfer"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/ledger_core"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/partner-wallet-ledger/internal/settlement_orchestrator"
	"github.com/partner-wallet-ledger/internal/transfer_saga"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// envelope mirrors Response with raw data for decoding in tests
type envelope struct {
	Data          json.RawMessage `json:"data"`
	Error         *ErrorInfo      `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Meta          *MetaInfo       `json:"meta,omitempty"`
}

type actor struct {
	id        string
	role      shared.PartnerRole
	partnerID uuid.UUID
}

var adminActor = actor{id: "ops-1", role: shared.RoleAdmin}

func retailerActor(partnerID uuid.UUID) actor {
	return actor{id: "retailer-user", role: shared.RoleRetailer, partnerID: partnerID}
}

func distributorActor(partnerID uuid.UUID) actor {
	return actor{id: "distributor-user", role: shared.RoleDistributor, partnerID: partnerID}
}

func newRouter(register func(r *gin.RouterGroup)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.Capabilities())
	register(router.Group("/api/v1"))
	return router
}

func perform(t *testing.T, router *gin.Engine, method, path string, body interface{}, as actor) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if as.id != "" {
		req.Header.Set(middleware.ActorIDHeader, as.id)
		req.Header.Set(middleware.ActorRoleHeader, string(as.role))
		if as.partnerID != uuid.Nil {
			req.Header.Set(middleware.PartnerIDHeader, as.partnerID.String())
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func capsFor(scope capability.Scope) interface{} {
	return mock.MatchedBy(func(caps capability.Set) bool { return caps.Has(scope) })
}

type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error) {
	args := m.Called(ctx, p, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.PostingResult), args.Error(1)
}

func (m *MockLedgerService) Debit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error) {
	args := m.Called(ctx, p, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.PostingResult), args.Error(1)
}

func (m *MockLedgerService) GetBalance(ctx context.Context, ref wallet.Ref) (*ledger_core.Balance, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger_core.Balance), args.Error(1)
}

func (m *MockLedgerService) ReconcileWallet(ctx context.Context, ref wallet.Ref) (*ledger.Reconciliation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Reconciliation), args.Error(1)
}

func (m *MockLedgerService) ListEntries(ctx context.Context, ref wallet.Ref, filter ledger.ListFilter) ([]*ledger.Entry, error) {
	args := m.Called(ctx, ref, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockLedgerService) GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Entry), args.Error(1)
}

func (m *MockLedgerService) SetEntryStatus(ctx context.Context, id uuid.UUID, status ledger.Status, caps capability.Set) (*ledger.Entry, error) {
	args := m.Called(ctx, id, status, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Entry), args.Error(1)
}

type MockStatementService struct {
	mock.Mock
}

func (m *MockStatementService) GetStatement(ctx context.Context, ref wallet.Ref, from, to *time.Time, page, perPage int) ([]*ledger.StatementLine, int64, error) {
	args := m.Called(ctx, ref, from, to, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*ledger.StatementLine), args.Get(1).(int64), args.Error(2)
}

type MockFeeService struct {
	mock.Mock
}

func (m *MockFeeService) ResolveFee(ctx context.Context, req scheme_resolver.FeeRequest) (*scheme.Resolution, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheme.Resolution), args.Error(1)
}

func (m *MockFeeService) CreateRate(ctx context.Context, rate *scheme.Rate, caps capability.Set) error {
	return m.Called(ctx, rate, caps).Error(0)
}

func (m *MockFeeService) ListRates(ctx context.Context, service scheme.Service) ([]*scheme.Rate, error) {
	args := m.Called(ctx, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*scheme.Rate), args.Error(1)
}

type MockCommissionService struct {
	mock.Mock
}

func (m *MockCommissionService) DistributeFee(ctx context.Context, req scheme_resolver.FeeRequest, transactionID string) (*commission_distributor.FeeDistribution, error) {
	args := m.Called(ctx, req, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commission_distributor.FeeDistribution), args.Error(1)
}

func (m *MockCommissionService) Adjust(ctx context.Context, id uuid.UUID, newAmount decimal.Decimal, reason string, caps capability.Set) (*commission.Adjustment, error) {
	args := m.Called(ctx, id, newAmount, reason, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commission.Adjustment), args.Error(1)
}

func (m *MockCommissionService) Release(ctx context.Context, id uuid.UUID, caps capability.Set) (*commission.Entry, error) {
	args := m.Called(ctx, id, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commission.Entry), args.Error(1)
}

func (m *MockCommissionService) ListByTransaction(ctx context.Context, transactionID string) ([]*commission.Entry, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*commission.Entry), args.Error(1)
}

type MockSettlementService struct {
	mock.Mock
}

func (m *MockSettlementService) Request(ctx context.Context, req settlement_orchestrator.SettlementRequest, caps capability.Set) (*settlement.Settlement, error) {
	args := m.Called(ctx, req, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.Settlement), args.Error(1)
}

func (m *MockSettlementService) Release(ctx context.Context, id uuid.UUID, action settlement.Action, caps capability.Set) (*settlement.Settlement, error) {
	args := m.Called(ctx, id, action, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.Settlement), args.Error(1)
}

func (m *MockSettlementService) Reconcile(ctx context.Context, id uuid.UUID, outcome settlement.Outcome, payoutRef string, caps capability.Set) (*settlement.Settlement, error) {
	args := m.Called(ctx, id, outcome, payoutRef, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.Settlement), args.Error(1)
}

func (m *MockSettlementService) Get(ctx context.Context, id uuid.UUID) (*settlement.Settlement, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.Settlement), args.Error(1)
}

type MockDisputeService struct {
	mock.Mock
}

func (m *MockDisputeService) Raise(ctx context.Context, req dispute_controller.RaiseRequest, caps capability.Set) (*dispute.Dispute, error) {
	args := m.Called(ctx, req, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispute.Dispute), args.Error(1)
}

func (m *MockDisputeService) Transition(ctx context.Context, id uuid.UUID, action dispute.Action, resolution string, caps capability.Set) (*dispute.Dispute, error) {
	args := m.Called(ctx, id, action, resolution, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispute.Dispute), args.Error(1)
}

func (m *MockDisputeService) Get(ctx context.Context, id uuid.UUID) (*dispute.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispute.Dispute), args.Error(1)
}

func (m *MockDisputeService) HoldWallet(ctx context.Context, ref wallet.Ref, held bool, caps capability.Set) (*dispute_controller.WalletHold, error) {
	args := m.Called(ctx, ref, held, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispute_controller.WalletHold), args.Error(1)
}

func (m *MockDisputeService) FreezeWallet(ctx context.Context, ref wallet.Ref, frozen bool, caps capability.Set) (*dispute_controller.WalletHold, error) {
	args := m.Called(ctx, ref, frozen, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispute_controller.WalletHold), args.Error(1)
}

type MockBatchService struct {
	mock.Mock
}

func (m *MockBatchService) Run(ctx context.Context, cutoff time.Time, caps capability.Set) (*batch.RunResult, error) {
	args := m.Called(ctx, cutoff, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.RunResult), args.Error(1)
}

type MockTransferService struct {
	mock.Mock
}

func (m *MockTransferService) Push(ctx context.Context, req transfer_saga.TransferRequest, caps capability.Set) (*transfer.Transfer, error) {
	args := m.Called(ctx, req, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.Transfer), args.Error(1)
}

func (m *MockTransferService) Pull(ctx context.Context, req transfer_saga.TransferRequest, caps capability.Set) (*transfer.Transfer, error) {
	args := m.Called(ctx, req, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.Transfer), args.Error(1)
}

func (m *MockTransferService) Get(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.Transfer), args.Error(1)
}

type MockCallbackService struct {
	mock.Mock
}

func (m *MockCallbackService) Submit(ctx context.Context, cb *shared.PaymentCallback) (*batch.ProviderTransaction, error) {
	args := m.Called(ctx, cb)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.ProviderTransaction), args.Error(1)
}
