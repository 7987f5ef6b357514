package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCallbackPoster struct {
	mock.Mock
}

func (m *MockCallbackPoster) Post(ctx context.Context, cb *shared.PaymentCallback) error {
	return m.Called(ctx, cb).Error(0)
}

type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishToDLQ(ctx context.Context, key string, value []byte, reason string) error {
	return m.Called(ctx, key, value, reason).Error(0)
}

func (m *MockDeadLetterPublisher) Close() error {
	return m.Called().Error(0)
}

func TestHandleMessage(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	valid := &shared.PaymentCallback{
		ExternalID:    "AE-500",
		PartnerID:     uuid.New(),
		ServiceType:   shared.ServiceTypeAEPS,
		Amount:        decimal.RequireFromString("2500"),
		Status:        shared.CallbackStatusCaptured,
		Instant:       true,
		CorrelationID: "corr-500",
	}
	validJSON, err := json.Marshal(valid)
	require.NoError(t, err)

	invalid := *valid
	invalid.ExternalID = ""
	invalidJSON, err := json.Marshal(&invalid)
	require.NoError(t, err)

	tests := []struct {
		name       string
		value      []byte
		setupMocks func(p *MockCallbackPoster, d *MockDeadLetterPublisher)
		wantErr    bool
	}{
		{
			name:  "Posted",
			value: validJSON,
			setupMocks: func(p *MockCallbackPoster, _ *MockDeadLetterPublisher) {
				p.On("Post", mock.MatchedBy(func(ctx context.Context) bool {
					return logger.CorrelationID(ctx) == "corr-500"
				}), mock.MatchedBy(func(cb *shared.PaymentCallback) bool {
					return cb.ExternalID == "AE-500" && cb.Amount.Equal(valid.Amount)
				})).Return(nil).Once()
			},
		},
		{
			name:  "PostingFailsIsRetried",
			value: validJSON,
			setupMocks: func(p *MockCallbackPoster, _ *MockDeadLetterPublisher) {
				p.On("Post", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
			},
			wantErr: true,
		},
		{
			name:  "FrozenWalletDeadLettered",
			value: validJSON,
			setupMocks: func(p *MockCallbackPoster, d *MockDeadLetterPublisher) {
				p.On("Post", mock.Anything, mock.Anything).Return(fmt.Errorf("failed to credit: %w", wallet.ErrWalletFrozen)).Once()
				d.On("PublishToDLQ", mock.Anything, "key-1", validJSON, mock.MatchedBy(func(reason string) bool {
					return strings.HasPrefix(reason, "Payment callback rejected by ledger")
				})).Return(nil).Once()
			},
		},
		{
			name:  "MalformedJSONDeadLettered",
			value: []byte("{not json"),
			setupMocks: func(_ *MockCallbackPoster, d *MockDeadLetterPublisher) {
				d.On("PublishToDLQ", mock.Anything, "key-1", []byte("{not json"), mock.AnythingOfType("string")).Return(nil).Once()
			},
		},
		{
			name:  "InvalidCallbackDeadLettered",
			value: invalidJSON,
			setupMocks: func(_ *MockCallbackPoster, d *MockDeadLetterPublisher) {
				d.On("PublishToDLQ", mock.Anything, "key-1", invalidJSON, mock.MatchedBy(func(reason string) bool {
					return reason == "Invalid payment callback: "+shared.ErrMissingExternalID.Error()
				})).Return(nil).Once()
			},
		},
		{
			name:  "DLQFailureIsRetried",
			value: []byte("{not json"),
			setupMocks: func(_ *MockCallbackPoster, d *MockDeadLetterPublisher) {
				d.On("PublishToDLQ", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poster := new(MockCallbackPoster)
			dlq := new(MockDeadLetterPublisher)
			tt.setupMocks(poster, dlq)

			handler := NewCallbackEventHandler(log, poster, dlq)
			err := handler.HandleMessage(context.Background(), []byte("key-1"), tt.value)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			poster.AssertExpectations(t)
			dlq.AssertExpectations(t)
		})
	}
}

func TestHandleMessage_WithoutDLQ(t *testing.T) {
	handler := NewCallbackEventHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), new(MockCallbackPoster), nil)

	err := handler.HandleMessage(context.Background(), []byte("k"), []byte("garbage"))

	assert.Error(t, err)
}
