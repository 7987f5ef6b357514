package producers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	return m.Called().Error(0)
}

var _ KafkaWriter = (*MockKafkaWriter)(nil)

func TestCallbackProducer_Publish(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cb := &shared.PaymentCallback{
		ExternalID:  "EXT-1",
		Amount:      decimal.RequireFromString("100"),
		ServiceType: shared.ServiceTypePOS,
	}
	body, err := json.Marshal(cb)
	require.NoError(t, err)

	tests := []struct {
		name        string
		ctx         context.Context
		writeErr    error
		wantHeaders int
	}{
		{name: "WithCorrelation", ctx: logger.WithCorrelationID(context.Background(), "corr-1"), wantHeaders: 1},
		{name: "WithoutCorrelation", ctx: context.Background(), wantHeaders: 0},
		{name: "WriterError", ctx: context.Background(), writeErr: errors.New("leader not available")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := new(MockKafkaWriter)
			p := &CallbackProducer{logger: log, writer: writer, topic: "callbacks"}

			writer.On("WriteMessages", tt.ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
				return len(msgs) == 1 &&
					string(msgs[0].Key) == "EXT-1" &&
					string(msgs[0].Value) == string(body)
			})).Return(tt.writeErr).Once()

			err := p.Publish(tt.ctx, cb.ExternalID, cb)
			writer.AssertExpectations(t)
			if tt.writeErr != nil {
				assert.ErrorIs(t, err, tt.writeErr)
				return
			}
			require.NoError(t, err)
			msgs := writer.Calls[0].Arguments.Get(1).([]kafka.Message)
			assert.Len(t, msgs[0].Headers, tt.wantHeaders)
		})
	}

	t.Run("UnencodableValue", func(t *testing.T) {
		p := &CallbackProducer{logger: log, writer: new(MockKafkaWriter), topic: "callbacks"}
		assert.Error(t, p.Publish(context.Background(), "EXT-3", make(chan int)))
	})
}

func TestCallbackProducer_Close(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	boom := errors.New("close failed")

	writer := new(MockKafkaWriter)
	writer.On("Close").Return(boom).Once()
	p := &CallbackProducer{logger: log, writer: writer, topic: "callbacks"}

	assert.ErrorIs(t, p.Close(), boom)
	writer.AssertExpectations(t)
}
