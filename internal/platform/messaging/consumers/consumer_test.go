package consumers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/retry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKafkaReader struct {
	mock.Mock
}

func (m *MockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).(kafka.Message), args.Error(1)
}

func (m *MockKafkaReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaReader) Close() error {
	return m.Called().Error(0)
}

func fastRetries(t *testing.T) {
	fetch, handle := fetchRetryPolicy, handlerRetryPolicy
	fetchRetryPolicy = retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	handlerRetryPolicy = retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	t.Cleanup(func() { fetchRetryPolicy, handlerRetryPolicy = fetch, handle })
}

func newTestConsumer(reader KafkaReader) *KafkaConsumer {
	return &KafkaConsumer{
		reader:  reader,
		logger:  slog.New(slog.NewTextHandler(os.Stdout, nil)),
		topic:   "payment_callbacks",
		groupID: "settlement-worker-group",
		done:    make(chan struct{}),
	}
}

func waitDone(t *testing.T, c *KafkaConsumer) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestNewKafkaConsumer(t *testing.T) {
	cfg := &config.KafkaConfig{
		Brokers:       "localhost:9092",
		CallbackTopic: "payment_callbacks",
		ConsumerGroup: "test-group",
		MinBytes:      1024,
		MaxBytes:      10240,
		MaxWait:       time.Second,
	}

	c := NewKafkaConsumer(context.Background(), slog.New(slog.NewTextHandler(os.Stdout, nil)), cfg)
	require.NotNil(t, c.reader)
	assert.Equal(t, "payment_callbacks", c.topic)
	assert.Equal(t, "test-group", c.groupID)
}

func TestKafkaConsumer_FailedMessageIsRetriedBeforeCommit(t *testing.T) {
	fastRetries(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := new(MockKafkaReader)
	first := kafka.Message{Key: []byte("EXT-1"), Offset: 1,
		Headers: []kafka.Header{{Key: correlationHeader, Value: []byte("corr-1")}}}
	second := kafka.Message{Key: []byte("EXT-2"), Offset: 2}

	reader.On("FetchMessage", mock.Anything).Return(first, nil).Once()
	reader.On("FetchMessage", mock.Anything).Return(second, nil).Once()
	reader.On("FetchMessage", mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return(kafka.Message{}, context.Canceled)
	reader.On("CommitMessages", mock.Anything, []kafka.Message{first}).Return(nil).Once()
	reader.On("CommitMessages", mock.Anything, []kafka.Message{second}).Return(nil).Once()

	attempts := map[string]int{}
	var correlation string
	handler := func(ctx context.Context, key, _ []byte) error {
		attempts[string(key)]++
		if string(key) == "EXT-1" {
			correlation = logger.CorrelationID(ctx)
			if attempts["EXT-1"] < 3 {
				return errors.New("database unavailable")
			}
		}
		return nil
	}

	c := newTestConsumer(reader)
	require.NoError(t, c.Subscribe(ctx, handler))
	waitDone(t, c)

	assert.Equal(t, 3, attempts["EXT-1"])
	assert.Equal(t, 1, attempts["EXT-2"])
	assert.Equal(t, "corr-1", correlation)
	reader.AssertExpectations(t)
}

func TestKafkaConsumer_StopsWithoutCommitWhenCanceledMidRetry(t *testing.T) {
	fastRetries(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := new(MockKafkaReader)
	reader.On("FetchMessage", mock.Anything).Return(kafka.Message{Key: []byte("EXT-1")}, nil).Once()

	calls := 0
	handler := func(context.Context, []byte, []byte) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("still failing")
	}

	c := newTestConsumer(reader)
	require.NoError(t, c.Subscribe(ctx, handler))
	waitDone(t, c)

	reader.AssertNotCalled(t, "CommitMessages", mock.Anything, mock.Anything)
}

func TestKafkaConsumer_FetchErrorsAreRetried(t *testing.T) {
	fastRetries(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := new(MockKafkaReader)
	msg := kafka.Message{Key: []byte("EXT-9")}
	reader.On("FetchMessage", mock.Anything).Return(kafka.Message{}, errors.New("coordinator moved")).Twice()
	reader.On("FetchMessage", mock.Anything).Return(msg, nil).Once()
	reader.On("FetchMessage", mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return(kafka.Message{}, context.Canceled)
	reader.On("CommitMessages", mock.Anything, []kafka.Message{msg}).Return(nil).Once()

	c := newTestConsumer(reader)
	require.NoError(t, c.Subscribe(ctx, func(context.Context, []byte, []byte) error { return nil }))
	waitDone(t, c)

	reader.AssertExpectations(t)
}

func TestKafkaConsumer_Close(t *testing.T) {
	t.Run("NilReader", func(t *testing.T) {
		require.NoError(t, (&KafkaConsumer{}).Close())
	})

	t.Run("DelegatesToReader", func(t *testing.T) {
		reader := new(MockKafkaReader)
		reader.On("Close").Return(nil).Once()
		require.NoError(t, newTestConsumer(reader).Close())
		reader.AssertExpectations(t)
	})
}
