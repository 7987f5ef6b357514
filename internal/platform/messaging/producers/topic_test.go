package producers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/retry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTopicAdmin struct {
	mock.Mock
}

func (m *MockTopicAdmin) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	args := m.Called(topics)
	parts, _ := args.Get(0).([]kafka.Partition)
	return parts, args.Error(1)
}

func (m *MockTopicAdmin) CreateTopics(topics ...kafka.TopicConfig) error {
	args := m.Called(topics)
	return args.Error(0)
}

func fastLookups(t *testing.T) {
	previous := topicLookupPolicy
	topicLookupPolicy = retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: 5 * time.Millisecond}
	t.Cleanup(func() { topicLookupPolicy = previous })
}

func TestEnsureTopic(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()
	fastLookups(t)

	t.Run("existing topic", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		admin.On("ReadPartitions", []string{"callbacks"}).Return([]kafka.Partition{{Topic: "callbacks"}}, nil).Once()

		require.NoError(t, ensureTopic(ctx, admin, "callbacks", 3, 1, log))
		admin.AssertNotCalled(t, "CreateTopics", mock.Anything)
	})

	t.Run("missing topic is created with defaults", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		admin.On("ReadPartitions", []string{"callbacks"}).Return(nil, errors.New("unknown topic"))
		admin.On("CreateTopics", []kafka.TopicConfig{{Topic: "callbacks", NumPartitions: 1, ReplicationFactor: 1}}).Return(nil).Once()

		require.NoError(t, ensureTopic(ctx, admin, "callbacks", 0, 0, log))
		admin.AssertExpectations(t)
	})

	t.Run("create fails", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		admin.On("ReadPartitions", mock.Anything).Return([]kafka.Partition{}, nil)
		admin.On("CreateTopics", mock.Anything).Return(errors.New("not authorized")).Once()

		err := ensureTopic(ctx, admin, "callbacks", 1, 1, log)
		assert.ErrorContains(t, err, "not authorized")
	})
}

func TestStampCorrelation(t *testing.T) {
	msg := kafka.Message{}
	stampCorrelation(context.Background(), &msg)
	assert.Empty(t, msg.Headers)

	stampCorrelation(logger.WithCorrelationID(context.Background(), "corr-3"), &msg)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, correlationHeader, msg.Headers[0].Key)
	assert.Equal(t, "corr-3", string(msg.Headers[0].Value))
}
