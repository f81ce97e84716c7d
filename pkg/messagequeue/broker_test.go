package messagequeue_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/illmade-knight/go-agentmq/pkg/messagequeue"
	"github.com/illmade-knight/go-agentmq/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestBroker is a helper to create a Broker that logs nowhere.
func newTestBroker(t *testing.T, cfg messagequeue.BrokerConfig) *messagequeue.Broker {
	t.Helper()
	return messagequeue.NewBroker(cfg, zerolog.Nop())
}

// publish is a helper for the common publish-and-require-success step.
func publish(t *testing.T, b *messagequeue.Broker, req messagequeue.PublishRequest) types.PublishReceipt {
	t.Helper()
	receipt, err := b.Publish(context.Background(), req)
	require.NoError(t, err)
	return receipt
}

// --- Publish ---

func TestBroker_Publish_ReturnsReceipt(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})

	// Act
	receipt, err := broker.Publish(context.Background(), messagequeue.PublishRequest{
		Channel: "tasks",
		Content: map[string]interface{}{"action": "deploy"},
		Sender:  "orchestrator",
	})

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.MessageID)
	assert.Equal(t, "tasks", receipt.Channel)
	assert.False(t, receipt.PublishedAt.IsZero())
	assert.GreaterOrEqual(t, receipt.LatencyMS, 0.0)

	metrics := broker.Metrics(context.Background())
	assert.Equal(t, int64(1), metrics.MessagesSent)
	assert.Equal(t, 1, metrics.PendingMessages)
}

func TestBroker_Publish_RejectsInvalidRequests(t *testing.T) {
	broker := newTestBroker(t, messagequeue.BrokerConfig{})

	testCases := []struct {
		name        string
		req         messagequeue.PublishRequest
		expectedErr error
	}{
		{
			name:        "missing channel",
			req:         messagequeue.PublishRequest{Content: "c", Sender: "s"},
			expectedErr: messagequeue.ErrEmptyChannel,
		},
		{
			name:        "missing sender",
			req:         messagequeue.PublishRequest{Channel: "ch", Content: "c"},
			expectedErr: messagequeue.ErrEmptySender,
		},
		{
			name:        "missing content",
			req:         messagequeue.PublishRequest{Channel: "ch", Sender: "s"},
			expectedErr: messagequeue.ErrNilContent,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			_, err := broker.Publish(context.Background(), tc.req)

			// Assert
			require.ErrorIs(t, err, tc.expectedErr)
		})
	}

	// A rejected publish must leave no trace behind.
	metrics := broker.Metrics(context.Background())
	assert.Equal(t, int64(0), metrics.MessagesSent)
	assert.Equal(t, 0, metrics.PendingMessages)
}

// --- Subscribe / Unsubscribe ---

func TestBroker_Subscribe_ReportsBacklog(t *testing.T) {
	// Arrange: two messages queued before the agent shows up.
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "one", Sender: "s"})
	publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "two", Sender: "s"})

	// Act
	result, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)

	// Assert: the backlog is visible and readable for the late subscriber.
	require.NoError(t, err)
	assert.True(t, result.Subscribed)
	assert.Equal(t, 2, result.MessageCount)
	assert.Nil(t, result.Filters)

	deliveries, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
}

func TestBroker_Subscribe_IsIdempotent(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	filters := map[string]interface{}{"kind": "build"}

	// Act
	first, err := broker.Subscribe(context.Background(), "tasks", "agent-1", filters)
	require.NoError(t, err)
	second, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)

	// Assert
	assert.True(t, first.Subscribed)
	assert.Equal(t, filters, first.Filters)
	assert.True(t, second.Subscribed)

	channels, err := broker.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, []string{"agent-1"}, channels[0].Subscribers)
}

func TestBroker_Unsubscribe_StopsDelivery(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	_, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)
	publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "c", Sender: "s"})

	// Act
	result, err := broker.Unsubscribe(context.Background(), "tasks", "agent-1")

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Unsubscribed)

	deliveries, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestBroker_Unsubscribe_SucceedsWithoutSubscription(t *testing.T) {
	broker := newTestBroker(t, messagequeue.BrokerConfig{})

	result, err := broker.Unsubscribe(context.Background(), "ghost", "agent-1")

	require.NoError(t, err)
	assert.True(t, result.Unsubscribed)
}

// --- GetMessages ---

func TestBroker_GetMessages_PriorityThenFIFO(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	_, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)

	low := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "low-first", Sender: "s", Priority: 5})
	high := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "high", Sender: "s", Priority: 9})
	lowLater := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "low-second", Sender: "s", Priority: 5})

	// Act
	deliveries, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})

	// Assert: highest priority first, FIFO within equal priorities.
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	assert.Equal(t, high.MessageID, deliveries[0].ID)
	assert.Equal(t, low.MessageID, deliveries[1].ID)
	assert.Equal(t, lowLater.MessageID, deliveries[2].ID)
	for _, d := range deliveries {
		assert.False(t, d.DeliveredAt.IsZero())
	}
}

func TestBroker_GetMessages_DoesNotConsume(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	_, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)
	receipt := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "c", Sender: "s"})

	// Act: read twice without acknowledging.
	first, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})
	require.NoError(t, err)
	second, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})
	require.NoError(t, err)

	// Assert: the message is redelivered until acknowledged.
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, receipt.MessageID, first[0].ID)
	assert.Equal(t, receipt.MessageID, second[0].ID)
}

func TestBroker_GetMessages_RequiresSubscription(t *testing.T) {
	// Arrange: a message on a channel the agent never subscribed to.
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "c", Sender: "s"})

	// Act
	deliveries, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})

	// Assert
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestBroker_GetMessages_ChannelFilter(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	for _, channel := range []string{"tasks", "events"} {
		_, err := broker.Subscribe(context.Background(), channel, "agent-1", nil)
		require.NoError(t, err)
	}
	publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "t", Sender: "s"})
	publish(t, broker, messagequeue.PublishRequest{Channel: "events", Content: "e", Sender: "s"})

	// Act
	tasksOnly, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{Channel: "tasks"})
	require.NoError(t, err)
	unsubscribed, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{Channel: "other"})
	require.NoError(t, err)

	// Assert: the filter narrows to the one channel and never widens
	// beyond the agent's subscriptions.
	require.Len(t, tasksOnly, 1)
	assert.Equal(t, "tasks", tasksOnly[0].Channel)
	assert.Empty(t, unsubscribed)
}

func TestBroker_GetMessages_AppliesLimit(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	_, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: i, Sender: "s", Priority: i})
	}

	// Act
	deliveries, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{Limit: 2})

	// Assert: the two highest priorities win the truncation.
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, 4, deliveries[0].Priority)
	assert.Equal(t, 3, deliveries[1].Priority)
}

func TestBroker_GetMessages_RejectsEmptyAgent(t *testing.T) {
	broker := newTestBroker(t, messagequeue.BrokerConfig{})

	_, err := broker.GetMessages(context.Background(), "", messagequeue.GetOptions{})

	require.ErrorIs(t, err, messagequeue.ErrEmptyAgentID)
}

// --- Acknowledge ---

func TestBroker_Acknowledge_RemovesMessage(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	_, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)
	receipt := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "c", Sender: "s"})

	// Act
	ack, err := broker.Acknowledge(context.Background(), receipt.MessageID, "agent-1")

	// Assert
	require.NoError(t, err)
	assert.True(t, ack.Acknowledged)
	assert.Empty(t, ack.Reason)

	deliveries, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	metrics := broker.Metrics(context.Background())
	assert.Equal(t, int64(1), metrics.MessagesDelivered)
	assert.Equal(t, 0, metrics.PendingMessages)
}

func TestBroker_Acknowledge_SecondAttemptReportsNotFound(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	receipt := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "c", Sender: "s"})

	first, err := broker.Acknowledge(context.Background(), receipt.MessageID, "agent-1")
	require.NoError(t, err)
	require.True(t, first.Acknowledged)

	// Act
	second, err := broker.Acknowledge(context.Background(), receipt.MessageID, "agent-1")

	// Assert: not an error, a structured refusal.
	require.NoError(t, err)
	assert.False(t, second.Acknowledged)
	assert.Equal(t, "message not found", second.Reason)

	metrics := broker.Metrics(context.Background())
	assert.Equal(t, int64(1), metrics.MessagesDelivered)
}

func TestBroker_Acknowledge_UnknownMessage(t *testing.T) {
	broker := newTestBroker(t, messagequeue.BrokerConfig{})

	ack, err := broker.Acknowledge(context.Background(), "no-such-id", "agent-1")

	require.NoError(t, err)
	assert.False(t, ack.Acknowledged)
	assert.Equal(t, "message not found", ack.Reason)
}

// --- ListChannels ---

func TestBroker_ListChannels_UnionOfMessagesAndSubscriptions(t *testing.T) {
	// Arrange: one channel with only messages, one with only a subscriber.
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	publish(t, broker, messagequeue.PublishRequest{Channel: "backlog-only", Content: "c", Sender: "s"})
	_, err := broker.Subscribe(context.Background(), "subscribers-only", "agent-1", nil)
	require.NoError(t, err)

	// Act
	channels, err := broker.ListChannels(context.Background())

	// Assert: sorted by name, each side of the union present.
	require.NoError(t, err)
	require.Len(t, channels, 2)

	assert.Equal(t, "backlog-only", channels[0].Name)
	assert.Equal(t, 1, channels[0].MessageCount)
	assert.Empty(t, channels[0].Subscribers)
	assert.False(t, channels[0].CreatedAt.IsZero())

	assert.Equal(t, "subscribers-only", channels[1].Name)
	assert.Equal(t, 0, channels[1].MessageCount)
	assert.Equal(t, []string{"agent-1"}, channels[1].Subscribers)
	assert.Equal(t, 1, channels[1].SubscriberCount)
}

// --- Metrics ---

func TestBroker_Metrics_TracksLatencyAndCounts(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{})
	_, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)

	receipt := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "one", Sender: "s"})
	publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "two", Sender: "s"})
	_, err = broker.Acknowledge(context.Background(), receipt.MessageID, "agent-1")
	require.NoError(t, err)

	// Act
	metrics := broker.Metrics(context.Background())

	// Assert
	assert.Equal(t, int64(2), metrics.MessagesSent)
	assert.Equal(t, int64(1), metrics.MessagesDelivered)
	assert.Equal(t, int64(0), metrics.MessagesFailed)
	assert.Equal(t, 1, metrics.PendingMessages)
	assert.Equal(t, 1, metrics.TotalChannels)
	assert.Equal(t, 1, metrics.SubscribersCount)
	assert.GreaterOrEqual(t, metrics.AvgLatencyMS, 0.0)
	assert.GreaterOrEqual(t, metrics.PeakLatencyMS, metrics.AvgLatencyMS)
	assert.GreaterOrEqual(t, metrics.TotalLatencyMS, metrics.PeakLatencyMS)
	assert.False(t, metrics.Timestamp.IsZero())
}

// --- Expiry sweeping ---

func TestBroker_ExpiredMessages_AreSweptSilently(t *testing.T) {
	// Arrange: a fast sweeper, one short-lived message, one durable one.
	broker := newTestBroker(t, messagequeue.BrokerConfig{SweepInterval: 10 * time.Millisecond})
	_, err := broker.Subscribe(context.Background(), "tasks", "agent-1", nil)
	require.NoError(t, err)

	doomed := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "gone", Sender: "s", TTL: 20 * time.Millisecond})
	keeper := publish(t, broker, messagequeue.PublishRequest{Channel: "tasks", Content: "stays", Sender: "s"})

	require.NoError(t, broker.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		require.NoError(t, broker.Stop(stopCtx))
	})

	// Act & Assert: the expired message disappears and is counted failed.
	require.Eventually(t, func() bool {
		return broker.Metrics(context.Background()).MessagesFailed == 1
	}, 2*time.Second, 10*time.Millisecond, "expired message was not swept")

	deliveries, err := broker.GetMessages(context.Background(), "agent-1", messagequeue.GetOptions{})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, keeper.MessageID, deliveries[0].ID)

	// Expired means gone for acknowledgement purposes too.
	ack, err := broker.Acknowledge(context.Background(), doomed.MessageID, "agent-1")
	require.NoError(t, err)
	assert.False(t, ack.Acknowledged)

	metrics := broker.Metrics(context.Background())
	assert.Equal(t, 1, metrics.PendingMessages)
}

func TestBroker_Sweep_ForgetsDrainedChannels(t *testing.T) {
	// Arrange: a channel whose only message expires.
	broker := newTestBroker(t, messagequeue.BrokerConfig{SweepInterval: 10 * time.Millisecond})
	publish(t, broker, messagequeue.PublishRequest{Channel: "ephemeral", Content: "c", Sender: "s", TTL: 20 * time.Millisecond})

	require.NoError(t, broker.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		require.NoError(t, broker.Stop(stopCtx))
	})

	// Act & Assert: once swept, the channel no longer lists.
	require.Eventually(t, func() bool {
		channels, listErr := broker.ListChannels(context.Background())
		return listErr == nil && len(channels) == 0
	}, 2*time.Second, 10*time.Millisecond, "drained channel was not forgotten")
}

// --- Lifecycle ---

func TestBroker_Lifecycle_StartStop(t *testing.T) {
	// Arrange
	broker := newTestBroker(t, messagequeue.BrokerConfig{SweepInterval: 10 * time.Millisecond})

	// Act
	err := broker.Start(context.Background())
	require.NoError(t, err)

	// Assert: a second Start is refused while running.
	require.Error(t, broker.Start(context.Background()))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, broker.Stop(stopCtx))

	select {
	case <-broker.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed after Stop")
	}

	// Stop is safe to call again.
	require.NoError(t, broker.Stop(stopCtx))
}

func TestBroker_Stop_WithoutStartIsNoop(t *testing.T) {
	broker := newTestBroker(t, messagequeue.BrokerConfig{})

	require.NoError(t, broker.Stop(context.Background()))
}
