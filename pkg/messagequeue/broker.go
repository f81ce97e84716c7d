package messagequeue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agentmq/pkg/types"
)

var (
	ErrEmptyChannel   = errors.New("channel must not be empty")
	ErrEmptySender    = errors.New("sender must not be empty")
	ErrNilContent     = errors.New("content must not be nil")
	ErrEmptyAgentID   = errors.New("agent id must not be empty")
	ErrEmptyMessageID = errors.New("message id must not be empty")
)

const (
	defaultSweepInterval     = 10 * time.Second
	defaultLatencyWindowSize = 1000

	// DefaultGetLimit is the number of messages a poll returns when the
	// caller does not set a limit.
	DefaultGetLimit = 10
)

// BrokerConfig holds the tunables for a Broker.
type BrokerConfig struct {
	// SweepInterval is how often the background sweeper scans for expired
	// messages.
	SweepInterval time.Duration
	// LatencyWindowSize is the number of recent publish latencies kept for
	// the rolling average.
	LatencyWindowSize int
}

// Broker is an in-memory pub/sub message queue for coordinating agents.
// Agents publish to named channels and poll for messages across their
// subscriptions. Messages stay queued until acknowledged or expired, so
// every poll sees the outstanding backlog and delivery is at least once.
//
// A single lock guards all broker state. Operations are short map and
// slice manipulations, and the coarse lock keeps the backlog, pending
// index, and subscription indexes moving in step.
type Broker struct {
	cfg    BrokerConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	store   *channelStore
	subs    *subscriptionRegistry
	metrics *metricsRecorder

	started     bool
	cancelSweep context.CancelFunc
	sweepWg     sync.WaitGroup
	stopOnce    sync.Once
	doneChan    chan struct{}
}

// NewBroker creates a Broker, applying defaults for any unset config
// values. The broker is usable immediately; Start only adds the background
// expiry sweeper.
func NewBroker(cfg BrokerConfig, logger zerolog.Logger) *Broker {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.LatencyWindowSize <= 0 {
		cfg.LatencyWindowSize = defaultLatencyWindowSize
	}

	return &Broker{
		cfg:      cfg,
		logger:   logger.With().Str("component", "Broker").Logger(),
		store:    newChannelStore(),
		subs:     newSubscriptionRegistry(),
		metrics:  newMetricsRecorder(cfg.LatencyWindowSize),
		doneChan: make(chan struct{}),
	}
}

// PublishRequest describes one message to enqueue.
type PublishRequest struct {
	Channel string
	Content interface{}
	Sender  string
	// Priority orders delivery; higher values are delivered first.
	Priority int
	// TTL bounds the message's lifetime in the queue. Zero or negative
	// means the message never expires.
	TTL time.Duration
}

// Publish validates and enqueues a message, assigning it an ID and
// publish timestamp. The receipt carries the enqueue latency so callers
// can watch broker health. Invalid requests are rejected before any state
// changes.
func (b *Broker) Publish(ctx context.Context, req PublishRequest) (types.PublishReceipt, error) {
	start := time.Now()

	if req.Channel == "" {
		return types.PublishReceipt{}, ErrEmptyChannel
	}
	if req.Sender == "" {
		return types.PublishReceipt{}, ErrEmptySender
	}
	if req.Content == nil {
		return types.PublishReceipt{}, ErrNilContent
	}

	msg := &types.Message{
		ID:          uuid.NewString(),
		Channel:     req.Channel,
		Sender:      req.Sender,
		Content:     req.Content,
		Priority:    req.Priority,
		PublishedAt: start.UTC(),
	}
	if req.TTL > 0 {
		expiresAt := msg.PublishedAt.Add(req.TTL)
		msg.ExpiresAt = &expiresAt
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.store.add(msg)
	latencyMS := time.Since(start).Seconds() * 1000
	b.metrics.recordPublish(latencyMS)

	b.logger.Debug().
		Str("message_id", msg.ID).
		Str("channel", msg.Channel).
		Int("priority", msg.Priority).
		Msg("Message published.")

	return types.PublishReceipt{
		MessageID:   msg.ID,
		Channel:     msg.Channel,
		PublishedAt: msg.PublishedAt,
		LatencyMS:   latencyMS,
	}, nil
}

// Subscribe registers an agent's interest in a channel. Subscribing twice
// is a no-op that reconfirms the existing subscription. The result reports
// the channel's current backlog, all of which the subscriber may now read.
func (b *Broker) Subscribe(ctx context.Context, channel, agentID string, filters map[string]interface{}) (types.SubscribeResult, error) {
	if channel == "" {
		return types.SubscribeResult{}, ErrEmptyChannel
	}
	if agentID == "" {
		return types.SubscribeResult{}, ErrEmptyAgentID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	created := b.subs.subscribe(types.Subscription{
		AgentID:   agentID,
		Channel:   channel,
		CreatedAt: time.Now().UTC(),
		Filters:   filters,
	})
	if created {
		b.logger.Info().Str("agent_id", agentID).Str("channel", channel).Msg("Agent subscribed to channel.")
	}

	return types.SubscribeResult{
		Channel:      channel,
		AgentID:      agentID,
		Subscribed:   true,
		MessageCount: b.store.count(channel),
		Filters:      filters,
	}, nil
}

// Unsubscribe removes an agent's subscription to a channel. It reports
// success whether or not a matching subscription existed.
func (b *Broker) Unsubscribe(ctx context.Context, channel, agentID string) (types.UnsubscribeResult, error) {
	if channel == "" {
		return types.UnsubscribeResult{}, ErrEmptyChannel
	}
	if agentID == "" {
		return types.UnsubscribeResult{}, ErrEmptyAgentID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs.unsubscribe(channel, agentID)
	b.logger.Info().Str("agent_id", agentID).Str("channel", channel).Msg("Agent unsubscribed from channel.")

	return types.UnsubscribeResult{
		Channel:      channel,
		AgentID:      agentID,
		Unsubscribed: true,
	}, nil
}

// GetOptions narrows a GetMessages poll.
type GetOptions struct {
	// Channel restricts the poll to a single channel. The agent must be
	// subscribed to it; filtering on an unsubscribed channel returns
	// nothing.
	Channel string
	// Limit caps the number of returned messages. Zero or negative applies
	// DefaultGetLimit.
	Limit int
}

// GetMessages returns up to the limit of queued messages visible to the
// agent, ordered by priority, highest first, then publish time, oldest
// first. Reading does not consume: messages remain queued until
// acknowledged or expired, so unacknowledged messages reappear on
// subsequent polls.
func (b *Broker) GetMessages(ctx context.Context, agentID string, opts GetOptions) ([]types.Delivery, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultGetLimit
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var channels []string
	if opts.Channel != "" {
		if b.subs.isSubscribed(opts.Channel, agentID) {
			channels = []string{opts.Channel}
		}
	} else {
		channels = b.subs.channelsFor(agentID)
	}

	collected := make([]*types.Message, 0, limit)
	for _, channel := range channels {
		collected = append(collected, b.store.head(channel, limit)...)
	}
	sort.SliceStable(collected, deliveryOrder(collected))
	if len(collected) > limit {
		collected = collected[:limit]
	}

	now := time.Now().UTC()
	deliveries := make([]types.Delivery, 0, len(collected))
	for _, msg := range collected {
		deliveries = append(deliveries, types.Delivery{Message: *msg, DeliveredAt: now})
	}

	b.logger.Debug().Str("agent_id", agentID).Int("count", len(deliveries)).Msg("Messages retrieved.")
	return deliveries, nil
}

// Acknowledge removes a delivered message from the queue and counts it as
// delivered. Acknowledging is idempotent in effect: the first call for a
// message succeeds and later calls report it not found. Any agent may
// acknowledge any message it has read.
func (b *Broker) Acknowledge(ctx context.Context, messageID, agentID string) (types.AckResult, error) {
	if messageID == "" {
		return types.AckResult{}, ErrEmptyMessageID
	}
	if agentID == "" {
		return types.AckResult{}, ErrEmptyAgentID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.store.remove(messageID); !ok {
		return types.AckResult{
			MessageID:    messageID,
			AgentID:      agentID,
			Acknowledged: false,
			Reason:       "message not found",
		}, nil
	}
	b.metrics.recordDelivery()

	b.logger.Debug().Str("message_id", messageID).Str("agent_id", agentID).Msg("Message acknowledged.")
	return types.AckResult{
		MessageID:    messageID,
		AgentID:      agentID,
		Acknowledged: true,
	}, nil
}

// ListChannels describes every active channel, sorted by name. A channel
// is listed while it holds queued messages or has at least one subscriber.
func (b *Broker) ListChannels(ctx context.Context) ([]types.ChannelInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, name := range b.store.channelNames() {
		seen[name] = struct{}{}
	}
	for _, name := range b.subs.channelNames() {
		seen[name] = struct{}{}
	}

	now := time.Now().UTC()
	infos := make([]types.ChannelInfo, 0, len(seen))
	for name := range seen {
		subscribers := b.subs.subscribers(name)
		createdAt, ok := b.subs.earliestCreatedAt(name)
		if !ok {
			createdAt = now
		}
		infos = append(infos, types.ChannelInfo{
			Name:            name,
			Subscribers:     subscribers,
			SubscriberCount: len(subscribers),
			MessageCount:    b.store.count(name),
			CreatedAt:       createdAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

// Metrics returns a snapshot of the broker's performance counters and
// current queue occupancy.
func (b *Broker) Metrics(ctx context.Context) types.MetricsSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.metrics.snapshot(b.store.pendingCount(), b.store.channelCount(), b.subs.subscriptionCount())
}
