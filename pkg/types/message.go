package types

import (
	"time"
)

// Message is a single unit of work queued on a channel. A message stays
// queued, and re-readable, until an agent acknowledges it or its expiry
// passes. A nil ExpiresAt means the message never expires.
type Message struct {
	ID          string      `json:"id"`
	Channel     string      `json:"channel"`
	Sender      string      `json:"sender"`
	Content     interface{} `json:"content"`
	Priority    int         `json:"priority"`
	PublishedAt time.Time   `json:"published_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

// Expired reports whether the message's expiry has passed at now.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// Subscription records one agent's interest in a channel. Filters are
// opaque to the broker; they are stored and echoed back so clients can
// apply their own selection rules.
type Subscription struct {
	AgentID   string                 `json:"agent_id"`
	Channel   string                 `json:"channel"`
	CreatedAt time.Time              `json:"created_at"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
}

// Delivery is a message as handed to a polling agent, stamped with the
// time it was read. The same message may be delivered repeatedly until it
// is acknowledged.
type Delivery struct {
	Message
	DeliveredAt time.Time `json:"delivery_time"`
}

// PublishReceipt confirms a successful publish.
type PublishReceipt struct {
	MessageID   string    `json:"message_id"`
	Channel     string    `json:"channel"`
	PublishedAt time.Time `json:"timestamp"`
	LatencyMS   float64   `json:"latency_ms"`
}

// SubscribeResult confirms a subscription. MessageCount is the size of the
// channel's backlog at subscribe time, all of which the new subscriber may
// now read.
type SubscribeResult struct {
	Channel      string                 `json:"channel"`
	AgentID      string                 `json:"agent_id"`
	Subscribed   bool                   `json:"subscribed"`
	MessageCount int                    `json:"message_count"`
	Filters      map[string]interface{} `json:"filters,omitempty"`
}

// UnsubscribeResult confirms an unsubscribe, which succeeds whether or not
// a matching subscription existed.
type UnsubscribeResult struct {
	Channel      string `json:"channel"`
	AgentID      string `json:"agent_id"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// AckResult reports the outcome of an acknowledgement attempt. Reason is
// set only when Acknowledged is false.
type AckResult struct {
	MessageID    string `json:"message_id"`
	AgentID      string `json:"agent_id"`
	Acknowledged bool   `json:"acknowledged"`
	Reason       string `json:"reason,omitempty"`
}

// ChannelInfo describes one active channel. A channel is active while it
// holds undelivered messages or has at least one subscriber. CreatedAt is
// the earliest live subscription's creation time, or the listing time for
// channels that only hold messages.
type ChannelInfo struct {
	Name            string    `json:"name"`
	Subscribers     []string  `json:"subscribers"`
	SubscriberCount int       `json:"subscriber_count"`
	MessageCount    int       `json:"message_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// MetricsSnapshot is a point-in-time view of broker performance. Average
// latency is computed over a rolling window of recent publishes, while the
// peak is a high-water mark for the broker's lifetime.
type MetricsSnapshot struct {
	MessagesSent      int64     `json:"messages_sent"`
	MessagesDelivered int64     `json:"messages_delivered"`
	MessagesFailed    int64     `json:"messages_failed"`
	TotalLatencyMS    float64   `json:"total_latency_ms"`
	AvgLatencyMS      float64   `json:"avg_latency_ms"`
	PeakLatencyMS     float64   `json:"peak_latency_ms"`
	ChannelsCount     int       `json:"channels_count"`
	SubscribersCount  int       `json:"subscribers_count"`
	PendingMessages   int       `json:"pending_messages"`
	TotalChannels     int       `json:"total_channels"`
	Timestamp         time.Time `json:"timestamp"`
}
