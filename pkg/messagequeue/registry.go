package messagequeue

import (
	"time"

	"github.com/illmade-knight/go-agentmq/pkg/types"
)

// subscriptionRegistry indexes subscriptions by channel and by agent so
// that channel fan-out and agent polling are each a direct lookup. The two
// indexes must stay in step, so every mutation goes through subscribe or
// unsubscribe. It is not safe for concurrent use; the broker serializes
// access under its own lock.
type subscriptionRegistry struct {
	byChannel map[string][]types.Subscription
	byAgent   map[string]map[string]struct{}
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		byChannel: make(map[string][]types.Subscription),
		byAgent:   make(map[string]map[string]struct{}),
	}
}

// subscribe registers the subscription unless the agent already holds one
// for the channel. It reports whether a new subscription was created; a
// repeat subscribe keeps the existing entry, including its filters.
func (r *subscriptionRegistry) subscribe(sub types.Subscription) bool {
	for _, existing := range r.byChannel[sub.Channel] {
		if existing.AgentID == sub.AgentID {
			return false
		}
	}
	r.byChannel[sub.Channel] = append(r.byChannel[sub.Channel], sub)

	channels, ok := r.byAgent[sub.AgentID]
	if !ok {
		channels = make(map[string]struct{})
		r.byAgent[sub.AgentID] = channels
	}
	channels[sub.Channel] = struct{}{}
	return true
}

// unsubscribe removes the agent's subscription to the channel, if any.
// Channels and agents with no remaining subscriptions are forgotten.
func (r *subscriptionRegistry) unsubscribe(channel, agentID string) {
	subs := r.byChannel[channel]
	for i, sub := range subs {
		if sub.AgentID == agentID {
			r.byChannel[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.byChannel[channel]) == 0 {
		delete(r.byChannel, channel)
	}

	if channels, ok := r.byAgent[agentID]; ok {
		delete(channels, channel)
		if len(channels) == 0 {
			delete(r.byAgent, agentID)
		}
	}
}

// channelsFor returns the channels the agent is subscribed to, in no
// particular order.
func (r *subscriptionRegistry) channelsFor(agentID string) []string {
	channels := make([]string, 0, len(r.byAgent[agentID]))
	for channel := range r.byAgent[agentID] {
		channels = append(channels, channel)
	}
	return channels
}

// isSubscribed reports whether the agent holds a subscription to the
// channel.
func (r *subscriptionRegistry) isSubscribed(channel, agentID string) bool {
	_, ok := r.byAgent[agentID][channel]
	return ok
}

// subscribers returns the IDs of agents subscribed to the channel, oldest
// subscription first.
func (r *subscriptionRegistry) subscribers(channel string) []string {
	subs := r.byChannel[channel]
	agents := make([]string, 0, len(subs))
	for _, sub := range subs {
		agents = append(agents, sub.AgentID)
	}
	return agents
}

func (r *subscriptionRegistry) channelNames() []string {
	names := make([]string, 0, len(r.byChannel))
	for name := range r.byChannel {
		names = append(names, name)
	}
	return names
}

// subscriptionCount returns the number of live (agent, channel) pairs.
func (r *subscriptionRegistry) subscriptionCount() int {
	total := 0
	for _, subs := range r.byChannel {
		total += len(subs)
	}
	return total
}

// earliestCreatedAt returns the creation time of the channel's oldest live
// subscription.
func (r *subscriptionRegistry) earliestCreatedAt(channel string) (time.Time, bool) {
	subs := r.byChannel[channel]
	if len(subs) == 0 {
		return time.Time{}, false
	}
	earliest := subs[0].CreatedAt
	for _, sub := range subs[1:] {
		if sub.CreatedAt.Before(earliest) {
			earliest = sub.CreatedAt
		}
	}
	return earliest, true
}
