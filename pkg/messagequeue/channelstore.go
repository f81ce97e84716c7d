package messagequeue

import (
	"sort"
	"time"

	"github.com/illmade-knight/go-agentmq/pkg/types"
)

// channelStore is the broker's message bookkeeping. Every queued message is
// held twice: in its channel's ordered backlog and in a flat pending index
// keyed by message ID. The two structures must stay in step, so every
// mutation goes through add or remove. It is not safe for concurrent use;
// the broker serializes access under its own lock.
type channelStore struct {
	channels map[string][]*types.Message
	pending  map[string]*types.Message
}

func newChannelStore() *channelStore {
	return &channelStore{
		channels: make(map[string][]*types.Message),
		pending:  make(map[string]*types.Message),
	}
}

// deliveryOrder sorts messages by priority, highest first, then publish
// time, oldest first. Used with a stable sort it preserves insertion order
// for messages that tie on both keys.
func deliveryOrder(msgs []*types.Message) func(i, j int) bool {
	return func(i, j int) bool {
		if msgs[i].Priority != msgs[j].Priority {
			return msgs[i].Priority > msgs[j].Priority
		}
		return msgs[i].PublishedAt.Before(msgs[j].PublishedAt)
	}
}

// add queues a message on its channel. The backlog is kept in delivery
// order so reads can take messages from the front.
func (s *channelStore) add(msg *types.Message) {
	backlog := append(s.channels[msg.Channel], msg)
	sort.SliceStable(backlog, deliveryOrder(backlog))
	s.channels[msg.Channel] = backlog
	s.pending[msg.ID] = msg
}

// remove deletes a message from both the backlog and the pending index and
// reports whether it was present. The channel's map entry survives even
// when its backlog drains; forgetting idle channels is the sweeper's job.
func (s *channelStore) remove(id string) (*types.Message, bool) {
	msg, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	delete(s.pending, id)

	backlog := s.channels[msg.Channel]
	for i, queued := range backlog {
		if queued.ID == id {
			s.channels[msg.Channel] = append(backlog[:i], backlog[i+1:]...)
			break
		}
	}
	return msg, true
}

// head returns up to limit messages from the front of the channel's
// backlog without removing them. The returned slice aliases the backlog
// and must not be mutated.
func (s *channelStore) head(channel string, limit int) []*types.Message {
	backlog := s.channels[channel]
	if limit < len(backlog) {
		backlog = backlog[:limit]
	}
	return backlog
}

func (s *channelStore) count(channel string) int {
	return len(s.channels[channel])
}

// channelNames returns the names of channels the store is tracking,
// including ones whose backlog drained but has not yet been swept.
func (s *channelStore) channelNames() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

func (s *channelStore) channelCount() int {
	return len(s.channels)
}

func (s *channelStore) pendingCount() int {
	return len(s.pending)
}

// expiredIDs returns the IDs of every queued message whose expiry has
// passed at now.
func (s *channelStore) expiredIDs(now time.Time) []string {
	var ids []string
	for id, msg := range s.pending {
		if msg.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// dropEmptyChannels forgets channels whose backlog has fully drained.
func (s *channelStore) dropEmptyChannels() {
	for name, backlog := range s.channels {
		if len(backlog) == 0 {
			delete(s.channels, name)
		}
	}
}
