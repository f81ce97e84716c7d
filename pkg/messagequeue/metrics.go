package messagequeue

import (
	"time"

	"github.com/illmade-knight/go-agentmq/pkg/types"
)

// metricsRecorder accumulates the broker's performance counters. It keeps a
// bounded window of recent publish latencies for the rolling average and a
// lifetime high-water mark for the peak. It is not safe for concurrent use;
// the broker serializes access under its own lock.
type metricsRecorder struct {
	sent      int64
	delivered int64
	failed    int64

	window    []float64
	next      int
	windowSum float64
	totalMS   float64
	peakMS    float64
}

func newMetricsRecorder(windowSize int) *metricsRecorder {
	if windowSize <= 0 {
		windowSize = defaultLatencyWindowSize
	}
	return &metricsRecorder{window: make([]float64, 0, windowSize)}
}

// recordPublish counts a sent message and folds its latency into the
// rolling window, evicting the oldest sample once the window is full.
func (m *metricsRecorder) recordPublish(latencyMS float64) {
	m.sent++
	m.totalMS += latencyMS
	if latencyMS > m.peakMS {
		m.peakMS = latencyMS
	}

	if len(m.window) < cap(m.window) {
		m.window = append(m.window, latencyMS)
	} else {
		m.windowSum -= m.window[m.next]
		m.window[m.next] = latencyMS
	}
	m.windowSum += latencyMS
	m.next = (m.next + 1) % cap(m.window)
}

// recordDelivery counts one successful acknowledgement.
func (m *metricsRecorder) recordDelivery() {
	m.delivered++
}

// recordFailures counts messages dropped without delivery, such as expired
// ones evicted by the sweeper.
func (m *metricsRecorder) recordFailures(n int) {
	m.failed += int64(n)
}

// snapshot materializes the counters together with the queue occupancy
// figures supplied by the caller.
func (m *metricsRecorder) snapshot(pending, channels, subscribers int) types.MetricsSnapshot {
	snap := types.MetricsSnapshot{
		MessagesSent:      m.sent,
		MessagesDelivered: m.delivered,
		MessagesFailed:    m.failed,
		TotalLatencyMS:    m.totalMS,
		PeakLatencyMS:     m.peakMS,
		ChannelsCount:     channels,
		SubscribersCount:  subscribers,
		PendingMessages:   pending,
		TotalChannels:     channels,
		Timestamp:         time.Now().UTC(),
	}
	if len(m.window) > 0 {
		snap.AvgLatencyMS = m.windowSum / float64(len(m.window))
	}
	return snap
}
