package messagequeue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Start launches the background expiry sweeper. The sweeper wakes on every
// SweepInterval tick, evicts messages whose expiry has passed, and forgets
// channels whose backlog drained. It runs until Stop is called or ctx is
// cancelled. Starting an already started broker is an error.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("broker already started")
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	b.cancelSweep = cancel
	b.started = true
	b.mu.Unlock()

	b.sweepWg.Add(1)
	go func() {
		defer b.sweepWg.Done()
		defer close(b.doneChan)
		b.runSweeper(sweepCtx)
	}()

	b.logger.Info().Dur("sweep_interval", b.cfg.SweepInterval).Msg("Broker started.")
	return nil
}

// Stop halts the sweeper and waits for it to exit, or until ctx is done.
// Stopping a broker that was never started is a no-op.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return nil
	}

	var err error
	b.stopOnce.Do(func() {
		b.logger.Info().Msg("Stopping broker...")
		b.cancelSweep()

		select {
		case <-b.doneChan:
			b.logger.Info().Msg("Expiry sweeper confirmed stopped.")
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for expiry sweeper to stop: %w", ctx.Err())
		}
	})
	return err
}

// Done is closed once the sweeper goroutine has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.doneChan
}

// runSweeper drives periodic sweeps until its context is cancelled.
func (b *Broker) runSweeper(ctx context.Context) {
	b.logger.Debug().Msg("Expiry sweeper started.")
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Debug().Msg("Expiry sweeper stopped.")
			return
		case <-ticker.C:
			if expired := b.sweepExpired(time.Now().UTC()); expired > 0 {
				b.logger.Info().Int("expired", expired).Msg("Swept expired messages.")
			}
		}
	}
}

// sweepExpired evicts every message whose expiry has passed at now,
// counting each as a failed delivery, then forgets drained channels.
// Expired messages vanish without any notice to publishers or subscribers.
func (b *Broker) sweepExpired(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.store.expiredIDs(now)
	for _, id := range ids {
		if msg, ok := b.store.remove(id); ok {
			b.logger.Debug().Str("message_id", msg.ID).Str("channel", msg.Channel).Msg("Message expired.")
		}
	}
	b.metrics.recordFailures(len(ids))
	b.store.dropEmptyChannels()

	return len(ids)
}
