package memory

import (
	"context"
	"slices"
	"time"

	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
)

// update runs fn on a copy of the committed state and publishes the copy.
func (s *Store) update(ctx context.Context, fn func(*state) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.sem }()

	next := s.snapshot().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	return nil
}

// LockBatch leases pending events, and in-progress events whose lease ran
// out, to relayID in id order.
func (s *Store) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var events []outbox.Event
	err := s.update(ctx, func(st *state) error {
		now := s.now()
		for i := range st.outbox {
			if len(events) == batchSize {
				break
			}
			row := &st.outbox[i]
			expired := row.event.Status == outbox.StatusInProgress && now.After(row.leaseUntil)
			if row.event.Status != outbox.StatusPending && !expired {
				continue
			}
			row.event.Status = outbox.StatusInProgress
			row.event.RelayID = relayID
			row.leaseUntil = now.Add(lease)
			events = append(events, row.event)
		}
		return nil
	})
	return events, err
}

func (s *Store) MarkSent(ctx context.Context, ids []int64) error {
	return s.update(ctx, func(st *state) error {
		for i := range st.outbox {
			if slices.Contains(ids, st.outbox[i].event.ID) {
				st.outbox[i].event.Status = outbox.StatusSent
			}
		}
		return nil
	})
}

// MarkFailed returns the event to pending until it has failed
// maxOutboxRetries times.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.update(ctx, func(st *state) error {
		for i := range st.outbox {
			e := &st.outbox[i].event
			if e.ID != id {
				continue
			}
			e.RetryCount++
			msg := errMsg
			e.LastError = &msg
			e.Status = outbox.StatusPending
			if e.RetryCount >= maxOutboxRetries {
				e.Status = outbox.StatusFailed
			}
		}
		return nil
	})
}
