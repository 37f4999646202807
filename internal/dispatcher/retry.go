package dispatcher

import (
	"context"
	"time"

	"gatekeeper/internal/dispatcher/models"
)

func (d *Dispatcher) pump(ctx context.Context) error {
	ticker := time.NewTicker(d.pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.PumpOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.ErrorContext(ctx, "retry pump failed", "error", err)
			}
		}
	}
}

// PumpOnce redelivers every parked event that is due. An entry that succeeds
// releases the next entry of the same item, which is attempted in the same
// pass. It returns the number of attempts made.
func (d *Dispatcher) PumpOnce(ctx context.Context) (int, error) {
	d.mu.Lock()
	subs := append([]*subscription(nil), d.subs...)
	d.mu.Unlock()

	attempts := 0
	for _, sub := range subs {
		for {
			heads, err := d.retries.DueHeads(ctx, sub.group, d.clock().UTC(), d.pumpBatch)
			if err != nil {
				return attempts, err
			}
			if len(heads) == 0 {
				break
			}
			for _, entry := range heads {
				if err := d.retry(ctx, sub, entry); err != nil {
					return attempts, err
				}
				attempts++
			}
		}
		if n, err := d.retries.Count(ctx, sub.group); err == nil {
			d.metrics.SetRetryQueueLength(sub.group, n)
		}
	}
	return attempts, nil
}

func (d *Dispatcher) retry(ctx context.Context, sub *subscription, entry *models.RetryEntry) error {
	e := entry.Event
	if !sub.targeted(e) {
		seen, err := d.ledger.Seen(ctx, sub.group, e.ID)
		if err != nil {
			return err
		}
		if seen {
			d.metrics.IncrementDuplicate(sub.group)
			return d.retries.Remove(ctx, sub.group, e.ID)
		}
	}

	herr := d.attempt(ctx, sub, e)
	if herr == nil {
		if err := d.retries.Remove(ctx, sub.group, e.ID); err != nil {
			return err
		}
		d.delivered(ctx, sub, e)
		d.logger.InfoContext(ctx, "parked event delivered",
			"group", sub.group,
			"event_id", e.ID.String(),
			"attempt", entry.Attempts+1,
		)
		return nil
	}

	now := d.clock().UTC()
	entry.RecordFailure(now, herr)
	if delay, ok := models.RetryDelay(entry.Attempts); ok {
		entry.NextRetryAt = now.Add(delay)
		d.logger.WarnContext(ctx, "retry failed",
			"group", sub.group,
			"event_id", e.ID.String(),
			"attempt", entry.Attempts,
			"next_retry_at", entry.NextRetryAt,
			"error", herr,
		)
		return d.retries.Update(ctx, entry)
	}

	dl := models.NewDeadLetter(entry, now)
	if err := d.dead.Add(ctx, dl); err != nil {
		return err
	}
	if err := d.retries.Remove(ctx, sub.group, e.ID); err != nil {
		return err
	}
	d.metrics.IncrementDeadLettered(sub.group)
	d.logger.ErrorContext(ctx, "event dead-lettered",
		"group", sub.group,
		"event_id", e.ID.String(),
		"event_type", e.Type.String(),
		"approval_id", e.ApprovalItemID.String(),
		"dead_letter_id", dl.ID.String(),
		"attempts", dl.Attempts,
		"error", dl.LastError,
	)
	return nil
}
