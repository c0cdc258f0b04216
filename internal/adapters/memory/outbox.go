package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// Outbox keeps committed events in commit order and implements the
// claim-token protocol of ports.OutboxRepository.
type Outbox struct {
	mu      sync.Mutex
	records []*ports.OutboxRecord
}

func NewOutbox() *Outbox {
	return &Outbox{records: make([]*ports.OutboxRecord, 0, 128)}
}

func (o *Outbox) append(events ...ports.OutboxEvent) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, event := range events {
		o.records = append(o.records, &ports.OutboxRecord{
			OutboxID:     event.EventID,
			EventType:    event.EventType,
			PartitionKey: event.PartitionKey,
			Payload:      append([]byte(nil), event.Payload...),
			CreatedAt:    event.OccurredAt,
		})
	}
}

// Records returns a copy of every record, published or not.
func (o *Outbox) Records() []ports.OutboxRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(o.records))
	for _, rec := range o.records {
		out = append(out, *rec)
	}
	return out
}

func (o *Outbox) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}
	now := time.Now().UTC()

	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, rec := range o.records {
		if len(out) == limit {
			break
		}
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && !rec.ClaimUntil.Before(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		rec.ClaimToken = &token
		rec.ClaimUntil = &until
		out = append(out, *rec)
	}
	return out, nil
}

func (o *Outbox) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return o.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.PublishedAt = &at
	})
}

func (o *Outbox) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return o.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
	})
}

func (o *Outbox) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return o.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
		rec.DeadLetteredAt = &at
	})
}

func (o *Outbox) update(outboxID uuid.UUID, claimToken string, apply func(*ports.OutboxRecord)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range o.records {
		if rec.OutboxID != outboxID {
			continue
		}
		if rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
			return nil
		}
		apply(rec)
		rec.ClaimToken = nil
		rec.ClaimUntil = nil
		return nil
	}
	return nil
}
