package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type outboxRecordJSON struct {
	OutboxID       uuid.UUID       `json:"outbox_id"`
	EventType      string          `json:"event_type"`
	PartitionKey   string          `json:"partition_key"`
	Payload        []byte          `json:"payload"`
	RetryCount     int             `json:"retry_count"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PublishedAt    *time.Time      `json:"published_at,omitempty"`
	LastErrorAt    *time.Time      `json:"last_error_at,omitempty"`
	ClaimToken     *string         `json:"claim_token,omitempty"`
	ClaimUntil     *time.Time      `json:"claim_until,omitempty"`
	DeadLetteredAt *time.Time      `json:"dead_lettered_at,omitempty"`
}

func encodeOutboxRecord(rec ports.OutboxRecord) ([]byte, error) {
	return json.Marshal(outboxRecordJSON(rec))
}

func decodeOutboxRecord(raw []byte) (ports.OutboxRecord, error) {
	var rec outboxRecordJSON
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ports.OutboxRecord{}, fmt.Errorf("decode outbox record: %w", err)
	}
	return ports.OutboxRecord(rec), nil
}

// OutboxRepository drains the redis outbox. Pending ids sit on a list in
// commit order; each claim or mark is an optimistic update of one record key.
type OutboxRepository struct {
	client *redis.Client
	keys   keyspace
	nowFn  func() time.Time
}

func NewOutboxRepository(client *redis.Client, keyPrefix string) *OutboxRepository {
	return &OutboxRepository{
		client: client,
		keys:   newKeyspace(keyPrefix),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}

	// Scan a little past limit so records claimed by other workers do not
	// starve this batch.
	ids, err := r.client.LRange(ctx, r.keys.outboxQueue(), 0, int64(limit*2-1)).Result()
	if err != nil {
		return nil, err
	}
	now := r.nowFn()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		rec, ok, err := r.claim(ctx, id, claimToken, claimUntil, now)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *OutboxRepository) claim(ctx context.Context, id, claimToken string, claimUntil, now time.Time) (ports.OutboxRecord, bool, error) {
	key := r.keys.outboxRecord(id)
	var claimed ports.OutboxRecord
	ok := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodeOutboxRecord(raw)
		if err != nil {
			return err
		}
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			return nil
		}
		if rec.ClaimUntil != nil && !rec.ClaimUntil.Before(now) {
			return nil
		}
		token, until := claimToken, claimUntil
		rec.ClaimToken = &token
		rec.ClaimUntil = &until
		updated, err := encodeOutboxRecord(rec)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		}); err != nil {
			return err
		}
		claimed, ok = rec, true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ports.OutboxRecord{}, false, nil
	}
	return claimed, ok, err
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.mark(ctx, outboxID, claimToken, func(rec *ports.OutboxRecord) bool {
		rec.PublishedAt = &at
		return true
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.mark(ctx, outboxID, claimToken, func(rec *ports.OutboxRecord) bool {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
		return false
	})
}

func (r *OutboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.mark(ctx, outboxID, claimToken, func(rec *ports.OutboxRecord) bool {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
		rec.DeadLetteredAt = &at
		return true
	})
}

// mark applies fn to a record held under claimToken and releases the claim.
// A record whose claim moved to another token is left alone. When fn reports
// the record settled, its id leaves the pending queue in the same EXEC.
func (r *OutboxRepository) mark(ctx context.Context, outboxID uuid.UUID, claimToken string, fn func(rec *ports.OutboxRecord) bool) error {
	id := outboxID.String()
	key := r.keys.outboxRecord(id)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodeOutboxRecord(raw)
		if err != nil {
			return err
		}
		if rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
			return nil
		}
		settled := fn(&rec)
		rec.ClaimToken = nil
		rec.ClaimUntil = nil
		updated, err := encodeOutboxRecord(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if settled {
				pipe.LRem(ctx, r.keys.outboxQueue(), 1, id)
			}
			return nil
		})
		return err
	}, key)
}

// Pending returns every outbox record still referenced by the pending queue.
func (r *OutboxRepository) Pending(ctx context.Context) ([]ports.OutboxRecord, error) {
	ids, err := r.client.LRange(ctx, r.keys.outboxQueue(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ports.OutboxRecord, 0, len(ids))
	for _, id := range ids {
		raw, err := r.client.Get(ctx, r.keys.outboxRecord(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := decodeOutboxRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
