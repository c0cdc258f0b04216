package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const defaultMaxAttempts = 16

// Ledger keeps guards and licenses in redis using the binary record codec.
// Every key a transaction reads is WATCHed on the transaction's connection
// before the read, and staged writes go out in a single MULTI/EXEC. EXEC
// aborts if any watched key changed, and the whole transaction is rerun.
type Ledger struct {
	client      *redis.Client
	keys        keyspace
	maxAttempts int
}

type LedgerConfig struct {
	KeyPrefix   string
	MaxAttempts int
}

func NewLedger(client *redis.Client, cfg LedgerConfig) *Ledger {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Ledger{client: client, keys: newKeyspace(cfg.KeyPrefix), maxAttempts: cfg.MaxAttempts}
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err := l.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &ledgerTx{
				ledgerReader: ledgerReader{
					cmd:    rtx,
					keys:   l.keys,
					watch:  rtx.Watch,
					staged: map[string][]byte{},
				},
				rtx: rtx,
			}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return tx.commit(ctx)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		slog.Default().DebugContext(ctx, "ledger commit lost a race; retrying",
			"module", "cache",
			"layer", "adapter",
			"operation", "ledger_update",
			"outcome", "retry",
			"attempt", attempt,
		)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: ledger commit retries exhausted after %d attempts", domain.ErrConflict, l.maxAttempts)
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerReader) error) error {
	return fn(ctx, &ledgerReader{cmd: l.client, keys: l.keys})
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type ledgerReader struct {
	cmd    getter
	keys   keyspace
	watch  func(ctx context.Context, keys ...string) *redis.StatusCmd
	staged map[string][]byte
}

// load returns the staged value for key if there is one, otherwise the stored
// value. Inside a transaction the key is watched before it is read.
func (r *ledgerReader) load(ctx context.Context, key string) ([]byte, error) {
	if raw, ok := r.staged[key]; ok {
		return raw, nil
	}
	if r.watch != nil {
		if err := r.watch(ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("watch %s: %w", key, err)
		}
	}
	raw, err := r.cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (r *ledgerReader) GetGuard(ctx context.Context, key domain.RecordID) (domain.ExclusivityGuard, error) {
	raw, err := r.load(ctx, r.keys.guard(key.String()))
	if err != nil {
		return domain.ExclusivityGuard{}, err
	}
	return domain.DecodeGuard(raw)
}

func (r *ledgerReader) GetLicense(ctx context.Context, key domain.RecordID) (domain.License, error) {
	raw, err := r.load(ctx, r.keys.license(key.String()))
	if err != nil {
		return domain.License{}, err
	}
	return domain.DecodeLicense(raw)
}

type stagedEvent struct {
	id      string
	payload []byte
}

type ledgerTx struct {
	ledgerReader
	rtx    *redis.Tx
	order  []string
	events []stagedEvent
}

func (t *ledgerTx) stage(key string, raw []byte) {
	if _, ok := t.staged[key]; !ok {
		t.order = append(t.order, key)
	}
	t.staged[key] = raw
}

func (t *ledgerTx) InsertGuardIfAbsent(ctx context.Context, g domain.ExclusivityGuard) (domain.ExclusivityGuard, error) {
	existing, err := t.GetGuard(ctx, g.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ExclusivityGuard{}, err
	}
	t.stage(t.keys.guard(g.ID.String()), domain.EncodeGuard(g))
	return g, nil
}

func (t *ledgerTx) SaveGuard(ctx context.Context, g domain.ExclusivityGuard) error {
	key := t.keys.guard(g.ID.String())
	if _, err := t.load(ctx, key); err != nil {
		return err
	}
	t.stage(key, domain.EncodeGuard(g))
	return nil
}

func (t *ledgerTx) InsertLicense(ctx context.Context, l domain.License) error {
	key := t.keys.license(l.ID.String())
	_, err := t.load(ctx, key)
	if err == nil {
		return domain.ErrLicenseExists
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	raw, err := domain.EncodeLicense(l)
	if err != nil {
		return err
	}
	t.stage(key, raw)
	return nil
}

func (t *ledgerTx) SaveLicense(ctx context.Context, l domain.License) error {
	key := t.keys.license(l.ID.String())
	if _, err := t.load(ctx, key); err != nil {
		return err
	}
	raw, err := domain.EncodeLicense(l)
	if err != nil {
		return err
	}
	t.stage(key, raw)
	return nil
}

func (t *ledgerTx) AppendEvent(_ context.Context, event ports.OutboxEvent) error {
	payload, err := encodeOutboxRecord(ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      event.Payload,
		CreatedAt:    event.OccurredAt,
	})
	if err != nil {
		return err
	}
	t.events = append(t.events, stagedEvent{id: event.EventID.String(), payload: payload})
	return nil
}

func (t *ledgerTx) commit(ctx context.Context) error {
	if len(t.order) == 0 && len(t.events) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range t.order {
			pipe.Set(ctx, key, t.staged[key], 0)
		}
		for _, ev := range t.events {
			pipe.Set(ctx, t.keys.outboxRecord(ev.id), ev.payload, 0)
			pipe.RPush(ctx, t.keys.outboxQueue(), ev.id)
		}
		return nil
	})
	return err
}
