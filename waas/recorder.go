package waas

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Te-De-CX/Waas/waas/models"
)

var (
	// ErrDuplicateEvent means the same (transaction, status) pair was already
	// recorded. The processor redelivers callbacks, so callers treat it as done.
	ErrDuplicateEvent = errors.New("duplicate transaction event")
	ErrEventNotFound  = errors.New("transaction event not found")
)

// Recorder is the ledger collaborator. It is only ever called with events
// whose callback passed verification.
type Recorder interface {
	RecordTransactionEvent(ctx context.Context, ev models.TransactionEvent) error
	Ping(ctx context.Context) error
}

// MemoryRecorder keeps events in process memory, for tests and local runs.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []models.TransactionEvent
	seen   map[string]struct{}
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{seen: make(map[string]struct{})}
}

func (r *MemoryRecorder) RecordTransactionEvent(_ context.Context, ev models.TransactionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventKey(ev)
	if _, ok := r.seen[key]; ok {
		return ErrDuplicateEvent
	}
	r.seen[key] = struct{}{}
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRecorder) Events() []models.TransactionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.TransactionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRecorder) Ping(context.Context) error { return nil }

// PGRecorder appends events to waas.transaction_events.
type PGRecorder struct {
	db *sql.DB
}

func NewPGRecorder(db *sql.DB) *PGRecorder {
	return &PGRecorder{db: db}
}

const pgSchema = `
CREATE SCHEMA IF NOT EXISTS waas;
CREATE TABLE IF NOT EXISTS waas.transaction_events (
    transaction_id text NOT NULL,
    status         text NOT NULL,
    amount         numeric(20,2),
    currency       text NOT NULL DEFAULT '',
    deposit_code   text NOT NULL DEFAULT '',
    reference      text NOT NULL DEFAULT '',
    merchant_id    text NOT NULL,
    authenticated  boolean NOT NULL,
    received_at    timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (transaction_id, status)
);`

// EnsureSchema creates the events table when it does not exist yet.
func (r *PGRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("creating ledger schema: %w", err)
	}
	return nil
}

func (r *PGRecorder) RecordTransactionEvent(ctx context.Context, ev models.TransactionEvent) error {
	var amount sql.NullString
	if ev.Amount != "" {
		amount = sql.NullString{String: ev.Amount, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO waas.transaction_events(transaction_id, status, amount, currency, deposit_code, reference, merchant_id, authenticated)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, ev.TransactionID, strings.ToUpper(ev.Status), amount, strings.ToUpper(ev.Currency), ev.DepositCode, ev.Reference, ev.MerchantID, ev.Authenticated)
	if isUniqueViolation(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("inserting transaction event: %w", err)
	}
	return nil
}

func (r *PGRecorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}

const (
	redisEventPrefix = "waas:event:"
	redisEventIndex  = "waas:events"
)

// RedisRecorder stores each event once under waas:event:<tx>:<status> and
// indexes it in the waas:events set.
type RedisRecorder struct {
	client *redis.Client
}

func NewRedisRecorder(ctx context.Context, cfg LedgerConfig) (*RedisRecorder, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddr,
		Password:        cfg.RedisPassword,
		DB:              cfg.RedisDB,
		PoolSize:        20,
		MinIdleConns:    2,
		PoolTimeout:     2 * time.Second,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     1 * time.Second,
		WriteTimeout:    1 * time.Second,
		MaxRetries:      1,
		MaxRetryBackoff: 256 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisRecorder{client: rdb}, nil
}

func (r *RedisRecorder) RecordTransactionEvent(ctx context.Context, ev models.TransactionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling transaction event: %w", err)
	}
	key := redisEventPrefix + eventKey(ev)

	stored, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("storing transaction event: %w", err)
	}
	if !stored {
		return ErrDuplicateEvent
	}
	if err := r.client.SAdd(ctx, redisEventIndex, eventKey(ev)).Err(); err != nil {
		return fmt.Errorf("indexing transaction event: %w", err)
	}
	return nil
}

// Event loads a stored event back, mostly for inspection.
func (r *RedisRecorder) Event(ctx context.Context, transactionID, status string) (*models.TransactionEvent, error) {
	key := redisEventPrefix + transactionID + ":" + strings.ToUpper(status)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("event %s: %w", key, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction event: %w", err)
	}
	ev := &models.TransactionEvent{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decoding transaction event: %w", err)
	}
	return ev, nil
}

func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func eventKey(ev models.TransactionEvent) string {
	return ev.TransactionID + ":" + strings.ToUpper(ev.Status)
}
