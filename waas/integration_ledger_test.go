package waas_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Te-De-CX/Waas/waas"
	"github.com/Te-De-CX/Waas/waas/models"
)

// TestPGRecorderDedup verifies that a redelivered callback does not create a
// second ledger row. Skips unless DB_DSN is provided.
func TestPGRecorderDedup(t *testing.T) {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set; skipping DB integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := waas.NewPGRecorder(db)
	if err := rec.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	ev := models.TransactionEvent{
		TransactionID: "it-" + uuid.NewString(),
		Status:        "success",
		Amount:        "100.00",
		Currency:      "ngn",
		DepositCode:   "D1",
		MerchantID:    "256620112345678",
		Authenticated: true,
	}
	if err := rec.RecordTransactionEvent(ctx, ev); err != nil {
		t.Fatalf("record event: %v", err)
	}
	if err := rec.RecordTransactionEvent(ctx, ev); !errors.Is(err, waas.ErrDuplicateEvent) {
		t.Fatalf("second record: got %v want ErrDuplicateEvent", err)
	}

	var status, currency, amount string
	row := db.QueryRowContext(ctx, `select status, currency, amount::text from waas.transaction_events where transaction_id=$1`, ev.TransactionID)
	if err := row.Scan(&status, &currency, &amount); err != nil {
		t.Fatalf("scan event: %v", err)
	}
	if status != "SUCCESS" || currency != "NGN" || amount != "100.00" {
		t.Fatalf("stored event = %s %s %s", status, currency, amount)
	}
}

// TestRedisRecorderDedup does the same against Redis. Skips unless
// REDIS_ADDR is provided.
func TestRedisRecorderDedup(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping redis integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := waas.NewRedisRecorder(ctx, waas.LedgerConfig{Backend: "redis", RedisAddr: addr})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer rec.Close()

	ev := models.TransactionEvent{
		TransactionID: "it-" + uuid.NewString(),
		Status:        "SUCCESS",
		Amount:        "100.00",
		Currency:      "NGN",
		MerchantID:    "256620112345678",
	}
	if err := rec.RecordTransactionEvent(ctx, ev); err != nil {
		t.Fatalf("record event: %v", err)
	}
	if err := rec.RecordTransactionEvent(ctx, ev); !errors.Is(err, waas.ErrDuplicateEvent) {
		t.Fatalf("second record: got %v want ErrDuplicateEvent", err)
	}

	got, err := rec.Event(ctx, ev.TransactionID, "success")
	if err != nil {
		t.Fatalf("load event: %v", err)
	}
	if *got != ev {
		t.Fatalf("loaded event = %+v want %+v", *got, ev)
	}

	if _, err := rec.Event(ctx, ev.TransactionID, "FAILED"); !errors.Is(err, waas.ErrEventNotFound) {
		t.Fatalf("missing event: got %v want ErrEventNotFound", err)
	}
}
