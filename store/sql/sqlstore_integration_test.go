package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	githubapp "github.com/goliatone/go-github-app"
	"github.com/goliatone/go-github-app/core"
	"github.com/goliatone/go-github-app/ratelimit"
	sqlstore "github.com/goliatone/go-github-app/store/sql"
	"github.com/goliatone/go-github-app/webhooks"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-github-app-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:githubapp-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	migrations, err := githubapp.MigrationsFor("sqlite")
	if err != nil {
		_ = client.Close()
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	client.RegisterSQLMigrations(migrations)
	if err := client.Migrate(context.Background()); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"webhook_deliveries",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "webhook_deliveries" {
		t.Fatalf("expected webhook_deliveries table, got %q", tableName)
	}
}

func TestDeliveryLedgerStore_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	ledger := factory.DeliveryLedger()
	if ledger == nil {
		t.Fatalf("expected delivery ledger from factory")
	}
	now := time.Unix(1_700_000_000, 0).UTC()
	ledger.Now = func() time.Time { return now }

	claimID, accepted, err := ledger.Claim(ctx, "delivery-1", 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !accepted {
		t.Fatalf("expected first claim to be accepted")
	}

	if _, accepted, _ := ledger.Claim(ctx, "delivery-1", 30*time.Second); accepted {
		t.Fatalf("expected claim during active lease to be declined")
	}

	if err := ledger.MarkProcessed(ctx, claimID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	status, found, err := ledger.StatusOf(ctx, "delivery-1")
	if err != nil {
		t.Fatalf("status of: %v", err)
	}
	if !found || status != webhooks.DeliveryStatusProcessed {
		t.Fatalf("expected processed status, got %q", status)
	}

	if _, accepted, _ := ledger.Claim(ctx, "delivery-1", 30*time.Second); accepted {
		t.Fatalf("expected redelivery of a processed delivery to be declined")
	}
}

func TestDeliveryLedgerStore_RetryReadyReclaim(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	ledger := factory.DeliveryLedger()
	now := time.Unix(1_700_000_000, 0).UTC()
	ledger.Now = func() time.Time { return now }

	claimID, _, err := ledger.Claim(ctx, "delivery-2", 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ledger.MarkRetryReady(ctx, claimID, now.Add(time.Minute)); err != nil {
		t.Fatalf("mark retry ready: %v", err)
	}

	if _, accepted, _ := ledger.Claim(ctx, "delivery-2", 30*time.Second); accepted {
		t.Fatalf("expected claim before retry_at to be declined")
	}

	ledger.Now = func() time.Time { return now.Add(2 * time.Minute) }
	_, accepted, err := ledger.Claim(ctx, "delivery-2", 30*time.Second)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !accepted {
		t.Fatalf("expected claim after retry_at to be accepted")
	}
}

func TestDeliveryLedgerStore_ListRetryReadyReturnsDueDeliveries(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	ledger := factory.DeliveryLedger()
	now := time.Unix(1_700_000_000, 0).UTC()
	ledger.Now = func() time.Time { return now }

	claimID, _, err := ledger.Claim(ctx, "delivery-due-late", 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ledger.MarkRetryReady(ctx, claimID, now.Add(-time.Minute)); err != nil {
		t.Fatalf("mark retry ready: %v", err)
	}
	claimID, _, _ = ledger.Claim(ctx, "delivery-due-early", 30*time.Second)
	if err := ledger.MarkRetryReady(ctx, claimID, now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("mark retry ready: %v", err)
	}
	claimID, _, _ = ledger.Claim(ctx, "delivery-future", 30*time.Second)
	if err := ledger.MarkRetryReady(ctx, claimID, now.Add(time.Hour)); err != nil {
		t.Fatalf("mark retry ready: %v", err)
	}
	claimID, _, _ = ledger.Claim(ctx, "delivery-done", 30*time.Second)
	if err := ledger.MarkProcessed(ctx, claimID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	due, err := ledger.ListRetryReady(ctx, 0)
	if err != nil {
		t.Fatalf("list retry ready: %v", err)
	}
	if len(due) != 2 || due[0] != "delivery-due-early" || due[1] != "delivery-due-late" {
		t.Fatalf("expected due deliveries earliest first, got %v", due)
	}

	due, err = ledger.ListRetryReady(ctx, 1)
	if err != nil {
		t.Fatalf("list retry ready with limit: %v", err)
	}
	if len(due) != 1 || due[0] != "delivery-due-early" {
		t.Fatalf("expected limit to keep the earliest delivery, got %v", due)
	}
}

func TestRateLimitStateStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.RateLimitStateStore()
	if store == nil {
		t.Fatalf("expected rate-limit state store from factory")
	}

	key := core.RateLimitKey{InstallationID: 42, Bucket: "Token_Exchange"}
	resetAt := time.Unix(1_700_000_300, 0).UTC()
	if err := store.Upsert(ctx, ratelimit.State{
		Key:        key,
		Limit:      5000,
		Remaining:  0,
		LastStatus: 403,
		ResetAt:    &resetAt,
		UpdatedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	state, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Key.Bucket != "token_exchange" {
		t.Fatalf("expected normalized bucket, got %q", state.Key.Bucket)
	}
	if state.Limit != 5000 || state.Remaining != 0 || state.LastStatus != 403 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(resetAt) {
		t.Fatalf("expected reset at %s, got %+v", resetAt, state.ResetAt)
	}

	// Second upsert must update in place, not create a second row.
	if err := store.Upsert(ctx, ratelimit.State{Key: key, Limit: 5000, Remaining: 4999}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	state, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if state.Remaining != 4999 {
		t.Fatalf("expected remaining 4999, got %d", state.Remaining)
	}
}

func TestRateLimitStateStore_MissingStateReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	_, err = factory.RateLimitStateStore().Get(ctx, core.RateLimitKey{InstallationID: 7, Bucket: "core"})
	if err != ratelimit.ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}
