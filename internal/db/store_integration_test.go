//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/MacJediWizard/seatkeeper/internal/trial"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("seatkeeper_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 20
	cfg.MinConns = 1

	testDB, err = New(ctx, cfg, zerolog.New(zerolog.NewConsoleWriter()))
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	pgContainer.Terminate(ctx)

	os.Exit(code)
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB returns the shared test database after cleaning all tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(),
		`TRUNCATE seat_allocations, license_entitlements, devices, audit_log CASCADE`)
	require.NoError(t, err)
	return testDB
}

func createTestEntitlement(t *testing.T, db *DB, key string, maxSeats int) *models.Entitlement {
	t.Helper()
	e := models.NewEntitlement("org-1", key, maxSeats)
	e.ValidFrom = time.Now().Add(-time.Hour).Truncate(time.Microsecond)
	require.NoError(t, db.CreateEntitlement(context.Background(), e))
	return e
}

func newTestEngine(t *testing.T, db *DB) *seat.Engine {
	t.Helper()
	return seat.NewEngine(db, db.SeatLedger(), quartz.NewReal(), seat.DefaultConfig(), zerolog.Nop())
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	version, err := db.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	statuses, err := db.MigrationStatuses(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.NotNil(t, statuses[0].AppliedAt)
}

func TestEntitlements(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	e := createTestEntitlement(t, db, "KEY-1", 3)

	got, err := db.GetEntitlementByKey(ctx, "KEY-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, 3, got.MaxSeats)
	assert.Nil(t, got.ValidUntil)

	missing, err := db.GetEntitlementByKey(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = db.CreateEntitlement(ctx, models.NewEntitlement("org-2", "KEY-1", 1))
	assert.ErrorIs(t, err, ErrDuplicateLicenseKey)

	bad := models.NewEntitlement("org-1", "KEY-ZERO", 0)
	assert.Error(t, db.CreateEntitlement(ctx, bad), "max_seats must be at least 1")

	require.NoError(t, db.SetEntitlementStatus(ctx, "KEY-1", models.EntitlementStatusSuspended))
	got, _ = db.GetEntitlementByKey(ctx, "KEY-1")
	assert.Equal(t, models.EntitlementStatusSuspended, got.Status)
	assert.ErrorIs(t, db.SetEntitlementStatus(ctx, "NOPE", models.EntitlementStatusActive), ErrEntitlementNotFound)

	upd := models.NewEntitlement("org-1", "KEY-1", 7)
	created, err := db.UpsertEntitlement(ctx, upd)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, e.ID, upd.ID)

	list, err := db.ListEntitlements(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].MaxSeats)
}

func TestSeatLedger_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	createTestEntitlement(t, db, "KEY-1", 1)
	engine := newTestEngine(t, db)

	req := seat.ValidateRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "A",
		Metadata: models.ClientMetadata{Hostname: "host-a", OS: "linux"}}

	first, err := engine.Validate(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Reattach)

	again, err := engine.Validate(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Reattach)
	assert.Equal(t, first.SeatID, again.SeatID)

	_, err = engine.Validate(ctx, seat.ValidateRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "B"})
	assert.ErrorIs(t, err, seat.ErrSeatLimitExceeded)

	_, err = engine.Heartbeat(ctx, seat.HeartbeatRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "A"})
	require.NoError(t, err)
	_, err = engine.Heartbeat(ctx, seat.HeartbeatRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "B"})
	assert.ErrorIs(t, err, seat.ErrNoAllocation)

	_, err = engine.Release(ctx, seat.ReleaseRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "A"})
	require.NoError(t, err)
	_, err = engine.Release(ctx, seat.ReleaseRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "A"})
	assert.ErrorIs(t, err, seat.ErrAllocationNotFound)

	b, err := engine.Validate(ctx, seat.ValidateRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "B"})
	require.NoError(t, err)
	assert.False(t, b.Reattach)
}

func TestSeatLedger_StaleRowsAndCompaction(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ent := createTestEntitlement(t, db, "KEY-1", 1)
	ledger := db.SeatLedger()

	old := time.Now().Add(-48 * time.Hour).Truncate(time.Microsecond)
	err := ledger.InEntitlementTx(ctx, ent.ID, func(tx seat.LedgerTx) error {
		_, created, err := tx.UpsertAllocation(ctx, models.NewSeatAllocation(ent, "A", models.ClientMetadata{}, old))
		assert.True(t, created)
		return err
	})
	require.NoError(t, err)

	engine := newTestEngine(t, db)
	b, err := engine.Validate(ctx, seat.ValidateRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "B"})
	require.NoError(t, err, "stale seat must not count")
	assert.Equal(t, 1, b.ActiveSeats)

	rows, err := ledger.ListAllocations(ctx, ent.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	removed, err := ledger.CompactAllocations(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rows, err = ledger.ListAllocations(ctx, ent.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "B", rows[0].DeviceID)
}

func TestSeatLedger_ConcurrentValidateNeverExceedsCap(t *testing.T) {
	db := setupTestDB(t)
	createTestEntitlement(t, db, "KEY-1", 1)
	engine := newTestEngine(t, db)

	var granted atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 40; i++ {
		device := fmt.Sprintf("dev-%02d", i)
		g.Go(func() error {
			_, err := engine.Validate(ctx, seat.ValidateRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: device})
			switch seat.CodeOf(err) {
			case "":
				granted.Add(1)
			case seat.CodeSeatLimitExceeded:
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), granted.Load())
}

func TestSeatLedger_ConcurrentSameDevice(t *testing.T) {
	db := setupTestDB(t)
	ent := createTestEntitlement(t, db, "KEY-1", 1)
	engine := newTestEngine(t, db)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := engine.Validate(ctx, seat.ValidateRequest{LicenseKey: "KEY-1", OrgID: "org-1", DeviceID: "same"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	rows, err := db.SeatLedger().ListAllocations(context.Background(), ent.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDevices(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	d, err := db.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, db.RecordDevice(ctx, trial.DeviceSighting{
		DeviceID: "dev-1", OrgID: "org-1", SeenAt: now, StartTrial: true,
		Metadata: models.ClientMetadata{OS: "windows"},
	}))
	require.NoError(t, db.RecordDevice(ctx, trial.DeviceSighting{
		DeviceID: "dev-1", OrgID: "org-2", SeenAt: now.Add(time.Minute), StartTrial: true,
	}))

	d, err = db.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "org-1", *d.OrgID)
	assert.True(t, now.Equal(*d.TrialUsedAt))
	assert.True(t, now.Add(time.Minute).Equal(d.LastSeenAt))
	assert.Equal(t, "windows", d.Metadata.OS)
}

func TestAuditLogs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry := models.NewAuditLog(models.AuditActionValidateFail, models.AuditEntityEntitlement, "KEY-1").
		WithPayload(map[string]any{"code": "SeatLimitExceeded"}).
		WithClientIP("192.0.2.1")
	require.NoError(t, db.CreateAuditLog(ctx, entry))
	require.NoError(t, db.CreateAuditLog(ctx, models.NewAuditLog(models.AuditActionRelease, "", "")))

	logs, err := db.ListAuditLogs(ctx, AuditLogFilter{Action: string(models.AuditActionValidateFail)})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "KEY-1", logs[0].EntityID)
	assert.Equal(t, "SeatLimitExceeded", logs[0].Payload["code"])
	assert.Equal(t, "192.0.2.1", logs[0].ClientIP)

	all, err := db.ListAuditLogs(ctx, AuditLogFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
