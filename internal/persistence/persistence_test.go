package persistence_test

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/testutil"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Test: row conversion
// ============================================================================

func TestNewEventRow(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:       12,
		IdempotencyKey: "abc",
		EventType:      event.EventTypeOpenPosition,
		Timestamp:      time.Unix(100, 0).UTC(),
		Payload:        []byte(`{"owner":"x"}`),
		StateHash:      [32]byte{1},
		PrevHash:       [32]byte{2},
	}

	row := persistence.NewEventRow(env)
	if row.Sequence != 12 || row.EventType != "OpenPosition" || row.IdempotencyKey != "abc" {
		t.Errorf("unexpected row: %+v", row)
	}
	if string(row.Events) != "[]" {
		t.Errorf("missing events should store as [], got %s", row.Events)
	}
	if len(row.StateHash) != 32 || row.StateHash[0] != 1 || row.PrevHash[0] != 2 {
		t.Error("hashes not copied")
	}

	env.StateHash[0] = 9
	if row.StateHash[0] != 1 {
		t.Error("row must not alias the envelope hash")
	}
}

func TestNewJournalRows(t *testing.T) {
	if rows := persistence.NewJournalRows(nil); rows != nil {
		t.Errorf("nil batch should give no rows, got %v", rows)
	}

	owner := uuid.New()
	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			EventRef:      "cmd",
			Sequence:      3,
			DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeActivePool, ledger.AssetCollateral),
			CreditAccount: ledger.NewUserAccountKey(owner, ledger.AssetCollateral),
			AssetID:       ledger.AssetCollateral,
			Amount:        fpmath.MustParse("1.5"),
			JournalType:   ledger.JournalTypeTransfer,
			Timestamp:     77,
		}},
	}

	rows := persistence.NewJournalRows(batch)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.Amount != "1500000000000000000" {
		t.Errorf("amount: got %s", r.Amount)
	}
	if r.DebitAccount != "system:active_pool:COLL" {
		t.Errorf("debit: got %s", r.DebitAccount)
	}
	if r.JournalType != int32(ledger.JournalTypeTransfer) || r.Sequence != 3 || r.Timestamp != 77 {
		t.Errorf("unexpected row: %+v", r)
	}
}

func TestSnapshotRecord_RoundTrip(t *testing.T) {
	type state struct {
		Price fpmath.Decimal `json:"price"`
		Keys  []string       `json:"keys"`
	}
	in := state{Price: fpmath.MustParse("1234.5"), Keys: []string{"Redeem:k1"}}

	rec, err := persistence.NewSnapshotRecord(40, [32]byte{7}, in, time.Now())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Sequence != 40 || rec.StateHash[0] != 7 {
		t.Errorf("unexpected record header: %+v", rec)
	}

	var out state
	if err := rec.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	testutil.RequireDecimal(t, "price", out.Price, in.Price)
	if len(out.Keys) != 1 || out.Keys[0] != "Redeem:k1" {
		t.Errorf("keys: got %v", out.Keys)
	}
}

// ============================================================================
// Test: migration files
// ============================================================================

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMigrations_PairsAndOrdersByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "000002_projections.up.sql", "")
	writeMigration(t, dir, "000001_event_log.down.sql", "")
	writeMigration(t, dir, "000001_event_log.up.sql", "")
	writeMigration(t, dir, "000003_fee_stakes.up.sql", "")
	writeMigration(t, dir, "README.md", "")

	migs, err := persistence.LoadMigrations(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(migs) != 3 {
		t.Fatalf("got %d migrations, want 3", len(migs))
	}
	for i, want := range []string{"000001", "000002", "000003"} {
		if migs[i].Version != want {
			t.Errorf("migration %d: got version %s, want %s", i, migs[i].Version, want)
		}
	}
	if migs[0].Name != "event_log" || migs[0].Down != "000001_event_log.down.sql" {
		t.Errorf("first migration: %+v", migs[0])
	}
	if migs[1].Down != "" {
		t.Errorf("projections has no down file, got %q", migs[1].Down)
	}
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	tests := []struct {
		name  string
		files []string
	}{
		{"no version separator", []string{"baseline.up.sql"}},
		{"version reused", []string{"000001_a.up.sql", "000001_b.up.sql"}},
		{"down without up", []string{"000004_orphan.down.sql"}},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		for _, f := range tt.files {
			writeMigration(t, dir, f, "")
		}
		if _, err := persistence.LoadMigrations(dir); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestLoadMigrations_RepositoryDir(t *testing.T) {
	migs, err := persistence.LoadMigrations(testutil.MigrationsDir(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range migs {
		if m.Down == "" {
			t.Errorf("migration %s has no down file", m.Up)
		}
	}
}

// ============================================================================
// Test: Postgres integration
// ============================================================================

func TestMigrator_StatusAndHealthCheck(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	logger := observability.NopLogger()

	migrator := persistence.NewMigrator(db, testutil.MigrationsDir(t), logger)
	status, err := migrator.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status.UpToDate() {
		t.Errorf("setup applies every migration, still pending: %v", status.Pending)
	}
	if status.Current != "000003" {
		t.Errorf("current version: got %q, want 000003", status.Current)
	}
	if err := migrator.HealthCheck(2 * time.Second)(); err != nil {
		t.Errorf("health check on an up-to-date schema: %v", err)
	}

	// A new pair shows up as pending and fails the readiness check.
	dir := t.TempDir()
	writeMigration(t, dir, "999999_extra.up.sql", "SELECT 1")
	writeMigration(t, dir, "999999_extra.down.sql", "SELECT 1")
	extra := persistence.NewMigrator(db, dir, logger)
	status, err = extra.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Pending) != 1 || status.Pending[0].Version != "999999" {
		t.Errorf("pending: got %v", status.Pending)
	}
	if err := extra.HealthCheck(2 * time.Second)(); !errors.Is(err, persistence.ErrPendingMigrations) {
		t.Errorf("health check: got %v, want ErrPendingMigrations", err)
	}
}

func TestEventLog_WriteDedupAndReplay(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	input := make(chan persistence.CoreOutput, 4)
	worker := persistence.NewPersistenceWorker(db, input, 2, 5*time.Millisecond, nil)
	flushed := make(chan []persistence.EventRow, 4)
	worker.OnFlushed(func(rows []persistence.EventRow) { flushed <- rows })

	owner := uuid.New()
	for seq := int64(0); seq < 2; seq++ {
		env := &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: uuid.NewString(),
			EventType:      event.EventTypeFundCollateral,
			Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
			Payload:        []byte(`{}`),
		}
		batch := &ledger.Batch{Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       uuid.New(),
			EventRef:      env.IdempotencyKey,
			Sequence:      seq,
			DebitAccount:  ledger.NewUserAccountKey(owner, ledger.AssetCollateral),
			CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
			AssetID:       ledger.AssetCollateral,
			Amount:        fpmath.FromUnits(1),
		}}}
		input <- persistence.CoreOutput{EventRow: persistence.NewEventRow(env), JournalRows: persistence.NewJournalRows(batch)}
	}
	close(input)

	if err := worker.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case rows := <-flushed:
		if len(rows) != 2 {
			t.Errorf("flushed %d rows, want 2", len(rows))
		}
	default:
		t.Fatal("flush hook not called")
	}

	snapMgr := persistence.NewSnapshotManager(db)
	latest, ok, err := snapMgr.GetLatestSequence(ctx)
	if err != nil || !ok || latest != 1 {
		t.Errorf("latest sequence: got %d %v %v", latest, ok, err)
	}
	events, err := snapMgr.LoadEventsFrom(ctx, 1, 10)
	if err != nil || len(events) != 1 || events[0].Sequence != 1 {
		t.Fatalf("load from 1: %v %v", events, err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("FundCollateral", events[0].IdempotencyKey)
	if err != nil || !dup {
		t.Errorf("stored command should be a duplicate: %v %v", dup, err)
	}
	keys, err := checker.RecentKeys(ctx, 10)
	if err != nil || len(keys) != 2 || keys[1] != "FundCollateral:"+events[0].IdempotencyKey {
		t.Errorf("recent keys: %v %v", keys, err)
	}
}

func TestSnapshotManager_SaveVerifyLoad(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	sm := persistence.NewSnapshotManager(db)

	rec, err := persistence.NewSnapshotRecord(5, [32]byte{3}, map[string]int{"a": 1}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := sm.SaveSnapshot(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	if got, err := sm.LoadLatestSnapshot(ctx); err != nil || got != nil {
		t.Fatalf("unverified snapshot must not load: %v %v", got, err)
	}
	if err := sm.MarkVerified(ctx, 5); err != nil {
		t.Fatal(err)
	}
	got, err := sm.LoadLatestSnapshot(ctx)
	if err != nil || got == nil || got.Sequence != 5 {
		t.Fatalf("load: %v %v", got, err)
	}
	var data map[string]int
	if err := got.Decode(&data); err != nil || data["a"] != 1 {
		t.Errorf("decoded %v %v", data, err)
	}
}
