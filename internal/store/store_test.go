package store

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if want := migrations[len(migrations)-1].Version; version != want {
		t.Errorf("version = %d, want %d", version, want)
	}
}

func TestMigrate_SingleLedgerSchema(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	rows, err := store.db.Query("SELECT name FROM pragma_table_info('ingest_runs')")
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		cols[name] = true
	}
	for _, want := range []string{"date_id", "started_at", "finished_at", "fetch_ms", "frames_written", "error_message"} {
		if !cols[want] {
			t.Errorf("ingest_runs missing column %s", want)
		}
	}
}

func TestStartAndCompleteRun(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartRun("20190101", "/2019/20190101.tar", "/out/20190101.jsonl.gz", 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("StartRun returned zero ID")
	}

	run.Files = sql.NullInt64{Int64: 288, Valid: true}
	run.FramesWritten = sql.NullInt64{Int64: 286, Valid: true}
	run.FramesSkipped = sql.NullInt64{Int64: 2, Valid: true}
	run.Success = true
	if err := store.CompleteRun(run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if !run.FinishedAt.Valid {
		t.Error("FinishedAt not set")
	}

	summary, err := store.Summary(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("len(summary) = %d, want 1", len(summary))
	}
	s := summary[0]
	if s.TotalRuns != 1 || s.SuccessRuns != 1 || s.FailedRuns != 0 {
		t.Errorf("runs = %d/%d/%d, want 1/1/0", s.TotalRuns, s.SuccessRuns, s.FailedRuns)
	}
	if s.FramesWritten != 286 || s.FramesSkipped != 2 {
		t.Errorf("frames = %d/%d, want 286/2", s.FramesWritten, s.FramesSkipped)
	}
	if want := time.Now().UTC().Format(time.DateOnly); s.Date != want {
		t.Errorf("Date = %q, want %q", s.Date, want)
	}
}

func TestCompleteRun_Nil(t *testing.T) {
	store := setupTestStore(t)
	if err := store.CompleteRun(nil); err != nil {
		t.Errorf("CompleteRun(nil) = %v, want nil", err)
	}
}

func TestRecentErrors(t *testing.T) {
	store := setupTestStore(t)

	ok, err := store.StartRun("20190101", "/2019/a.tar", "/out/a", 0)
	if err != nil {
		t.Fatal(err)
	}
	ok.Success = true
	if err := store.CompleteRun(ok); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"20190102", "20190103"} {
		run, err := store.StartRun(id, "/2019/"+id+".tar", "/out/"+id, 0)
		if err != nil {
			t.Fatal(err)
		}
		run.ErrorMessage = sql.NullString{String: "extract " + id + ": unexpected EOF", Valid: true}
		if err := store.CompleteRun(run); err != nil {
			t.Fatal(err)
		}
	}

	// still running, not an error yet
	if _, err := store.StartRun("20190104", "/2019/d.tar", "/out/d", 0); err != nil {
		t.Fatal(err)
	}

	errs, err := store.RecentErrors(10)
	if err != nil {
		t.Fatalf("RecentErrors: %v", err)
	}
	if len(errs) != 2 {
		t.Fatalf("len(errs) = %d, want 2", len(errs))
	}
	if errs[0].DateID != "20190103" {
		t.Errorf("errs[0].DateID = %q, want 20190103", errs[0].DateID)
	}
	if !errs[0].ErrorMessage.Valid || errs[0].ErrorMessage.String != "extract 20190103: unexpected EOF" {
		t.Errorf("ErrorMessage = %+v", errs[0].ErrorMessage)
	}
	if errs[0].FetchMillis.Valid {
		t.Errorf("FetchMillis = %+v, want NULL", errs[0].FetchMillis)
	}

	limited, err := store.RecentErrors(1)
	if err != nil {
		t.Fatalf("RecentErrors(1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestSummary_ExcludesOldRuns(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.db.Exec(`
		INSERT INTO ingest_runs (date_id, archive, output, started_at, success)
		VALUES ('20180101', '/2018/a.tar', '/out/a', ?, TRUE)
	`, time.Now().UTC().AddDate(0, 0, -10)); err != nil {
		t.Fatal(err)
	}

	summary, err := store.Summary(time.Now().AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 0 {
		t.Errorf("len(summary) = %d, want 0", len(summary))
	}

	summary, err = store.Summary(time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 1 {
		t.Errorf("len(summary) = %d, want 1", len(summary))
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.StartRun("20190101", "/2019/a.tar", "/out/a", time.Second); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	var n int
	if err := reopened.db.QueryRow("SELECT COUNT(*) FROM ingest_runs").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}
