package db

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
	"github.com/banshee-data/misbehaviour.report/internal/timeutil"
	"github.com/goccy/go-json"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "checks.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(Migrations())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d (dirty=%v), want 2 clean", version, dirty)
	}

	for _, name := range []string{"evaluation_runs", "bsm_checks", "sender_summary"} {
		var found string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE name = ?`, name).Scan(&found)
		if err != nil {
			t.Errorf("schema object %s missing: %v", name, err)
		}
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.MigrateUp(Migrations()); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(Migrations()); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err := db.MigrateVersion(Migrations())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'sender_summary'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("sender_summary view should be dropped")
	}

	if err := db.MigrateUp(Migrations()); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
}

func TestOpenDB_NoMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion(Migrations())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh database version = %d (dirty=%v), want 0", version, dirty)
	}
}

func TestPragmas(t *testing.T) {
	db := newTestDB(t)

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	db.SetClock(clock)

	runID, err := db.StartRun(42, `{"policy":"continuous"}`)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run, err := db.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Evaluator != 42 {
		t.Errorf("Evaluator = %d, want 42", run.Evaluator)
	}
	if !run.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, start)
	}
	if run.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil before FinishRun", run.EndedAt)
	}

	clock.Advance(90 * time.Second)
	if err := db.FinishRun(runID); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	run, err = db.GetRun(runID)
	if err != nil {
		t.Fatal(err)
	}
	if run.EndedAt == nil || run.EndedAt.Sub(run.StartedAt) != 90*time.Second {
		t.Errorf("EndedAt = %v, want 90s after start", run.EndedAt)
	}

	runs, err := db.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != runID {
		t.Errorf("ListRuns = %+v, want only %s", runs, runID)
	}
}

func TestRuns_NotFound(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun error = %v, want ErrRunNotFound", err)
	}
	if err := db.FinishRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun error = %v, want ErrRunNotFound", err)
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.StartRun(7, "{}"); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	for _, path := range []string{"/debug/runs", "/debug/senders", "/debug/backup", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:1234"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code == http.StatusNotFound {
			t.Errorf("%s not registered", path)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/runs", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	// tsweb may refuse debug access depending on the environment.
	if w.Code == http.StatusOK {
		var runs []Run
		if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&runs); err != nil {
			t.Fatalf("Failed to decode runs: %v", err)
		}
		if len(runs) != 1 || runs[0].Evaluator != 7 {
			t.Errorf("runs = %+v, want one run for evaluator 7", runs)
		}
	}
}

func TestServeSenders(t *testing.T) {
	db := newTestDB(t)
	runID, err := db.StartRun(7, "{}")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing run_id", "", http.StatusBadRequest},
		{"unknown run", "?run_id=nope", http.StatusNotFound},
		{"empty run", "?run_id=" + runID, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			db.serveSenders(w, httptest.NewRequest(http.MethodGet, "/debug/senders"+tt.query, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := httptest.NewRecorder()
	db.serveSenders(w, httptest.NewRequest(http.MethodGet, "/debug/senders?run_id="+runID, nil))
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("empty run body = %s, want []", body)
	}
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("SQLite format 3")) {
		t.Error("backup is not an SQLite database")
	}
}
