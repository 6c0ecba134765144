// Package db stores misbehaviour check results in SQLite so that an
// evaluation run can be inspected after the fact.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/banshee-data/misbehaviour.report/internal/httputil"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
	"github.com/banshee-data/misbehaviour.report/internal/timeutil"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		// The embed pattern guarantees the directory exists.
		panic(err)
	}
	return sub
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

type DB struct {
	*sql.DB
	path  string
	clock timeutil.Clock
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// OpenDB opens (creating if needed) the database at path. It does not
// migrate; see NewDB.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path, clock: timeutil.RealClock{}}, nil
}

// NewDB opens the database at path and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(Migrations()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SetClock replaces the clock used to stamp runs.
func (db *DB) SetClock(c timeutil.Clock) { db.clock = c }

// AttachAdminRoutes mounts the tsweb debug index and a tailsql console for
// this database under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Misbehaviour checks",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Evaluation runs (JSON)", httputil.GetOnly(db.serveRuns))
	debug.Handle("senders", "Per-sender trust for ?run_id= (JSON)", httputil.GetOnly(db.serveSenders))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))

	monitoring.Logf("db: admin routes attached for %s", db.path)
	return nil
}

func (db *DB) serveRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := db.ListRuns()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (db *DB) serveSenders(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		httputil.BadRequest(w, "run_id is required")
		return
	}
	if _, err := db.GetRun(runID); err != nil {
		if errors.Is(err, ErrRunNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	summaries, err := db.SenderSummaries(runID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if summaries == nil {
		summaries = []SenderSummary{}
	}
	httputil.WriteJSON(w, http.StatusOK, summaries)
}

// serveBackup snapshots the database with VACUUM INTO and streams the copy.
func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "misbehaviour-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create backup directory: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("backup-%d.db", db.clock.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to open backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	if _, err := io.Copy(w, f); err != nil {
		monitoring.Logf("db: backup transfer failed: %v", err)
	}
}
