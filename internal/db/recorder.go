package db

import (
	"sync"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/misbehaviour"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
)

// RunRecorder is a misbehaviour.Observer that persists every check into
// one run. Observer methods cannot fail, so the first write error is kept
// and later checks are dropped; inspect it with Err.
type RunRecorder struct {
	db        *DB
	runID     string
	threshold float64

	mu       sync.Mutex
	err      error
	recorded int
}

// NewRunRecorder returns a recorder writing into runID.
func NewRunRecorder(db *DB, runID string, threshold float64) *RunRecorder {
	return &RunRecorder{db: db, runID: runID, threshold: threshold}
}

func (r *RunRecorder) ObserveCheck(c misbehaviour.CheckReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.db.RecordCheck(r.runID, c, r.threshold); err != nil {
		monitoring.Logf("db: run %s: %v; further checks will not be recorded", r.runID, err)
		r.err = err
		return
	}
	r.recorded++
}

func (r *RunRecorder) ObserveEviction(id bsm.Pseudonym) {
	monitoring.Debugf("db: run %s: sender %d evicted", r.runID, id)
}

// RunID returns the run being recorded.
func (r *RunRecorder) RunID() string { return r.runID }

// Recorded returns the number of checks stored so far.
func (r *RunRecorder) Recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded
}

// Err returns the first write error, if any.
func (r *RunRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
