package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/misbehaviour"
	"github.com/goccy/go-json"
)

// scoreColumns maps each check category to its bsm_checks column, in
// misbehaviour.CategoryNames order.
var scoreColumns = func() []string {
	names := misbehaviour.CategoryNames()
	cols := make([]string, len(names))
	for i, name := range names {
		cols[i] = "score_" + name
	}
	return cols
}()

var (
	insertCheckSQL = fmt.Sprintf(
		`INSERT INTO bsm_checks (run_id, sender, msg_time, %s, inter_tests_json, trust, flags, failures) VALUES (%s)`,
		strings.Join(scoreColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(scoreColumns)+7), ", "),
	)
	selectCheckSQL = fmt.Sprintf(
		`SELECT sender, msg_time, %s, inter_tests_json, trust, flags FROM bsm_checks`,
		strings.Join(scoreColumns, ", "),
	)
)

// RecordCheck stores c under runID. Scores that did not apply are stored
// as NULL. failures counts the categories below threshold.
func (db *DB) RecordCheck(runID string, c misbehaviour.CheckReport, threshold float64) error {
	interTests := c.InterTests
	if interTests == nil {
		interTests = []misbehaviour.InterTest{}
	}
	interJSON, err := json.Marshal(interTests)
	if err != nil {
		return fmt.Errorf("failed to encode intersection tests: %w", err)
	}

	args := make([]interface{}, 0, len(scoreColumns)+7)
	args = append(args, runID, int64(c.Sender), c.Time)
	for _, cs := range c.Categories() {
		args = append(args, nullScore(cs.Score))
	}
	args = append(args, string(interJSON), c.Trust, int(c.Flags), len(c.Failures(threshold)))

	if _, err := db.Exec(insertCheckSQL, args...); err != nil {
		return fmt.Errorf("failed to record check for sender %d: %w", c.Sender, err)
	}
	return nil
}

// ListChecks returns every check stored under runID in message order.
func (db *DB) ListChecks(runID string) ([]misbehaviour.CheckReport, error) {
	return db.queryChecks(selectCheckSQL+` WHERE run_id = ? ORDER BY msg_time, check_id`, runID)
}

// ListSenderChecks returns the checks of one sender under runID in message
// order.
func (db *DB) ListSenderChecks(runID string, sender bsm.Pseudonym) ([]misbehaviour.CheckReport, error) {
	return db.queryChecks(
		selectCheckSQL+` WHERE run_id = ? AND sender = ? ORDER BY msg_time, check_id`,
		runID, int64(sender),
	)
}

func (db *DB) queryChecks(query string, args ...interface{}) ([]misbehaviour.CheckReport, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checks: %w", err)
	}
	defer rows.Close()

	names := misbehaviour.CategoryNames()
	var out []misbehaviour.CheckReport
	for rows.Next() {
		var (
			sender    int64
			msgTime   float64
			scores    = make([]sql.NullFloat64, len(names))
			interJSON string
			trust     float64
			flags     int
		)
		dest := make([]interface{}, 0, len(names)+5)
		dest = append(dest, &sender, &msgTime)
		for i := range scores {
			dest = append(dest, &scores[i])
		}
		dest = append(dest, &interJSON, &trust, &flags)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}

		c := misbehaviour.NewEmptyCheckReport(bsm.Pseudonym(uint64(sender)), msgTime)
		for i, s := range scores {
			if s.Valid {
				c.SetScore(names[i], misbehaviour.Score(s.Float64))
			}
		}
		if err := json.Unmarshal([]byte(interJSON), &c.InterTests); err != nil {
			return nil, fmt.Errorf("failed to decode intersection tests: %w", err)
		}
		c.Trust = trust
		c.Flags = misbehaviour.Flags(flags)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SenderSummary aggregates the checks of one sender within a run.
type SenderSummary struct {
	Sender         bsm.Pseudonym `json:"sender"`
	Messages       int           `json:"messages"`
	MinTrust       float64       `json:"min_trust"`
	MeanTrust      float64       `json:"mean_trust"`
	LastTrust      float64       `json:"last_trust"`
	FailedChecks   int           `json:"failed_checks"`
	FailedMessages int           `json:"failed_messages"`
	Uncertain      int           `json:"uncertain"`
	OutOfOrder     int           `json:"out_of_order"`
}

// SenderSummaries returns one summary per sender seen in runID, ordered by
// ascending last trust so the least trusted senders come first.
func (db *DB) SenderSummaries(runID string) ([]SenderSummary, error) {
	rows, err := db.Query(`
		SELECT s.sender, s.messages, s.min_trust, s.mean_trust,
		       (SELECT c.trust FROM bsm_checks c
		         WHERE c.run_id = s.run_id AND c.sender = s.sender
		         ORDER BY c.msg_time DESC, c.check_id DESC LIMIT 1) AS last_trust,
		       s.failed_checks, s.failed_messages, s.uncertain, s.out_of_order
		  FROM sender_summary s
		 WHERE s.run_id = ?
		 ORDER BY last_trust, s.sender`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sender summaries: %w", err)
	}
	defer rows.Close()

	var out []SenderSummary
	for rows.Next() {
		var (
			s      SenderSummary
			sender int64
		)
		if err := rows.Scan(
			&sender, &s.Messages, &s.MinTrust, &s.MeanTrust, &s.LastTrust,
			&s.FailedChecks, &s.FailedMessages, &s.Uncertain, &s.OutOfOrder,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sender summary: %w", err)
		}
		s.Sender = bsm.Pseudonym(uint64(sender))
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullScore(s misbehaviour.Score) sql.NullFloat64 {
	if !s.Applicable() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: s.Value(), Valid: true}
}
