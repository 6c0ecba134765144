package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/db"
	"github.com/banshee-data/misbehaviour.report/internal/misbehaviour"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var testEgo = bsm.EgoState{
	Pseudonym: 1,
	Position:  bsm.Vec2{X: 400, Y: 100},
	Heading:   bsm.Vec2{Y: 1},
	Size:      bsm.Vec2{X: 4.5, Y: 1.8},
}

func cruise(sender bsm.Pseudonym, y, t float64) *bsm.Report {
	return &bsm.Report{
		Sender:             sender,
		Position:           bsm.Vec2{X: 100 + 10*t, Y: y},
		PositionConfidence: bsm.Vec2{X: 1, Y: 1},
		Heading:            bsm.Vec2{X: 1},
		Speed:              10,
		SpeedConfidence:    0.5,
		Size:               bsm.Vec2{X: 4.5, Y: 1.8},
		Time:               t,
	}
}

func writeTrace(t *testing.T, entries []Entry) string {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			t.Fatal(err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.String()
}

func testTrace(t *testing.T) string {
	t.Helper()
	ego := testEgo
	entries := []Entry{
		{Kind: KindEgo, Receiver: 1, Ego: &ego},
		{Kind: KindEgo, Receiver: 2, Ego: &ego},
	}
	for i := 0; i < 6; i++ {
		ts := float64(i)
		entries = append(entries,
			Entry{Kind: KindBSM, Receiver: 1, BSM: cruise(4, 100, ts)},
			Entry{Kind: KindBSM, Receiver: 1, BSM: cruise(5, 130, ts)},
		)
		if i < 3 {
			entries = append(entries, Entry{Kind: KindBSM, Receiver: 2, BSM: cruise(4, 100, ts)})
		}
	}

	// Sender 5 teleports 150 m ahead.
	jump := cruise(5, 130, 6)
	jump.Position.X += 150
	entries = append(entries,
		Entry{Kind: KindBSM, Receiver: 1, BSM: jump},
		Entry{Kind: KindEvict, Receiver: 2, Sender: 4},
		Entry{Kind: KindReset, Receiver: 2},
		Entry{Kind: KindBSM, Receiver: 2, BSM: cruise(4, 100, 3)},
	)
	return writeTrace(t, entries)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestReplay(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer store.Close()

	params := misbehaviour.DefaultParams()
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewCheckMetrics(reg, params.FailureThreshold)

	rep := NewReplayer(params, store, "{}", misbehaviour.MetricsObserver{Metrics: metrics})
	runs, err := Replay(context.Background(), NewTraceReader(strings.NewReader(testTrace(t))), rep)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(runs) != 2 || runs[0].Receiver != 1 || runs[1].Receiver != 2 {
		t.Fatalf("runs = %+v, want receivers 1 and 2", runs)
	}
	if runs[0].Checked != 13 || runs[1].Checked != 4 {
		t.Errorf("checked = %d, %d; want 13, 4", runs[0].Checked, runs[1].Checked)
	}
	if got := counterValue(t, reg, "misbehaviour_reports_total"); got != 17 {
		t.Errorf("misbehaviour_reports_total = %v, want 17", got)
	}
	if got := counterValue(t, reg, "misbehaviour_history_evictions_total"); got != 1 {
		t.Errorf("misbehaviour_history_evictions_total = %v, want 1", got)
	}

	for _, run := range runs {
		r, err := store.GetRun(run.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if r.EndedAt == nil {
			t.Errorf("run %s not finished", run.RunID)
		}
	}

	summaries, err := store.SenderSummaries(runs[0].RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("receiver 1 summaries = %+v, want 2 senders", summaries)
	}
	// Least trusted first.
	liar, honest := summaries[0], summaries[1]
	if liar.Sender != 5 || liar.Messages != 7 || liar.FailedMessages != 1 {
		t.Errorf("sender 5 summary = %+v", liar)
	}
	if diff := liar.LastTrust - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("sender 5 last trust = %v, want 0.8", liar.LastTrust)
	}
	if honest.Sender != 4 || honest.Messages != 6 || honest.FailedMessages != 0 {
		t.Errorf("sender 4 summary = %+v", honest)
	}
	if diff := honest.MinTrust - 1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("sender 4 min trust = %v, want 1", honest.MinTrust)
	}

	// Receiver 2 re-checked the same sender after reset: the restart is a
	// first sighting again, not an out-of-order report.
	checks, err := store.ListSenderChecks(runs[1].RunID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 4 {
		t.Fatalf("receiver 2 stored %d checks, want 4", len(checks))
	}
	last := checks[len(checks)-1]
	if last.Flags.Has(misbehaviour.OutOfOrder) || last.PositionConsistency.Applicable() {
		t.Errorf("check after reset = %+v, want a fresh first sighting", last)
	}
}

func TestPrintSummary(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "summary.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	rep := NewReplayer(misbehaviour.DefaultParams(), store, "{}")
	runs, err := Replay(context.Background(), NewTraceReader(strings.NewReader(testTrace(t))), rep)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := printSummary(&out, store, runs); err != nil {
		t.Fatalf("printSummary failed: %v", err)
	}
	for _, want := range []string{"receiver 1", "receiver 2", "13 checks", "0.800"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestReplay_StopsOnMalformedLine(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "bad.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ego := testEgo
	trace := writeTrace(t, []Entry{
		{Kind: KindEgo, Receiver: 1, Ego: &ego},
		{Kind: KindBSM, Receiver: 1, BSM: cruise(4, 100, 0)},
	}) + "{not json}\n" + writeTrace(t, []Entry{
		{Kind: KindBSM, Receiver: 1, BSM: cruise(4, 100, 1)},
	})

	runs, err := Replay(context.Background(), NewTraceReader(strings.NewReader(trace)), NewReplayer(misbehaviour.DefaultParams(), store, "{}"))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("error = %v, want a line 3 parse error", err)
	}
	if len(runs) != 1 || runs[0].Checked != 1 {
		t.Errorf("runs = %+v, want one receiver with one check", runs)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if _, err := misbehaviour.ParamsFromConfig(cfg); err != nil {
		t.Errorf("defaults should yield valid params: %v", err)
	}
}

func TestDescribeParams(t *testing.T) {
	params := misbehaviour.DefaultParams()
	tests := []struct {
		unit string
		want string
	}{
		{"", "max_speed=20.0 mps"},
		{"mps", "max_speed=20.0 mps"},
		{"kmph", "max_speed=72.0 kmph"},
	}
	for _, tt := range tests {
		got := describeParams(params, tt.unit)
		if !strings.Contains(got, tt.want) || !strings.HasPrefix(got, "policy=continuous") {
			t.Errorf("describeParams(%q) = %q, want %q", tt.unit, got, tt.want)
		}
	}
}
