package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/goccy/go-json"
)

// EntryKind selects what a trace line does to its receiver.
type EntryKind string

const (
	KindEgo   EntryKind = "ego"   // receiver's own state changed
	KindBSM   EntryKind = "bsm"   // receiver got a safety message
	KindReset EntryKind = "reset" // receiver dropped all history
	KindEvict EntryKind = "evict" // receiver dropped one sender
)

// Entry is one line of a replay trace.
type Entry struct {
	Kind     EntryKind     `json:"kind"`
	Receiver bsm.Pseudonym `json:"receiver"`

	Ego    *bsm.EgoState `json:"ego,omitempty"`
	BSM    *bsm.Report   `json:"bsm,omitempty"`
	Sender bsm.Pseudonym `json:"sender,omitempty"`
}

func (e Entry) validate() error {
	switch e.Kind {
	case KindEgo:
		if e.Ego == nil {
			return fmt.Errorf("ego entry without ego state")
		}
	case KindBSM:
		if e.BSM == nil {
			return fmt.Errorf("bsm entry without report")
		}
	case KindReset, KindEvict:
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
	return nil
}

// TraceReader decodes a JSON-lines trace. Blank lines and lines starting
// with '#' are skipped.
type TraceReader struct {
	sc   *bufio.Scanner
	line int
}

func NewTraceReader(r io.Reader) *TraceReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &TraceReader{sc: sc}
}

// Next returns the next entry, or io.EOF once the trace is exhausted.
func (t *TraceReader) Next() (Entry, error) {
	for t.sc.Scan() {
		t.line++
		line := bytes.TrimSpace(t.sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return Entry{}, fmt.Errorf("line %d: failed to parse entry: %w", t.line, err)
		}
		if err := e.validate(); err != nil {
			return Entry{}, fmt.Errorf("line %d: %w", t.line, err)
		}
		return e, nil
	}
	if err := t.sc.Err(); err != nil {
		return Entry{}, fmt.Errorf("line %d: failed to read trace: %w", t.line+1, err)
	}
	return Entry{}, io.EOF
}
