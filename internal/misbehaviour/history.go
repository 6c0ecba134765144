package misbehaviour

import (
	"sort"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/kalman"
)

// NodeTable is the neighbour table consulted by the intersection checks:
// the latest report of every sender currently in range.
type NodeTable interface {
	LatestReports() []bsm.Report
}

// NodeRecord is what a Checker remembers about one sender.
type NodeRecord struct {
	sender   bsm.Pseudonym
	reports  []bsm.Report // oldest first
	bank     *kalman.Bank
	trust    float64
	messages int
}

func (r *NodeRecord) Sender() bsm.Pseudonym { return r.sender }
func (r *NodeRecord) Trust() float64        { return r.trust }
func (r *NodeRecord) Messages() int         { return r.messages }
func (r *NodeRecord) HasFilters() bool      { return r.bank != nil }

// Latest returns the most recent committed report.
func (r *NodeRecord) Latest() (bsm.Report, bool) {
	if r == nil || len(r.reports) == 0 {
		return bsm.Report{}, false
	}
	return r.reports[len(r.reports)-1], true
}

// Reports returns a copy of the retained reports, oldest first.
func (r *NodeRecord) Reports() []bsm.Report {
	return append([]bsm.Report(nil), r.reports...)
}

// History maps senders to their records. Only the owning Checker mutates
// it; the exported methods are read-only.
type History struct {
	limit int
	nodes map[bsm.Pseudonym]*NodeRecord
}

func newHistory(limit int) *History {
	return &History{limit: limit, nodes: make(map[bsm.Pseudonym]*NodeRecord)}
}

// Len returns the number of tracked senders.
func (h *History) Len() int { return len(h.nodes) }

// Lookup returns the record for id.
func (h *History) Lookup(id bsm.Pseudonym) (*NodeRecord, bool) {
	rec, ok := h.nodes[id]
	return rec, ok
}

// Senders returns the tracked pseudonyms in ascending order.
func (h *History) Senders() []bsm.Pseudonym {
	ids := make([]bsm.Pseudonym, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LatestReports returns the newest report of every tracked sender, ordered
// by pseudonym.
func (h *History) LatestReports() []bsm.Report {
	out := make([]bsm.Report, 0, len(h.nodes))
	for _, id := range h.Senders() {
		if r, ok := h.nodes[id].Latest(); ok {
			out = append(out, r)
		}
	}
	return out
}

// commit appends r to its sender's record, creating the record on first
// sight, and stores the filter bank and trust computed for it.
func (h *History) commit(r bsm.Report, bank *kalman.Bank, trust float64) {
	rec, ok := h.nodes[r.Sender]
	if !ok {
		rec = &NodeRecord{sender: r.Sender}
		h.nodes[r.Sender] = rec
	}
	rec.reports = append(rec.reports, r)
	if n := len(rec.reports); n > h.limit {
		rec.reports = append(rec.reports[:0], rec.reports[n-h.limit:]...)
	}
	rec.bank = bank
	rec.trust = trust
	rec.messages++
}

func (h *History) evict(id bsm.Pseudonym) bool {
	if _, ok := h.nodes[id]; !ok {
		return false
	}
	delete(h.nodes, id)
	return true
}

func (h *History) reset() {
	h.nodes = make(map[bsm.Pseudonym]*NodeRecord)
}
