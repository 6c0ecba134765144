package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/db"
	"github.com/banshee-data/misbehaviour.report/internal/misbehaviour"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
	"github.com/hashicorp/go-multierror"
)

// receiverQueue bounds how far the reader may run ahead of one receiver.
const receiverQueue = 256

// receiver owns one Checker. Only its goroutine touches the checker.
type receiver struct {
	id       bsm.Pseudonym
	checker  *misbehaviour.Checker
	recorder *db.RunRecorder
	entries  chan Entry
	checked  int
}

func (rc *receiver) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for e := range rc.entries {
		switch e.Kind {
		case KindEgo:
			rc.checker.UpdateEgo(*e.Ego)
		case KindBSM:
			rc.checker.Check(*e.BSM, nil)
			rc.checked++
		case KindReset:
			rc.checker.ResetAll()
		case KindEvict:
			rc.checker.Evict(e.Sender)
		}
	}
}

// RunResult describes the run recorded for one receiver.
type RunResult struct {
	Receiver bsm.Pseudonym
	RunID    string
	Checked  int
}

// Replayer fans trace entries out to one Checker per receiver, each on
// its own goroutine. Entries for the same receiver keep trace order.
type Replayer struct {
	params     misbehaviour.Params
	store      *db.DB
	observers  []misbehaviour.Observer
	configJSON string

	receivers map[bsm.Pseudonym]*receiver
	wg        sync.WaitGroup
	closed    bool
}

// NewReplayer returns a Replayer recording into store. Every checker also
// reports to observers, which must be safe for concurrent use.
func NewReplayer(params misbehaviour.Params, store *db.DB, configJSON string, observers ...misbehaviour.Observer) *Replayer {
	return &Replayer{
		params:     params,
		store:      store,
		observers:  observers,
		configJSON: configJSON,
		receivers:  make(map[bsm.Pseudonym]*receiver),
	}
}

func (r *Replayer) receiverFor(id bsm.Pseudonym) (*receiver, error) {
	if rc, ok := r.receivers[id]; ok {
		return rc, nil
	}

	runID, err := r.store.StartRun(id, r.configJSON)
	if err != nil {
		return nil, err
	}
	rec := db.NewRunRecorder(r.store, runID, r.params.FailureThreshold)

	checker, err := misbehaviour.NewChecker(r.params, r.observers...)
	if err != nil {
		return nil, err
	}
	checker.AddObserver(rec)

	rc := &receiver{
		id:       id,
		checker:  checker,
		recorder: rec,
		entries:  make(chan Entry, receiverQueue),
	}
	r.receivers[id] = rc
	r.wg.Add(1)
	go rc.run(&r.wg)
	monitoring.Logf("mdreplay: receiver %d recording run %s", id, runID)
	return rc, nil
}

// Dispatch queues e on its receiver, starting the receiver on first use.
func (r *Replayer) Dispatch(ctx context.Context, e Entry) error {
	if r.closed {
		return fmt.Errorf("replayer closed")
	}
	rc, err := r.receiverFor(e.Receiver)
	if err != nil {
		return err
	}
	select {
	case rc.entries <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains every receiver, finishes their runs and returns one result
// per receiver ordered by pseudonym.
func (r *Replayer) Close() ([]RunResult, error) {
	if !r.closed {
		r.closed = true
		for _, rc := range r.receivers {
			close(rc.entries)
		}
	}
	r.wg.Wait()

	var result *multierror.Error
	out := make([]RunResult, 0, len(r.receivers))
	for id, rc := range r.receivers {
		if err := rc.recorder.Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("receiver %d: %w", id, err))
		}
		if err := r.store.FinishRun(rc.recorder.RunID()); err != nil {
			result = multierror.Append(result, fmt.Errorf("receiver %d: %w", id, err))
		}
		out = append(out, RunResult{Receiver: id, RunID: rc.recorder.RunID(), Checked: rc.checked})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Receiver < out[j].Receiver })
	return out, result.ErrorOrNil()
}

// Replay dispatches every entry of tr and closes rep. Reading stops at the
// first malformed line or when ctx is cancelled; receivers are still
// drained.
func Replay(ctx context.Context, tr *TraceReader, rep *Replayer) ([]RunResult, error) {
	var result *multierror.Error
	for {
		e, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		if err := rep.Dispatch(ctx, e); err != nil {
			result = multierror.Append(result, err)
			break
		}
	}

	runs, err := rep.Close()
	if err != nil {
		result = multierror.Append(result, err)
	}
	return runs, result.ErrorOrNil()
}
