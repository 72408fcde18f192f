package driver

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mrlite/mapreduce-lite/mrlite"
	"github.com/mrlite/mapreduce-lite/sortedbuffer"
	"github.com/mrlite/mapreduce-lite/transport"
)

// receiveFunc matches transport.ReducerTransport.Receive's signature,
// factored out so the incremental reduce loop can be driven by a fake
// stream in tests without standing up real sockets.
type receiveFunc func() (key, value []byte, ok bool, err error)

// partialReduceEntry is one live row of spec.md 3's partial-reduce
// table: a key and its in-flight user accumulator.
type partialReduceEntry struct {
	key []byte
	acc mrlite.Accumulator
}

// runIncrementalReducer executes spec.md 4.5's incremental reducer role.
func (w *Worker) runIncrementalReducer(ctx context.Context) error {
	reducer, ok := IncrementalReducers.Create(w.cfg.ReducerClass)
	if !ok {
		return errors.Wrapf(ErrConfiguration, "unknown reducer_class %q", w.cfg.ReducerClass)
	}

	writers, files, err := w.openOutputWriters()
	if err != nil {
		return err
	}
	defer closeFiles(files)
	emitter := newChannelEmitter(writers)

	w.state = StateResourcesOpen
	addr := w.cfg.ReduceWorkers[w.cfg.ReduceWorkerID]
	rt, err := transport.NewReducerTransport(ctx, addr, w.cfg.NumMapWorkers, w.cfg.ReducerMessageQueueSizeBytes(), w.cfg.MaxMapOutputSize, w.log)
	if err != nil {
		return errors.Wrap(err, "driver: opening reducer transport")
	}

	w.state = StateRunning
	if err := w.processIncrementalStream(rt.Receive, reducer, emitter); err != nil {
		return err
	}
	if err := rt.Wait(); err != nil {
		return errors.Wrap(err, "driver: reducer transport receive loop")
	}

	w.state = StateDraining
	for _, wtr := range writers {
		if err := wtr.Flush(); err != nil {
			return errors.Wrap(err, "driver: flush reducer output")
		}
	}
	w.state = StateFinalized
	return emitter.Err()
}

// processIncrementalStream drains receive until end-of-stream, applying
// spec.md 8's exactly-once BeginReduce / (count(k)-1)-times PartialReduce
// / exactly-once EndReduce property, then fires EndReduce for every key
// still in the table once the stream has drained.
func (w *Worker) processIncrementalStream(receive receiveFunc, reducer mrlite.IncrementalReducer, emitter *channelEmitter) error {
	table := make(map[string]*partialReduceEntry)
	order := make([]string, 0) // spec.md 8 leaves EndReduce order unspecified; first-seen order is simplest

	received := 0
	for {
		key, value, ok, err := receive()
		if err != nil {
			return errors.Wrap(err, "driver: receiving reducer input")
		}
		if !ok {
			break
		}

		k := string(key)
		entry, exists := table[k]
		if !exists {
			acc := reducer.BeginReduce(key, value, emitter)
			entry = &partialReduceEntry{key: append([]byte(nil), key...), acc: acc}
			table[k] = entry
			order = append(order, k)
		} else {
			reducer.PartialReduce(key, value, entry.acc, emitter)
		}
		if err := emitter.Err(); err != nil {
			return err
		}

		received++
		if received%progressInterval == 0 {
			w.log.Info().Int("records", received).Int("keys", len(table)).Msg("driver: reduce progress")
		}
	}

	for _, k := range order {
		entry := table[k]
		reducer.EndReduce(entry.key, entry.acc, emitter)
		if err := emitter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// runBatchReducer executes spec.md 4.5's batch reducer role: a grouped
// merge iterator over the spill files the scheduler deposited for this
// reducer, one user Reduce call per key.
func (w *Worker) runBatchReducer(_ context.Context) error {
	reducer, ok := BatchReducers.Create(w.cfg.ReducerClass)
	if !ok {
		return errors.Wrapf(ErrConfiguration, "unknown reducer_class %q", w.cfg.ReducerClass)
	}

	writers, files, err := w.openOutputWriters()
	if err != nil {
		return err
	}
	defer closeFiles(files)
	emitter := newChannelEmitter(writers)

	w.state = StateResourcesOpen
	it, err := sortedbuffer.NewIterator(w.cfg.ReduceInputFilebase, w.cfg.NumReduceInputBufferFiles)
	if err != nil {
		return errors.Wrap(err, "driver: opening grouped merge iterator")
	}
	defer it.Close()

	w.state = StateRunning
	if err := w.processBatchIterator(it, reducer, emitter); err != nil {
		return err
	}

	w.state = StateDraining
	for _, wtr := range writers {
		if err := wtr.Flush(); err != nil {
			return errors.Wrap(err, "driver: flush reducer output")
		}
	}
	if err := sortedbuffer.RemoveRunFiles(w.cfg.ReduceInputFilebase, w.cfg.NumReduceInputBufferFiles); err != nil {
		return errors.Wrap(err, "driver: deleting consumed spill files")
	}
	w.state = StateFinalized
	return emitter.Err()
}

// processBatchIterator walks it one key at a time, handing user code a
// restricted mrlite.ValueIterator view and advancing past any values the
// user didn't consume before moving to the next key.
func (w *Worker) processBatchIterator(it *sortedbuffer.Iterator, reducer mrlite.BatchReducer, emitter *channelEmitter) error {
	keys := 0
	for !it.FinishedAll() {
		key := append([]byte(nil), it.Key()...)
		view := &iteratorValueView{it: it}
		reducer.Reduce(key, view, emitter)
		if err := emitter.Err(); err != nil {
			return err
		}

		for !it.Done() {
			it.Next()
		}
		it.NextKey()

		keys++
		if keys%progressInterval == 0 {
			w.log.Info().Int("keys", keys).Msg("driver: batch reduce progress")
		}
	}
	return nil
}

// iteratorValueView narrows a *sortedbuffer.Iterator to the
// mrlite.ValueIterator surface handed to user Reduce code, hiding
// NextKey/Key/FinishedAll which are the driver's concern alone.
type iteratorValueView struct {
	it *sortedbuffer.Iterator
}

func (v *iteratorValueView) Value() []byte { return v.it.Value() }
func (v *iteratorValueView) Next() bool    { return v.it.Next() }
func (v *iteratorValueView) Done() bool    { return v.it.Done() }
