package driver

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/mrlite/mapreduce-lite/config"
	"github.com/mrlite/mapreduce-lite/ioadapters"
	"github.com/mrlite/mapreduce-lite/mrlite"
	"github.com/mrlite/mapreduce-lite/sortedbuffer"
	"github.com/mrlite/mapreduce-lite/transport"
)

// progressInterval is how often the map/reduce loops emit an Info-level
// progress line, recovering mapreduce_lite.cc's reliance on periodic
// LOG(INFO) status lines (spec.md 9, SPEC_FULL.md 3).
const progressInterval = 100000

// transportSink routes a mapper's routed emits to a reducer transport's
// per-destination outbound queue (incremental mode).
type transportSink struct {
	mt *transport.MapperTransport
}

func (s transportSink) send(shard int, key, value []byte) error {
	return s.mt.Send(shard, key, value)
}

// spillSink routes a mapper's routed emits to a per-destination
// SortedBuffer (batch mode); the external scheduler is responsible for
// later moving these run files into the destination reducer's working
// directory (spec.md 6 "persisted state").
type spillSink struct {
	buffers []*sortedbuffer.SortedBuffer
}

func (s spillSink) send(shard int, key, value []byte) error {
	return s.buffers[shard].Insert(key, value)
}

// batchSpillFilebase names one mapper's per-destination spill sequence,
// matching spec.md 6's persisted-state naming
// "<reduce_input_filebase>-mapper-<5d>-reducer-<5d>-<10d>" (the
// "-<10d>" run suffix itself comes from sortedbuffer.RunFilename).
func batchSpillFilebase(reduceInputFilebase string, mapWorkerID, reducerIndex int) string {
	return fmt.Sprintf("%s-mapper-%05d-reducer-%05d", reduceInputFilebase, mapWorkerID, reducerIndex)
}

// runMapper executes spec.md 4.5's mapper role: open the input shards
// matched by input_filepattern, run user Map over every record, route
// emits to their destination, then drain and close.
func (w *Worker) runMapper(ctx context.Context) error {
	mapper, ok := Mappers.Create(w.cfg.MapperClass)
	if !ok {
		return errors.Wrapf(ErrConfiguration, "unknown mapper_class %q", w.cfg.MapperClass)
	}

	files, err := (ioadapters.Matcher{}).Match(w.cfg.InputFilepattern)
	if err != nil {
		return errors.Wrap(ErrFatal, err.Error())
	}
	if len(files) == 0 {
		return errors.Wrapf(ErrFatal, "no input files matched %q", w.cfg.InputFilepattern)
	}

	mapOnly := w.cfg.Role == config.RoleMapOnly
	numShards := len(w.cfg.ReduceWorkers)

	var emitter mrlite.Emitter
	var routing *routingEmitter
	var mt *transport.MapperTransport
	var buffers []*sortedbuffer.SortedBuffer
	var outFiles []*os.File

	if mapOnly {
		writers, fs, err := w.openOutputWriters()
		if err != nil {
			return err
		}
		outFiles = fs
		emitter = newMapOnlyEmitter(writers[0])
	} else if w.cfg.BatchReduction {
		buffers = make([]*sortedbuffer.SortedBuffer, numShards)
		for i := range buffers {
			filebase := batchSpillFilebase(w.cfg.ReduceInputFilebase, w.cfg.MapWorkerID, i)
			buffers[i] = sortedbuffer.New(filebase, w.cfg.ReduceInputBufferSizeBytes()).WithLogger(w.log)
		}
		routing = newRoutingEmitter(spillSink{buffers: buffers}, numShards, w.cfg.MaxMapOutputSize)
		emitter = routing
	} else {
		mt, err = transport.NewMapperTransport(ctx, w.cfg.ReduceWorkers, w.cfg.MapperMessageQueueSizeBytes(), w.cfg.MaxMapOutputSize, w.log)
		if err != nil {
			return errors.Wrap(err, "driver: opening mapper transport")
		}
		routing = newRoutingEmitter(transportSink{mt: mt}, numShards, w.cfg.MaxMapOutputSize)
		emitter = routing
	}
	defer closeFiles(outFiles)

	w.state = StateResourcesOpen
	w.state = StateRunning

	for _, path := range files {
		if err := w.processMapperFile(path, mapper, emitter); err != nil {
			return err
		}
		if faulted, err := emitterErr(emitter); faulted {
			return err
		}
	}

	w.state = StateDraining
	switch {
	case mapOnly:
		for _, wtr := range mustWriters(emitter) {
			if err := wtr.Flush(); err != nil {
				return errors.Wrap(err, "driver: flush map-only output")
			}
		}
	case w.cfg.BatchReduction:
		for i, b := range buffers {
			if err := b.Flush(); err != nil {
				return errors.Wrapf(err, "driver: final flush of destination %d", i)
			}
			w.log.Info().Int("destination", i).Int("runs", b.NumRuns()).Msg("driver: mapper spill complete")
		}
	default:
		mt.Done()
		if err := mt.Wait(); err != nil {
			return errors.Wrap(err, "driver: mapper transport send loop")
		}
	}

	w.state = StateFinalized
	_, err = emitterErr(emitter)
	return err
}

// processMapperFile opens path, calls user Start, feeds every record to
// Map, and calls Flush once the shard is exhausted (spec.md 4.5 "Start()
// is invoked before the first record of each input shard; Flush() after
// the last").
func (w *Worker) processMapperFile(path string, mapper mrlite.Mapper, emitter mrlite.Emitter) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(ErrFatal, "opening input shard %q: %v", path, err)
	}
	defer f.Close()

	var reader ioadapters.Reader
	if w.cfg.InputFormat == "protofile" {
		reader = ioadapters.NewFramedReader(f)
	} else {
		reader = ioadapters.NewTextReader(f)
	}

	mapper.Start(emitter)
	if faulted, ferr := emitterErr(emitter); faulted {
		return ferr
	}

	records := 0
	for {
		key, value, ok, err := reader.Read()
		if err != nil {
			return errors.Wrapf(ErrFatal, "reading input shard %q: %v", path, err)
		}
		if !ok {
			break
		}
		mapper.Map(key, value, emitter)
		if faulted, ferr := emitterErr(emitter); faulted {
			return ferr
		}
		records++
		if records%progressInterval == 0 {
			w.log.Info().Str("shard", path).Int("records", records).Msg("driver: map progress")
		}
	}
	mapper.Flush(emitter)
	if faulted, ferr := emitterErr(emitter); faulted {
		return ferr
	}
	w.log.Debug().Str("shard", path).Int("records", records).Msg("driver: map shard complete")
	return nil
}

// emitterErr recovers the fault, if any, recorded by any of this
// package's Emitter implementations.
func emitterErr(e mrlite.Emitter) (bool, error) {
	type faulted interface{ Err() error }
	f, ok := e.(faulted)
	if !ok {
		return false, nil
	}
	err := f.Err()
	return err != nil, err
}

// mustWriters recovers the underlying output writer(s) from a
// map-only/channel Emitter for the final Flush pass.
func mustWriters(e mrlite.Emitter) []ioadapters.Writer {
	switch em := e.(type) {
	case *mapOnlyEmitter:
		return []ioadapters.Writer{em.writer}
	case *channelEmitter:
		return em.writers
	default:
		return nil
	}
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
