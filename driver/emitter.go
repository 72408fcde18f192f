package driver

import (
	"github.com/pkg/errors"

	"github.com/mrlite/mapreduce-lite/hashutil"
	"github.com/mrlite/mapreduce-lite/ioadapters"
	"github.com/mrlite/mapreduce-lite/mrlite"
)

// faultTracker records the first fatal condition an Emitter observes.
// User Map/Reduce code has no return path for errors, so the driver
// polls Err() between calls and after each input record.
type faultTracker struct {
	err error
}

func (f *faultTracker) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// Err returns the first fatal condition recorded, if any.
func (f *faultTracker) Err() error { return f.err }

// destinationSink is the one thing a routingEmitter varies on: an
// incremental mapper sends to a MapperTransport destination queue, a
// batch mapper inserts into a per-destination SortedBuffer (spec.md
// 4.5's "in incremental mode... in batch mode...").
type destinationSink interface {
	send(shard int, key, value []byte) error
}

// routingEmitter is the mrlite.Emitter handed to Mapper.Map in any
// non-map-only job: Output/OutputToShard/OutputToAllShards route to one
// of numShards destinations via sink.
type routingEmitter struct {
	faultTracker
	sink          destinationSink
	numShards     int
	maxRecordSize int
	counts        []int // per-destination emit count, kept in lockstep with every actual sink.send (resolves spec.md 9's OutputToAllShards counter open question)
}

func newRoutingEmitter(sink destinationSink, numShards, maxRecordSize int) *routingEmitter {
	return &routingEmitter{
		sink:          sink,
		numShards:     numShards,
		maxRecordSize: maxRecordSize,
		counts:        make([]int, numShards),
	}
}

func (e *routingEmitter) Output(key, value []byte) {
	e.OutputToShard(hashutil.Shard(key, e.numShards), key, value)
}

func (e *routingEmitter) OutputToShard(shard int, key, value []byte) {
	if e.err != nil {
		return
	}
	if shard == mrlite.AllShards {
		e.OutputToAllShards(key, value)
		return
	}
	if shard < 0 || shard >= e.numShards {
		e.fail(errors.Wrapf(ErrFatal, "shard %d out of range [0, %d)", shard, e.numShards))
		return
	}
	e.emitOne(shard, key, value)
}

func (e *routingEmitter) OutputToAllShards(key, value []byte) {
	for i := 0; i < e.numShards; i++ {
		if e.err != nil {
			return
		}
		e.emitOne(i, key, value)
	}
}

func (e *routingEmitter) emitOne(shard int, key, value []byte) {
	if len(key)+len(value)+8 > e.maxRecordSize {
		e.fail(errors.Wrapf(ErrOversizeRecord, "record of %d bytes exceeds max_map_output_size", len(key)+len(value)+8))
		return
	}
	if err := e.sink.send(shard, key, value); err != nil {
		e.fail(errors.Wrap(err, "driver: routing emit"))
		return
	}
	e.counts[shard]++
}

// mapOnlyEmitter is handed to Mapper.Map when the job has no reducers
// (map_only): Output writes straight to the single local output writer,
// and OutputToShard/OutputToAllShards are a user-contract violation
// (spec.md 4.5).
type mapOnlyEmitter struct {
	faultTracker
	writer ioadapters.Writer
}

func newMapOnlyEmitter(writer ioadapters.Writer) *mapOnlyEmitter {
	return &mapOnlyEmitter{writer: writer}
}

func (e *mapOnlyEmitter) Output(key, value []byte) {
	if e.err != nil {
		return
	}
	if err := e.writer.Write(key, value); err != nil {
		e.fail(errors.Wrap(err, "driver: map-only write"))
	}
}

func (e *mapOnlyEmitter) OutputToShard(int, []byte, []byte) {
	e.fail(errors.Wrap(ErrUserContract, "OutputToShard called from a map-only job"))
}

func (e *mapOnlyEmitter) OutputToAllShards([]byte, []byte) {
	e.fail(errors.Wrap(ErrUserContract, "OutputToAllShards called from a map-only job"))
}

// channelEmitter is handed to reducer user code (incremental and batch
// alike): Output/OutputToShard/OutputToAllShards address the job's
// indexed output channels directly, per spec.md 4.5's "Output channels
// are indexed [0, C)".
type channelEmitter struct {
	faultTracker
	writers []ioadapters.Writer
}

func newChannelEmitter(writers []ioadapters.Writer) *channelEmitter {
	return &channelEmitter{writers: writers}
}

func (e *channelEmitter) Output(key, value []byte) {
	e.writeChannel(0, key, value)
}

func (e *channelEmitter) OutputToShard(channel int, key, value []byte) {
	if e.err != nil {
		return
	}
	if channel == mrlite.AllShards {
		e.OutputToAllShards(key, value)
		return
	}
	e.writeChannel(channel, key, value)
}

func (e *channelEmitter) OutputToAllShards(key, value []byte) {
	for i := range e.writers {
		if e.err != nil {
			return
		}
		e.writeChannel(i, key, value)
	}
}

func (e *channelEmitter) writeChannel(i int, key, value []byte) {
	if e.err != nil {
		return
	}
	if i < 0 || i >= len(e.writers) {
		e.fail(errors.Wrapf(ErrFatal, "output channel %d out of range [0, %d)", i, len(e.writers)))
		return
	}
	if err := e.writers[i].Write(key, value); err != nil {
		e.fail(errors.Wrap(err, "driver: channel write"))
	}
}
