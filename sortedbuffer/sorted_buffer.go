// Package sortedbuffer implements the external-sort ingest and grouped
// merge iteration described in spec.md 4.4: a bounded-memory arena that
// flushes to sorted, group-deduplicated spill files, and a k-way merge
// iterator over those files.
package sortedbuffer

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrlite/mapreduce-lite/wire"
)

// kv is one pending (key, value) pair recorded against the arena.
type kv struct {
	key   piece
	value piece
}

// SortedBuffer ingests an unbounded stream of (key, value) pairs within a
// bounded memory budget, spilling sorted, grouped runs to
// "<filebase>-<10-digit index>" files as the budget fills.
type SortedBuffer struct {
	filebase string
	arena    *arena
	pending  []kv
	numRuns  int
	log      zerolog.Logger
}

// New returns a SortedBuffer that spills to files named
// "<filebase>-NNNNNNNNNN" and never holds more than budgetBytes of live
// payload between flushes.
func New(filebase string, budgetBytes int) *SortedBuffer {
	if budgetBytes <= 0 {
		panic("sortedbuffer: budgetBytes must be positive")
	}
	return &SortedBuffer{
		filebase: filebase,
		arena:    newArena(budgetBytes),
		log:      zerolog.Nop(),
	}
}

// WithLogger attaches a logger and returns the buffer for chaining.
func (b *SortedBuffer) WithLogger(l zerolog.Logger) *SortedBuffer {
	b.log = l
	return b
}

// RunFilename returns the path of run index i under filebase, per
// spec.md 6's "<filebase>-<10-digit-index>" spill naming.
func RunFilename(filebase string, index int) string {
	return fmt.Sprintf("%s-%010d", filebase, index)
}

// NumRuns reports how many run files have been written so far.
func (b *SortedBuffer) NumRuns() int {
	return b.numRuns
}

// Insert records one (key, value) pair. If the arena cannot hold it, a
// Flush happens first; if it still cannot hold it after flushing, the
// pair itself exceeds the memory budget and Insert returns a fatal
// error (spec.md 4.4).
func (b *SortedBuffer) Insert(key, value []byte) error {
	need := len(key) + len(value)
	if !b.arena.have(need) {
		if err := b.Flush(); err != nil {
			return err
		}
		if !b.arena.have(need) {
			return errors.Wrapf(errArenaExhausted, "key=%q value len=%d", key, len(value))
		}
	}

	kp := b.arena.allocate(key)
	vp := b.arena.allocate(value)
	b.pending = append(b.pending, kv{key: kp, value: vp})
	return nil
}

// Flush stable-sorts the pending pairs by key, writes one run file of
// grouped, key-ascending records, and resets the arena. Flushing an
// empty buffer is a no-op (no empty run file is written).
func (b *SortedBuffer) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}

	sort.SliceStable(b.pending, func(i, j int) bool {
		return lessBytes(b.arena.bytes(b.pending[i].key), b.arena.bytes(b.pending[j].key))
	})

	name := RunFilename(b.filebase, b.numRuns)
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrapf(err, "sortedbuffer: create run file %q", name)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := writeRuns(bw, b.arena, b.pending); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrapf(err, "sortedbuffer: flush run file %q", name)
	}

	b.numRuns++
	b.pending = b.pending[:0]
	b.arena.reset()
	b.log.Debug().Str("file", name).Msg("sortedbuffer: spilled run")
	return nil
}

// writeRuns walks the sorted pending list and writes one group per
// maximal run of equal keys: [key][varint n][value_1]...[value_n].
func writeRuns(w *bufio.Writer, a *arena, pending []kv) error {
	i := 0
	for i < len(pending) {
		j := i + 1
		key := a.bytes(pending[i].key)
		for j < len(pending) && equalBytes(a.bytes(pending[j].key), key) {
			j++
		}

		if err := writeLengthPrefixed(w, key); err != nil {
			return err
		}
		var varintBuf []byte
		varintBuf = wire.PutVarint32(varintBuf, uint32(j-i))
		if _, err := w.Write(varintBuf); err != nil {
			return errors.Wrap(err, "sortedbuffer: write group count")
		}
		for k := i; k < j; k++ {
			if err := writeLengthPrefixed(w, a.bytes(pending[k].value)); err != nil {
				return err
			}
		}
		i = j
	}
	return nil
}

func writeLengthPrefixed(w *bufio.Writer, b []byte) error {
	var lenBuf []byte
	lenBuf = appendUint32LE(lenBuf, uint32(len(b)))
	if _, err := w.Write(lenBuf); err != nil {
		return errors.Wrap(err, "sortedbuffer: write length prefix")
	}
	if _, err := w.Write(b); err != nil {
		return errors.Wrap(err, "sortedbuffer: write payload")
	}
	return nil
}

func appendUint32LE(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func lessBytes(a, b []byte) bool {
	return string(a) < string(b)
}

func equalBytes(a, b []byte) bool {
	return string(a) == string(b)
}

// RemoveRuns deletes the run files written so far. Callers invoke this
// after a BatchReducer has finished iterating (spec.md 6 "persisted
// state... reducer deletes its spill files on successful Finalize").
func (b *SortedBuffer) RemoveRuns() error {
	return RemoveRunFiles(b.filebase, b.numRuns)
}

// RemoveRunFiles deletes the numRuns run files named under filebase. It
// is a free function, not tied to a *SortedBuffer instance, because a
// batch reducer deletes spill files it only ever read via an Iterator,
// never wrote itself (spec.md 6 "reducer deletes its spill files on
// successful Finalize").
func RemoveRunFiles(filebase string, numRuns int) error {
	for i := 0; i < numRuns; i++ {
		name := RunFilename(filebase, i)
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "sortedbuffer: remove run file %q", name)
		}
	}
	return nil
}
