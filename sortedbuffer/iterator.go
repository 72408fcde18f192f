package sortedbuffer

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/mrlite/mapreduce-lite/wire"
)

// runFile tracks one open spill file's current position: the key it is
// primed on, how many values remain under that key, and an io.Reader
// wrapping the file for the next read.
type runFile struct {
	index          int
	f              *os.File
	br             *bufio.Reader
	currentKey     []byte
	remainingInKey uint32
	exhausted      bool
}

func openRunFile(filebase string, index int) (*runFile, error) {
	name := RunFilename(filebase, index)
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "sortedbuffer: open run file %q", name)
	}
	rf := &runFile{index: index, f: f, br: bufio.NewReader(f)}
	if err := rf.loadKey(); err != nil {
		return nil, err
	}
	return rf, nil
}

// loadKey reads the next group's key and value count. It sets exhausted
// on a clean EOF (no more groups in this file).
func (rf *runFile) loadKey() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(rf.br, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			rf.exhausted = true
			return nil
		}
		return errors.Wrap(err, "sortedbuffer: read group key length")
	}
	klen := binary.LittleEndian.Uint32(lenBuf[:])
	key := make([]byte, klen)
	if _, err := io.ReadFull(rf.br, key); err != nil {
		return errors.Wrap(err, "sortedbuffer: read group key")
	}
	n, err := wire.ReadVarint32(rf.br)
	if err != nil {
		return errors.Wrap(err, "sortedbuffer: read group count")
	}
	rf.currentKey = key
	rf.remainingInKey = n
	return nil
}

// loadValue reads the next value under the current key. ok is false once
// the current key's values are exhausted.
func (rf *runFile) loadValue() (value []byte, ok bool, err error) {
	if rf.remainingInKey == 0 {
		return nil, false, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(rf.br, lenBuf[:]); err != nil {
		return nil, false, errors.Wrap(err, "sortedbuffer: read value length")
	}
	vlen := binary.LittleEndian.Uint32(lenBuf[:])
	value = make([]byte, vlen)
	if _, err := io.ReadFull(rf.br, value); err != nil {
		return nil, false, errors.Wrap(err, "sortedbuffer: read value")
	}
	rf.remainingInKey--
	return value, true, nil
}

func (rf *runFile) close() error {
	return rf.f.Close()
}

// fileHeap is a min-heap of runFiles ordered by currentKey, the same
// binary-heap idiom SagerNet-smux's session.go uses container/heap for.
type fileHeap []*runFile

func (h fileHeap) Len() int { return len(h) }
func (h fileHeap) Less(i, j int) bool {
	return string(h[i].currentKey) < string(h[j].currentKey)
}
func (h fileHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *fileHeap) Push(x any)        { *h = append(*h, x.(*runFile)) }
func (h *fileHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Iterator is the grouped merge view over a SortedBuffer's run files:
// keys ascending, and for each key every value across every run file,
// before advancing (spec.md 4.4).
type Iterator struct {
	files      fileHeap
	valueFiles []*runFile // never populated: Value/Next read from the heap-top file directly
	currentKey []byte
	done       bool
	value      []byte
	haveValue  bool
}

// NewIterator opens numRuns run files under filebase and primes the
// merge, per spec.md 4.4's "grouped merge iterator".
func NewIterator(filebase string, numRuns int) (*Iterator, error) {
	it := &Iterator{}
	for i := 0; i < numRuns; i++ {
		rf, err := openRunFile(filebase, i)
		if err != nil {
			it.closeAll()
			return nil, err
		}
		if rf.exhausted {
			_ = rf.close()
			continue
		}
		it.files = append(it.files, rf)
	}
	heap.Init(&it.files)
	if it.files.Len() > 0 {
		it.currentKey = it.files[0].currentKey
	}
	it.advanceValue()
	return it, nil
}

func (it *Iterator) closeAll() {
	for _, rf := range it.files {
		_ = rf.close()
	}
}

// Key returns the current group's key.
func (it *Iterator) Key() []byte { return it.currentKey }

// Value returns the current value under the current key.
func (it *Iterator) Value() []byte { return it.value }

// Done reports whether the current key has no more values across any
// file, and the caller must call NextKey before Value/Next again.
func (it *Iterator) Done() bool { return it.done }

// FinishedAll reports whether every run file has been fully consumed.
func (it *Iterator) FinishedAll() bool { return it.files.Len() == 0 }

// Next advances to the next value under the current key, loading more
// values or re-sifting the heap as files exhaust the current key.
// Returns false once Done() becomes true.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	it.advanceValue()
	return !it.done
}

// advanceValue pulls the next value for the current key out of the
// top-of-heap file, rotating files in/out of the heap as their current
// key's values or the files themselves are exhausted.
func (it *Iterator) advanceValue() {
	if it.files.Len() == 0 {
		it.done = true
		it.haveValue = false
		return
	}

	top := it.files[0]
	value, ok, err := top.loadValue()
	if err != nil {
		panic(errors.Wrap(err, "sortedbuffer: iterator read error"))
	}
	if ok {
		it.value = value
		it.haveValue = true
		return
	}

	// top file exhausted its values under currentKey: load its next key
	// (if any) and re-sift, or drop it from the heap.
	if err := top.loadKey(); err != nil {
		panic(errors.Wrap(err, "sortedbuffer: iterator read error"))
	}
	if top.exhausted {
		heap.Pop(&it.files)
		_ = top.close()
	} else {
		heap.Fix(&it.files, 0)
	}

	if it.files.Len() == 0 || string(it.files[0].currentKey) != string(it.currentKey) {
		it.done = true
		it.haveValue = false
		return
	}

	// another file also holds the current key; load its first value.
	it.advanceValue()
}

// NextKey adopts the new heap-top key as current and clears Done. The
// caller must have observed Done() == true first.
func (it *Iterator) NextKey() {
	if !it.done {
		panic("sortedbuffer: NextKey called before Done")
	}
	if it.files.Len() == 0 {
		return
	}
	it.currentKey = it.files[0].currentKey
	it.done = false
	it.advanceValue()
}

// Close releases any run files still open (used when abandoning an
// iterator before FinishedAll).
func (it *Iterator) Close() error {
	it.closeAll()
	it.files = nil
	return nil
}
