package ioadapters

import (
	"bufio"
	"io"

	"github.com/mrlite/mapreduce-lite/wire"
	"github.com/pkg/errors"
)

// Writer is one indexed output channel (spec.md 4.5). Output(k, v) on a
// Driver always targets channel 0; OutputToShard and friends are a
// Transport/SortedBuffer concern, not a Writer concern.
type Writer interface {
	Write(key, value []byte) error
	Flush() error
}

// NewTextWriter returns a Writer in the "text" output_format: the value
// followed by a newline, key omitted, mirroring dgryski-dmrgo's
// printEmitter.
func NewTextWriter(w io.Writer) Writer {
	return &textWriter{bw: bufio.NewWriter(w)}
}

type textWriter struct {
	bw *bufio.Writer
}

func (t *textWriter) Write(_, value []byte) error {
	if _, err := t.bw.Write(value); err != nil {
		return errors.Wrap(err, "ioadapters: text write")
	}
	return t.bw.WriteByte('\n')
}

func (t *textWriter) Flush() error {
	return errors.Wrap(t.bw.Flush(), "ioadapters: text flush")
}

// NewFramedWriter returns a Writer in the "protofile" output_format: a
// length-prefixed framed record carrying the (key, value) pair.
func NewFramedWriter(w io.Writer) Writer {
	return &framedWriter{bw: bufio.NewWriter(w)}
}

type framedWriter struct {
	bw *bufio.Writer
}

func (f *framedWriter) Write(key, value []byte) error {
	return errors.Wrap(wire.WriteRecord(f.bw, key, value), "ioadapters: framed write")
}

func (f *framedWriter) Flush() error {
	return errors.Wrap(f.bw.Flush(), "ioadapters: framed flush")
}
