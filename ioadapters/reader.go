// Package ioadapters provides the thin, named collaborators spec.md
// treats as out-of-scope but still needs concrete interfaces for:
// record-format readers, output writers, and glob-based input matching.
package ioadapters

import (
	"bufio"
	"io"

	"github.com/mrlite/mapreduce-lite/wire"
	"github.com/pkg/errors"
)

// Reader yields successive (key, value) pairs from one input shard. Read
// returns ok=false (and a nil error) once the shard is exhausted.
type Reader interface {
	Read() (key, value []byte, ok bool, err error)
}

// NewTextReader returns a Reader over line-oriented text: each line
// becomes a record with an empty key and the line (sans trailing
// newline) as the value, mirroring dgryski-dmrgo's readLineValue.
func NewTextReader(r io.Reader) Reader {
	return &textReader{br: bufio.NewReader(r)}
}

type textReader struct {
	br *bufio.Reader
}

func (t *textReader) Read() ([]byte, []byte, bool, error) {
	line, err := t.br.ReadString('\n')
	if len(line) == 0 && err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, false, nil
		}
		return nil, nil, false, errors.Wrap(err, "ioadapters: text read")
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return nil, []byte(line), true, nil
}

// NewFramedReader returns a Reader over the length-prefixed framed record
// format (the "protofile" input_format), reusing wire.ReadRecord.
func NewFramedReader(r io.Reader) Reader {
	return &framedReader{r: r}
}

type framedReader struct {
	r io.Reader
}

func (f *framedReader) Read() ([]byte, []byte, bool, error) {
	key, value, ok, err := wire.ReadRecord(f.r)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "ioadapters: framed read")
	}
	return key, value, ok, nil
}
