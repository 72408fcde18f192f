// Package wire implements the on-wire and on-disk framing shared by the
// transport and the sorted-buffer spill files (spec.md 3, 6): a 4-byte
// little-endian length prefix followed by that many bytes, and varint
// group counts for sorted-buffer runs.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// LengthPrefixSize is the width of every frame's length prefix.
const LengthPrefixSize = 4

// ErrShortFrame is returned when a frame's declared length prefix claims
// more bytes than the backing reader can supply before EOF.
var ErrShortFrame = errors.New("wire: short frame")

// PutFrame appends a length-prefixed frame (len(payload) then payload) to
// dst and returns the result. A zero-length payload is a valid frame and
// is used as the end-of-stream terminator.
func PutFrame(dst []byte, payload []byte) []byte {
	var lenBuf [LengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, payload...)
	return dst
}

// ReadFrame reads one length-prefixed frame from r. ok is false only on a
// clean EOF before any bytes of the next frame were read (normal stream
// end without an explicit terminator frame).
func ReadFrame(r io.Reader) (payload []byte, ok bool, err error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "wire: read frame length")
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return []byte{}, true, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, errors.Wrap(ErrShortFrame, err.Error())
	}
	return buf, true, nil
}

// WriteRecord writes a (key, value) pair as the payload
// [klen][vlen][key][value], itself framed with a length prefix, per
// spec.md 3's record wire shape.
func WriteRecord(w io.Writer, key, value []byte) error {
	payload := EncodeRecord(key, value)
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: write record")
	}
	return nil
}

// EncodeInner builds the unframed [klen][vlen][key][value] payload shared
// by the wire protocol's record frames and the transport's SignalingQueue
// messages (which carry this same payload, framed separately by the
// Connector at send time).
func EncodeInner(key, value []byte) []byte {
	inner := make([]byte, 0, 2*LengthPrefixSize+len(key)+len(value))
	var klenBuf, vlenBuf [LengthPrefixSize]byte
	binary.LittleEndian.PutUint32(klenBuf[:], uint32(len(key)))
	binary.LittleEndian.PutUint32(vlenBuf[:], uint32(len(value)))
	inner = append(inner, klenBuf[:]...)
	inner = append(inner, vlenBuf[:]...)
	inner = append(inner, key...)
	inner = append(inner, value...)
	return inner
}

// EncodeRecord frames a (key, value) pair as a single length-prefixed
// buffer: outer length, then klen, vlen, key bytes, value bytes.
func EncodeRecord(key, value []byte) []byte {
	return PutFrame(nil, EncodeInner(key, value))
}

// ReadRecord reads one framed (key, value) pair written by WriteRecord.
func ReadRecord(r io.Reader) (key, value []byte, ok bool, err error) {
	payload, ok, err := ReadFrame(r)
	if err != nil || !ok || len(payload) == 0 {
		return nil, nil, ok, err
	}
	key, value, err = DecodeRecord(payload)
	return key, value, true, err
}

// DecodeRecord parses the inner payload of a framed record (as produced
// by EncodeRecord, minus its outer length prefix) into key and value.
func DecodeRecord(payload []byte) (key, value []byte, err error) {
	if len(payload) < 2*LengthPrefixSize {
		return nil, nil, errors.New("wire: record payload too short")
	}
	klen := binary.LittleEndian.Uint32(payload[0:4])
	vlen := binary.LittleEndian.Uint32(payload[4:8])
	rest := payload[8:]
	if uint64(klen)+uint64(vlen) != uint64(len(rest)) {
		return nil, nil, errors.New("wire: record length mismatch")
	}
	key = rest[:klen]
	value = rest[klen:]
	return key, value, nil
}

// PutVarint32 appends n, varint-encoded with the canonical 7-bit
// continuation scheme (low 7 bits per byte, high bit set = more bytes
// follow) per spec.md 6. This is the same LEB128-style scheme stdlib
// binary.PutUvarint implements.
func PutVarint32(dst []byte, n uint32) []byte {
	var buf [binary.MaxVarintLen32]byte
	w := binary.PutUvarint(buf[:], uint64(n))
	return append(dst, buf[:w]...)
}

// ReadVarint32 reads a varint32 from r.
func ReadVarint32(r io.ByteReader) (uint32, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, errors.Wrap(err, "wire: read varint32")
	}
	return uint32(v), nil
}
