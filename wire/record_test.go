package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, []byte("k"), []byte("v")))

	key, value, ok, err := ReadRecord(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "k", string(key))
	assert.Equal(t, "v", string(value))
}

func TestWriteReadRecordEmptyKeyAndValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, nil, nil))

	key, value, ok, err := ReadRecord(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, key)
	assert.Empty(t, value)
}

func TestReadFrameTerminator(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(PutFrame(nil, nil))

	payload, ok, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, payload, 0)
}

func TestReadFrameCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	_, ok, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadFrameShort(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(PutFrame(nil, []byte("hello")))
	truncated := bytes.NewReader(buf.Bytes()[:6])
	_, _, err := ReadFrame(truncated)
	assert.Error(t, err)
}

func TestVarint32RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	for _, n := range []uint32{0, 1, 127, 128, 300, 1 << 20} {
		buf.Reset()
		buf.Write(PutVarint32(nil, n))
		got, err := ReadVarint32(bufio.NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}
