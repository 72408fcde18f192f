package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startReducer(t *testing.T, numMappers, queueBytes, maxRecord int) (*ReducerTransport, string) {
	t.Helper()
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	resultCh := make(chan *ReducerTransport, 1)
	errCh := make(chan error, 1)
	go func() {
		defer ln.Close()
		rt, err := NewReducerTransportFromListener(context.Background(), ln, numMappers, queueBytes, maxRecord, zerolog.Nop())
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- rt
	}()
	return waitReducer(t, resultCh, errCh), addr
}

func waitReducer(t *testing.T, resultCh chan *ReducerTransport, errCh chan error) *ReducerTransport {
	t.Helper()
	select {
	case rt := <-resultCh:
		return rt
	case err := <-errCh:
		t.Fatalf("reducer transport setup failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reducer transport")
	}
	return nil
}

func TestTransportSendReceiveRoundTrip(t *testing.T) {
	// Because NewReducerTransportFromListener blocks in Accept until all
	// mappers dial in, stand the reducer side up in a background
	// goroutine before dialing from the mapper side.
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	type result struct {
		rt  *ReducerTransport
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		defer ln.Close()
		rt, err := NewReducerTransportFromListener(context.Background(), ln, 1, 1<<20, 1<<20, zerolog.Nop())
		resCh <- result{rt, err}
	}()

	mt, err := NewMapperTransport(context.Background(), []string{addr}, 1<<20, 1<<16, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, mt.Send(0, []byte("fox"), []byte("1")))
	mt.Done()
	require.NoError(t, mt.Wait())

	res := <-resCh
	require.NoError(t, res.err)
	rt := res.rt

	key, value, ok, err := rt.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fox", string(key))
	assert.Equal(t, "1", string(value))

	_, _, ok, err = rt.Receive()
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, rt.Wait())
}

func TestTransportTerminatorPropagationMultipleMappers(t *testing.T) {
	const numMappers = 3
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	type result struct {
		rt  *ReducerTransport
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		defer ln.Close()
		rt, err := NewReducerTransportFromListener(context.Background(), ln, numMappers, 1<<20, 1<<20, zerolog.Nop())
		resCh <- result{rt, err}
	}()

	var mappers []*MapperTransport
	for i := 0; i < numMappers; i++ {
		mt, err := NewMapperTransport(context.Background(), []string{addr}, 1<<20, 1<<16, zerolog.Nop())
		require.NoError(t, err)
		mappers = append(mappers, mt)
	}

	for _, mt := range mappers {
		mt.Done()
		require.NoError(t, mt.Wait())
	}

	res := <-resCh
	require.NoError(t, res.err)
	rt := res.rt

	_, _, ok, err := rt.Receive()
	require.NoError(t, err)
	assert.False(t, ok, "Remove must return 0 exactly once all mappers have signaled with no data")
	require.NoError(t, rt.Wait())
}

func TestTransportFanOutAllShards(t *testing.T) {
	const numReducers = 2
	var addrs []string
	var resCh []chan *ReducerTransport
	var errChs []chan error

	for i := 0; i < numReducers; i++ {
		ln, err := Listen("127.0.0.1:0")
		require.NoError(t, err)
		addrs = append(addrs, ln.Addr().String())

		rc := make(chan *ReducerTransport, 1)
		ec := make(chan error, 1)
		resCh = append(resCh, rc)
		errChs = append(errChs, ec)
		go func(ln *Listener) {
			defer ln.Close()
			rt, err := NewReducerTransportFromListener(context.Background(), ln, 1, 1<<20, 1<<20, zerolog.Nop())
			if err != nil {
				ec <- err
				return
			}
			rc <- rt
		}(ln)
	}

	mt, err := NewMapperTransport(context.Background(), addrs, 1<<20, 1<<16, zerolog.Nop())
	require.NoError(t, err)

	for shard := 0; shard < mt.NumShards(); shard++ {
		require.NoError(t, mt.Send(shard, []byte("x"), []byte("1")))
	}
	mt.Done()
	require.NoError(t, mt.Wait())

	total := 0
	for i := 0; i < numReducers; i++ {
		rt := waitReducer(t, resCh[i], errChs[i])
		key, _, ok, err := rt.Receive()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "x", string(key))
		total++
		_, _, ok, err = rt.Receive()
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, rt.Wait())
	}
	assert.Equal(t, numReducers, total)
}

func TestTransportReceiveHandlesRecordLargerThanOneMiB(t *testing.T) {
	// max_map_output_size defaults to 64<<20; a legal record between 1MiB
	// and that bound must round-trip, not just records under 1<<20.
	const maxRecord = 4 << 20
	rt, addr := startReducer(t, 1, maxRecord, maxRecord)

	mt, err := NewMapperTransport(context.Background(), []string{addr}, maxRecord, maxRecord, zerolog.Nop())
	require.NoError(t, err)

	big := make([]byte, 2<<20)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, mt.Send(0, []byte("bigkey"), big))
	mt.Done()
	require.NoError(t, mt.Wait())

	key, value, ok, err := rt.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bigkey", string(key))
	assert.Equal(t, big, value)

	_, _, ok, err = rt.Receive()
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, rt.Wait())
}

func TestOversizeRecordRejected(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	go func() {
		defer ln.Close()
		_, _ = NewReducerTransportFromListener(context.Background(), ln, 1, 1<<20, 1<<20, zerolog.Nop())
	}()

	mt, err := NewMapperTransport(context.Background(), []string{addr}, 1<<20, 16, zerolog.Nop())
	require.NoError(t, err)

	err = mt.Send(0, []byte(fmt.Sprintf("%0100d", 0)), []byte("v"))
	assert.Error(t, err)

	mt.Done()
	require.NoError(t, mt.Wait())
}
