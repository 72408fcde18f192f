package transport

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrlite/mapreduce-lite/queue"
	"github.com/mrlite/mapreduce-lite/wire"
)

// MapperTransport owns R outgoing sockets and R outbound SignalingQueues,
// one per reducer destination (spec.md 4.3).
type MapperTransport struct {
	queues     []*queue.SignalingQueue
	group      *errgroup.Group
	maxMessage int
	log        zerolog.Logger
}

// NewMapperTransport connects to every address in reducers and starts
// one send loop per destination. queueBytes bounds each outbound queue
// (Q_m per spec.md 6); maxMessage bounds the largest single framed
// payload, 8-byte klen/vlen header included (the driver passes
// max_map_output_size, which already counts that header).
func NewMapperTransport(ctx context.Context, reducers []string, queueBytes, maxMessage int, log zerolog.Logger) (*MapperTransport, error) {
	t := &MapperTransport{
		maxMessage: maxMessage,
		log:        log,
	}
	group, _ := errgroup.WithContext(ctx)
	t.group = group

	for i, addr := range reducers {
		sock, err := Dial(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "transport: connecting to reducer %d", i)
		}
		q := queue.New(queueBytes, 1).WithLogger(log)
		t.queues = append(t.queues, q)

		conn := newSendConnector(sock, q, log.With().Int("reducer", i).Logger())
		group.Go(func() error {
			return conn.run(maxMessage)
		})
	}
	return t, nil
}

// Send routes (key, value) to destination shard's outbound queue,
// blocking when that destination's queue is full (backpressure, spec.md
// 5). A negative queue return (oversize payload, or the queue already
// closed) is a fatal transport error.
func (t *MapperTransport) Send(shard int, key, value []byte) error {
	payload := wire.EncodeInner(key, value)
	if len(payload) > t.maxMessage {
		return errors.Errorf("transport: record of %d bytes exceeds max_map_output_size", len(payload))
	}
	rc := t.queues[shard].Add(payload, true)
	if rc < 0 {
		return errors.Errorf("transport: send to shard %d rejected (oversize or closed)", shard)
	}
	return nil
}

// NumShards reports the number of reducer destinations.
func (t *MapperTransport) NumShards() int { return len(t.queues) }

// Done signals end-of-stream on every destination queue. Each send loop
// drains its queue and then transmits the terminator frame.
func (t *MapperTransport) Done() {
	for _, q := range t.queues {
		q.Signal(0)
	}
}

// Wait blocks until every send loop has transmitted its terminator frame
// and returns the first fatal error seen, if any.
func (t *MapperTransport) Wait() error {
	return t.group.Wait()
}

// ReducerTransport owns M incoming sockets and one inbound
// SignalingQueue (spec.md 4.3).
type ReducerTransport struct {
	inbound   *queue.SignalingQueue
	group     *errgroup.Group
	maxRecord int
	log       zerolog.Logger
}

// NewReducerTransport binds addr, accepts exactly numMappers connections,
// and starts one receive loop per connection feeding a shared inbound
// queue of queueBytes capacity (Q_r per spec.md 6). maxRecord bounds the
// largest single framed payload a sender may legally transmit, 8-byte
// klen/vlen header included (the driver passes max_map_output_size),
// matching the bound MapperTransport enforces on the send side.
func NewReducerTransport(ctx context.Context, addr string, numMappers, queueBytes, maxRecord int, log zerolog.Logger) (*ReducerTransport, error) {
	ln, err := Listen(addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return NewReducerTransportFromListener(ctx, ln, numMappers, queueBytes, maxRecord, log)
}

// NewReducerTransportFromListener is NewReducerTransport split so callers
// (and tests) can learn the bound address — e.g. an OS-assigned ephemeral
// port from Listen(":0") — before the mapper side dials in.
func NewReducerTransportFromListener(ctx context.Context, ln *Listener, numMappers, queueBytes, maxRecord int, log zerolog.Logger) (*ReducerTransport, error) {
	inbound := queue.New(queueBytes, numMappers).WithLogger(log)
	group, _ := errgroup.WithContext(ctx)
	t := &ReducerTransport{inbound: inbound, group: group, maxRecord: maxRecord, log: log}

	for i := 0; i < numMappers; i++ {
		sock, err := ln.Accept()
		if err != nil {
			return nil, errors.Wrapf(err, "transport: accepting mapper %d", i)
		}
		conn := newReceiveConnector(sock, inbound, i, log.With().Int("mapper", i).Logger())
		group.Go(func() error {
			return conn.run()
		})
	}
	return t, nil
}

// Receive blocks for the next (key, value) pair. ok is false once every
// mapper has signaled end-of-stream and the queue has drained.
func (t *ReducerTransport) Receive() (key, value []byte, ok bool, err error) {
	// sized to maxRecord (header included), the same bound the sender
	// enforces in MapperTransport.Send.
	buf := make([]byte, t.maxRecord)
	n := t.inbound.Remove(buf, true)
	if n == 0 {
		return nil, nil, false, nil
	}
	if n < 0 {
		return nil, nil, false, errors.New("transport: inbound payload exceeds staging buffer")
	}
	key, value, err = wire.DecodeRecord(buf[:n])
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "transport: decode inbound record")
	}
	return key, value, true, nil
}

// Wait blocks until every receive loop has observed its sender's
// terminator frame (or a fatal error) and returns the first such error.
func (t *ReducerTransport) Wait() error {
	return t.group.Wait()
}
