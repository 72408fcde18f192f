package transport

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrlite/mapreduce-lite/queue"
)

// sendConnector drains one outbound SignalingQueue onto one socket,
// framing each payload with a 4-byte length prefix and finishing with a
// zero-length terminator frame once the queue reports Closed(). This is
// the mapper side of spec.md 4.3's "send loop", collapsed from the
// original's readiness-polling event loop into one goroutine doing
// blocking queue reads and blocking socket writes — the equivalent,
// simpler strategy spec.md 9's design notes call out explicitly.
type sendConnector struct {
	sock *FramedSocket
	q    *queue.SignalingQueue
	log  zerolog.Logger
}

func newSendConnector(sock *FramedSocket, q *queue.SignalingQueue, log zerolog.Logger) *sendConnector {
	return &sendConnector{sock: sock, q: q, log: log}
}

// run drains the queue until it closes, then sends the terminator frame.
// It returns a fatal error on any socket failure (spec.md 4.3: "any
// socket error is fatal for the worker").
func (c *sendConnector) run(maxMessage int) error {
	buf := make([]byte, maxMessage)
	for {
		n := c.q.Remove(buf, true)
		switch {
		case n > 0:
			if err := c.sendFrame(buf[:n]); err != nil {
				return err
			}
		case n == 0:
			// every producer signaled and the queue drained: send L=0.
			if err := c.sendFrame(nil); err != nil {
				return err
			}
			return c.sock.CloseWrite()
		default: // n < 0: message exceeded buf, which callers size to the configured max.
			return errors.New("transport: outbound message exceeds buffer")
		}
	}
}

func (c *sendConnector) sendFrame(payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if err := c.sock.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return c.sock.Write(payload)
}

// receiveConnector reads frames off one socket and pushes each complete
// payload into a shared inbound queue, signaling producerID on the
// terminator frame. This is the reducer side of spec.md 4.3's "receive
// loop", one goroutine per sender connection.
type receiveConnector struct {
	sock       *FramedSocket
	q          *queue.SignalingQueue
	producerID int
	log        zerolog.Logger
}

func newReceiveConnector(sock *FramedSocket, q *queue.SignalingQueue, producerID int, log zerolog.Logger) *receiveConnector {
	return &receiveConnector{sock: sock, q: q, producerID: producerID, log: log}
}

func (c *receiveConnector) run() error {
	var lenBuf [4]byte
	for {
		if err := c.sock.Read(lenBuf[:]); err != nil {
			return errors.Wrapf(err, "transport: receive from producer %d", c.producerID)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		if n == 0 {
			c.q.Signal(c.producerID)
			c.log.Debug().Int("producer", c.producerID).Msg("transport: terminator received")
			return nil
		}
		payload := make([]byte, n)
		if err := c.sock.Read(payload); err != nil {
			return errors.Wrapf(err, "transport: receive payload from producer %d", c.producerID)
		}
		if rc := c.q.Add(payload, true); rc < 0 {
			return errors.Errorf("transport: payload from producer %d exceeds inbound queue capacity", c.producerID)
		}
	}
}
