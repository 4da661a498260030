package conn

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ValentinKolb/sedarpc/rpc/transport/buffer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/sock"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
	"golang.org/x/sys/unix"
)

// maxSendfileChunk bounds a single sendfile call
const maxSendfileChunk = 1 << 30

// Outbound carries the optional payload parts that follow a message
type Outbound struct {
	// Attachment is sent in blocks of at most MaxBlockSize bytes. The
	// slice must not be modified until the send completed.
	Attachment []byte

	// File streams FileLen bytes starting at FileOffset as the last part
	File       *os.File
	FileOffset int64
	FileLen    int64

	// OnSent fires once after the last vector of the frame completed,
	// err is nil if every vector was transferred
	OnSent func(err error)
}

// --------------------------------------------------------------------------
// Queue primitives
// --------------------------------------------------------------------------

// Send posts vectors and makes progress right away if the socket is known
// to be writable, otherwise they wait for the next writability event.
// Vectors posted by one call are never interleaved with another call's.
func (c *Connection) Send(vs ...*buffer.Vector) bool {
	if !c.PostSend(vs...) {
		return false
	}
	if c.writable.Load() {
		c.SendProgress()
	}
	return true
}

// PostSend enqueues without attempting any transfer. A closed connection
// accepts nothing.
func (c *Connection) PostSend(vs ...*buffer.Vector) bool {
	if c.cleaning.Load() {
		return false
	}
	c.touch()
	return c.sendQ.Post(vs...)
}

// SendProgress transfers queued vectors until the queue is empty or the
// socket would block. It is the only method writing to the socket.
func (c *Connection) SendProgress() buffer.Status {
	if c.connecting.Load() {
		return buffer.StatusBlocked
	}
	st := c.sendQ.Progress(c.sendOnce)
	if st == buffer.StatusBroken {
		c.fail(fmt.Errorf("send: %w", buffer.ErrBroken))
	}
	return st
}

// sendOnce is the send TransferFunc. It keeps the writable flag current,
// which is only ever changed while driving the queue.
func (c *Connection) sendOnce(v *buffer.Vector) (int, error) {
	for {
		var n int
		var err error
		if v.IsFile() {
			f, off := v.File()
			count := v.Remaining()
			if count > maxSendfileChunk {
				count = maxSendfileChunk
			}
			n, err = unix.Sendfile(c.fd, int(f.Fd()), &off, count)
		} else {
			n, err = unix.SendmsgN(c.fd, v.Pending(), nil, nil, unix.MSG_NOSIGNAL)
		}

		switch {
		case err == nil:
			if n > 0 {
				c.writable.Store(true)
				c.touch()
				c.env.stats().BytesSent(n)
			}
			return n, nil
		case sock.Interrupted(err):
			continue
		case sock.WouldBlock(err):
			c.writable.Store(false)
			return 0, buffer.ErrUnavailable
		default:
			Logger.Debugf("%s: send: %v", c, err)
			return 0, fmt.Errorf("%w: %v", buffer.ErrBroken, err)
		}
	}
}

// --------------------------------------------------------------------------
// Framing
// --------------------------------------------------------------------------

// SendMessage frames msg with the optional payload of out and queues all of
// it as one unit
func (c *Connection) SendMessage(msg wire.Decoded, out Outbound) error {
	vs, err := c.frame(msg, out)
	if err != nil {
		return err
	}
	if !c.Send(vs...) {
		return ErrClosed
	}
	return nil
}

// SendRequest assigns the next request identifier, registers a pending call
// and sends the request. The call fails with a connection failure if the
// frame cannot be transferred.
func (c *Connection) SendRequest(payload any, out Outbound) (*PendingCall, error) {
	id := c.nextID.Add(1)
	p := newPendingCall(c, id)
	if err := c.addPendingCall(p); err != nil {
		return nil, err
	}

	onSent := out.OnSent
	out.OnSent = func(err error) {
		if err != nil {
			if taken, ok := c.takePendingCall(id); ok {
				taken.resolve(Result{Outcome: OutcomeConnectionFailure})
			}
		}
		if onSent != nil {
			onSent(err)
		}
	}

	if err := c.SendMessage(&wire.Request{ID: id, Payload: payload}, out); err != nil {
		c.removePendingCall(id)
		return nil, err
	}
	return p, nil
}

// SendResponse answers the request with the given identifier
func (c *Connection) SendResponse(id uint64, payload any, out Outbound) error {
	return c.SendMessage(&wire.Response{ID: id, Payload: payload}, out)
}

// SendError answers the request with the codec's error response
func (c *Connection) SendError(id uint64, reason string) error {
	return c.SendMessage(c.env.Codec.ErrorResponse(id, reason), Outbound{})
}

// frame builds the vectors for one message: header, message bytes,
// attachment blocks and file blocks
func (c *Connection) frame(msg wire.Decoded, out Outbound) ([]*buffer.Vector, error) {
	body, err := c.env.Codec.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s %d: %w", msg.Tag(), msg.RequestID(), err)
	}

	h := wire.Header{
		Tag:           msg.Tag(),
		MessageLen:    int64(len(body)),
		AttachmentLen: int64(len(out.Attachment)),
	}
	if out.File != nil {
		h.FileLen = out.FileLen
	}

	block := c.env.Config.MaxBlockSize
	attChunks := wire.Chunks(out.Attachment, block)
	fileChunks := 0
	if h.FileLen > 0 {
		fileChunks = int((h.FileLen + int64(block) - 1) / int64(block))
	}

	t := &frameTracker{onSent: out.OnSent, stats: c.env.stats()}
	t.left.Store(int32(2 + len(attChunks) + fileChunks))

	hv := buffer.NewOwned(wire.HeaderSize, t.complete)
	if err := h.EncodeTo(hv.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
	}

	vs := make([]*buffer.Vector, 0, 2+len(attChunks)+fileChunks)
	vs = append(vs, hv, buffer.NewBorrowed(body, t.complete))
	for _, chunk := range attChunks {
		vs = append(vs, buffer.NewBorrowed(chunk, t.complete))
	}
	for off := int64(0); off < h.FileLen; off += int64(block) {
		size := int64(block)
		if rest := h.FileLen - off; rest < size {
			size = rest
		}
		vs = append(vs, buffer.NewFile(out.File, out.FileOffset+off, int(size), t.complete))
	}
	return vs, nil
}

// frameTracker fires OnSent once all vectors of a frame completed
type frameTracker struct {
	left   atomic.Int32
	failed atomic.Bool
	onSent func(err error)
	stats  Stats
}

func (t *frameTracker) complete(_ *buffer.Vector, state buffer.State) {
	t.stats.VectorCompleted(true, state)
	if state != buffer.StateDone {
		t.failed.Store(true)
	}
	if t.left.Add(-1) != 0 || t.onSent == nil {
		return
	}
	if t.failed.Load() {
		t.onSent(ErrSendFailed)
		return
	}
	t.onSent(nil)
}
