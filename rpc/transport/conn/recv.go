package conn

import (
	"fmt"

	"github.com/ValentinKolb/sedarpc/rpc/transport/buffer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/sock"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
	"golang.org/x/sys/unix"
)

// Inbound is a completely received message
type Inbound struct {
	Header     wire.Header
	Message    wire.Decoded
	Attachment []byte

	// File is the name of the stored file payload, empty if the message
	// had none or it was drained
	File    string
	FileLen int64
}

// --------------------------------------------------------------------------
// Queue primitives
// --------------------------------------------------------------------------

// StartReceive arms the connection for the first header. Call it once,
// before the socket is registered for readability.
func (c *Connection) StartReceive() {
	c.postHeader()
}

// Recv posts vectors and tries to fill them right away
func (c *Connection) Recv(vs ...*buffer.Vector) bool {
	if !c.PostRecv(vs...) {
		return false
	}
	c.RecvProgress()
	return true
}

// PostRecv enqueues receive vectors without reading
func (c *Connection) PostRecv(vs ...*buffer.Vector) bool {
	return c.recvQ.Post(vs...)
}

// RecvProgress reads into queued vectors until the socket has no more data.
// It is the only method reading from the socket.
func (c *Connection) RecvProgress() buffer.Status {
	st := c.recvQ.Progress(c.recvOnce)
	if st == buffer.StatusBroken {
		c.fail(fmt.Errorf("receive: %w", buffer.ErrBroken))
	}
	return st
}

func (c *Connection) recvOnce(v *buffer.Vector) (int, error) {
	for {
		n, err := unix.Read(c.fd, v.Pending())
		switch {
		case err == nil && n == 0:
			return 0, fmt.Errorf("%w: peer closed", buffer.ErrBroken)
		case err == nil:
			c.touch()
			c.env.stats().BytesReceived(n)
			return n, nil
		case sock.Interrupted(err):
			continue
		case sock.WouldBlock(err):
			return 0, buffer.ErrUnavailable
		default:
			Logger.Debugf("%s: receive: %v", c, err)
			return 0, fmt.Errorf("%w: %v", buffer.ErrBroken, err)
		}
	}
}

// --------------------------------------------------------------------------
// Receive context (inbound state machine)
// --------------------------------------------------------------------------

// receiveContext is the parse state of the message currently arriving. It
// is created when a header arrived and travels as the callback receiver of
// every vector until the message is complete.
type receiveContext struct {
	c      *Connection
	header wire.Header
	msg    wire.Decoded

	attachment []byte
	remaining  int // vectors left in the attachment phase

	// rejectAfterMessage is set when the header passed but the message
	// has to be answered with an error once its identifier is known
	rejectAfterMessage string

	file    FileTarget
	fileOff int64

	drainLeft int64
	drainNext func()
}

func (c *Connection) postHeader() {
	c.setPhase(PhaseHeader)
	c.PostRecv(buffer.NewOwned(wire.HeaderSize, c.onHeader))
}

func (c *Connection) onHeader(v *buffer.Vector, st buffer.State) {
	c.env.stats().VectorCompleted(false, st)
	if st != buffer.StateDone {
		return
	}

	h, err := wire.DecodeHeader(v.Bytes())
	if err != nil {
		// without lengths there is nothing to resynchronize on
		c.env.stats().ProtocolError()
		c.fail(fmt.Errorf("%w: %v", ErrBadHeader, err))
		return
	}

	rc := &receiveContext{c: c, header: h}
	cfg := c.env.Config

	if h.MessageLen > int64(cfg.MaxMessageSize) {
		c.protocolError(h, "message too large")
		rc.drain(h.Total())
		return
	}
	if h.AttachmentLen > cfg.MaxAttachmentSize {
		// the message is read anyway to answer with an error
		rc.rejectAfterMessage = "attachment too large"
	}

	c.setPhase(PhaseMessage)
	c.PostRecv(buffer.NewOwned(int(h.MessageLen), rc.onMessage))
}

func (rc *receiveContext) onMessage(v *buffer.Vector, st buffer.State) {
	c := rc.c
	c.env.stats().VectorCompleted(false, st)
	if st != buffer.StateDone {
		return
	}
	h := rc.header
	rest := h.AttachmentLen + h.FileLen

	if !h.Tag.Known() {
		c.protocolError(h, "unknown frame type")
		if id, ok := c.env.Codec.PeekRequestID(v.Bytes()); ok {
			rc.reject(id, fmt.Sprintf("unknown frame type %s", h.Tag))
		}
		rc.drain(rest)
		return
	}

	msg, err := c.env.Codec.Decode(h.Tag, v.Bytes())
	if err != nil {
		c.protocolError(h, err.Error())
		rc.undecodable(v.Bytes(), err)
		rc.drain(rest)
		return
	}

	if rc.rejectAfterMessage != "" {
		c.protocolError(h, rc.rejectAfterMessage)
		if _, isReq := msg.(*wire.Request); isReq {
			rc.reject(msg.RequestID(), rc.rejectAfterMessage)
		} else if p, ok := c.takePendingCall(msg.RequestID()); ok {
			p.resolve(Result{Outcome: OutcomeMalformedResponse})
		}
		rc.drain(rest)
		return
	}

	rc.msg = msg
	c.env.stats().MessageReceived(h.Tag)
	rc.startAttachment()
}

// undecodable handles message bytes the codec rejected
func (rc *receiveContext) undecodable(b []byte, err error) {
	c := rc.c
	id, ok := c.env.Codec.PeekRequestID(b)
	if !ok {
		Logger.Warningf("%s: dropping undecodable %s without request id: %v", c, rc.header.Tag, err)
		return
	}
	switch rc.header.Tag {
	case wire.TagRequest:
		rc.reject(id, fmt.Sprintf("undecodable request: %v", err))
	case wire.TagResponse:
		if p, ok := c.takePendingCall(id); ok {
			p.resolve(Result{Outcome: OutcomeMalformedResponse})
		}
	}
}

func (rc *receiveContext) reject(id uint64, reason string) {
	if err := rc.c.SendError(id, reason); err != nil {
		Logger.Debugf("%s: error response for %d not sent: %v", rc.c, id, err)
	}
}

// --------------------------------------------------------------------------
// Attachment phase
// --------------------------------------------------------------------------

// startAttachment reads the attachment into one buffer, in vectors of at
// most MaxBlockSize bytes over consecutive parts of it
func (rc *receiveContext) startAttachment() {
	c := rc.c
	if rc.header.AttachmentLen == 0 {
		rc.startFile()
		return
	}

	c.setPhase(PhaseAttachment)
	rc.attachment = make([]byte, rc.header.AttachmentLen)
	chunks := wire.Chunks(rc.attachment, c.env.Config.MaxBlockSize)
	rc.remaining = len(chunks)

	vs := make([]*buffer.Vector, len(chunks))
	for i, chunk := range chunks {
		vs[i] = buffer.NewBorrowed(chunk, rc.onAttachment)
	}
	c.PostRecv(vs...)
}

func (rc *receiveContext) onAttachment(_ *buffer.Vector, st buffer.State) {
	rc.c.env.stats().VectorCompleted(false, st)
	if st != buffer.StateDone {
		return
	}
	rc.remaining--
	if rc.remaining == 0 {
		rc.startFile()
	}
}

// --------------------------------------------------------------------------
// File phase
// --------------------------------------------------------------------------

func (rc *receiveContext) startFile() {
	c := rc.c
	size := rc.header.FileLen
	if size == 0 {
		rc.deliver()
		return
	}

	if c.env.Files != nil {
		target, err := c.env.Files.Open(c, rc.msg, size)
		if err != nil {
			Logger.Warningf("%s: file sink refused %d bytes: %v", c, size, err)
		}
		if err == nil && target != nil {
			rc.file = target
			c.setPhase(PhaseFile)
			rc.postFileBlock()
			return
		}
	}

	// no sink: drain the payload, then deliver the message without it
	rc.skip(size, rc.deliver)
}

func (rc *receiveContext) postFileBlock() {
	left := rc.header.FileLen - rc.fileOff
	size := int64(rc.c.env.Config.MaxBlockSize)
	if left < size {
		size = left
	}
	rc.c.PostRecv(buffer.NewOwned(int(size), rc.onFile))
}

func (rc *receiveContext) onFile(v *buffer.Vector, st buffer.State) {
	c := rc.c
	c.env.stats().VectorCompleted(false, st)
	if st != buffer.StateDone {
		rc.discardFile()
		return
	}

	if _, err := rc.file.WriteAt(v.Bytes(), rc.fileOff); err != nil {
		Logger.Errorf("%s: writing file payload to %s: %v", c, rc.file.Name(), err)
		rc.discardFile()
		rc.fileOff += int64(v.Size())
		rc.skip(rc.header.FileLen-rc.fileOff, rc.deliver)
		return
	}
	rc.fileOff += int64(v.Size())

	if rc.fileOff < rc.header.FileLen {
		rc.postFileBlock()
		return
	}
	if err := rc.file.Close(); err != nil {
		Logger.Errorf("%s: closing file payload %s: %v", c, rc.file.Name(), err)
		rc.discardFile()
	}
	rc.deliver()
}

func (rc *receiveContext) discardFile() {
	if rc.file == nil {
		return
	}
	if rc.c.env.Files != nil {
		rc.c.env.Files.Discard(rc.file)
	}
	rc.file = nil
}

// --------------------------------------------------------------------------
// Drain phase
// --------------------------------------------------------------------------

// drain resynchronizes after a malformed message: it discards n bytes and
// then expects the next header. A declared length above the drain limit
// cannot be skipped safely and breaks the connection.
func (rc *receiveContext) drain(n int64) {
	c := rc.c
	if n > c.env.Config.MaxDrainSize {
		c.env.stats().ProtocolError()
		c.fail(fmt.Errorf("%w: %d > %d", ErrDrainLimit, n, c.env.Config.MaxDrainSize))
		return
	}
	rc.skip(n, c.postHeader)
}

// skip discards n bytes of a well-formed payload and runs next
func (rc *receiveContext) skip(n int64, next func()) {
	if n == 0 {
		next()
		return
	}
	rc.c.setPhase(PhaseDrain)
	rc.drainLeft = n
	rc.drainNext = next
	rc.postDrainBlock()
}

func (rc *receiveContext) postDrainBlock() {
	size := int64(rc.c.env.Config.MaxBlockSize)
	if rc.drainLeft < size {
		size = rc.drainLeft
	}
	rc.c.PostRecv(buffer.NewOwned(int(size), rc.onDrain))
}

func (rc *receiveContext) onDrain(v *buffer.Vector, st buffer.State) {
	c := rc.c
	c.env.stats().VectorCompleted(false, st)
	if st != buffer.StateDone {
		return
	}
	rc.drainLeft -= int64(v.Size())
	c.env.stats().Drained(int64(v.Size()))
	if rc.drainLeft > 0 {
		rc.postDrainBlock()
		return
	}
	rc.drainNext()
}

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

// deliver hands the complete message upward and arms the next header
func (rc *receiveContext) deliver() {
	c := rc.c
	in := &Inbound{
		Header:     rc.header,
		Message:    rc.msg,
		Attachment: rc.attachment,
	}
	if rc.file != nil {
		in.File = rc.file.Name()
		in.FileLen = rc.header.FileLen
	}
	c.postHeader()

	switch m := rc.msg.(type) {
	case *wire.Request:
		c.dispatch(in)
	case *wire.Response:
		p, ok := c.takePendingCall(m.ID)
		if !ok {
			Logger.Debugf("%s: dropping response for unknown request %d", c, m.ID)
			return
		}
		p.resolve(Result{
			Outcome:    OutcomeSuccess,
			Response:   m,
			Attachment: in.Attachment,
			File:       in.File,
			FileLen:    in.FileLen,
		})
	}
}

func (c *Connection) dispatch(in *Inbound) {
	if c.env.Handler == nil {
		Logger.Warningf("%s: no handler, dropping request %d", c, in.Message.RequestID())
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("%s: request handler panicked on %d: %v", c, in.Message.RequestID(), r)
		}
	}()
	c.env.Handler.HandleRequest(c, in)
}

func (c *Connection) protocolError(h wire.Header, reason string) {
	c.env.stats().ProtocolError()
	Logger.Warningf("%s: protocol error on %s: %s", c, h, reason)
}

