// Package conn implements the per-socket state machine of the transport.
//
// A Connection owns two vector queues (send and receive), the inbound framing
// phase and the table of pending calls. Only SendProgress writes to the
// socket and only RecvProgress reads from it; both are driven by the reactor
// on readiness events and may also be called directly.
//
// Inbound framing:
//
//	HEADER -> MESSAGE -> ATTACHMENT* -> FILE? -> HEADER
//	   \          \
//	    \          +-> DRAIN -> HEADER   (unknown tag, undecodable message)
//	     +-----------> DRAIN -> HEADER   (message too large)
//
// Each transition is triggered by a vector completing with StateDone. The
// vector for the next phase is sized from the header; attachments and file
// payloads are read in blocks of at most MaxBlockSize bytes. A header whose
// length fields are not decimal, or a drain longer than MaxDrainSize, cannot
// be resynchronized and closes the connection.
//
// Lifetime:
//
// A connection starts with one owner reference. Acquire and Release bracket
// every other use. Close gives up the owner reference; the last Release
// tears the connection down, flushing both queues with StateCleanup, failing
// every pending call with OutcomeConnectionFailure and closing the socket.
//
// Correlation:
//
// SendRequest assigns the next request identifier of the connection and
// registers a PendingCall. Whoever removes the call from the table (the
// matching response, a broken connection, a failed send or a caller that
// stopped waiting) resolves it, so every call resolves exactly once.
package conn
