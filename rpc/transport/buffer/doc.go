// Package buffer provides the queued unit of I/O used by the transport.
//
// A Vector is a buffer (or, for sends, a file region) plus its transfer
// progress and a one-shot completion callback. Vectors are posted to a
// Queue, which starts and completes them in FIFO order. Every vector
// completes exactly once with one of:
//
//   - StateDone: all bytes were transferred
//   - StateError: the transfer of this vector failed
//   - StateCleanup: the vector was flushed because an earlier vector failed
//     or its queue was closed
//
// The Queue never touches a socket itself. Progress is called with a
// TransferFunc that performs one non-blocking syscall for the head vector.
//
// Owned vectors draw their memory from a size-classed pool and return it
// after the callback. Borrowed vectors wrap caller memory.
package buffer
