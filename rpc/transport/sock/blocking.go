package sock

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// The helpers in this file block the calling goroutine on a non-blocking
// socket by polling it. They are meant for handshakes outside the reactor
// loop. timeout bounds the whole call, 0 waits forever.

// WriteFull writes all of b
func WriteFull(fd int, b []byte, timeout time.Duration) error {
	dl := deadline(timeout)
	for len(b) > 0 {
		n, err := unix.SendmsgN(fd, b, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			b = b[n:]
		case Interrupted(err):
		case WouldBlock(err):
			if err := waitFor(fd, unix.POLLOUT, dl); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// ReadFull reads exactly len(b) bytes
func ReadFull(fd int, b []byte, timeout time.Duration) error {
	dl := deadline(timeout)
	read := 0
	for read < len(b) {
		n, err := unix.Read(fd, b[read:])
		switch {
		case err == nil && n == 0:
			if read == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		case err == nil:
			read += n
		case Interrupted(err):
		case WouldBlock(err):
			if err := waitFor(fd, unix.POLLIN, dl); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// SendFile streams n bytes of f starting at off to the socket
func SendFile(fd int, f *os.File, off int64, n int64, timeout time.Duration) error {
	dl := deadline(timeout)
	src := int(f.Fd())
	for n > 0 {
		chunk := n
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		sent, err := unix.Sendfile(fd, src, &off, int(chunk))
		switch {
		case err == nil && sent == 0:
			return io.ErrUnexpectedEOF
		case err == nil:
			n -= int64(sent)
		case Interrupted(err):
		case WouldBlock(err):
			if sent > 0 {
				n -= int64(sent)
			}
			if err := waitFor(fd, unix.POLLOUT, dl); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// WaitConnected blocks until a non-blocking connect finished
func WaitConnected(fd int, timeout time.Duration) error {
	if err := waitFor(fd, unix.POLLOUT, deadline(timeout)); err != nil {
		return err
	}
	return SocketError(fd)
}

func waitFor(fd int, events int16, dl time.Time) error {
	for {
		ms := -1
		if !dl.IsZero() {
			left := time.Until(dl)
			if left <= 0 {
				return ErrTimeout
			}
			ms = int(left / time.Millisecond)
			if ms == 0 {
				ms = 1
			}
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if Interrupted(err) {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		// errors and hangups are reported by the following syscall
		return nil
	}
}
