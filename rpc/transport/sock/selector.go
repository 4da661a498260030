package sock

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Readiness interests for Selector.Add
const (
	EventRead  uint32 = unix.EPOLLIN | unix.EPOLLRDHUP
	EventWrite uint32 = unix.EPOLLOUT
)

// Selector is an edge-triggered epoll instance with a self-pipe so another
// goroutine can interrupt a blocked Wait.
type Selector struct {
	epfd   int
	wakeR  int
	wakeW  int
	events []unix.EpollEvent

	closeOnce sync.Once
}

// NewSelector creates a selector returning at most maxEvents per Wait
func NewSelector(maxEvents int) (*Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	s := &Selector{
		epfd:   epfd,
		wakeR:  p[0],
		wakeW:  p[1],
		events: make([]unix.EpollEvent, maxEvents),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(s.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, s.wakeR, &ev); err != nil {
		s.Close()
		return nil, fmt.Errorf("register wake pipe: %w", err)
	}
	return s, nil
}

// Add registers fd for the given interests, edge-triggered
func (s *Selector) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add %d: %w", fd, err)
	}
	return nil
}

// Delete removes fd. Removing an unknown fd is not an error.
func (s *Selector) Delete(fd int) error {
	err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll del %d: %w", fd, err)
	}
	return nil
}

// Wait blocks for up to timeoutMs (-1 forever) and calls handle for every
// ready descriptor. woken is true if Wake was called.
func (s *Selector) Wait(timeoutMs int, handle func(fd int, events uint32)) (woken bool, err error) {
	n, err := unix.EpollWait(s.epfd, s.events, timeoutMs)
	if err != nil {
		if Interrupted(err) {
			return false, nil
		}
		return false, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(s.events[i].Fd)
		if fd == s.wakeR {
			s.drainWake()
			woken = true
			continue
		}
		handle(fd, s.events[i].Events)
	}
	return woken, nil
}

// Wake interrupts a concurrent or the next Wait
func (s *Selector) Wake() error {
	_, err := unix.Write(s.wakeW, []byte{1})
	if err != nil && !WouldBlock(err) {
		return fmt.Errorf("wake selector: %w", err)
	}
	return nil
}

// Close releases the epoll instance and the wake pipe
func (s *Selector) Close() {
	s.closeOnce.Do(func() {
		_ = unix.Close(s.epfd)
		_ = unix.Close(s.wakeR)
		_ = unix.Close(s.wakeW)
	})
}

func (s *Selector) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(s.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
