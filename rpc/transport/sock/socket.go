package sock

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"golang.org/x/sys/unix"
)

// --------------------------------------------------------------------------
// Socket creation and configuration
// --------------------------------------------------------------------------

// NewSocket creates a non-blocking, close-on-exec TCP socket
func NewSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	return fd, nil
}

// Configure applies buffer sizes and TCP options to a socket
func Configure(fd int, conf common.SocketConf, cfg *common.TransportConfig) error {
	if cfg.TCPNoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("set TCP_NODELAY: %w", err)
		}
	}

	if conf.SendBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, conf.SendBufferSize); err != nil {
			return fmt.Errorf("set SO_SNDBUF: %w", err)
		}
	}

	if conf.RecvBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, conf.RecvBufferSize); err != nil {
			return fmt.Errorf("set SO_RCVBUF: %w", err)
		}
	}

	if cfg.TCPKeepAliveSec > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return fmt.Errorf("set SO_KEEPALIVE: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, cfg.TCPKeepAliveSec); err != nil {
			return fmt.Errorf("set TCP_KEEPIDLE: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, cfg.TCPKeepAliveSec); err != nil {
			return fmt.Errorf("set TCP_KEEPINTVL: %w", err)
		}
	}

	if cfg.TCPLingerSec >= 0 {
		l := unix.Linger{Onoff: 1, Linger: int32(cfg.TCPLingerSec)}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			return fmt.Errorf("set SO_LINGER: %w", err)
		}
	}

	if cfg.SocketTimeoutMillis > 0 {
		tv := unix.NsecToTimeval(cfg.SocketTimeout().Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
			return fmt.Errorf("set SO_SNDTIMEO: %w", err)
		}
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return fmt.Errorf("set SO_RCVTIMEO: %w", err)
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Connect / Listen / Accept
// --------------------------------------------------------------------------

// Connect starts a non-blocking connect. inProgress is true when the
// handshake continues in the background, completion is signaled by the
// first writability event and checked with SocketError.
func Connect(fd int, sa unix.Sockaddr) (inProgress bool, err error) {
	err = unix.Connect(fd, sa)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
		// an interrupted connect continues asynchronously
		return true, nil
	default:
		return false, fmt.Errorf("connect: %w", err)
	}
}

// Dial creates, configures and connects a client socket for ep
func Dial(ep common.Endpoint, cfg *common.TransportConfig) (fd int, inProgress bool, err error) {
	sa, family, err := Resolve(ep)
	if err != nil {
		return -1, false, err
	}
	fd, err = NewSocket(family)
	if err != nil {
		return -1, false, err
	}
	if err = Configure(fd, cfg.ClientSocket, cfg); err != nil {
		_ = unix.Close(fd)
		return -1, false, err
	}
	inProgress, err = Connect(fd, sa)
	if err != nil {
		_ = unix.Close(fd)
		return -1, false, err
	}
	return fd, inProgress, nil
}

// Listen creates a non-blocking listening socket bound to ep
func Listen(ep common.Endpoint, cfg *common.TransportConfig) (int, error) {
	sa, family, err := Resolve(ep)
	if err != nil {
		return -1, err
	}
	fd, err := NewSocket(family)
	if err != nil {
		return -1, err
	}

	fail := func(step string, err error) (int, error) {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("%s %s: %w", step, ep, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("set SO_REUSEADDR", err)
	}
	// accepted sockets inherit the listener's buffer sizes
	if err := Configure(fd, cfg.ListenSocket, cfg); err != nil {
		return fail("configure", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	backlog := cfg.ListenBacklog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	return fd, nil
}

// Accept accepts one connection as a non-blocking socket
func Accept(fd int) (int, unix.Sockaddr, error) {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return nfd, sa, err
	}
}

// SocketError returns the pending error of a socket (SO_ERROR), nil if none
func SocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// Close closes a socket descriptor
func Close(fd int) error {
	return unix.Close(fd)
}

// Shutdown stops both directions of a socket without releasing the
// descriptor. Pending and later transfers fail, the peer sees end of file.
// A socket that never connected is not an error.
func Shutdown(fd int) error {
	err := unix.Shutdown(fd, unix.SHUT_RDWR)
	if errors.Is(err, unix.ENOTCONN) {
		return nil
	}
	return err
}

// --------------------------------------------------------------------------
// Addresses
// --------------------------------------------------------------------------

// Resolve turns an endpoint into a socket address and its address family
func Resolve(ep common.Endpoint) (unix.Sockaddr, int, error) {
	addr, err := net.ResolveTCPAddr("tcp", ep.Address())
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %s: %w", ep, err)
	}
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, unix.AF_INET6, nil
}

// EndpointOf converts a socket address into an endpoint
func EndpointOf(sa unix.Sockaddr) common.Endpoint {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return common.Endpoint{Host: net.IP(a.Addr[:]).String(), Port: a.Port}
	case *unix.SockaddrInet6:
		return common.Endpoint{Host: net.IP(a.Addr[:]).String(), Port: a.Port}
	default:
		return common.Endpoint{Host: fmt.Sprintf("%v", sa)}
	}
}

// LocalEndpoint returns the address a socket is bound to
func LocalEndpoint(fd int) (common.Endpoint, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return common.Endpoint{}, err
	}
	return EndpointOf(sa), nil
}

// --------------------------------------------------------------------------
// Error classification
// --------------------------------------------------------------------------

// WouldBlock reports whether err means "retry when the next readiness event arrives"
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Interrupted reports whether a syscall has to be retried immediately
func Interrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// DescriptorsExhausted reports whether the process or system ran out of descriptors
func DescriptorsExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}

// ErrTimeout is returned by the blocking helpers when the socket timeout expires
var ErrTimeout = errors.New("socket timeout")

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
