package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint identifies a peer. It is an immutable value and used as registry
// key, so two endpoints are the same peer iff they compare equal.
//
// The textual form is [location/service@]host:port, e.g.
// "rack1/meta@10.0.0.4:7070" or simply "localhost:7070".
type Endpoint struct {
	Host     string
	Location string
	Service  string
	Port     int
}

// ParseEndpoint parses the textual endpoint representation
func ParseEndpoint(s string) (Endpoint, error) {
	var ep Endpoint

	addr := s
	if at := strings.LastIndex(s, "@"); at >= 0 {
		tags := s[:at]
		addr = s[at+1:]
		loc, svc, ok := strings.Cut(tags, "/")
		if !ok {
			return ep, fmt.Errorf("invalid endpoint %q: tags must be location/service", s)
		}
		ep.Location = loc
		ep.Service = svc
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ep, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return ep, fmt.Errorf("invalid endpoint %q: bad port %q", s, portStr)
	}
	ep.Host = host
	ep.Port = port
	return ep, nil
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// WithPort returns a copy of the endpoint with a different port
func (e Endpoint) WithPort(port int) Endpoint {
	e.Port = port
	return e
}

func (e Endpoint) String() string {
	if e.Location == "" && e.Service == "" {
		return e.Address()
	}
	return e.Location + "/" + e.Service + "@" + e.Address()
}
