// Package endpoint validates the user-supplied server address and port and
// produces an immutable Endpoint. Invalid input never yields an Endpoint.
package endpoint

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

var (
	// ErrInvalidAddress is returned when the address is not an IPv4 dotted-quad.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidPort is returned when the port is not a base-10 integer in [1, 65535].
	ErrInvalidPort = errors.New("invalid port")
)

// Messages shown on the console when validation fails.
const (
	InvalidAddressMessage = "Invalid IP, Try Again"
	InvalidPortMessage    = "Invalid Port, Try Again"
)

// Endpoint is a validated (address, port) pair identifying the telemetry server.
type Endpoint struct {
	addr netip.Addr
	port uint16
}

// Parse validates both raw strings and returns the Endpoint they describe.
// The address is checked first; the first failure is returned.
//
// Parameters:
//   - rawAddr: The address as typed by the user
//   - rawPort: The port as typed by the user
//
// Returns:
//   - The validated Endpoint
//   - An error wrapping ErrInvalidAddress or ErrInvalidPort
func Parse(rawAddr, rawPort string) (Endpoint, error) {
	addr, err := ParseAddress(rawAddr)
	if err != nil {
		return Endpoint{}, err
	}

	port, err := ParsePort(rawPort)
	if err != nil {
		return Endpoint{}, err
	}

	return Endpoint{addr: addr, port: port}, nil
}

// ParseAddress accepts only four dot-separated decimal octets in [0, 255].
// Hostnames, IPv6 literals (including IPv4-mapped forms) and zoned
// addresses are rejected.
//
// Parameters:
//   - raw: The address string; any character besides the quad, whitespace
//     included, makes it invalid
//
// Returns:
//   - The parsed IPv4 address
//   - An error wrapping ErrInvalidAddress
func ParseAddress(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}

	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalidAddress, raw)
	}

	return addr, nil
}

// ParsePort accepts a base-10 integer in [1, 65535].
//
// Parameters:
//   - raw: The port string; surrounding whitespace is ignored
//
// Returns:
//   - The parsed port
//   - An error wrapping ErrInvalidPort
func ParsePort(raw string) (uint16, error) {
	s := strings.TrimSpace(raw)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}

	if n <= 0 || n > 65535 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidPort, n)
	}

	return uint16(n), nil
}

// Addr returns the IPv4 address.
func (e Endpoint) Addr() netip.Addr {
	return e.addr
}

// Port returns the TCP port.
func (e Endpoint) Port() uint16 {
	return e.port
}

// IsValid reports whether e was produced by Parse.
func (e Endpoint) IsValid() bool {
	return e.addr.IsValid() && e.port != 0
}

// String returns "a.b.c.d:port", suitable for dialing.
func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.addr, e.port).String()
}

// UserMessage maps a validation error to the console message for it.
// It returns an empty string for errors this package does not produce.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAddress):
		return InvalidAddressMessage
	case errors.Is(err, ErrInvalidPort):
		return InvalidPortMessage
	default:
		return ""
	}
}
