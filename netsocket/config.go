package netsocket

import (
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/gamenet/packet"
)

// DefaultIdleTimeout is the idle timeout applied to connections that do not set their own.
const DefaultIdleTimeout = 45 * time.Second

// Config holds the construction-time settings of a Manager. There is no
// runtime reconfiguration.
type Config struct {
	// MaxOpenSockets caps registered connections, listeners excluded; 0 means no cap.
	MaxOpenSockets int
	// TrustedSubnet classifies peers inside it as internal; nil trusts nobody.
	TrustedSubnet *net.IPNet
	// IdleTimeout is the default per-connection idle timeout; 0 disables it.
	IdleTimeout time.Duration
	// RecvBufferSize is the receive buffer capacity of each connection.
	RecvBufferSize int
	// SlowCycle logs poll cycles taking longer than this; 0 disables the check.
	SlowCycle time.Duration
	// Observer receives byte counts and lifecycle events; nil discards them.
	Observer Observer
}

// DefaultConfig returns a Config with the defaults used by gamenetd.
//
// Returns:
//   - A Config with MaxOpenSockets 1024, IdleTimeout 45s, RecvBufferSize
//     packet.DefaultCapacity and SlowCycle 50ms
func DefaultConfig() Config {
	return Config{
		MaxOpenSockets: 1024,
		IdleTimeout:    DefaultIdleTimeout,
		RecvBufferSize: packet.DefaultCapacity,
		SlowCycle:      50 * time.Millisecond,
	}
}

// ParseSubnet builds a trusted subnet from a network address and a dotted mask,
// e.g. ("10.0.0.0", "255.0.0.0").
//
// Parameters:
//   - subnet: The network address
//   - mask: The dotted-quad subnet mask
//
// Returns:
//   - The subnet, or an error if either part is not a valid IPv4 value
func ParseSubnet(subnet, mask string) (*net.IPNet, error) {
	ip := net.ParseIP(subnet).To4()
	if ip == nil {
		return nil, fmt.Errorf("invalid subnet address %q", subnet)
	}

	m := net.ParseIP(mask).To4()
	if m == nil {
		return nil, fmt.Errorf("invalid subnet mask %q", mask)
	}

	ipMask := net.IPMask(m)
	if ones, bits := ipMask.Size(); ones == 0 && bits == 0 {
		return nil, fmt.Errorf("non-canonical subnet mask %q", mask)
	}

	return &net.IPNet{IP: ip.Mask(ipMask), Mask: ipMask}, nil
}

func (c Config) withDefaults() Config {
	if c.RecvBufferSize <= packet.PrefixSize {
		c.RecvBufferSize = packet.DefaultCapacity
	}

	if c.Observer == nil {
		c.Observer = nopObserver{}
	}

	return c
}
