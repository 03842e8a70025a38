package rtpmidi

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// tosEF is the DSCP expedited forwarding class shifted into the TOS byte.
const tosEF = 46 << 2

// Conn is a connected UDP socket sending packets to one peer.
type Conn struct {
	udp     *net.UDPConn
	timeout time.Duration
}

// Dial connects to addr ("host:port"). Writes that take longer than timeout
// fail instead of blocking.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtpmidi: could not resolve %q: %w", addr, err)
	}
	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("rtpmidi: could not dial %q: %w", addr, err)
	}

	// Best effort: not every platform lets us mark packets.
	if raddr.IP.To4() != nil {
		ipv4.NewConn(udp).SetTOS(tosEF)
	}

	return &Conn{
		udp:     udp,
		timeout: timeout,
	}, nil
}

// Write sends one packet.
func (c *Conn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.udp.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, fmt.Errorf("rtpmidi: could not set deadline: %w", err)
		}
	}
	n, err := c.udp.Write(b)
	if err != nil {
		return n, fmt.Errorf("rtpmidi: could not send: %w", err)
	}
	return n, nil
}

// LocalAddr returns the local address of the socket.
func (c *Conn) LocalAddr() net.Addr {
	return c.udp.LocalAddr()
}

// Close closes the socket.
func (c *Conn) Close() error {
	return c.udp.Close()
}
