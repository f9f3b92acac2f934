package udp

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster sends position command datagrams to the reference unit.
type Broadcaster struct {
	dest string
	conn udpConn
}

// NewBroadcaster dials dest. When dscp is non-zero the outbound socket is
// marked with that DSCP code point.
func NewBroadcaster(dest string, dscp int) (*Broadcaster, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		c, err := net.DialUDP(network, laddr, raddr)
		if err != nil {
			return nil, err
		}
		if dscp > 0 {
			if err := ipv4.NewConn(c).SetTOS(dscp << 2); err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("set dscp %d: %w", dscp, err)
			}
		}
		return c, nil
	}
	return newBroadcaster(dest, net.ResolveUDPAddr, dial)
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{
		dest: dest,
		conn: conn,
	}, nil
}

func (b *Broadcaster) Dest() string {
	return b.dest
}

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
