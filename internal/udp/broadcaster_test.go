package udp

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"talin-bridge/internal/gunpos"
)

type fakeConn struct {
	writes   [][]byte
	writeErr error
	closed   bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		if network != "udp" {
			t.Fatalf("network=%q want udp", network)
		}
		gotRaddr = raddr
		return fc, nil
	}

	b, err := newBroadcaster("127.0.0.1:50120", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	if gotRaddr == nil || gotRaddr.Port != 50120 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:50120", gotRaddr)
	}
	if b.Dest() != "127.0.0.1:50120" {
		t.Fatalf("dest=%q", b.Dest())
	}
	_ = b.Close()
	if !fc.closed {
		t.Fatalf("conn not closed")
	}
}

func TestNewBroadcaster_Failures(t *testing.T) {
	resolveErr := errors.New("no such host")
	dialErr := errors.New("unreachable")

	_, err := newBroadcaster("talin:50120",
		func(string, string) (*net.UDPAddr, error) { return nil, resolveErr },
		func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil })
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}

	_, err = newBroadcaster("127.0.0.1:50120", net.ResolveUDPAddr,
		func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return nil, dialErr })
	if !errors.Is(err, dialErr) {
		t.Fatalf("err=%v want %v", err, dialErr)
	}
}

func TestBroadcaster_SendCommand(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	if err := b.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	cmd := gunpos.EncodeCommand(3200, 100)
	if err := b.Send(cmd); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(fc.writes) != 1 || !bytes.Equal(fc.writes[0], cmd) {
		t.Fatalf("writes=%x want one %x", fc.writes, cmd)
	}

	fc.writeErr = errors.New("boom")
	if err := b.Send(cmd); !errors.Is(err, fc.writeErr) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestBroadcaster_CloseWithoutConn(t *testing.T) {
	if err := (&Broadcaster{}).Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestNewBroadcaster_LoopbackDelivery(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error: %v", err)
	}
	defer pc.Close()

	b, err := NewBroadcaster(pc.LocalAddr().String(), 0)
	if err != nil {
		t.Fatalf("NewBroadcaster() error: %v", err)
	}
	defer b.Close()

	cmd := gunpos.EncodeCommand(1, 2)
	if err := b.Send(cmd); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error: %v", err)
	}
	if !bytes.Equal(buf[:n], cmd) {
		t.Fatalf("got % X want % X", buf[:n], cmd)
	}
}
