package sim

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"talin-bridge/internal/gunpos"
	"talin-bridge/internal/pdi"
)

func TestUnit_StreamsParameterDataAfterRequest(t *testing.T) {
	u, err := ListenUnit(UnitConfig{Addr: "127.0.0.1:0", Profile: Fixed{AzimuthMils: 1600, ElevationMils: 400}})
	if err != nil {
		t.Fatalf("ListenUnit() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- u.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	conn, err := net.Dial("tcp", u.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(pdi.EncodeParameterRequest(0, pdi.Rate300Hz)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := pdi.NewReader(conn)
	for i := 0; i < 3; i++ {
		frame, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if err := pdi.VerifyChecksum(frame); err != nil {
			t.Fatalf("VerifyChecksum() error: %v", err)
		}
		s, ok, err := pdi.DecodeParameterResponse(frame)
		if err != nil || !ok {
			t.Fatalf("DecodeParameterResponse() ok=%v err=%v", ok, err)
		}
		if math.Abs(s.AzimuthMils-1600) > 1e-9 || math.Abs(s.ElevationMils-400) > 1e-9 {
			t.Fatalf("sample=%+v", s)
		}
	}

	if st := u.Stats(); st.Connections != 1 || st.Requests != 1 || st.Frames < 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestUnit_IgnoresOtherRequests(t *testing.T) {
	u, err := ListenUnit(UnitConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("ListenUnit() error: %v", err)
	}
	go func() { _ = u.Serve(context.Background()) }()
	defer u.Close()

	conn, err := net.Dial("tcp", u.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	// A parameter data frame is not a setup request.
	if _, err := conn.Write(pdi.EncodeParameterData(0, 0, 0)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("unexpected data from unit")
	}
	if st := u.Stats(); st.Requests != 0 {
		t.Fatalf("requests=%d want 0", st.Requests)
	}
}

func TestUnit_CloseIdempotent(t *testing.T) {
	u, err := ListenUnit(UnitConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("ListenUnit() error: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- u.Serve(context.Background()) }()

	_ = u.Close()
	_ = u.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
	}
}

func TestFeed_SendsGunPositionPackets(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error: %v", err)
	}
	defer pc.Close()

	f, err := NewFeed(FeedConfig{Dest: pc.LocalAddr().String(), Interval: 5 * time.Millisecond, Profile: Fixed{AzimuthMils: 3200, ElevationMils: 16}})
	if err != nil {
		t.Fatalf("NewFeed() error: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	var last uint16
	for i := 0; i < 2; i++ {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom() error: %v", err)
		}
		p, err := gunpos.Decode(buf[:n])
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if !p.Valid() || p.AzimuthMils != 3200 || p.PitchMils != 16 {
			t.Fatalf("packet=%+v", p)
		}
		if i > 0 && p.Sequence != last+1 {
			t.Fatalf("seq=%d want %d", p.Sequence, last+1)
		}
		last = p.Sequence
	}
}

func TestFeed_PacketTimestamps(t *testing.T) {
	f := &Feed{cfg: FeedConfig{Profile: Fixed{}}}
	p0 := f.Packet(1500 * time.Millisecond)
	p1 := f.Packet(1520 * time.Millisecond)
	if p0.TimestampMs != 1500 || p1.TimestampMs != 1520 {
		t.Fatalf("timestamps=%d,%d", p0.TimestampMs, p1.TimestampMs)
	}
	if p0.Sequence != 0 || p1.Sequence != 1 {
		t.Fatalf("sequence=%d,%d", p0.Sequence, p1.Sequence)
	}
}

func TestNewFeed_RequiresDest(t *testing.T) {
	if _, err := NewFeed(FeedConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
