// Package gunpos handles the UDP gun position feed from the reference unit
// and the position command datagram sent back to it.
package gunpos

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"talin-bridge/internal/motion"
)

const (
	PacketSize  = 20
	CommandSize = 16

	// Reserved command words carry 1 scaled by commandScale.
	commandReserved = 1 * commandScale
	commandScale    = 1000
)

var ErrWrongLength = errors.New("gunpos: wrong packet length")

// Packet is one decoded gun position datagram.
//
// Timestamp, azimuth, pitch and roll are big-endian on the wire. Sequence and
// validity are not byte-swapped by the reference receiver and are read
// little-endian here to stay compatible with it.
type Packet struct {
	Sequence    uint16
	Validity    uint16
	TimestampMs uint32
	AzimuthMils float32
	PitchMils   float32
	Roll        float32
}

func (p Packet) Valid() bool {
	return p.Validity == 1
}

// Sample converts the packet for the validity tracker. No unit conversion is
// needed: the feed is already in mils.
func (p Packet) Sample() motion.Sample {
	ts := p.TimestampMs
	return motion.Sample{
		AzimuthMils:     float64(p.AzimuthMils),
		ElevationMils:   float64(p.PitchMils),
		SourceTimestamp: &ts,
	}
}

// Decode parses a 20-byte gun position datagram.
func Decode(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("%w: got %d bytes, want %d", ErrWrongLength, len(b), PacketSize)
	}
	return Packet{
		Sequence:    binary.LittleEndian.Uint16(b[0:]),
		Validity:    binary.LittleEndian.Uint16(b[2:]),
		TimestampMs: binary.BigEndian.Uint32(b[4:]),
		AzimuthMils: math.Float32frombits(binary.BigEndian.Uint32(b[8:])),
		PitchMils:   math.Float32frombits(binary.BigEndian.Uint32(b[12:])),
		Roll:        math.Float32frombits(binary.BigEndian.Uint32(b[16:])),
	}, nil
}

// Encode is the inverse of Decode.
func Encode(p Packet) []byte {
	b := make([]byte, PacketSize)
	binary.LittleEndian.PutUint16(b[0:], p.Sequence)
	binary.LittleEndian.PutUint16(b[2:], p.Validity)
	binary.BigEndian.PutUint32(b[4:], p.TimestampMs)
	binary.BigEndian.PutUint32(b[8:], math.Float32bits(p.AzimuthMils))
	binary.BigEndian.PutUint32(b[12:], math.Float32bits(p.PitchMils))
	binary.BigEndian.PutUint32(b[16:], math.Float32bits(p.Roll))
	return b
}

// EncodeCommand builds the 16-byte position command: azimuth and elevation
// as mils*1000 in big-endian int32, followed by two reserved words of 1000.
// Scaled values truncate toward zero.
func EncodeCommand(azimuthMils, elevationMils float64) []byte {
	b := make([]byte, CommandSize)
	binary.BigEndian.PutUint32(b[0:], uint32(int32(azimuthMils*commandScale)))
	binary.BigEndian.PutUint32(b[4:], uint32(int32(elevationMils*commandScale)))
	binary.BigEndian.PutUint32(b[8:], uint32(int32(commandReserved)))
	binary.BigEndian.PutUint32(b[12:], uint32(int32(commandReserved)))
	return b
}

// DecodeCommand is the inverse of EncodeCommand, in mils.
func DecodeCommand(b []byte) (azimuthMils, elevationMils float64, err error) {
	if len(b) != CommandSize {
		return 0, 0, fmt.Errorf("%w: got %d bytes, want %d", ErrWrongLength, len(b), CommandSize)
	}
	az := int32(binary.BigEndian.Uint32(b[0:]))
	el := int32(binary.BigEndian.Uint32(b[4:]))
	return float64(az) / commandScale, float64(el) / commandScale, nil
}

// Window drops packets whose timestamp runs backwards or jumps further
// ahead than a fixed window. The zero value accepts the first packet.
type Window struct {
	Span uint32

	last uint32
	seen bool
}

// Accept reports whether ts is within the window and records it either way.
func (w *Window) Accept(ts uint32) bool {
	if w.Span == 0 {
		return true
	}
	ok := !w.seen || (ts >= w.last && ts-w.last < w.Span)
	w.last = ts
	w.seen = true
	return ok
}
