// Package pdi encodes and decodes the eTALIN parameter data interchange
// protocol carried on the TCP link.
//
// A frame is a sequence of big-endian 32-bit words:
//
//	word 0      start of message (0x70717883)
//	word 1      message ID
//	word 2      sequence number
//	word 3-4    transmit time
//	word 5      parameter word
//	word 6-7    reserved
//	word 8      body length in words (1..256)
//	word 9..    body
//	footer      CRC-32 over words 1 through the end of the body, end of message (0x83787170)
package pdi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"talin-bridge/internal/motion"
)

const (
	StartOfMessage uint32 = 0x70717883
	EndOfMessage   uint32 = 0x83787170

	MsgIDSetup         uint32 = 8050
	MsgIDParameterData uint32 = 9200

	HeaderWords  = 9
	FooterWords  = 2
	MaxBodyWords = 256

	wordSize = 4

	requestBodyWords = 3

	// Body frame pitch and yaw doubles, as absolute word offsets.
	pitchWord = 36
	yawWord   = 38
)

var (
	ErrMalformedFrame   = errors.New("pdi: malformed frame")
	ErrChecksumMismatch = errors.New("pdi: checksum mismatch")
)

// DataRate selects how often the reference unit streams parameter data.
type DataRate uint32

const (
	Rate300Hz DataRate = iota + 1
	Rate150Hz
	Rate7Hz
	Rate37_5Hz
	Rate18_75Hz
)

// ParseDataRate maps a config value such as "150hz" to a DataRate.
func ParseDataRate(s string) (DataRate, error) {
	switch s {
	case "300hz":
		return Rate300Hz, nil
	case "150hz", "":
		return Rate150Hz, nil
	case "7hz":
		return Rate7Hz, nil
	case "37.5hz":
		return Rate37_5Hz, nil
	case "18.75hz":
		return Rate18_75Hz, nil
	default:
		return 0, fmt.Errorf("pdi: unknown data rate %q", s)
	}
}

func (r DataRate) String() string {
	switch r {
	case Rate300Hz:
		return "300hz"
	case Rate150Hz:
		return "150hz"
	case Rate7Hz:
		return "7hz"
	case Rate37_5Hz:
		return "37.5hz"
	case Rate18_75Hz:
		return "18.75hz"
	default:
		return fmt.Sprintf("rate(%d)", uint32(r))
	}
}

// Interval is the delivery period for r, or 0 for an unknown code.
func (r DataRate) Interval() time.Duration {
	switch r {
	case Rate300Hz:
		return time.Second / 300
	case Rate150Hz:
		return time.Second / 150
	case Rate7Hz:
		return time.Second / 7
	case Rate37_5Hz:
		return time.Second * 2 / 75
	case Rate18_75Hz:
		return time.Second * 4 / 75
	default:
		return 0
	}
}

// RequestSize is the length of a parameter data request frame (14 words).
const RequestSize = (HeaderWords + requestBodyWords + FooterWords) * wordSize

// EncodeParameterRequest builds the setup message subscribing to parameter
// data at rate. Transmit time and reserved words are zero.
func EncodeParameterRequest(seq uint32, rate DataRate) []byte {
	body := []uint32{0, MsgIDParameterData, uint32(rate)}
	return encodeFrame(MsgIDSetup, seq, body)
}

// EncodeParameterData builds a parameter data response carrying pitch and yaw
// in radians. The body is sized to hold the body frame attitude words.
func EncodeParameterData(seq uint32, pitchRad, yawRad float64) []byte {
	body := make([]uint32, yawWord+2-HeaderWords)
	putDouble(body, pitchWord-HeaderWords, pitchRad)
	putDouble(body, yawWord-HeaderWords, yawRad)
	return encodeFrame(MsgIDParameterData, seq, body)
}

func putDouble(body []uint32, idx int, v float64) {
	bits := math.Float64bits(v)
	body[idx] = uint32(bits >> 32)
	body[idx+1] = uint32(bits)
}

func encodeFrame(msgID, seq uint32, body []uint32) []byte {
	n := HeaderWords + len(body) + FooterWords
	out := make([]byte, n*wordSize)
	put := func(word int, v uint32) {
		binary.BigEndian.PutUint32(out[word*wordSize:], v)
	}

	put(0, StartOfMessage)
	put(1, msgID)
	put(2, seq)
	put(8, uint32(len(body)))
	for i, w := range body {
		put(HeaderWords+i, w)
	}

	crcWord := HeaderWords + len(body)
	put(crcWord, Checksum(out[wordSize:crcWord*wordSize]))
	put(crcWord+1, EndOfMessage)
	return out
}

// Frame is a structurally valid PDI message.
type Frame struct {
	MsgID uint32
	Seq   uint32
	Body  []byte
	CRC   uint32
	raw   []byte
}

// Parse validates markers and length and splits b into its parts.
// The CRC is not checked; see VerifyChecksum.
func Parse(b []byte) (Frame, error) {
	minLen := (HeaderWords + 1 + FooterWords) * wordSize
	if len(b) < minLen || len(b)%wordSize != 0 {
		return Frame{}, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(b))
	}
	if som := binary.BigEndian.Uint32(b[0:]); som != StartOfMessage {
		return Frame{}, fmt.Errorf("%w: start marker 0x%08X", ErrMalformedFrame, som)
	}
	if eom := binary.BigEndian.Uint32(b[len(b)-wordSize:]); eom != EndOfMessage {
		return Frame{}, fmt.Errorf("%w: end marker 0x%08X", ErrMalformedFrame, eom)
	}

	words := len(b) / wordSize
	bodyWords := int(binary.BigEndian.Uint32(b[8*wordSize:]))
	if bodyWords < 1 || bodyWords > MaxBodyWords || HeaderWords+bodyWords+FooterWords != words {
		return Frame{}, fmt.Errorf("%w: body length %d in %d-word frame", ErrMalformedFrame, bodyWords, words)
	}

	crcOff := (HeaderWords + bodyWords) * wordSize
	return Frame{
		MsgID: binary.BigEndian.Uint32(b[1*wordSize:]),
		Seq:   binary.BigEndian.Uint32(b[2*wordSize:]),
		Body:  b[HeaderWords*wordSize : crcOff],
		CRC:   binary.BigEndian.Uint32(b[crcOff:]),
		raw:   b,
	}, nil
}

// VerifyChecksum recomputes the footer CRC of a parsed frame.
func (f Frame) VerifyChecksum() error {
	crcOff := len(f.raw) - FooterWords*wordSize
	if got := Checksum(f.raw[wordSize:crcOff]); got != f.CRC {
		return fmt.Errorf("%w: got 0x%08X want 0x%08X", ErrChecksumMismatch, got, f.CRC)
	}
	return nil
}

// VerifyChecksum parses b and checks its CRC.
func VerifyChecksum(b []byte) error {
	f, err := Parse(b)
	if err != nil {
		return err
	}
	return f.VerifyChecksum()
}

// DecodeParameterResponse extracts the body frame pitch and yaw from a
// parameter data message. ok is false, with a nil error, for any other
// message ID.
func DecodeParameterResponse(b []byte) (s motion.Sample, ok bool, err error) {
	f, err := Parse(b)
	if err != nil {
		return motion.Sample{}, false, err
	}
	return f.Sample()
}

func (f Frame) Sample() (motion.Sample, bool, error) {
	if f.MsgID != MsgIDParameterData {
		return motion.Sample{}, false, nil
	}
	end := (yawWord + 2) * wordSize
	if len(f.raw) < end+FooterWords*wordSize {
		return motion.Sample{}, false, fmt.Errorf("%w: parameter data too short (%d bytes)", ErrMalformedFrame, len(f.raw))
	}
	pitch := math.Float64frombits(binary.BigEndian.Uint64(f.raw[pitchWord*wordSize:]))
	yaw := math.Float64frombits(binary.BigEndian.Uint64(f.raw[yawWord*wordSize:]))
	return motion.Sample{
		AzimuthMils:   RadiansToMils(yaw),
		ElevationMils: RadiansToMils(pitch),
	}, true, nil
}

// DecodeParameterRequest returns the requested message ID and rate of a setup
// message.
func DecodeParameterRequest(b []byte) (seq uint32, msgID uint32, rate DataRate, err error) {
	f, err := Parse(b)
	if err != nil {
		return 0, 0, 0, err
	}
	if f.MsgID != MsgIDSetup || len(f.Body) < requestBodyWords*wordSize {
		return 0, 0, 0, fmt.Errorf("%w: not a setup request (id %d)", ErrMalformedFrame, f.MsgID)
	}
	msgID = binary.BigEndian.Uint32(f.Body[1*wordSize:])
	rate = DataRate(binary.BigEndian.Uint32(f.Body[2*wordSize:]))
	return f.Seq, msgID, rate, nil
}

func RadiansToMils(r float64) float64 {
	return r * motion.MilsPerRevolution / (2 * math.Pi)
}

func MilsToRadians(m float64) float64 {
	return m * (2 * math.Pi) / motion.MilsPerRevolution
}
