package pdi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Reader splits a TCP byte stream into PDI frames.
type Reader struct {
	r       *bufio.Reader
	skipped int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, (HeaderWords+MaxBodyWords+FooterWords)*wordSize)}
}

// Skipped returns the number of bytes discarded while hunting for a start
// marker since the last call.
func (r *Reader) Skipped() int {
	n := r.skipped
	r.skipped = 0
	return n
}

// Next returns the next frame. Bytes before a start marker are discarded.
// A header with an impossible body length yields ErrMalformedFrame; the
// caller may keep reading, the stream resynchronises on the next marker.
// I/O errors are returned unwrapped.
func (r *Reader) Next() ([]byte, error) {
	if err := r.syncStart(); err != nil {
		return nil, err
	}

	hdr := make([]byte, HeaderWords*wordSize)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return nil, err
	}
	bodyWords := int(binary.BigEndian.Uint32(hdr[8*wordSize:]))
	if bodyWords < 1 || bodyWords > MaxBodyWords {
		// Header already consumed; the next call resyncs after it.
		return nil, fmt.Errorf("%w: body length %d", ErrMalformedFrame, bodyWords)
	}

	frame := make([]byte, (HeaderWords+bodyWords+FooterWords)*wordSize)
	copy(frame, hdr)
	if _, err := io.ReadFull(r.r, frame[len(hdr):]); err != nil {
		return nil, err
	}
	return frame, nil
}

func (r *Reader) syncStart() error {
	var marker [wordSize]byte
	binary.BigEndian.PutUint32(marker[:], StartOfMessage)
	for {
		peek, err := r.r.Peek(wordSize)
		if err != nil {
			return err
		}
		if peek[0] == marker[0] && peek[1] == marker[1] && peek[2] == marker[2] && peek[3] == marker[3] {
			return nil
		}
		if _, err := r.r.Discard(1); err != nil {
			return err
		}
		r.skipped++
	}
}
