// Package pktline implements Git's pkt-line framing: each packet is a
// 4-byte hex length prefix (including the 4 prefix bytes themselves)
// followed by that many bytes of payload. Two reserved zero-length
// packets carry no payload: flush-pkt ("0000") ends a section, delim-pkt
// ("0001") separates sections within upload-pack/receive-pack v1 dialogue.
//
// Grounded on modules/plumbing/format/pktline's surviving test files
// (scanner_test.go, encoder_test.go), which is all the teacher's retrieval
// kept of that package — its tests fix the internal names (lenSize,
// hexDecode, asciiHex16) this file reconstructs an implementation around.
package pktline

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/antgroup/hugescm/internal/ierr"
)

// lenSize is the width of the hex length prefix.
const lenSize = 4

// MaxPayloadSize is the largest payload a single packet may carry (the
// largest 4-hex-digit length, 0xfff0, minus the 4-byte prefix itself, per
// Git's documented limit of 65516 usable bytes — Git reserves the top of
// the 0xffff range and never emits the maximal length).
const MaxPayloadSize = 65516

// MaxPacketLength is lenSize + MaxPayloadSize: the longest hex-length value
// that may legally appear in the prefix.
const MaxPacketLength = lenSize + MaxPayloadSize

// Reserved zero-length packets.
const (
	FlushLen = 0
	DelimLen = 1
)

var (
	flushPkt = [lenSize]byte{'0', '0', '0', '0'}
	delimPkt = [lenSize]byte{'0', '0', '0', '1'}
)

// Side-band channel bytes (multi_ack_detailed / side-band-64k capability).
const (
	SideBandData     byte = 1
	SideBandProgress byte = 2
	SideBandFatal    byte = 3
)

// asciiHex16 renders n as a lowercase, zero-padded 4-hex-digit string —
// the packet length prefix.
func asciiHex16(n int) string {
	return fmt.Sprintf("%04x", n)
}

// hexDecode parses a 4-byte ASCII hex length prefix.
func hexDecode(b [lenSize]byte) (int, error) {
	raw, err := hex.DecodeString(string(b[:]))
	if err != nil {
		return 0, ierr.MalformedInput("pktline: invalid length prefix %q", string(b[:]))
	}
	return int(raw[0])<<8 | int(raw[1]), nil
}

// WriteFlush emits a flush-pkt ("0000").
func WriteFlush(w io.Writer) error {
	_, err := w.Write(flushPkt[:])
	return err
}

// WriteDelim emits a delim-pkt ("0001").
func WriteDelim(w io.Writer) error {
	_, err := w.Write(delimPkt[:])
	return err
}

// WritePacket emits one data packet: its length-prefixed payload.
// Payloads longer than MaxPayloadSize are rejected — callers split larger
// data across multiple packets themselves.
func WritePacket(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ierr.MalformedInput("pktline: payload %d bytes exceeds max %d", len(payload), MaxPayloadSize)
	}
	total := lenSize + len(payload)
	if _, err := io.WriteString(w, asciiHex16(total)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// WriteString is a convenience wrapper around WritePacket for text lines;
// it does not append a trailing newline — callers following Git's
// convention append "\n" themselves before calling this.
func WriteString(w io.Writer, s string) error {
	return WritePacket(w, []byte(s))
}

// WriteSideBand wraps payload with a side-band channel byte and emits it
// as one packet, respecting the smaller side-band-64k effective payload
// budget (MaxPayloadSize minus the channel byte).
func WriteSideBand(w io.Writer, channel byte, payload []byte) error {
	if len(payload) > MaxPayloadSize-1 {
		return ierr.MalformedInput("pktline: side-band payload %d bytes exceeds max %d", len(payload), MaxPayloadSize-1)
	}
	framed := make([]byte, 1+len(payload))
	framed[0] = channel
	copy(framed[1:], payload)
	return WritePacket(w, framed)
}

// Packet is one decoded pkt-line unit: Flush and Delim mark their
// respective reserved packets (Payload is nil); otherwise Payload holds
// the packet's data bytes.
type Packet struct {
	Flush   bool
	Delim   bool
	Payload []byte
}

// ReadPacket reads and decodes exactly one packet from r.
func ReadPacket(r io.Reader) (Packet, error) {
	var lenBuf [lenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Packet{}, ierr.MalformedInput("pktline: truncated length prefix")
		}
		return Packet{}, err
	}
	n, err := hexDecode(lenBuf)
	if err != nil {
		return Packet{}, err
	}
	switch n {
	case FlushLen:
		return Packet{Flush: true}, nil
	case DelimLen:
		return Packet{Delim: true}, nil
	}
	if n < lenSize {
		return Packet{}, ierr.MalformedInput("pktline: invalid packet length %d", n)
	}
	if n > MaxPacketLength {
		return Packet{}, ierr.MalformedInput("pktline: packet length %d exceeds max %d", n, MaxPacketLength)
	}
	payload := make([]byte, n-lenSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, ierr.MalformedInput("pktline: truncated payload: %v", err)
	}
	return Packet{Payload: payload}, nil
}

// Scanner reads a sequence of packets from an underlying reader, stopping
// at the first flush-pkt (but not consuming packets after it — callers
// decide whether a trailing flush ends the whole stream or just a
// section, per the surrounding protocol phase).
type Scanner struct {
	r    io.Reader
	pkt  Packet
	err  error
	done bool
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r}
}

// Scan advances to the next packet. It returns false at a flush-pkt, a
// delim-pkt, EOF, or an error; callers distinguish these via Packet/Err.
func (s *Scanner) Scan() bool {
	if s.done {
		return false
	}
	pkt, err := ReadPacket(s.r)
	if err != nil {
		if err == io.EOF {
			s.done = true
			return false
		}
		s.err = err
		s.done = true
		return false
	}
	s.pkt = pkt
	if pkt.Flush || pkt.Delim {
		s.done = true
		return false
	}
	return true
}

// Packet returns the last packet delivered by a successful Scan, or the
// terminating flush/delim packet that ended scanning.
func (s *Scanner) Packet() Packet { return s.pkt }

// Err returns the first non-EOF error encountered, if any.
func (s *Scanner) Err() error { return s.err }
