package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderLen is the size of the RFC 5734 length prefix.
const HeaderLen = 4

// MaxWirePayload is the largest payload a 32-bit total length can describe.
const MaxWirePayload = math.MaxUint32 - HeaderLen

var (
	// ErrFraming is matched by every decode/encode failure in this package.
	ErrFraming = errors.New("frame: framing error")

	ErrShortHeader     = fmt.Errorf("%w: short length header", ErrFraming)
	ErrLengthTooSmall  = fmt.Errorf("%w: length smaller than header", ErrFraming)
	ErrTruncated       = fmt.Errorf("%w: truncated frame", ErrFraming)
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrFraming)
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

func (l Limits) maxPayload() uint64 {
	if l.MaxPayloadBytes == 0 || l.MaxPayloadBytes > MaxWirePayload {
		return MaxWirePayload
	}
	return l.MaxPayloadBytes
}

// Encode returns the wire form of payload: total length (itself included) then payload.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > MaxWirePayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(len(payload)+HeaderLen))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// DecodeLength validates a length prefix and returns the payload size it announces.
func DecodeLength(b []byte) (uint32, error) {
	if len(b) != HeaderLen {
		return 0, fmt.Errorf("%w: invalid length header size: %d", ErrFraming, len(b))
	}
	total := binary.BigEndian.Uint32(b)
	if total < HeaderLen {
		return 0, fmt.Errorf("%w: length=%d", ErrLengthTooSmall, total)
	}
	return total - HeaderLen, nil
}

// ExactReader is the blocking read primitive of a connection: n bytes or an
// error. A stream that ends first returns io.EOF or io.ErrUnexpectedEOF
// unwrapped. *session.Conn implements it.
type ExactReader interface {
	ReadExact(n int) ([]byte, error)
}

// AllWriter is the blocking write primitive of a connection.
type AllWriter interface {
	WriteAll(b []byte) error
}

func readExact(r io.Reader, n int) ([]byte, error) {
	if er, ok := r.(ExactReader); ok {
		return er.ReadExact(n)
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	return buf[:got], err
}

func endOfStream(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// ReadFrame reads one frame and returns its payload bytes unmodified.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	hdr, err := readExact(r, HeaderLen)
	if err != nil {
		if endOfStream(err) {
			return nil, ErrShortHeader
		}
		return nil, err
	}

	n, err := DecodeLength(hdr)
	if err != nil {
		return nil, err
	}
	if uint64(n) > limits.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	if n == 0 {
		return []byte{}, nil
	}

	payload, err := readExact(r, int(n))
	if err != nil {
		if endOfStream(err) {
			return nil, fmt.Errorf("%w: have %d of %d bytes", ErrTruncated, len(payload), n)
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes header and payload as one buffer, through WriteAll when w
// has it and a single Write call otherwise.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if uint64(len(payload)) > limits.maxPayload() {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf, err := Encode(payload)
	if err != nil {
		return err
	}
	if aw, ok := w.(AllWriter); ok {
		return aw.WriteAll(buf)
	}
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
