// Package frame delimits messages on a stream with a fixed header that
// carries the payload length.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/svcwire/internal/protocol/stream"
)

const (
	Magic          uint32 = 0x53565752 // "SVWR"
	Version        uint16 = 1
	FixedHeaderLen uint16 = 32

	FlagIsResponse uint32 = 0x01
	FlagIsError    uint32 = 0x02
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenMismatch  = errors.New("frame: header_len does not match fixed header")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrShortWrite         = errors.New("frame: peer stopped accepting data")
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// ReadFrame reads one frame from r. A peer that closes before sending any
// header byte yields stream.ErrConnectionClosed unwrapped, so callers can
// tell an orderly hangup from a torn frame.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	n, err := stream.ReadExact(r, fixed[:])
	if err != nil {
		if n == 0 && errors.Is(err, stream.ErrConnectionClosed) {
			return Frame{}, err
		}
		if errors.Is(err, stream.ErrConnectionClosed) {
			return Frame{}, fmt.Errorf("%w: got %d of %d bytes: %w", ErrShortHeader, n, FixedHeaderLen, err)
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if err := h.validate(limits); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := stream.ReadExact(r, payload); err != nil {
			return Frame{}, fmt.Errorf("frame: read payload message_id=%d: %w", h.MessageID, err)
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame stamps magic, version and lengths onto f.Header and sends the
// header and payload in one exact write.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, payloadLen, limits.MaxPayloadBytes)
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	buf := make([]byte, int(FixedHeaderLen)+len(f.Payload))
	putHeader(buf, h)
	copy(buf[FixedHeaderLen:], f.Payload)

	n, err := stream.WriteExact(w, buf)
	if err != nil {
		return err
	}
	if n < len(buf) {
		if c, ok := w.(io.Closer); ok {
			_ = c.Close()
		}
		return fmt.Errorf("%w: sent %d of %d bytes: %w", ErrShortWrite, n, len(buf), stream.ErrConnectionClosed)
	}
	return nil
}

func (h Header) validate(limits Limits) error {
	switch {
	case h.Magic != Magic:
		return fmt.Errorf("%w: %#x", ErrInvalidMagic, h.Magic)
	case h.Version != Version:
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	case h.HeaderLen != FixedHeaderLen:
		return fmt.Errorf("%w: %d", ErrHeaderLenMismatch, h.HeaderLen)
	case h.PayloadLen > limits.MaxPayloadBytes:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, h.PayloadLen, limits.MaxPayloadBytes)
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
