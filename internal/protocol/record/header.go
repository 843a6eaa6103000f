package record

import (
	"encoding/binary"
	"fmt"
)

// header is the fixed record prefix.
type header struct {
	Size         uint32
	Presence     Presence
	Text         TextEncoding
	NameSpace    uint32
	OutputFlags  uint32
	NumProtocols uint32
	NumPairs     uint32
}

func (h header) put(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Size)
	binary.BigEndian.PutUint16(b[4:6], uint16(h.Presence))
	b[6] = byte(h.Text)
	b[7] = 0
	binary.BigEndian.PutUint32(b[8:12], h.NameSpace)
	binary.BigEndian.PutUint32(b[12:16], h.OutputFlags)
	binary.BigEndian.PutUint32(b[16:20], h.NumProtocols)
	binary.BigEndian.PutUint32(b[20:24], h.NumPairs)
}

func parseHeader(b []byte) (header, error) {
	if len(b) < HeaderSize {
		return header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrInvalidHeader, len(b), HeaderSize)
	}
	h := header{
		Size:         binary.BigEndian.Uint32(b[0:4]),
		Presence:     Presence(binary.BigEndian.Uint16(b[4:6])),
		Text:         TextEncoding(b[6]),
		NameSpace:    binary.BigEndian.Uint32(b[8:12]),
		OutputFlags:  binary.BigEndian.Uint32(b[12:16]),
		NumProtocols: binary.BigEndian.Uint32(b[16:20]),
		NumPairs:     binary.BigEndian.Uint32(b[20:24]),
	}
	switch {
	case h.Size != HeaderSize:
		return header{}, fmt.Errorf("%w: header size %d", ErrInvalidHeader, h.Size)
	case b[7] != 0:
		return header{}, fmt.Errorf("%w: reserved byte set", ErrInvalidHeader)
	case h.Presence&^presenceMask != 0:
		return header{}, fmt.Errorf("%w: unknown presence bits %#x", ErrInvalidHeader, uint16(h.Presence&^presenceMask))
	case !h.Text.valid():
		return header{}, fmt.Errorf("%w: text encoding %d", ErrInvalidHeader, h.Text)
	case !h.Presence.Has(HasProtocols) && h.NumProtocols != 0:
		return header{}, fmt.Errorf("%w: protocol count without protocols", ErrInvalidHeader)
	case !h.Presence.Has(HasAddressPairs) && h.NumPairs != 0:
		return header{}, fmt.Errorf("%w: address pair count without address pairs", ErrInvalidHeader)
	}
	return h, nil
}
