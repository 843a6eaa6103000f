package record

import (
	"encoding/binary"
	"fmt"
)

// layout is the wire form of a record before it is copied out: the header
// followed by the present fields as chunks in canonical order.
type layout struct {
	head   []byte
	chunks [][]byte
	size   int
}

func (l *layout) add(b []byte) {
	l.chunks = append(l.chunks, b)
	l.size += len(b)
}

func (l *layout) writeTo(dst []byte) (int, error) {
	if len(dst) < l.size {
		return 0, &SizeError{Need: l.size, Have: len(dst)}
	}
	off := copy(dst, l.head)
	for _, chunk := range l.chunks {
		off += copy(dst[off:], chunk)
	}
	return off, nil
}

func (l *layout) bytes() []byte {
	out := make([]byte, l.size)
	n, _ := l.writeTo(out)
	return out[:n]
}

// Size returns the exact flattened size of r.
func (c Codec) Size(r *Record) (int, error) {
	l, err := c.WithDefaults().layout(r)
	if err != nil {
		return 0, err
	}
	return l.size, nil
}

// Flatten returns r as one contiguous buffer of exactly its flattened size.
func (c Codec) Flatten(r *Record) ([]byte, error) {
	l, err := c.WithDefaults().layout(r)
	if err != nil {
		return nil, err
	}
	return l.bytes(), nil
}

// FlattenInto writes r to the front of dst and returns the flattened size.
// A short dst fails with ErrBufferTooSmall and is left untouched.
func (c Codec) FlattenInto(dst []byte, r *Record) (int, error) {
	l, err := c.WithDefaults().layout(r)
	if err != nil {
		return 0, err
	}
	return l.writeTo(dst)
}

func (c Codec) layout(r *Record) (*layout, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidHeader)
	}
	h := header{
		Size:        HeaderSize,
		Presence:    r.Presence(),
		Text:        c.Text,
		NameSpace:   r.NameSpace,
		OutputFlags: r.OutputFlags,
	}
	l := &layout{head: make([]byte, HeaderSize), size: HeaderSize}

	if err := c.addText(l, "instance_name", r.InstanceName); err != nil {
		return nil, err
	}
	if id, ok := r.ClassID.Get(); ok {
		l.add(id[:])
	}
	if v, ok := r.Version.Get(); ok {
		l.add(encodeVersion(v))
	}
	if err := c.addText(l, "comment", r.Comment); err != nil {
		return nil, err
	}
	if id, ok := r.ProviderID.Get(); ok {
		l.add(id[:])
	}
	if err := c.addText(l, "context", r.Context); err != nil {
		return nil, err
	}
	if protocols, ok := r.Protocols.Get(); ok {
		count, err := c.count("protocols", len(protocols))
		if err != nil {
			return nil, err
		}
		h.NumProtocols = count
		l.add(encodeProtocols(protocols))
	}
	if err := c.addText(l, "query_string", r.QueryString); err != nil {
		return nil, err
	}
	if pairs, ok := r.AddressPairs.Get(); ok {
		count, err := c.count("address_pairs", len(pairs))
		if err != nil {
			return nil, err
		}
		h.NumPairs = count
		if err := c.addPairs(l, pairs); err != nil {
			return nil, err
		}
	}

	h.put(l.head)
	return l, nil
}

func (c Codec) addText(l *layout, field string, o Optional[string]) error {
	s, ok := o.Get()
	if !ok {
		return nil
	}
	b, err := c.Text.encode(field, s)
	if err != nil {
		return err
	}
	l.add(b)
	return nil
}

func (c Codec) count(field string, n int) (uint32, error) {
	if uint64(n) > uint64(c.Limits.MaxCount) {
		return 0, fmt.Errorf("%w: %s has %d entries, limit %d", ErrCountTooLarge, field, n, c.Limits.MaxCount)
	}
	return uint32(n), nil
}

// addPairs emits every descriptor first and then, pair by pair, the local
// address bytes followed by the remote address bytes.
func (c Codec) addPairs(l *layout, pairs []AddressPair) error {
	desc := make([]byte, len(pairs)*PairDescriptorSize)
	for i, pair := range pairs {
		if err := c.checkAddress(i, "local", pair.Local); err != nil {
			return err
		}
		if err := c.checkAddress(i, "remote", pair.Remote); err != nil {
			return err
		}
		b := desc[i*PairDescriptorSize:]
		binary.BigEndian.PutUint32(b[0:4], uint32(len(pair.Local)))
		binary.BigEndian.PutUint32(b[4:8], uint32(len(pair.Remote)))
		binary.BigEndian.PutUint32(b[8:12], uint32(pair.SocketType))
		binary.BigEndian.PutUint32(b[12:16], uint32(pair.Protocol))
	}
	l.add(desc)
	for _, pair := range pairs {
		l.add(pair.Local)
		l.add(pair.Remote)
	}
	return nil
}

func (c Codec) checkAddress(i int, side string, addr []byte) error {
	if uint64(len(addr)) > uint64(c.Limits.MaxAddressLen) {
		return fmt.Errorf("%w: address_pairs[%d].%s is %d bytes, limit %d",
			ErrAddressTooLarge, i, side, len(addr), c.Limits.MaxAddressLen)
	}
	return nil
}

func encodeVersion(v Version) []byte {
	b := make([]byte, VersionSize)
	binary.BigEndian.PutUint32(b[0:4], v.Version)
	binary.BigEndian.PutUint32(b[4:8], uint32(v.How))
	return b
}

func encodeProtocols(protocols []Protocol) []byte {
	b := make([]byte, len(protocols)*ProtocolSize)
	for i, p := range protocols {
		off := i * ProtocolSize
		binary.BigEndian.PutUint32(b[off:off+4], uint32(p.Family))
		binary.BigEndian.PutUint32(b[off+4:off+8], uint32(p.Protocol))
	}
	return b
}
