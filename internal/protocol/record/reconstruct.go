package record

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// decoder walks a flattened buffer with two cursors: off into src and the
// length of storage, which is the record's own backing area. Every field is
// copied into storage before a view of it is built, so views never alias src.
type decoder struct {
	src     []byte
	off     int
	storage []byte
}

func newDecoder(src []byte) *decoder {
	// storage never grows past len(src), so append never reallocates and
	// earlier views stay valid.
	return &decoder{src: src, storage: make([]byte, 0, len(src))}
}

func (d *decoder) remaining() int {
	return len(d.src) - d.off
}

// take copies the next n source bytes into storage and returns the copy.
func (d *decoder) take(field string, n uint64) ([]byte, error) {
	if n > uint64(d.remaining()) {
		return nil, &TruncatedError{Field: field, Offset: d.off, Need: int(min(n, uint64(1<<31-1))), Have: d.remaining()}
	}
	start := len(d.storage)
	d.storage = append(d.storage, d.src[d.off:d.off+int(n)]...)
	d.off += int(n)
	end := len(d.storage)
	return d.storage[start:end:end], nil
}

func (d *decoder) text(field string, enc TextEncoding) (string, error) {
	n := enc.span(d.src[d.off:])
	if n < 0 {
		return "", &TruncatedError{Field: field, Offset: d.off, Need: -1, Have: d.remaining()}
	}
	b, err := d.take(field, uint64(n))
	if err != nil {
		return "", err
	}
	return enc.decode(field, b)
}

func (d *decoder) guid(field string) (uuid.UUID, error) {
	b, err := d.take(field, GUIDSize)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

func (d *decoder) optText(field string, present bool, enc TextEncoding) (Optional[string], error) {
	if !present {
		return None[string](), nil
	}
	s, err := d.text(field, enc)
	if err != nil {
		return None[string](), err
	}
	return Some(s), nil
}

func (d *decoder) optGUID(field string, present bool) (Optional[uuid.UUID], error) {
	if !present {
		return None[uuid.UUID](), nil
	}
	id, err := d.guid(field)
	if err != nil {
		return None[uuid.UUID](), err
	}
	return Some(id), nil
}

// Reconstruct rebuilds a record from a flattened buffer. Bytes past the
// record are ignored.
func (c Codec) Reconstruct(buf []byte) (*Record, error) {
	r, _, err := c.ReconstructN(buf)
	return r, err
}

// ReconstructN is Reconstruct that also reports how many bytes of buf the
// record occupied. On error no record is returned.
func (c Codec) ReconstructN(buf []byte) (*Record, int, error) {
	c = c.WithDefaults()
	h, err := parseHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	if err := c.checkCount("protocols", h.NumProtocols); err != nil {
		return nil, 0, err
	}
	if err := c.checkCount("address_pairs", h.NumPairs); err != nil {
		return nil, 0, err
	}

	d := newDecoder(buf)
	if _, err := d.take("header", HeaderSize); err != nil {
		return nil, 0, err
	}
	r := &Record{NameSpace: h.NameSpace, OutputFlags: h.OutputFlags}
	p := h.Presence

	if r.InstanceName, err = d.optText("instance_name", p.Has(HasInstanceName), h.Text); err != nil {
		return nil, 0, err
	}
	if r.ClassID, err = d.optGUID("class_id", p.Has(HasClassID)); err != nil {
		return nil, 0, err
	}
	if p.Has(HasVersion) {
		b, err := d.take("version", VersionSize)
		if err != nil {
			return nil, 0, err
		}
		r.Version = Some(Version{
			Version: binary.BigEndian.Uint32(b[0:4]),
			How:     Comparator(binary.BigEndian.Uint32(b[4:8])),
		})
	}
	if r.Comment, err = d.optText("comment", p.Has(HasComment), h.Text); err != nil {
		return nil, 0, err
	}
	if r.ProviderID, err = d.optGUID("provider_id", p.Has(HasProviderID)); err != nil {
		return nil, 0, err
	}
	if r.Context, err = d.optText("context", p.Has(HasContext), h.Text); err != nil {
		return nil, 0, err
	}
	if p.Has(HasProtocols) {
		protocols, err := d.protocols(h.NumProtocols)
		if err != nil {
			return nil, 0, err
		}
		r.Protocols = Some(protocols)
	}
	if r.QueryString, err = d.optText("query_string", p.Has(HasQueryString), h.Text); err != nil {
		return nil, 0, err
	}
	if p.Has(HasAddressPairs) {
		pairs, err := d.pairs(c.Limits, h.NumPairs)
		if err != nil {
			return nil, 0, err
		}
		r.AddressPairs = Some(pairs)
	}
	return r, d.off, nil
}

func (c Codec) checkCount(field string, n uint32) error {
	if n > c.Limits.MaxCount {
		return fmt.Errorf("%w: %s declares %d entries, limit %d", ErrCountTooLarge, field, n, c.Limits.MaxCount)
	}
	return nil
}

func (d *decoder) protocols(count uint32) ([]Protocol, error) {
	b, err := d.take("protocols", uint64(count)*ProtocolSize)
	if err != nil {
		return nil, err
	}
	out := make([]Protocol, count)
	for i := range out {
		off := i * ProtocolSize
		out[i] = Protocol{
			Family:   int32(binary.BigEndian.Uint32(b[off : off+4])),
			Protocol: int32(binary.BigEndian.Uint32(b[off+4 : off+8])),
		}
	}
	return out, nil
}

// pairs reads all descriptors, then each pair's local and remote bytes.
// Address slices are views into storage.
func (d *decoder) pairs(limits Limits, count uint32) ([]AddressPair, error) {
	desc, err := d.take("address_pairs", uint64(count)*PairDescriptorSize)
	if err != nil {
		return nil, err
	}
	out := make([]AddressPair, count)
	lens := make([][2]uint32, count)
	for i := range out {
		b := desc[i*PairDescriptorSize:]
		lens[i] = [2]uint32{binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8])}
		if lens[i][0] > limits.MaxAddressLen || lens[i][1] > limits.MaxAddressLen {
			return nil, fmt.Errorf("%w: address_pairs[%d] declares %d/%d bytes, limit %d",
				ErrAddressTooLarge, i, lens[i][0], lens[i][1], limits.MaxAddressLen)
		}
		out[i].SocketType = int32(binary.BigEndian.Uint32(b[8:12]))
		out[i].Protocol = int32(binary.BigEndian.Uint32(b[12:16]))
	}
	for i := range out {
		local, err := d.take(fmt.Sprintf("address_pairs[%d].local", i), uint64(lens[i][0]))
		if err != nil {
			return nil, err
		}
		remote, err := d.take(fmt.Sprintf("address_pairs[%d].remote", i), uint64(lens[i][1]))
		if err != nil {
			return nil, err
		}
		out[i].Local = local
		out[i].Remote = remote
	}
	return out, nil
}
