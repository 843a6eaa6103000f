package record

import (
	"encoding/binary"
	"fmt"
)

// Service class wire sizes.
const (
	ClassHeaderSize = 12
	ClassInfoSize   = 16
)

// Class presence bits in canonical order.
const (
	ClassHasID Presence = 1 << iota
	ClassHasName
	ClassHasInfos

	classPresenceMask = ClassHasInfos<<1 - 1
)

func (c *ServiceClassInfo) presence() Presence {
	var p Presence
	if c.ClassID.Present() {
		p |= ClassHasID
	}
	if c.ClassName.Present() {
		p |= ClassHasName
	}
	if c.ClassInfos.Present() {
		p |= ClassHasInfos
	}
	return p
}

// ClassSize returns the exact flattened size of sc.
func (c Codec) ClassSize(sc *ServiceClassInfo) (int, error) {
	l, err := c.WithDefaults().classLayout(sc)
	if err != nil {
		return 0, err
	}
	return l.size, nil
}

// FlattenClass returns sc as one contiguous buffer: class header, class id,
// class name, class infos.
func (c Codec) FlattenClass(sc *ServiceClassInfo) ([]byte, error) {
	l, err := c.WithDefaults().classLayout(sc)
	if err != nil {
		return nil, err
	}
	return l.bytes(), nil
}

func (c Codec) FlattenClassInto(dst []byte, sc *ServiceClassInfo) (int, error) {
	l, err := c.WithDefaults().classLayout(sc)
	if err != nil {
		return 0, err
	}
	return l.writeTo(dst)
}

func (c Codec) classLayout(sc *ServiceClassInfo) (*layout, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: nil service class", ErrInvalidHeader)
	}
	l := &layout{head: make([]byte, ClassHeaderSize), size: ClassHeaderSize}
	var count uint32
	if id, ok := sc.ClassID.Get(); ok {
		l.add(id[:])
	}
	if err := c.addText(l, "class_name", sc.ClassName); err != nil {
		return nil, err
	}
	if infos, ok := sc.ClassInfos.Get(); ok {
		n, err := c.count("class_infos", len(infos))
		if err != nil {
			return nil, err
		}
		count = n
		b := make([]byte, len(infos)*ClassInfoSize)
		for i, info := range infos {
			off := i * ClassInfoSize
			binary.BigEndian.PutUint32(b[off:off+4], info.NameSpace)
			binary.BigEndian.PutUint32(b[off+4:off+8], info.ValueType)
			binary.BigEndian.PutUint64(b[off+8:off+16], info.Value)
		}
		l.add(b)
	}

	binary.BigEndian.PutUint32(l.head[0:4], ClassHeaderSize)
	binary.BigEndian.PutUint16(l.head[4:6], uint16(sc.presence()))
	l.head[6] = byte(c.Text)
	l.head[7] = 0
	binary.BigEndian.PutUint32(l.head[8:12], count)
	return l, nil
}

// ReconstructClass rebuilds a service class from a flattened buffer.
func (c Codec) ReconstructClass(buf []byte) (*ServiceClassInfo, error) {
	c = c.WithDefaults()
	if len(buf) < ClassHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, class header needs %d", ErrInvalidHeader, len(buf), ClassHeaderSize)
	}
	size := binary.BigEndian.Uint32(buf[0:4])
	p := Presence(binary.BigEndian.Uint16(buf[4:6]))
	text := TextEncoding(buf[6])
	count := binary.BigEndian.Uint32(buf[8:12])
	switch {
	case size != ClassHeaderSize:
		return nil, fmt.Errorf("%w: class header size %d", ErrInvalidHeader, size)
	case buf[7] != 0:
		return nil, fmt.Errorf("%w: reserved byte set", ErrInvalidHeader)
	case p&^classPresenceMask != 0:
		return nil, fmt.Errorf("%w: unknown class presence bits %#x", ErrInvalidHeader, uint16(p&^classPresenceMask))
	case !text.valid():
		return nil, fmt.Errorf("%w: text encoding %d", ErrInvalidHeader, text)
	case !p.Has(ClassHasInfos) && count != 0:
		return nil, fmt.Errorf("%w: class info count without class infos", ErrInvalidHeader)
	}
	if err := c.checkCount("class_infos", count); err != nil {
		return nil, err
	}

	d := newDecoder(buf)
	if _, err := d.take("class_header", ClassHeaderSize); err != nil {
		return nil, err
	}
	sc := &ServiceClassInfo{}
	var err error
	if sc.ClassID, err = d.optGUID("class_id", p.Has(ClassHasID)); err != nil {
		return nil, err
	}
	if sc.ClassName, err = d.optText("class_name", p.Has(ClassHasName), text); err != nil {
		return nil, err
	}
	if p.Has(ClassHasInfos) {
		b, err := d.take("class_infos", uint64(count)*ClassInfoSize)
		if err != nil {
			return nil, err
		}
		infos := make([]ClassInfo, count)
		for i := range infos {
			off := i * ClassInfoSize
			infos[i] = ClassInfo{
				NameSpace: binary.BigEndian.Uint32(b[off : off+4]),
				ValueType: binary.BigEndian.Uint32(b[off+4 : off+8]),
				Value:     binary.BigEndian.Uint64(b[off+8 : off+16]),
			}
		}
		sc.ClassInfos = Some(infos)
	}
	return sc, nil
}
