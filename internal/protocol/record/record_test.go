package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"unicode/utf16"

	"github.com/danmuck/svcwire/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	printerClass = uuid.MustParse("0c3a9e57-21f4-4f0e-9d3b-7b1b5f4c2a10")
	labProvider  = uuid.MustParse("5b7e0d1c-88a2-4c61-a2d4-93c0e6f1b27e")
)

var allFields = []Presence{
	HasInstanceName, HasClassID, HasVersion, HasComment, HasProviderID,
	HasContext, HasProtocols, HasQueryString, HasAddressPairs,
}

func fixturePairs() []AddressPair {
	return []AddressPair{
		{
			Local:      []byte{10, 0, 0, 7},
			Remote:     SockaddrFromAddrPort(netip.MustParseAddrPort("192.0.2.10:631")),
			SocketType: 1,
			Protocol:   6,
		},
		{
			Local:      SockaddrFromAddrPort(netip.MustParseAddrPort("[2001:db8::1]:9100")),
			Remote:     []byte{0xde, 0xad, 0xbe, 0xef},
			SocketType: 2,
			Protocol:   17,
		},
	}
}

// fixture returns a record carrying exactly the fields in mask.
func fixture(mask Presence) *Record {
	r := &Record{NameSpace: 12, OutputFlags: 0x40}
	if mask.Has(HasInstanceName) {
		r.InstanceName = Some("printer.lab")
	}
	if mask.Has(HasClassID) {
		r.ClassID = Some(printerClass)
	}
	if mask.Has(HasVersion) {
		r.Version = Some(Version{Version: 3, How: CompareNotLess})
	}
	if mask.Has(HasComment) {
		r.Comment = Some("second floor ☃")
	}
	if mask.Has(HasProviderID) {
		r.ProviderID = Some(labProvider)
	}
	if mask.Has(HasContext) {
		r.Context = Some("lab")
	}
	if mask.Has(HasProtocols) {
		r.Protocols = Some([]Protocol{{Family: 2, Protocol: 6}, {Family: 23, Protocol: 17}})
	}
	if mask.Has(HasQueryString) {
		r.QueryString = Some("color=yes")
	}
	if mask.Has(HasAddressPairs) {
		r.AddressPairs = Some(fixturePairs())
	}
	return r
}

func without(r *Record, bit Presence) *Record {
	out := *r
	switch bit {
	case HasInstanceName:
		out.InstanceName = None[string]()
	case HasClassID:
		out.ClassID = None[uuid.UUID]()
	case HasVersion:
		out.Version = None[Version]()
	case HasComment:
		out.Comment = None[string]()
	case HasProviderID:
		out.ProviderID = None[uuid.UUID]()
	case HasContext:
		out.Context = None[string]()
	case HasProtocols:
		out.Protocols = None[[]Protocol]()
	case HasQueryString:
		out.QueryString = None[string]()
	case HasAddressPairs:
		out.AddressPairs = None[[]AddressPair]()
	}
	return &out
}

func textLen(s string, enc TextEncoding) int {
	if enc == TextUTF8 {
		return len(s) + 1
	}
	return (len(utf16.Encode([]rune(s))) + 1) * 2
}

// fieldLen is the expected wire length of one field of the full fixture.
func fieldLen(bit Presence, enc TextEncoding) int {
	full := fixture(presenceMask)
	switch bit {
	case HasInstanceName:
		return textLen(full.InstanceName.Value(), enc)
	case HasClassID, HasProviderID:
		return GUIDSize
	case HasVersion:
		return VersionSize
	case HasComment:
		return textLen(full.Comment.Value(), enc)
	case HasContext:
		return textLen(full.Context.Value(), enc)
	case HasProtocols:
		return 2 * ProtocolSize
	case HasQueryString:
		return textLen(full.QueryString.Value(), enc)
	case HasAddressPairs:
		return 2*PairDescriptorSize + 4 + 16 + 28 + 4
	}
	panic("unknown field")
}

func codecs() map[string]Codec {
	return map[string]Codec{
		"utf8":    {Text: TextUTF8},
		"utf16le": {Text: TextUTF16LE},
	}
}

func TestRoundTripEverySubset(t *testing.T) {
	testlog.Start(t)
	for name, c := range codecs() {
		for mask := Presence(0); mask <= presenceMask; mask++ {
			in := fixture(mask)
			buf, err := c.Flatten(in)
			require.NoError(t, err, "%s mask=%#x", name, mask)

			out, err := c.Reconstruct(buf)
			require.NoError(t, err, "%s mask=%#x", name, mask)
			require.True(t, in.Equal(out), "%s mask=%#x: got %+v want %+v", name, mask, out, in)
			require.Equal(t, mask, out.Presence(), "%s mask=%#x", name, mask)
		}
	}
}

func TestFlattenSizeIsAdditive(t *testing.T) {
	testlog.Start(t)
	for name, c := range codecs() {
		empty, err := c.Size(&Record{})
		require.NoError(t, err)
		assert.Equal(t, HeaderSize, empty, name)

		full := fixture(presenceMask)
		fullSize, err := c.Size(full)
		require.NoError(t, err)

		total := HeaderSize
		for _, bit := range allFields {
			want := fieldLen(bit, c.Text)
			total += want
			reduced, err := c.Size(without(full, bit))
			require.NoError(t, err)
			assert.Equal(t, want, fullSize-reduced, "%s field %#x", name, bit)
		}
		assert.Equal(t, total, fullSize, name)

		buf, err := c.Flatten(full)
		require.NoError(t, err)
		assert.Len(t, buf, fullSize, name)
	}
}

func TestEmptyRecordIsHeaderOnly(t *testing.T) {
	testlog.Start(t)
	in := &Record{NameSpace: 1}
	buf, err := Flatten(in)
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize)

	out, err := Reconstruct(buf)
	require.NoError(t, err)
	assert.Equal(t, Presence(0), out.Presence())
	assert.Equal(t, uint32(1), out.NameSpace)
	assert.False(t, out.Protocols.Present())
	assert.False(t, out.AddressPairs.Present())
}

func TestPresentEmptyValuesStayPresent(t *testing.T) {
	testlog.Start(t)
	in := &Record{
		InstanceName: Some(""),
		Protocols:    Some([]Protocol{}),
		AddressPairs: Some([]AddressPair{{SocketType: 1}}),
	}
	buf, err := Flatten(in)
	require.NoError(t, err)
	assert.Len(t, buf, HeaderSize+2+PairDescriptorSize)

	out, err := Reconstruct(buf)
	require.NoError(t, err)
	name, ok := out.InstanceName.Get()
	assert.True(t, ok)
	assert.Equal(t, "", name)
	assert.True(t, out.Protocols.Present())
	assert.Empty(t, out.Protocols.Value())
	require.Len(t, out.AddressPairs.Value(), 1)
	assert.Empty(t, out.AddressPairs.Value()[0].Local)
	assert.True(t, in.Equal(out))
}

func TestAddressPairsNestedLayout(t *testing.T) {
	testlog.Start(t)
	in := &Record{AddressPairs: Some(fixturePairs())}
	buf, err := Flatten(in)
	require.NoError(t, err)

	// descriptors first, then local0 remote0 local1 remote1
	pairs := fixturePairs()
	desc := buf[HeaderSize : HeaderSize+2*PairDescriptorSize]
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(desc[0:4]))
	assert.Equal(t, uint32(16), binary.BigEndian.Uint32(desc[4:8]))
	assert.Equal(t, uint32(28), binary.BigEndian.Uint32(desc[16:20]))
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(desc[20:24]))
	payload := buf[HeaderSize+2*PairDescriptorSize:]
	want := bytes.Join([][]byte{pairs[0].Local, pairs[0].Remote, pairs[1].Local, pairs[1].Remote}, nil)
	assert.Equal(t, want, payload)

	out, err := Reconstruct(buf)
	require.NoError(t, err)
	got := out.AddressPairs.Value()
	require.Len(t, got, 2)
	for i := range pairs {
		assert.Equal(t, pairs[i].Local, got[i].Local, "pair %d local", i)
		assert.Equal(t, pairs[i].Remote, got[i].Remote, "pair %d remote", i)
		assert.Equal(t, pairs[i].SocketType, got[i].SocketType)
		assert.Equal(t, pairs[i].Protocol, got[i].Protocol)
	}
	ap, err := AddrPortFromSockaddr(got[0].Remote)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.10:631"), ap)
}

func TestReconstructedRecordOwnsStorage(t *testing.T) {
	testlog.Start(t)
	in := fixture(presenceMask)
	buf, err := Flatten(in)
	require.NoError(t, err)

	out, err := Reconstruct(buf)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = 0xff
	}
	assert.True(t, in.Equal(out), "record changed after source buffer was reused")

	// appending to a view must not clobber the neighbouring field
	pairs := out.AddressPairs.Value()
	_ = append(pairs[0].Local, 0x99)
	assert.Equal(t, fixturePairs()[0].Remote, pairs[0].Remote)
}

func TestReconstructTruncatedPrefixes(t *testing.T) {
	testlog.Start(t)
	for name, c := range codecs() {
		buf, err := c.Flatten(fixture(presenceMask))
		require.NoError(t, err)
		for n := 0; n < len(buf); n++ {
			out, err := c.Reconstruct(buf[:n])
			require.Nil(t, out, "%s prefix %d returned a record", name, n)
			if n < HeaderSize {
				require.ErrorIs(t, err, ErrInvalidHeader, "%s prefix %d", name, n)
				continue
			}
			require.ErrorIs(t, err, ErrTruncatedBuffer, "%s prefix %d", name, n)
			var te *TruncatedError
			require.True(t, errors.As(err, &te))
		}
	}
}

func TestReconstructIgnoresTrailingBytes(t *testing.T) {
	testlog.Start(t)
	in := fixture(HasInstanceName | HasAddressPairs)
	buf, err := Flatten(in)
	require.NoError(t, err)
	padded := append(append([]byte{}, buf...), make([]byte, 64)...)

	out, n, err := DefaultCodec().ReconstructN(padded)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.True(t, in.Equal(out))
}

func TestFlattenIntoBufferTooSmall(t *testing.T) {
	testlog.Start(t)
	c := DefaultCodec()
	in := fixture(presenceMask)
	size, err := c.Size(in)
	require.NoError(t, err)

	dst := make([]byte, size-1)
	n, err := c.FlattenInto(dst, in)
	require.ErrorIs(t, err, ErrBufferTooSmall)
	assert.Zero(t, n)
	assert.Equal(t, make([]byte, size-1), dst, "short destination was written")

	dst = make([]byte, size+10)
	n, err = c.FlattenInto(dst, in)
	require.NoError(t, err)
	assert.Equal(t, size, n)
}

func TestFlattenRejectsInvalidInput(t *testing.T) {
	testlog.Start(t)
	c := Codec{Limits: Limits{MaxCount: 1, MaxAddressLen: 8}}

	_, err := c.Flatten(&Record{Comment: Some("a\x00b")})
	assert.ErrorIs(t, err, ErrInvalidText)

	_, err = c.Flatten(&Record{Context: Some(string([]byte{0xff, 0xfe}))})
	assert.ErrorIs(t, err, ErrInvalidText)

	_, err = c.Flatten(&Record{Protocols: Some(make([]Protocol, 2))})
	assert.ErrorIs(t, err, ErrCountTooLarge)

	_, err = c.Flatten(&Record{AddressPairs: Some([]AddressPair{{Local: make([]byte, 9)}})})
	assert.ErrorIs(t, err, ErrAddressTooLarge)

	_, err = c.Flatten(nil)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestReconstructRejectsBadHeaders(t *testing.T) {
	testlog.Start(t)
	good, err := Flatten(fixture(HasProtocols | HasAddressPairs))
	require.NoError(t, err)

	mutate := func(f func(b []byte)) []byte {
		b := append([]byte{}, good...)
		f(b)
		return b
	}
	cases := map[string]struct {
		buf  []byte
		want error
	}{
		"header size": {mutate(func(b []byte) { binary.BigEndian.PutUint32(b[0:4], 32) }), ErrInvalidHeader},
		"unknown bit": {mutate(func(b []byte) { b[4] |= 0x80 }), ErrInvalidHeader},
		"text":        {mutate(func(b []byte) { b[6] = 9 }), ErrInvalidHeader},
		"reserved":    {mutate(func(b []byte) { b[7] = 1 }), ErrInvalidHeader},
		"orphan count": {mutate(func(b []byte) {
			binary.BigEndian.PutUint16(b[4:6], uint16(HasAddressPairs))
		}), ErrInvalidHeader},
		"count limit":    {mutate(func(b []byte) { binary.BigEndian.PutUint32(b[20:24], 1<<20) }), ErrCountTooLarge},
		"count past end": {mutate(func(b []byte) { binary.BigEndian.PutUint32(b[20:24], 900) }), ErrTruncatedBuffer},
		"address limit": {mutate(func(b []byte) {
			off := HeaderSize + 2*ProtocolSize
			binary.BigEndian.PutUint32(b[off:off+4], 4096)
		}), ErrAddressTooLarge},
		"address past end": {mutate(func(b []byte) {
			off := HeaderSize + 2*ProtocolSize + PairDescriptorSize + 4
			binary.BigEndian.PutUint32(b[off:off+4], 100)
		}), ErrTruncatedBuffer},
	}
	for name, tc := range cases {
		out, err := Reconstruct(tc.buf)
		assert.Nil(t, out, name)
		assert.ErrorIs(t, err, tc.want, name)
	}
}

func TestReconstructUnterminatedText(t *testing.T) {
	testlog.Start(t)
	for name, c := range codecs() {
		buf, err := c.Flatten(&Record{InstanceName: Some("abc")})
		require.NoError(t, err)
		buf = buf[:len(buf)-c.Text.Width()]
		_, err = c.Reconstruct(buf)
		var te *TruncatedError
		require.ErrorAs(t, err, &te, name)
		assert.Equal(t, "instance_name", te.Field)
		assert.Equal(t, -1, te.Need)
	}
}

func TestReconstructReadsEncodingFromHeader(t *testing.T) {
	testlog.Start(t)
	in := fixture(HasInstanceName | HasComment)
	buf, err := Codec{Text: TextUTF8}.Flatten(in)
	require.NoError(t, err)

	// a UTF-16 configured receiver still decodes UTF-8 senders
	out, err := Codec{Text: TextUTF16LE}.Reconstruct(buf)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}
