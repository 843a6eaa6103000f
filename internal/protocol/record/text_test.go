package record

import (
	"testing"

	"github.com/danmuck/svcwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextEncoding(t *testing.T) {
	testlog.Start(t)
	cases := map[string]TextEncoding{
		"":         TextUTF16LE,
		"UTF-8":    TextUTF8,
		"utf8":     TextUTF8,
		" utf16le": TextUTF16LE,
		"utf-16":   TextUTF16LE,
	}
	for raw, want := range cases {
		got, err := ParseTextEncoding(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseTextEncoding("latin1")
	assert.Error(t, err)
}

func TestTextEncodeWidths(t *testing.T) {
	testlog.Start(t)
	b, err := TextUTF8.encode("f", "hé")
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 0xc3, 0xa9, 0}, b)

	b, err = TextUTF16LE.encode("f", "hé")
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 0, 0xe9, 0, 0, 0}, b)

	// surrogate pair
	b, err = TextUTF16LE.encode("f", "😀")
	require.NoError(t, err)
	assert.Len(t, b, 6)
	s, err := TextUTF16LE.decode("f", b)
	require.NoError(t, err)
	assert.Equal(t, "😀", s)
}

func TestTextSpanUsesAlignedTerminator(t *testing.T) {
	testlog.Start(t)
	// 0x0100 0x0041 then terminator: the zero bytes straddling units are not a terminator
	b := []byte{0x00, 0x01, 0x00, 0x41, 0x00, 0x00, 0xff}
	assert.Equal(t, 6, TextUTF16LE.span(b))
	assert.Equal(t, -1, TextUTF16LE.span(b[:5]))
	assert.Equal(t, 1, TextUTF8.span(b))
	assert.Equal(t, -1, TextUTF8.span([]byte("abc")))
}
