package record

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// TextEncoding selects how text fields are laid out on the wire.
type TextEncoding uint8

const (
	TextUTF8    TextEncoding = 1
	TextUTF16LE TextEncoding = 2
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func ParseTextEncoding(raw string) (TextEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "utf8", "utf-8":
		return TextUTF8, nil
	case "", "utf16", "utf-16", "utf16le", "utf-16le":
		return TextUTF16LE, nil
	default:
		return 0, fmt.Errorf("record: unknown text encoding %q", raw)
	}
}

func (e TextEncoding) String() string {
	switch e {
	case TextUTF8:
		return "utf-8"
	case TextUTF16LE:
		return "utf-16le"
	default:
		return fmt.Sprintf("text(%d)", uint8(e))
	}
}

func (e TextEncoding) valid() bool {
	return e == TextUTF8 || e == TextUTF16LE
}

// Width is the size in bytes of one code unit, and of the terminator.
func (e TextEncoding) Width() int {
	if e == TextUTF16LE {
		return 2
	}
	return 1
}

// encode returns s in wire form including its terminator.
func (e TextEncoding) encode(field, s string) ([]byte, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return nil, fmt.Errorf("%w: %s contains NUL", ErrInvalidText, field)
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidText, field)
	}
	switch e {
	case TextUTF8:
		out := make([]byte, len(s)+1)
		copy(out, s)
		return out, nil
	case TextUTF16LE:
		b, err := utf16le.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidText, field, err)
		}
		return append(b, 0, 0), nil
	default:
		return nil, fmt.Errorf("%w: text encoding %d", ErrInvalidHeader, e)
	}
}

// span returns the wire length of the terminated text at the start of b,
// or -1 when no terminator is found.
func (e TextEncoding) span(b []byte) int {
	if e == TextUTF8 {
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			return -1
		}
		return i + 1
	}
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			return i + 2
		}
	}
	return -1
}

// decode turns a terminated wire text back into a Go string.
func (e TextEncoding) decode(field string, b []byte) (string, error) {
	body := b[:len(b)-e.Width()]
	if e == TextUTF8 {
		if !utf8.Valid(body) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidText, field)
		}
		return string(body), nil
	}
	out, err := utf16le.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidText, field, err)
	}
	return string(out), nil
}
