package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/svcwire/internal/testutil/testlog"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	testlog.Start(t)
	in := []Field{
		NewString(1, "registered"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	testlog.Start(t)
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestTypedAccessors(t *testing.T) {
	testlog.Start(t)
	fields, err := DecodeFields(EncodeFields([]Field{
		NewU32(1, 7),
		NewU64(2, 1<<40),
		NewBool(3, true),
		NewString(4, "printer.lab"),
		NewBytes(5, []byte{1, 2}),
	}))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if v, err := fields[0].AsU32(); err != nil || v != 7 {
		t.Fatalf("u32: %d %v", v, err)
	}
	if v, err := fields[1].AsU64(); err != nil || v != 1<<40 {
		t.Fatalf("u64: %d %v", v, err)
	}
	if v, err := fields[2].AsBool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := fields[3].AsString(); err != nil || v != "printer.lab" {
		t.Fatalf("string: %q %v", v, err)
	}
	if v, err := fields[4].AsBytes(); err != nil || !bytes.Equal(v, []byte{1, 2}) {
		t.Fatalf("bytes: %v %v", v, err)
	}
}

func TestTypedAccessorsRejectMismatch(t *testing.T) {
	testlog.Start(t)
	if _, err := NewString(1, "x").AsU32(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	short := Field{ID: 1, Type: TypeU32, Value: []byte{1}}
	if _, err := short.AsU32(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	bad := Field{ID: 1, Type: TypeBool, Value: []byte{2}}
	if _, err := bad.AsBool(); err == nil {
		t.Fatalf("expected invalid bool error")
	}
}
