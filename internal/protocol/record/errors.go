package record

import (
	"errors"
	"fmt"
)

var (
	ErrBufferTooSmall  = errors.New("record: buffer too small")
	ErrTruncatedBuffer = errors.New("record: truncated buffer")
	ErrInvalidHeader   = errors.New("record: invalid header")
	ErrInvalidText     = errors.New("record: invalid text")
	ErrCountTooLarge   = errors.New("record: count too large")
	ErrAddressTooLarge = errors.New("record: address too large")
)

// TruncatedError reports a field whose computed length runs past the buffer.
type TruncatedError struct {
	Field  string
	Offset int
	Need   int
	Have   int
}

func (e *TruncatedError) Error() string {
	if e.Need < 0 {
		return fmt.Sprintf("record: truncated buffer: %s at offset %d has no terminator in %d bytes", e.Field, e.Offset, e.Have)
	}
	return fmt.Sprintf("record: truncated buffer: %s at offset %d needs %d bytes, %d left", e.Field, e.Offset, e.Need, e.Have)
}

func (e *TruncatedError) Is(target error) bool { return target == ErrTruncatedBuffer }

// SizeError reports a destination buffer shorter than the flattened size.
type SizeError struct {
	Need int
	Have int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("record: buffer too small: need %d bytes, have %d", e.Need, e.Have)
}

func (e *SizeError) Is(target error) bool { return target == ErrBufferTooSmall }
