// Package stream moves whole logical messages across a byte stream.
//
// Ownership boundary:
// - exact-length read/write loops over partial transfers
// - closure vs failure classification
// - closing the channel once it is no longer usable
//
// Neither primitive applies a timeout. Callers bound a transfer by setting a
// deadline on the underlying connection before calling in.
package stream

import (
	"errors"
	"fmt"
	"io"
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

var (
	ErrIO               = errors.New("stream: i/o failure")
	ErrConnectionClosed = errors.New("stream: connection closed")
)

// IOError reports a channel failure after Transferred bytes were moved.
type IOError struct {
	Op          string
	Transferred int
	Err         error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("stream: %s failed after %d bytes: %v", e.Op, e.Transferred, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// ReadExact fills buf from r.
//
// It returns len(buf) and nil on success. If the peer closes first it returns
// the bytes obtained so far and ErrConnectionClosed. Any other failure is an
// *IOError. On both failure paths r is closed when it is an io.Closer, and the
// caller must not reuse it.
func ReadExact(r io.Reader, buf []byte) (int, error) {
	var got, empty int
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		got += n
		if got == len(buf) {
			// A final chunk may arrive together with io.EOF.
			return got, nil
		}
		switch {
		case err == nil && n == 0:
			empty++
			if empty >= maxEmptyReads {
				closeChannel(r)
				return got, &IOError{Op: "read", Transferred: got, Err: io.ErrNoProgress}
			}
			continue
		case err == nil:
			empty = 0
			continue
		case errors.Is(err, io.EOF):
			closeChannel(r)
			return got, ErrConnectionClosed
		default:
			closeChannel(r)
			return got, &IOError{Op: "read", Transferred: got, Err: err}
		}
	}
	return got, nil
}

// WriteExact sends all of buf to w.
//
// A write that moves zero bytes without an error means the peer stopped
// accepting data; the count sent so far is returned with a nil error and the
// caller compares it against len(buf). Failures are *IOError and close w when
// it is an io.Closer.
func WriteExact(w io.Writer, buf []byte) (int, error) {
	var sent int
	for sent < len(buf) {
		n, err := w.Write(buf[sent:])
		if n < 0 || n > len(buf)-sent {
			closeChannel(w)
			return sent, &IOError{Op: "write", Transferred: sent, Err: fmt.Errorf("invalid write count %d", n)}
		}
		sent += n
		if err != nil {
			closeChannel(w)
			return sent, &IOError{Op: "write", Transferred: sent, Err: err}
		}
		if n == 0 {
			return sent, nil
		}
	}
	return sent, nil
}

func closeChannel(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
