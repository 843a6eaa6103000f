package session

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/svcwire/internal/observability"
	"github.com/danmuck/svcwire/internal/protocol/frame"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var ErrUnexpectedMessage = errors.New("session: unexpected message type")

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// WriteRecord flattens r and sends it as one MsgServiceRecord frame.
func WriteRecord(w io.Writer, cfg Config, messageID uint64, r *record.Record, flags uint32) error {
	cfg = cfg.WithDefaults()
	payload, err := cfg.Codec().Flatten(r)
	observability.RecordCodec("flatten", len(payload), err)
	if err != nil {
		return fmt.Errorf("session: flatten record: %w", err)
	}
	return writeFrame(w, cfg, messageID, schema.MsgServiceRecord, flags, payload)
}

// WriteClass flattens sc and sends it as one MsgServiceClass frame.
func WriteClass(w io.Writer, cfg Config, messageID uint64, sc *record.ServiceClassInfo, flags uint32) error {
	cfg = cfg.WithDefaults()
	payload, err := cfg.Codec().FlattenClass(sc)
	observability.RecordCodec("flatten_class", len(payload), err)
	if err != nil {
		return fmt.Errorf("session: flatten class: %w", err)
	}
	return writeFrame(w, cfg, messageID, schema.MsgServiceClass, flags, payload)
}

// WriteAck answers messageID. Rejections carry FlagIsError.
func WriteAck(w io.Writer, cfg Config, messageID uint64, ack schema.Ack) error {
	flags := frame.FlagIsResponse
	if ack.Status == schema.StatusRejected {
		flags |= frame.FlagIsError
	}
	return writeFrame(w, cfg.WithDefaults(), messageID, schema.MsgAck, flags, schema.EncodeAck(ack))
}

func WriteLookup(w io.Writer, cfg Config, messageID uint64, l schema.Lookup) error {
	return writeFrame(w, cfg.WithDefaults(), messageID, schema.MsgLookup, 0, schema.EncodeLookup(l))
}

func WriteLookupDone(w io.Writer, cfg Config, messageID uint64, d schema.LookupDone) error {
	return writeFrame(w, cfg.WithDefaults(), messageID, schema.MsgLookupDone, frame.FlagIsResponse, schema.EncodeLookupDone(d))
}

func writeFrame(w io.Writer, cfg Config, messageID uint64, messageType, flags uint32, payload []byte) error {
	if d, ok := w.(writeDeadliner); ok && cfg.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	}
	f := frame.Frame{
		Header:  frame.Header{MessageID: messageID, MessageType: messageType, Flags: flags},
		Payload: payload,
	}
	err := frame.WriteFrame(w, f, cfg.Frame)
	if err != nil {
		observability.RecordTransfer(observability.DirectionWrite, 0, err)
		log.Debug().Err(err).Uint64("message_id", messageID).Str("message", schema.MessageName(messageType)).Msg("session.writeFrame failed")
		return err
	}
	observability.RecordTransfer(observability.DirectionWrite, int(frame.FixedHeaderLen)+len(payload), nil)
	return nil
}

// ReadMessage reads the next frame under the read deadline.
func ReadMessage(r io.Reader, cfg Config) (frame.Frame, error) {
	cfg = cfg.WithDefaults()
	if d, ok := r.(readDeadliner); ok && cfg.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
	f, err := frame.ReadFrame(r, cfg.Frame)
	if err != nil {
		observability.RecordTransfer(observability.DirectionRead, 0, err)
		return frame.Frame{}, err
	}
	observability.RecordTransfer(observability.DirectionRead, int(frame.FixedHeaderLen)+len(f.Payload), nil)
	return f, nil
}

func expect(f frame.Frame, messageType uint32) error {
	if f.Header.MessageType != messageType {
		return fmt.Errorf("%w: got %s want %s", ErrUnexpectedMessage,
			schema.MessageName(f.Header.MessageType), schema.MessageName(messageType))
	}
	return nil
}

// DecodeRecord reconstructs the record carried by a MsgServiceRecord frame.
func DecodeRecord(cfg Config, f frame.Frame) (*record.Record, error) {
	if err := expect(f, schema.MsgServiceRecord); err != nil {
		return nil, err
	}
	r, err := cfg.WithDefaults().Codec().Reconstruct(f.Payload)
	observability.RecordCodec("reconstruct", len(f.Payload), err)
	if err != nil {
		return nil, fmt.Errorf("session: reconstruct record message_id=%d: %w", f.Header.MessageID, err)
	}
	return r, nil
}

func DecodeClass(cfg Config, f frame.Frame) (*record.ServiceClassInfo, error) {
	if err := expect(f, schema.MsgServiceClass); err != nil {
		return nil, err
	}
	sc, err := cfg.WithDefaults().Codec().ReconstructClass(f.Payload)
	observability.RecordCodec("reconstruct_class", len(f.Payload), err)
	if err != nil {
		return nil, fmt.Errorf("session: reconstruct class message_id=%d: %w", f.Header.MessageID, err)
	}
	return sc, nil
}

func DecodeAck(f frame.Frame) (schema.Ack, error) {
	if err := expect(f, schema.MsgAck); err != nil {
		return schema.Ack{}, err
	}
	return schema.DecodeAck(f.Payload)
}

func DecodeLookup(f frame.Frame) (schema.Lookup, error) {
	if err := expect(f, schema.MsgLookup); err != nil {
		return schema.Lookup{}, err
	}
	return schema.DecodeLookup(f.Payload)
}

func DecodeLookupDone(f frame.Frame) (schema.LookupDone, error) {
	if err := expect(f, schema.MsgLookupDone); err != nil {
		return schema.LookupDone{}, err
	}
	return schema.DecodeLookupDone(f.Payload)
}
