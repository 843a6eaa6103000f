// Package schema names the directory message types and the TLV fields of the
// control messages, and checks decoded payloads against them.
package schema

import (
	"fmt"

	"github.com/danmuck/svcwire/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs. Record and class payloads are flattened structures, the
// rest are TLV.
const (
	MsgServiceRecord uint32 = 1
	MsgServiceClass  uint32 = 2
	MsgAck           uint32 = 3
	MsgLookup        uint32 = 4
	MsgLookupDone    uint32 = 5
)

// Field IDs.
const (
	FieldStatus         uint16 = 1
	FieldCode           uint16 = 2
	FieldRegistrationID uint16 = 3
	FieldMessage        uint16 = 4
	FieldRecordSize     uint16 = 5

	FieldClassID      uint16 = 100
	FieldInstanceName uint16 = 101
	FieldClassOnly    uint16 = 102

	FieldCount uint16 = 200
)

// MessageName returns a short label for logs and metrics.
func MessageName(messageType uint32) string {
	switch messageType {
	case MsgServiceRecord:
		return "service_record"
	case MsgServiceClass:
		return "service_class"
	case MsgAck:
		return "ack"
	case MsgLookup:
		return "lookup"
	case MsgLookupDone:
		return "lookup_done"
	default:
		return fmt.Sprintf("unknown(%d)", messageType)
	}
}

// IsTLV reports whether payloads of messageType are TLV encoded.
func IsTLV(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgAck: {
		{FieldStatus, tlv.TypeString},
		{FieldCode, tlv.TypeU32},
		{FieldRegistrationID, tlv.TypeString},
	},
	MsgLookup: {},
	MsgLookupDone: {
		{FieldCount, tlv.TypeU32},
	},
}

// optional fields are type checked only when present.
var optional = map[uint32][]Requirement{
	MsgAck: {
		{FieldMessage, tlv.TypeString},
		{FieldRecordSize, tlv.TypeU32},
	},
	MsgLookup: {
		{FieldClassID, tlv.TypeBytes},
		{FieldInstanceName, tlv.TypeString},
		{FieldClassOnly, tlv.TypeBool},
	},
}

// Validate enforces required fields and field types for a TLV message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Debug().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Uint32("message_type", messageType).Uint16("field_id", req.ID).Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logMismatch(messageType, req, f)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional[messageType] {
		f, found := tlv.GetField(fields, opt.ID)
		if found && f.Type != opt.Type {
			logMismatch(messageType, opt, f)
			return ValidationError{MessageType: messageType, FieldID: opt.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

func logMismatch(messageType uint32, req Requirement, f tlv.Field) {
	log.Error().
		Uint32("message_type", messageType).
		Uint16("field_id", req.ID).
		Uint8("got", f.Type).
		Uint8("want", req.Type).
		Msg("schema.Validate type mismatch")
}
