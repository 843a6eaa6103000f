package schema

import (
	"fmt"

	"github.com/danmuck/svcwire/internal/protocol/tlv"
	"github.com/google/uuid"
)

// Ack statuses.
const (
	StatusRegistered = "registered"
	StatusRejected   = "rejected"
)

// Ack codes carry the error kind of a rejected request.
const (
	CodeOK uint32 = iota
	CodeTruncated
	CodeInvalidRecord
	CodeLimitExceeded
	CodeMissingField
	CodeUnsupportedMessage
	CodeRegistryFailure
)

// Ack answers a published record or class.
type Ack struct {
	Status         string
	Code           uint32
	RegistrationID string
	Message        string
	RecordSize     uint32
}

// Lookup asks for the records of one class, one instance, or everything.
type Lookup struct {
	ClassID      uuid.UUID
	InstanceName string
	ClassOnly    bool
}

// LookupDone ends the answer stream of a Lookup.
type LookupDone struct {
	Count uint32
}

func EncodeAck(a Ack) []byte {
	fields := []tlv.Field{
		tlv.NewString(FieldStatus, a.Status),
		tlv.NewU32(FieldCode, a.Code),
		tlv.NewString(FieldRegistrationID, a.RegistrationID),
	}
	if a.Message != "" {
		fields = append(fields, tlv.NewString(FieldMessage, a.Message))
	}
	if a.RecordSize != 0 {
		fields = append(fields, tlv.NewU32(FieldRecordSize, a.RecordSize))
	}
	return tlv.EncodeFields(fields)
}

func DecodeAck(payload []byte) (Ack, error) {
	fields, err := decode(MsgAck, payload)
	if err != nil {
		return Ack{}, err
	}
	var a Ack
	a.Status, _ = mustField(fields, FieldStatus).AsString()
	a.RegistrationID, _ = mustField(fields, FieldRegistrationID).AsString()
	if a.Code, err = mustField(fields, FieldCode).AsU32(); err != nil {
		return Ack{}, err
	}
	if f, ok := tlv.GetField(fields, FieldMessage); ok {
		a.Message, _ = f.AsString()
	}
	if f, ok := tlv.GetField(fields, FieldRecordSize); ok {
		if a.RecordSize, err = f.AsU32(); err != nil {
			return Ack{}, err
		}
	}
	return a, nil
}

func EncodeLookup(l Lookup) []byte {
	var fields []tlv.Field
	if l.ClassID != uuid.Nil {
		fields = append(fields, tlv.NewBytes(FieldClassID, l.ClassID[:]))
	}
	if l.InstanceName != "" {
		fields = append(fields, tlv.NewString(FieldInstanceName, l.InstanceName))
	}
	if l.ClassOnly {
		fields = append(fields, tlv.NewBool(FieldClassOnly, true))
	}
	return tlv.EncodeFields(fields)
}

func DecodeLookup(payload []byte) (Lookup, error) {
	fields, err := decode(MsgLookup, payload)
	if err != nil {
		return Lookup{}, err
	}
	var l Lookup
	if f, ok := tlv.GetField(fields, FieldClassID); ok {
		if l.ClassID, err = uuid.FromBytes(f.Value); err != nil {
			return Lookup{}, ValidationError{MessageType: MsgLookup, FieldID: FieldClassID, Reason: "class id is not 16 bytes"}
		}
	}
	if f, ok := tlv.GetField(fields, FieldInstanceName); ok {
		l.InstanceName, _ = f.AsString()
	}
	if f, ok := tlv.GetField(fields, FieldClassOnly); ok {
		if l.ClassOnly, err = f.AsBool(); err != nil {
			return Lookup{}, err
		}
	}
	return l, nil
}

func EncodeLookupDone(d LookupDone) []byte {
	return tlv.EncodeFields([]tlv.Field{tlv.NewU32(FieldCount, d.Count)})
}

func DecodeLookupDone(payload []byte) (LookupDone, error) {
	fields, err := decode(MsgLookupDone, payload)
	if err != nil {
		return LookupDone{}, err
	}
	count, err := mustField(fields, FieldCount).AsU32()
	if err != nil {
		return LookupDone{}, err
	}
	return LookupDone{Count: count}, nil
}

func decode(messageType uint32, payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, fmt.Errorf("schema: decode %s: %w", MessageName(messageType), err)
	}
	if err := Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// mustField is only called for fields Validate has already required.
func mustField(fields []tlv.Field, id uint16) tlv.Field {
	f, _ := tlv.GetField(fields, id)
	return f
}
