package record

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
)

// Fixed wire sizes.
const (
	HeaderSize         = 24
	GUIDSize           = 16
	VersionSize        = 8
	ProtocolSize       = 8
	PairDescriptorSize = 16
)

// Presence marks which optional fields follow the header.
type Presence uint16

// Presence bits in canonical field order.
const (
	HasInstanceName Presence = 1 << iota
	HasClassID
	HasVersion
	HasComment
	HasProviderID
	HasContext
	HasProtocols
	HasQueryString
	HasAddressPairs

	presenceMask = HasAddressPairs<<1 - 1
)

func (p Presence) Has(bit Presence) bool {
	return p&bit != 0
}

// Comparator says how a version constraint is applied.
type Comparator uint32

const (
	CompareEquals Comparator = iota
	CompareNotLess
)

// Version is a version constraint on a service.
type Version struct {
	Version uint32
	How     Comparator
}

// Protocol is one (address family, protocol) the service speaks.
type Protocol struct {
	Family   int32
	Protocol int32
}

// AddressPair is a local/remote address tuple. Each address is an opaque
// blob of independent length; see SockaddrFromAddrPort for the usual shape.
type AddressPair struct {
	Local      []byte
	Remote     []byte
	SocketType int32
	Protocol   int32
}

// Record is a service description exchanged between peers.
type Record struct {
	NameSpace   uint32
	OutputFlags uint32

	InstanceName Optional[string]
	ClassID      Optional[uuid.UUID]
	Version      Optional[Version]
	Comment      Optional[string]
	ProviderID   Optional[uuid.UUID]
	Context      Optional[string]
	Protocols    Optional[[]Protocol]
	QueryString  Optional[string]
	AddressPairs Optional[[]AddressPair]
}

// Presence reports the header presence bits for r.
func (r *Record) Presence() Presence {
	var p Presence
	set := func(ok bool, bit Presence) {
		if ok {
			p |= bit
		}
	}
	set(r.InstanceName.Present(), HasInstanceName)
	set(r.ClassID.Present(), HasClassID)
	set(r.Version.Present(), HasVersion)
	set(r.Comment.Present(), HasComment)
	set(r.ProviderID.Present(), HasProviderID)
	set(r.Context.Present(), HasContext)
	set(r.Protocols.Present(), HasProtocols)
	set(r.QueryString.Present(), HasQueryString)
	set(r.AddressPairs.Present(), HasAddressPairs)
	return p
}

// Equal reports whether r and o carry the same fields and contents.
// Nil and empty byte slices compare equal.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.NameSpace != o.NameSpace || r.OutputFlags != o.OutputFlags {
		return false
	}
	if r.InstanceName != o.InstanceName || r.ClassID != o.ClassID || r.Version != o.Version ||
		r.Comment != o.Comment || r.ProviderID != o.ProviderID || r.Context != o.Context ||
		r.QueryString != o.QueryString {
		return false
	}
	if r.Protocols.Present() != o.Protocols.Present() ||
		!slices.Equal(r.Protocols.Value(), o.Protocols.Value()) {
		return false
	}
	if r.AddressPairs.Present() != o.AddressPairs.Present() {
		return false
	}
	return slices.EqualFunc(r.AddressPairs.Value(), o.AddressPairs.Value(), func(a, b AddressPair) bool {
		return a.SocketType == b.SocketType && a.Protocol == b.Protocol &&
			bytes.Equal(a.Local, b.Local) && bytes.Equal(a.Remote, b.Remote)
	})
}

// ClassInfo is one namespace-specific setting of a service class.
type ClassInfo struct {
	NameSpace uint32
	ValueType uint32
	Value     uint64
}

// ServiceClassInfo describes a class of services.
type ServiceClassInfo struct {
	ClassID    Optional[uuid.UUID]
	ClassName  Optional[string]
	ClassInfos Optional[[]ClassInfo]
}

func (c *ServiceClassInfo) Equal(o *ServiceClassInfo) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.ClassID == o.ClassID && c.ClassName == o.ClassName &&
		c.ClassInfos.Present() == o.ClassInfos.Present() &&
		slices.Equal(c.ClassInfos.Value(), o.ClassInfos.Value())
}
