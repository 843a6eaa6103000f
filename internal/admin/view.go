package admin

import (
	"encoding/hex"

	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/registry"
)

// ServiceView is the JSON form of a registered record. Absent fields are
// omitted; present-empty text renders as "".
type ServiceView struct {
	ID           string        `json:"id"`
	Size         int           `json:"size"`
	NameSpace    uint32        `json:"name_space"`
	InstanceName *string       `json:"instance_name,omitempty"`
	ClassID      *string       `json:"class_id,omitempty"`
	Version      *VersionView  `json:"version,omitempty"`
	Comment      *string       `json:"comment,omitempty"`
	ProviderID   *string       `json:"provider_id,omitempty"`
	Context      *string       `json:"context,omitempty"`
	QueryString  *string       `json:"query,omitempty"`
	Protocols    []ProtoView   `json:"protocols,omitempty"`
	Addresses    []AddressView `json:"addresses,omitempty"`
}

type VersionView struct {
	Version uint32 `json:"version"`
	How     string `json:"how"`
}

type ProtoView struct {
	Family   int32 `json:"family"`
	Protocol int32 `json:"protocol"`
}

// AddressView renders sockaddr blobs as ip:port and anything else as hex.
type AddressView struct {
	Local      string `json:"local"`
	Remote     string `json:"remote"`
	SocketType int32  `json:"socket_type"`
	Protocol   int32  `json:"protocol"`
}

type ClassView struct {
	ID        string             `json:"id"`
	Size      int                `json:"size"`
	ClassID   *string            `json:"class_id,omitempty"`
	ClassName *string            `json:"class_name,omitempty"`
	Infos     []record.ClassInfo `json:"infos,omitempty"`
}

func NewServiceView(e registry.Entry) ServiceView {
	rec := e.Record
	v := ServiceView{
		ID:           e.ID.String(),
		Size:         len(e.Flattened),
		NameSpace:    rec.NameSpace,
		InstanceName: textPtr(rec.InstanceName),
		Comment:      textPtr(rec.Comment),
		Context:      textPtr(rec.Context),
		QueryString:  textPtr(rec.QueryString),
	}
	if id, ok := rec.ClassID.Get(); ok {
		s := id.String()
		v.ClassID = &s
	}
	if id, ok := rec.ProviderID.Get(); ok {
		s := id.String()
		v.ProviderID = &s
	}
	if ver, ok := rec.Version.Get(); ok {
		how := "equals"
		if ver.How == record.CompareNotLess {
			how = "not_less"
		}
		v.Version = &VersionView{Version: ver.Version, How: how}
	}
	for _, p := range rec.Protocols.Value() {
		v.Protocols = append(v.Protocols, ProtoView{Family: p.Family, Protocol: p.Protocol})
	}
	for _, pair := range rec.AddressPairs.Value() {
		v.Addresses = append(v.Addresses, AddressView{
			Local:      addressText(pair.Local),
			Remote:     addressText(pair.Remote),
			SocketType: pair.SocketType,
			Protocol:   pair.Protocol,
		})
	}
	return v
}

func NewClassView(e registry.ClassEntry) ClassView {
	v := ClassView{
		ID:        e.ID.String(),
		Size:      len(e.Flattened),
		ClassName: textPtr(e.Class.ClassName),
		Infos:     e.Class.ClassInfos.Value(),
	}
	if id, ok := e.Class.ClassID.Get(); ok {
		s := id.String()
		v.ClassID = &s
	}
	return v
}

func textPtr(o record.Optional[string]) *string {
	if s, ok := o.Get(); ok {
		return &s
	}
	return nil
}

func addressText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if ap, err := record.AddrPortFromSockaddr(b); err == nil {
		return ap.String()
	}
	return hex.EncodeToString(b)
}
