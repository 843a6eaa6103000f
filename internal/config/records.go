package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/google/uuid"
)

// RecordsFile is a set of service records and classes for publishing.
//
// Scalar text fields are pointers so that a key written as "" stays present
// and empty, while an omitted key stays absent. Lists are present when they
// hold at least one entry.
type RecordsFile struct {
	Services []ServiceFile `toml:"service"`
	Classes  []ClassFile   `toml:"class"`
}

type ServiceFile struct {
	InstanceName *string        `toml:"instance_name"`
	ClassID      string         `toml:"class_id"`
	Version      *uint32        `toml:"version"`
	VersionHow   string         `toml:"version_how"`
	Comment      *string        `toml:"comment"`
	ProviderID   string         `toml:"provider_id"`
	Context      *string        `toml:"context"`
	Query        *string        `toml:"query"`
	NameSpace    uint32         `toml:"name_space"`
	OutputFlags  uint32         `toml:"output_flags"`
	Protocols    []ProtocolFile `toml:"protocols"`
	Addresses    []AddressFile  `toml:"addresses"`
}

type ProtocolFile struct {
	Family   int32 `toml:"family"`
	Protocol int32 `toml:"protocol"`
}

// AddressFile holds "ip:port" endpoints. An empty side encodes as an empty
// address blob.
type AddressFile struct {
	Local      string `toml:"local"`
	Remote     string `toml:"remote"`
	SocketType int32  `toml:"socket_type"`
	Protocol   int32  `toml:"protocol"`
}

type ClassFile struct {
	ClassID   string          `toml:"class_id"`
	ClassName *string         `toml:"class_name"`
	Infos     []ClassInfoFile `toml:"infos"`
}

type ClassInfoFile struct {
	NameSpace uint32 `toml:"name_space"`
	ValueType uint32 `toml:"value_type"`
	Value     uint64 `toml:"value"`
}

// LoadRecords decodes a records file. Unknown keys are rejected.
func LoadRecords(path string) (RecordsFile, error) {
	var out RecordsFile
	meta, err := toml.DecodeFile(path, &out)
	if err != nil {
		return RecordsFile{}, fmt.Errorf("load records: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return RecordsFile{}, fmt.Errorf("load records: unknown key %q", undecoded[0].String())
	}
	return out, nil
}

// Records converts every [[service]] table.
func (f RecordsFile) Records() ([]*record.Record, error) {
	out := make([]*record.Record, 0, len(f.Services))
	for i, svc := range f.Services {
		rec, err := svc.Record()
		if err != nil {
			return nil, fmt.Errorf("service[%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ServiceClasses converts every [[class]] table.
func (f RecordsFile) ServiceClasses() ([]*record.ServiceClassInfo, error) {
	out := make([]*record.ServiceClassInfo, 0, len(f.Classes))
	for i, cls := range f.Classes {
		sc, err := cls.Class()
		if err != nil {
			return nil, fmt.Errorf("class[%d]: %w", i, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func (s ServiceFile) Record() (*record.Record, error) {
	rec := &record.Record{
		NameSpace:    s.NameSpace,
		OutputFlags:  s.OutputFlags,
		InstanceName: optString(s.InstanceName),
		Comment:      optString(s.Comment),
		Context:      optString(s.Context),
		QueryString:  optString(s.Query),
	}
	var err error
	if rec.ClassID, err = optUUID("class_id", s.ClassID); err != nil {
		return nil, err
	}
	if rec.ProviderID, err = optUUID("provider_id", s.ProviderID); err != nil {
		return nil, err
	}
	if s.Version != nil {
		how, err := parseComparator(s.VersionHow)
		if err != nil {
			return nil, err
		}
		rec.Version = record.Some(record.Version{Version: *s.Version, How: how})
	} else if strings.TrimSpace(s.VersionHow) != "" {
		return nil, fmt.Errorf("version_how set without version")
	}
	if len(s.Protocols) > 0 {
		protocols := make([]record.Protocol, len(s.Protocols))
		for i, p := range s.Protocols {
			protocols[i] = record.Protocol{Family: p.Family, Protocol: p.Protocol}
		}
		rec.Protocols = record.Some(protocols)
	}
	if len(s.Addresses) > 0 {
		pairs := make([]record.AddressPair, len(s.Addresses))
		for i, a := range s.Addresses {
			local, err := sockaddr("local", a.Local)
			if err != nil {
				return nil, fmt.Errorf("addresses[%d]: %w", i, err)
			}
			remote, err := sockaddr("remote", a.Remote)
			if err != nil {
				return nil, fmt.Errorf("addresses[%d]: %w", i, err)
			}
			pairs[i] = record.AddressPair{
				Local:      local,
				Remote:     remote,
				SocketType: a.SocketType,
				Protocol:   a.Protocol,
			}
		}
		rec.AddressPairs = record.Some(pairs)
	}
	return rec, nil
}

func (c ClassFile) Class() (*record.ServiceClassInfo, error) {
	id, err := optUUID("class_id", c.ClassID)
	if err != nil {
		return nil, err
	}
	sc := &record.ServiceClassInfo{ClassID: id, ClassName: optString(c.ClassName)}
	if len(c.Infos) > 0 {
		infos := make([]record.ClassInfo, len(c.Infos))
		for i, info := range c.Infos {
			infos[i] = record.ClassInfo{NameSpace: info.NameSpace, ValueType: info.ValueType, Value: info.Value}
		}
		sc.ClassInfos = record.Some(infos)
	}
	return sc, nil
}

func optString(v *string) record.Optional[string] {
	if v == nil {
		return record.None[string]()
	}
	return record.Some(*v)
}

func optUUID(key, raw string) (record.Optional[uuid.UUID], error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return record.None[uuid.UUID](), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return record.None[uuid.UUID](), fmt.Errorf("%s: %w", key, err)
	}
	return record.Some(id), nil
}

func parseComparator(raw string) (record.Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "equals", "eq":
		return record.CompareEquals, nil
	case "not_less", "ge":
		return record.CompareNotLess, nil
	default:
		return 0, fmt.Errorf("version_how: unknown comparator %q", raw)
	}
}

func sockaddr(key, raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ap, err := netip.ParseAddrPort(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return record.SockaddrFromAddrPort(ap), nil
}
