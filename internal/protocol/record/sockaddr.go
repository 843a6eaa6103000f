package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
)

// Sockaddr blob shapes.
const (
	FamilyInet  uint16 = 2
	FamilyInet6 uint16 = 23

	SockaddrInetSize  = 16
	SockaddrInet6Size = 28
)

var ErrUnknownAddress = errors.New("record: unknown address blob")

// SockaddrFromAddrPort encodes ap as a sockaddr-style blob: 16 bytes for IPv4
// (family, port, address, zero padding) or 28 bytes for IPv6 (family, port,
// flow info, address, scope id). Family is little endian, port big endian.
func SockaddrFromAddrPort(ap netip.AddrPort) []byte {
	addr := ap.Addr()
	if addr.Is4() {
		b := make([]byte, SockaddrInetSize)
		binary.LittleEndian.PutUint16(b[0:2], FamilyInet)
		binary.BigEndian.PutUint16(b[2:4], ap.Port())
		ip4 := addr.As4()
		copy(b[4:8], ip4[:])
		return b
	}
	b := make([]byte, SockaddrInet6Size)
	binary.LittleEndian.PutUint16(b[0:2], FamilyInet6)
	binary.BigEndian.PutUint16(b[2:4], ap.Port())
	ip16 := addr.As16()
	copy(b[8:24], ip16[:])
	if zone, err := strconv.ParseUint(addr.Zone(), 10, 32); err == nil {
		binary.LittleEndian.PutUint32(b[24:28], uint32(zone))
	}
	return b
}

// AddrPortFromSockaddr decodes a blob produced by SockaddrFromAddrPort.
func AddrPortFromSockaddr(b []byte) (netip.AddrPort, error) {
	if len(b) < 2 {
		return netip.AddrPort{}, fmt.Errorf("%w: %d bytes", ErrUnknownAddress, len(b))
	}
	family := binary.LittleEndian.Uint16(b[0:2])
	switch {
	case family == FamilyInet && len(b) == SockaddrInetSize:
		ip := netip.AddrFrom4([4]byte(b[4:8]))
		return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(b[2:4])), nil
	case family == FamilyInet6 && len(b) == SockaddrInet6Size:
		ip := netip.AddrFrom16([16]byte(b[8:24]))
		if scope := binary.LittleEndian.Uint32(b[24:28]); scope != 0 {
			ip = ip.WithZone(strconv.FormatUint(uint64(scope), 10))
		}
		return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(b[2:4])), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: family %d, %d bytes", ErrUnknownAddress, family, len(b))
	}
}
