// Package dataplane defines the neighbor messages exchanged with the
// dataplane and a connection that carries them over rtnetlink.
package dataplane

import (
	"net"
	"net/netip"
	"strconv"
)

// Handle identifies an interface on the dataplane.
type Handle uint32

// InvalidHandle is never assigned to an interface.
const InvalidHandle Handle = ^Handle(0)

func (h Handle) String() string { return strconv.FormatUint(uint64(h), 10) }

// Family selects the L3 protocol of a neighbor query.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

// FamilyOf returns the family of addr.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return FamilyV4
	}

	return FamilyV6
}

func (f Family) IsIPv6() bool { return f == FamilyV6 }

func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}

	return "ipv4"
}

// AddressFamily is the protocol tag carried inside an Address.
type AddressFamily uint8

const (
	AddressIP4 AddressFamily = 0
	AddressIP6 AddressFamily = 1
)

// Address is the protocol-native layout of an IP address: a family tag and
// a 16-byte union, IPv4 in the first four bytes.
type Address struct {
	Af AddressFamily
	Un [16]byte
}

// ToAddress encodes addr.
func ToAddress(addr netip.Addr) (a Address) {
	addr = addr.Unmap()
	if addr.Is4() {
		a.Af = AddressIP4
		v4 := addr.As4()
		copy(a.Un[:], v4[:])

		return a
	}

	a.Af = AddressIP6
	a.Un = addr.As16()

	return a
}

// FromAddress decodes a.
func FromAddress(a Address) netip.Addr {
	if a.Af == AddressIP4 {
		return netip.AddrFrom4([4]byte(a.Un[:4]))
	}

	return netip.AddrFrom16(a.Un)
}

// MACAddress is the protocol-native layout of a 48-bit MAC address.
type MACAddress [6]byte

// ToMACAddress encodes mac. Addresses that are not 48 bits long are
// truncated or zero-padded.
func ToMACAddress(mac net.HardwareAddr) (m MACAddress) {
	copy(m[:], mac)

	return m
}

// FromMACAddress decodes m.
func FromMACAddress(m MACAddress) net.HardwareAddr {
	mac := make(net.HardwareAddr, len(m))
	copy(mac, m[:])

	return mac
}
