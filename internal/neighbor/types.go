package neighbor

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"

	"github.com/hostinger/neighsync/internal/dataplane"
)

// Binding is one neighbor entry: an IP address reachable through an
// interface at a MAC address.
type Binding struct {
	Interface    dataplane.Handle
	IP           netip.Addr
	HardwareAddr net.HardwareAddr
}

// Equal reports whether b and o describe the same entry.
func (b Binding) Equal(o Binding) bool {
	return b.Interface == o.Interface &&
		b.IP == o.IP &&
		bytes.Equal(b.HardwareAddr, o.HardwareAddr)
}

// Key identifies the entry in a table of bindings. The MAC address is not
// part of it: one interface holds at most one entry per IP.
func (b Binding) Key() string {
	return fmt.Sprintf("%s/%s", b.Interface, b.IP)
}

func (b Binding) Family() dataplane.Family {
	return dataplane.FamilyOf(b.IP)
}

func (b Binding) String() string {
	return fmt.Sprintf("itf:%s mac:%s ip:%s", b.Interface, b.HardwareAddr, b.IP)
}

func (b Binding) toAPI() dataplane.IPNeighbor {
	return dataplane.IPNeighbor{
		SwIfIndex:  b.Interface,
		Flags:      dataplane.FlagStatic,
		MACAddress: dataplane.ToMACAddress(b.HardwareAddr),
		IPAddress:  dataplane.ToAddress(b.IP),
	}
}

func fromAPI(n dataplane.IPNeighbor) Binding {
	return Binding{
		Interface:    n.SwIfIndex,
		IP:           dataplane.FromAddress(n.IPAddress),
		HardwareAddr: dataplane.FromMACAddress(n.MACAddress),
	}
}
