package dataplane

// NeighborFlags classifies a neighbor entry.
type NeighborFlags uint8

const (
	FlagNone NeighborFlags = 0
	// FlagStatic marks an entry configured by the control plane, as opposed
	// to one learned by ARP or ND.
	FlagStatic NeighborFlags = 1 << 0
	// FlagNoFibEntry asks the dataplane not to install a host route.
	FlagNoFibEntry NeighborFlags = 1 << 1
)

func (f NeighborFlags) IsStatic() bool { return f&FlagStatic != 0 }

// IPNeighbor is one neighbor entry as the dataplane sees it.
type IPNeighbor struct {
	SwIfIndex  Handle
	Flags      NeighborFlags
	MACAddress MACAddress
	IPAddress  Address
}

// IPNeighborAddDel adds or removes one neighbor entry.
type IPNeighborAddDel struct {
	IsAdd    bool
	Neighbor IPNeighbor
}

func (*IPNeighborAddDel) RequestName() string { return "ip_neighbor_add_del" }

// IPNeighborAddDelReply answers IPNeighborAddDel.
type IPNeighborAddDelReply struct {
	Retval int32
}

// IPNeighborDump requests every neighbor of one family on one interface.
type IPNeighborDump struct {
	SwIfIndex Handle
	IsIPv6    bool
}

func (*IPNeighborDump) RequestName() string { return "ip_neighbor_dump" }

// IPNeighborDetails is one record of a neighbor dump.
type IPNeighborDetails struct {
	Neighbor IPNeighbor
}

// ControlPingReply terminates a dump stream.
type ControlPingReply struct {
	Retval int32
}
