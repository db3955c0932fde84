package dataplane

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/uuid"
	"github.com/vishvananda/netlink"

	"github.com/hostinger/neighsync/internal/logger"
	"github.com/hostinger/neighsync/internal/rpc"
)

// ErrUnsupportedRequest is returned by Execute for requests the connection
// cannot translate.
const ErrUnsupportedRequest errors.Error = "unsupported request"

// ErrClosed is returned by Execute after Close.
const ErrClosed errors.Error = "connection closed"

// Netlinker is the subset of rtnetlink the connection needs.
type Netlinker interface {
	NeighSet(neigh *netlink.Neigh) error
	NeighDel(neigh *netlink.Neigh) error
	NeighList(linkIndex, family int) ([]netlink.Neigh, error)
}

type kernelNetlinker struct{}

func (kernelNetlinker) NeighSet(neigh *netlink.Neigh) error { return netlink.NeighSet(neigh) }

func (kernelNetlinker) NeighDel(neigh *netlink.Neigh) error { return netlink.NeighDel(neigh) }

func (kernelNetlinker) NeighList(linkIndex, family int) ([]netlink.Neigh, error) {
	return netlink.NeighList(linkIndex, family)
}

var log = logger.New("dataplane")

// NetlinkConn is an rpc.Conn that programs the kernel neighbor table.
// Replies are delivered from a goroutine per request.
type NetlinkConn struct {
	nl Netlinker

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ rpc.Conn = (*NetlinkConn)(nil)

// NewNetlinkConn returns a connection using nl, or the kernel when nl is nil.
func NewNetlinkConn(nl Netlinker) *NetlinkConn {
	if nl == nil {
		nl = kernelNetlinker{}
	}

	return &NetlinkConn{nl: nl}
}

// Execute implements the rpc.Conn interface for *NetlinkConn.
func (c *NetlinkConn) Execute(ctx context.Context, req rpc.Request, h rpc.Handler) (err error) {
	defer func() { err = errors.Annotate(err, "executing %s: %w", req.RequestName()) }()

	if err = ctx.Err(); err != nil {
		return err
	}

	var exchange func(id string)
	switch r := req.(type) {
	case *IPNeighborAddDel:
		neigh := toNetlinkNeigh(r.Neighbor)
		exchange = func(id string) { c.addDel(id, r.IsAdd, neigh, h) }
	case *IPNeighborDump:
		exchange = func(id string) { c.dump(id, r, h) }
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedRequest, req)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	id := uuid.NewString()
	log.Debug("[%s] sending %s", id, req.RequestName())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		exchange(id)
	}()

	return nil
}

// Close rejects new requests and waits for outstanding replies.
func (c *NetlinkConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()

	return nil
}

func (c *NetlinkConn) addDel(id string, isAdd bool, neigh *netlink.Neigh, h rpc.Handler) {
	var err error
	if isAdd {
		err = c.nl.NeighSet(neigh)
	} else {
		err = c.nl.NeighDel(neigh)
	}

	retval := toRetval(err)
	if err != nil {
		log.Debug("[%s] neighbor %s on %d: %v", id, neigh.IP, neigh.LinkIndex, err)
	}

	h.HandleReply(&IPNeighborAddDelReply{Retval: retval})
}

func (c *NetlinkConn) dump(id string, req *IPNeighborDump, h rpc.Handler) {
	family := netlink.FAMILY_V4
	if req.IsIPv6 {
		family = netlink.FAMILY_V6
	}

	neighs, err := c.nl.NeighList(int(req.SwIfIndex), family)
	if err != nil {
		log.Debug("[%s] listing neighbors on %s: %v", id, req.SwIfIndex, err)
		h.HandleReply(&ControlPingReply{Retval: toRetval(err)})

		return
	}

	sent := 0
	for i := range neighs {
		n, ok := fromNetlinkNeigh(&neighs[i])
		if !ok {
			continue
		}

		if h.HandleReply(&IPNeighborDetails{Neighbor: n}) {
			return
		}
		sent++
	}

	log.Debug("[%s] dumped %d neighbors on %s", id, sent, req.SwIfIndex)
	h.HandleReply(&ControlPingReply{})
}

func toNetlinkNeigh(n IPNeighbor) *netlink.Neigh {
	ip := FromAddress(n.IPAddress)

	family := netlink.FAMILY_V4
	if ip.Is6() {
		family = netlink.FAMILY_V6
	}

	state := netlink.NUD_REACHABLE
	if n.Flags.IsStatic() {
		state = netlink.NUD_PERMANENT
	}

	return &netlink.Neigh{
		LinkIndex:    int(n.SwIfIndex),
		Family:       family,
		State:        state,
		IP:           ip.AsSlice(),
		HardwareAddr: FromMACAddress(n.MACAddress),
	}
}

func fromNetlinkNeigh(n *netlink.Neigh) (IPNeighbor, bool) {
	ip, ok := netip.AddrFromSlice(n.IP)
	if !ok || len(n.HardwareAddr) == 0 {
		return IPNeighbor{}, false
	}

	flags := FlagNone
	if n.State&netlink.NUD_PERMANENT != 0 {
		flags = FlagStatic
	}

	return IPNeighbor{
		SwIfIndex:  Handle(n.LinkIndex),
		Flags:      flags,
		MACAddress: ToMACAddress(n.HardwareAddr),
		IPAddress:  ToAddress(ip.Unmap()),
	}, true
}

func toRetval(err error) int32 {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}

	return -1
}

// LinkHandle returns the handle of the kernel interface called name.
func LinkHandle(name string) (Handle, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return InvalidHandle, err
	}

	return Handle(link.Attrs().Index), nil
}
