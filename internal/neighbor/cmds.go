package neighbor

import (
	"context"
	"fmt"

	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/hw"
	"github.com/hostinger/neighsync/internal/logger"
	"github.com/hostinger/neighsync/internal/rc"
	"github.com/hostinger/neighsync/internal/rpc"
)

var log = logger.New("neighbor")

var (
	_ rpc.Cmd = (*CreateCmd)(nil)
	_ rpc.Cmd = (*DeleteCmd)(nil)
	_ rpc.Cmd = (*DumpCmd)(nil)
)

// CreateCmd programs a static neighbor entry.
type CreateCmd struct {
	rpc.ItemCmd[bool]
	binding Binding
}

func NewCreateCmd(item *hw.Item[bool], b Binding) *CreateCmd {
	return &CreateCmd{ItemCmd: rpc.NewItemCmd(item), binding: b}
}

func (c *CreateCmd) Binding() Binding { return c.binding }

// Equal reports whether both commands program the same entry, whichever
// items they report to.
func (c *CreateCmd) Equal(o *CreateCmd) bool {
	return c.binding.Equal(o.binding)
}

// Issue sends the request and returns the code the dataplane replied with.
func (c *CreateCmd) Issue(ctx context.Context, conn rpc.Conn) rc.Code {
	req := &dataplane.IPNeighborAddDel{IsAdd: true, Neighbor: c.binding.toAPI()}

	log.Debug("issue %s", c)
	rpc.Send(ctx, conn, req, c, c.Promise())

	return c.Wait(ctx)
}

// HandleReply implements the rpc.Handler interface for *CreateCmd.
func (c *CreateCmd) HandleReply(reply any) bool {
	c.Fulfill(addDelCode(reply))

	return true
}

func (c *CreateCmd) String() string {
	return fmt.Sprintf("neighbor-create: %s %s", c.Item(), c.binding)
}

// DeleteCmd removes a static neighbor entry. Its outcome is always OK and
// leaves the item at rc.NOOP: an entry that failed to delete is treated the
// same as one that was already gone.
type DeleteCmd struct {
	rpc.ItemCmd[bool]
	binding  Binding
	observed rc.Code
}

func NewDeleteCmd(item *hw.Item[bool], b Binding) *DeleteCmd {
	return &DeleteCmd{ItemCmd: rpc.NewItemCmd(item), binding: b}
}

func (c *DeleteCmd) Binding() Binding { return c.binding }

func (c *DeleteCmd) Equal(o *DeleteCmd) bool {
	return c.binding.Equal(o.binding)
}

func (c *DeleteCmd) Issue(ctx context.Context, conn rpc.Conn) rc.Code {
	req := &dataplane.IPNeighborAddDel{IsAdd: false, Neighbor: c.binding.toAPI()}

	log.Debug("issue %s", c)
	rpc.Send(ctx, conn, req, c, c.Promise())

	c.observed = c.Wait(ctx)
	if !c.observed.IsOK() {
		log.Debug("delete %s: %s", c.binding, c.observed)
	}
	c.Item().Set(rc.NOOP)

	return rc.OK
}

// Observed returns the code the dataplane replied with, before Issue
// discarded it. It is rc.Unset until Issue returns.
func (c *DeleteCmd) Observed() rc.Code { return c.observed }

// HandleReply implements the rpc.Handler interface for *DeleteCmd.
func (c *DeleteCmd) HandleReply(reply any) bool {
	c.Fulfill(addDelCode(reply))

	return true
}

func (c *DeleteCmd) String() string {
	return fmt.Sprintf("neighbor-delete: %s %s", c.Item(), c.binding)
}

func addDelCode(reply any) rc.Code {
	r, ok := reply.(*dataplane.IPNeighborAddDelReply)
	if !ok {
		return rc.Failed(fmt.Sprintf("unexpected reply %T", reply))
	}

	return rc.FromRetval(r.Retval)
}

// DumpCmd reads back the neighbor entries of one family on one interface.
type DumpCmd struct {
	rpc.DumpCmd[Binding]
	itf    dataplane.Handle
	family dataplane.Family
}

func NewDumpCmd(itf dataplane.Handle, family dataplane.Family) *DumpCmd {
	return &DumpCmd{DumpCmd: rpc.NewDumpCmd[Binding](), itf: itf, family: family}
}

// Clone returns a fresh command with the same scope and none of the
// records received by d.
func (d *DumpCmd) Clone() *DumpCmd {
	return NewDumpCmd(d.itf, d.family)
}

// Equal always reports true: dumps are deduplicated by not issuing two at
// once, not by their scope.
func (d *DumpCmd) Equal(*DumpCmd) bool { return true }

func (d *DumpCmd) Interface() dataplane.Handle { return d.itf }

func (d *DumpCmd) Family() dataplane.Family { return d.family }

// Issue streams the entries into d and returns once the dataplane marks the
// end of the dump.
func (d *DumpCmd) Issue(ctx context.Context, conn rpc.Conn) rc.Code {
	req := &dataplane.IPNeighborDump{SwIfIndex: d.itf, IsIPv6: d.family.IsIPv6()}

	log.Debug("issue %s", d)
	rpc.Send(ctx, conn, req, d, d.Promise())

	return d.Wait(ctx)
}

// Bindings returns the entries received, in receipt order.
func (d *DumpCmd) Bindings() []Binding { return d.Records() }

// HandleReply implements the rpc.Handler interface for *DumpCmd.
func (d *DumpCmd) HandleReply(reply any) bool {
	switch r := reply.(type) {
	case *dataplane.IPNeighborDetails:
		d.Append(fromAPI(r.Neighbor))

		return false
	case *dataplane.ControlPingReply:
		if r.Retval != 0 {
			d.Fail(rc.FromRetval(r.Retval))
		} else {
			d.Done()
		}
	default:
		d.Fail(rc.Failed(fmt.Sprintf("unexpected reply %T", reply)))
	}

	return true
}

func (d *DumpCmd) String() string {
	return fmt.Sprintf("neighbor-dump: %s %s", d.itf, d.family)
}
