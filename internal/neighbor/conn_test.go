package neighbor

import (
	"context"
	"net"
	"sync"

	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/rpc"
)

// fakeConn is a scripted dataplane. script returns the replies for one
// request; they are delivered from a goroutine once gate, if set, is closed.
type fakeConn struct {
	mu       sync.Mutex
	requests []rpc.Request
	script   func(req rpc.Request) []any
	gate     chan struct{}
	err      error
	wg       sync.WaitGroup
}

func (c *fakeConn) Execute(_ context.Context, req rpc.Request, h rpc.Handler) error {
	if c.err != nil {
		return c.err
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	var replies []any
	if c.script != nil {
		replies = c.script(req)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if c.gate != nil {
			<-c.gate
		}
		for _, r := range replies {
			if h.HandleReply(r) {
				return
			}
		}
	}()

	return nil
}

func (c *fakeConn) sent() []rpc.Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]rpc.Request, len(c.requests))
	copy(out, c.requests)

	return out
}

// replyRetval answers every add/del with retval and every dump with no
// records.
func replyRetval(retval int32) func(rpc.Request) []any {
	return func(req rpc.Request) []any {
		switch req.(type) {
		case *dataplane.IPNeighborAddDel:
			return []any{&dataplane.IPNeighborAddDelReply{Retval: retval}}
		default:
			return []any{&dataplane.ControlPingReply{}}
		}
	}
}

// dumpReplies streams bindings then the end marker.
func dumpReplies(bindings ...Binding) []any {
	replies := make([]any, 0, len(bindings)+1)
	for _, b := range bindings {
		replies = append(replies, &dataplane.IPNeighborDetails{Neighbor: b.toAPI()})
	}

	return append(replies, &dataplane.ControlPingReply{})
}

func parseMAC(s string) net.HardwareAddr {
	mac, _ := net.ParseMAC(s)
	return mac
}
