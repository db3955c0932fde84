// Package rpc contains the pieces shared by every dataplane command: the
// connection contract, the promise a command suspends on while its reply is
// outstanding, and the base types commands embed.
package rpc

import (
	"context"
	"fmt"

	"github.com/hostinger/neighsync/internal/rc"
)

// Request is a message sent to the dataplane.
type Request interface {
	RequestName() string
}

// Handler receives the replies correlated with one executed request.
type Handler interface {
	// HandleReply consumes one reply and reports whether the exchange is
	// complete. The connection stops delivering replies once it returns true.
	HandleReply(reply any) (done bool)
}

// Conn is a connection to the dataplane.
type Conn interface {
	// Execute sends req and arranges for every reply correlated with it to
	// be passed to h, possibly from another goroutine. A non-nil error means
	// the request was not sent and h will not be called.
	Execute(ctx context.Context, req Request, h Handler) error
}

// Cmd is a unit of work against the dataplane. Issue must be called at most
// once.
type Cmd interface {
	Issue(ctx context.Context, conn Conn) rc.Code
	fmt.Stringer
}

// Send executes req on conn with h as the reply handler. If the request
// cannot be sent the failure is delivered through p, so the subsequent wait
// completes normally with a failure code.
func Send(ctx context.Context, conn Conn, req Request, h Handler, p *Promise) {
	if err := conn.Execute(ctx, req, h); err != nil {
		p.Fulfill(rc.Failed(fmt.Sprintf("%s: %s", req.RequestName(), err)))
	}
}
