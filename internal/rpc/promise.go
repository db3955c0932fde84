package rpc

import (
	"context"
	"sync"

	"github.com/hostinger/neighsync/internal/rc"
)

// Promise is resolved exactly once with the outcome of one exchange.
type Promise struct {
	once sync.Once
	ch   chan rc.Code
}

func NewPromise() *Promise {
	return &Promise{ch: make(chan rc.Code, 1)}
}

// Fulfill resolves the promise. Calls after the first are ignored.
func (p *Promise) Fulfill(code rc.Code) {
	p.once.Do(func() {
		p.ch <- code
		close(p.ch)
	})
}

// Wait blocks until the promise is resolved or ctx is done, in which case it
// returns rc.Timeout.
func (p *Promise) Wait(ctx context.Context) rc.Code {
	select {
	case code := <-p.ch:
		return code
	case <-ctx.Done():
		return rc.Timeout
	}
}
