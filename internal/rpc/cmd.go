package rpc

import (
	"context"
	"sync"

	"github.com/hostinger/neighsync/internal/hw"
	"github.com/hostinger/neighsync/internal/rc"
)

// ItemCmd is embedded by commands that program one object and report the
// outcome on its shared hw.Item.
type ItemCmd[T any] struct {
	item    *hw.Item[T]
	promise *Promise
}

func NewItemCmd[T any](item *hw.Item[T]) ItemCmd[T] {
	return ItemCmd[T]{item: item, promise: NewPromise()}
}

func (c *ItemCmd[T]) Item() *hw.Item[T] { return c.item }

func (c *ItemCmd[T]) Promise() *Promise { return c.promise }

// Fulfill resolves the command with code.
func (c *ItemCmd[T]) Fulfill(code rc.Code) { c.promise.Fulfill(code) }

// Wait suspends until the reply arrives, records its code on the item and
// returns it.
func (c *ItemCmd[T]) Wait(ctx context.Context) rc.Code {
	code := c.promise.Wait(ctx)
	c.item.Set(code)

	return code
}

// DumpCmd is embedded by commands that read back a stream of records.
type DumpCmd[T any] struct {
	mu      sync.Mutex
	records []T
	promise *Promise
}

func NewDumpCmd[T any]() DumpCmd[T] {
	return DumpCmd[T]{promise: NewPromise()}
}

func (d *DumpCmd[T]) Promise() *Promise { return d.promise }

// Append adds one received record.
func (d *DumpCmd[T]) Append(rec T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records = append(d.records, rec)
}

// Records returns a copy of the records received so far, in receipt order.
func (d *DumpCmd[T]) Records() []T {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]T, len(d.records))
	copy(out, d.records)

	return out
}

// Done marks the end of the stream.
func (d *DumpCmd[T]) Done() { d.promise.Fulfill(rc.OK) }

// Fail ends the stream with code.
func (d *DumpCmd[T]) Fail(code rc.Code) { d.promise.Fulfill(code) }

// Wait suspends until the end of the stream.
func (d *DumpCmd[T]) Wait(ctx context.Context) rc.Code {
	return d.promise.Wait(ctx)
}
