// Package hw holds the state cells shared between commands that program the
// same object on the dataplane.
package hw

import (
	"fmt"

	"github.com/hostinger/neighsync/internal/rc"
)

// Item records the desired value of an object together with the status of
// the last command that completed against it. An Item is shared by pointer
// between every command touching the same object and performs no locking;
// callers must not run two commands against one Item concurrently.
type Item[T any] struct {
	value  T
	status rc.Code
}

// NewItem returns an item holding value with the given initial status.
func NewItem[T any](value T, status rc.Code) *Item[T] {
	return &Item[T]{value: value, status: status}
}

func (i *Item[T]) Value() T { return i.value }

func (i *Item[T]) Status() rc.Code { return i.status }

// Set records the status of a completed command.
func (i *Item[T]) Set(status rc.Code) {
	i.status = status
}

// Programmed reports whether the last command against the item succeeded.
func (i *Item[T]) Programmed() bool {
	return i.status.IsOK()
}

func (i *Item[T]) String() string {
	return fmt.Sprintf("hw-item:[rc:%s value:%v]", i.status, i.value)
}
