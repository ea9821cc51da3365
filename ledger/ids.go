package ledger

import "github.com/google/uuid"

// IDAllocator hands out unique ids for groups, members and expenses.
// Tests swap in a deterministic implementation.
type IDAllocator interface {
	NewID() string
}

type uuidAllocator struct{}

func (uuidAllocator) NewID() string { return uuid.NewString() }

func NewUUIDAllocator() IDAllocator { return uuidAllocator{} }
