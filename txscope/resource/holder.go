package resource

import (
	"context"
	"strconv"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

// SavepointPrefix names savepoints created through a Holder.
const SavepointPrefix = "SAVEPOINT_"

// Holder keeps the handle a unit of work shares for one factory.
type Holder struct {
	txsync.HolderSupport

	mu                sync.Mutex
	handle            Handle
	transactionActive bool
	savepointCounter  int
}

// NewHolder returns a Holder owning h.
func NewHolder(h Handle) *Holder {
	return &Holder{handle: h}
}

// HolderFor returns the Holder bound for factory in ctx, or nil.
func HolderFor(ctx context.Context, factory Factory) *Holder {
	holder, _ := txsync.GetResource(ctx, factory).(*Holder)

	return holder
}

// Handle returns the current handle, or nil.
//
//nolint:ireturn
func (h *Holder) Handle() Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.handle
}

// HasHandle reports whether the holder currently owns a handle.
func (h *Holder) HasHandle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.handle != nil
}

// SetHandle replaces the handle. A nil handle means it was returned to the
// factory and must be acquired again on next use.
func (h *Holder) SetHandle(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handle = handle
}

// SetTransactionActive records whether a resource transaction runs on the
// held handle.
func (h *Holder) SetTransactionActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.transactionActive = active
}

func (h *Holder) IsTransactionActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.transactionActive
}

// NextSavepointName returns a fresh savepoint name for the held handle.
func (h *Holder) NextSavepointName() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.savepointCounter++

	return SavepointPrefix + strconv.Itoa(h.savepointCounter)
}

// Clear resets transactional state, keeping the handle and the reference
// count.
func (h *Holder) Clear() {
	h.HolderSupport.Clear()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.transactionActive = false
	h.savepointCounter = 0
}

// Reset clears all state including the reference count.
func (h *Holder) Reset() {
	h.HolderSupport.Reset()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.transactionActive = false
	h.savepointCounter = 0
}
