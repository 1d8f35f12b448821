package txsync

import (
	"sync"
	"time"
)

// ResourceHolder is implemented by values bound into the registry that
// need to learn when they are reset or unbound.
type ResourceHolder interface {
	Reset()
	Unbound()
	IsVoid() bool
}

// HolderSupport is the reference-counted bookkeeping shared by resource
// holders. Embed it by value and always use the holder through a pointer.
//
// All state is guarded by an internal mutex: completion callbacks may run on
// a different goroutine than the one that acquired the resource.
type HolderSupport struct {
	mu                          sync.Mutex
	synchronizedWithTransaction bool
	rollbackOnly                bool
	deadline                    time.Time
	referenceCount              int
	isVoid                      bool
}

// SetSynchronizedWithTransaction marks the holder as owned by a unit of work.
func (h *HolderSupport) SetSynchronizedWithTransaction(synchronized bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.synchronizedWithTransaction = synchronized
}

// IsSynchronizedWithTransaction reports whether a unit of work will clean
// this holder up at completion.
func (h *HolderSupport) IsSynchronizedWithTransaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.synchronizedWithTransaction
}

// SetRollbackOnly marks the holder's resource transaction as rollback-only.
func (h *HolderSupport) SetRollbackOnly() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rollbackOnly = true
}

// ResetRollbackOnly clears the rollback-only flag.
func (h *HolderSupport) ResetRollbackOnly() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rollbackOnly = false
}

// IsRollbackOnly reports whether the holder is marked rollback-only.
func (h *HolderSupport) IsRollbackOnly() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.rollbackOnly
}

// SetTimeout sets the deadline to now+timeout. A non-positive timeout
// clears it.
func (h *HolderSupport) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		h.SetDeadline(time.Time{})
		return
	}

	h.SetDeadline(time.Now().Add(timeout))
}

// SetDeadline sets an absolute deadline. The zero time clears it.
func (h *HolderSupport) SetDeadline(deadline time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deadline = deadline
}

// Deadline returns the deadline and whether one is set.
func (h *HolderSupport) Deadline() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.deadline, !h.deadline.IsZero()
}

// HasTimeout reports whether a deadline is set.
func (h *HolderSupport) HasTimeout() bool {
	_, ok := h.Deadline()

	return ok
}

// TimeToLive returns the time left before the deadline. Once the deadline
// has passed the holder is marked rollback-only and ErrDeadlineExceeded is
// returned.
func (h *HolderSupport) TimeToLive() (time.Duration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.deadline.IsZero() {
		return 0, ErrNoDeadline
	}

	remaining := time.Until(h.deadline)
	if remaining <= 0 {
		h.rollbackOnly = true

		return 0, ErrDeadlineExceeded
	}

	return remaining, nil
}

// Requested records one more reference to the held resource.
func (h *HolderSupport) Requested() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.referenceCount++
}

// Released drops one reference. It never goes below zero.
func (h *HolderSupport) Released() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.referenceCount > 0 {
		h.referenceCount--
	}
}

// IsOpen reports whether any caller still holds a reference.
func (h *HolderSupport) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.referenceCount > 0
}

// ReferenceCount returns the number of outstanding references.
func (h *HolderSupport) ReferenceCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.referenceCount
}

// Clear resets transactional state but keeps the reference count.
func (h *HolderSupport) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clearLocked()
}

func (h *HolderSupport) clearLocked() {
	h.synchronizedWithTransaction = false
	h.rollbackOnly = false
	h.deadline = time.Time{}
}

// Reset clears all state including the reference count.
func (h *HolderSupport) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clearLocked()
	h.referenceCount = 0
}

// Unbound marks the holder void: it was removed from its scope and must
// not be handed out again.
func (h *HolderSupport) Unbound() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.isVoid = true
}

// IsVoid reports whether Unbound was called.
func (h *HolderSupport) IsVoid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.isVoid
}
