package resource

import (
	"context"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

// DefaultSynchronizationOrder is the order of the synchronization that
// releases a handle at completion. Handles of decorating factories are
// released first.
const DefaultSynchronizationOrder = 1000

// SynchronizationOrder returns the release order for factory.
func SynchronizationOrder(factory Factory) int {
	order := DefaultSynchronizationOrder

	if nested, ok := factory.(NestingDepth); ok {
		order -= nested.NestingDepth()
	}

	return order
}

// resourceSynchronization returns the handle of a Holder to its factory at
// the end of a unit of work, and unbinds or rebinds it on suspend and resume.
type resourceSynchronization struct {
	holder  *Holder
	factory Factory
	order   int

	mu           sync.Mutex
	holderActive bool
}

func newResourceSynchronization(holder *Holder, factory Factory) *resourceSynchronization {
	return &resourceSynchronization{
		holder:       holder,
		factory:      factory,
		order:        SynchronizationOrder(factory),
		holderActive: true,
	}
}

func (s *resourceSynchronization) Order() int {
	return s.order
}

func (s *resourceSynchronization) isHolderActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.holderActive
}

// deactivate flips holderActive off and reports whether it was on.
func (s *resourceSynchronization) deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.holderActive
	s.holderActive = false

	return was
}

func (s *resourceSynchronization) Suspend(ctx context.Context) error {
	if !s.isHolderActive() {
		return nil
	}

	txsync.UnbindResourceIfPossible(ctx, s.factory)

	// Nobody holds a reference across the suspension: give the handle back
	// and fetch a new one lazily after resume.
	if s.holder.HasHandle() && !s.holder.IsOpen() {
		s.releaseHandle(ctx)
	}

	return nil
}

func (s *resourceSynchronization) Resume(ctx context.Context) error {
	if !s.isHolderActive() {
		return nil
	}

	return txsync.BindResource(ctx, s.factory, s.holder)
}

func (s *resourceSynchronization) BeforeCompletion(ctx context.Context) error {
	if s.holder.IsOpen() {
		return nil
	}

	if s.deactivate() {
		txsync.UnbindResourceIfPossible(ctx, s.factory)
	}

	if s.holder.HasHandle() {
		s.releaseHandle(ctx)
	}

	return nil
}

func (s *resourceSynchronization) AfterCompletion(ctx context.Context, _ txsync.CompletionStatus) error {
	if s.deactivate() {
		txsync.UnbindResourceIfPossible(ctx, s.factory)

		if s.holder.HasHandle() {
			s.releaseHandle(ctx)
		}
	}

	s.holder.Reset()

	return nil
}

// releaseHandle must run after unbinding, so that Release closes the handle
// instead of dropping a reference.
func (s *resourceSynchronization) releaseHandle(ctx context.Context) {
	h := s.holder.Handle()
	s.holder.SetHandle(nil)

	Release(ctx, h, s.factory)
}
