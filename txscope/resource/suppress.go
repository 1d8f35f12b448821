package resource

import (
	"context"
	"time"
)

// Settings are the per-operation limits a proxy applies to derived work.
type Settings struct {
	// QueryTimeout bounds each operation when the unit of work has no
	// deadline. Zero means no timeout.
	QueryTimeout time.Duration
	// MaxRows caps result sets. Zero means unlimited.
	MaxRows int
}

// Apply derives the context an operation should run with. A holder deadline
// takes precedence over QueryTimeout. When the deadline has already passed
// the holder is marked rollback-only and the deadline error is returned.
func (s Settings) Apply(ctx context.Context, holder *Holder) (context.Context, context.CancelFunc, error) {
	if holder != nil && holder.HasTimeout() {
		ttl, err := holder.TimeToLive()
		if err != nil {
			return ctx, func() {}, err
		}

		derived, cancel := context.WithTimeout(ctx, ttl)

		return derived, cancel, nil
	}

	if s.QueryTimeout > 0 {
		derived, cancel := context.WithTimeout(ctx, s.QueryTimeout)

		return derived, cancel, nil
	}

	return ctx, func() {}, nil
}

// SuppressingHandle wraps a handle shared by a unit of work. Closing it is a
// no-op, so code written to close what it uses cannot close the shared
// handle. Two proxies are equal only if they are the same pointer.
type SuppressingHandle struct {
	target   Handle
	holder   *Holder
	settings Settings
}

// Suppress wraps target. holder may be nil when target is not bound to a
// unit of work.
func Suppress(target Handle, holder *Holder, settings Settings) *SuppressingHandle {
	return &SuppressingHandle{target: target, holder: holder, settings: settings}
}

// Close does nothing.
func (p *SuppressingHandle) Close() error {
	return nil
}

// IsClosed always reports false.
func (p *SuppressingHandle) IsClosed() bool {
	return false
}

// Target returns the wrapped handle.
//
//nolint:ireturn
func (p *SuppressingHandle) Target() Handle {
	return p.target
}

func (p *SuppressingHandle) Holder() *Holder {
	return p.holder
}

func (p *SuppressingHandle) Settings() Settings {
	return p.settings
}

// Context applies the proxy settings to ctx.
func (p *SuppressingHandle) Context(ctx context.Context) (context.Context, context.CancelFunc, error) {
	return p.settings.Apply(ctx, p.holder)
}
