package interceptor

import (
	"context"

	"github.com/LerianStudio/lib-txscope/txscope/transaction"
)

type infoContextKey struct{}

// Info describes one intercepted operation. Operations without attributes
// get a placeholder Info with no status, so the stack depth always matches
// the call depth.
type Info struct {
	manager    transaction.PlainManager
	attributes *transaction.Attributes
	identifier string
	status     transaction.Status
	previous   *Info
}

// Attributes returns the resolved attributes, nil for a placeholder.
func (i *Info) Attributes() *transaction.Attributes {
	return i.attributes
}

// Identifier is the operation name.
func (i *Info) Identifier() string {
	return i.identifier
}

// Status returns the transaction status, nil for a placeholder.
//
//nolint:ireturn
func (i *Info) Status() transaction.Status {
	return i.status
}

// HasTransaction reports whether a transaction status is attached.
func (i *Info) HasTransaction() bool {
	return i.status != nil
}

// Previous returns the Info of the enclosing operation, or nil.
func (i *Info) Previous() *Info {
	return i.previous
}

func withInfo(ctx context.Context, info *Info) context.Context {
	if previous, ok := CurrentInfo(ctx); ok {
		info.previous = previous
	}

	return context.WithValue(ctx, infoContextKey{}, info)
}

// CurrentInfo returns the Info of the innermost intercepted operation.
func CurrentInfo(ctx context.Context) (*Info, bool) {
	if ctx == nil {
		return nil, false
	}

	info, ok := ctx.Value(infoContextKey{}).(*Info)

	return info, ok && info != nil
}

// CurrentStatus returns the transaction status of the innermost
// intercepted operation, so code can call SetRollbackOnly without
// returning an error.
//
//nolint:ireturn
func CurrentStatus(ctx context.Context) (transaction.Status, error) {
	info, ok := CurrentInfo(ctx)
	if !ok || info.status == nil {
		return nil, ErrNoTransaction
	}

	return info.status, nil
}

// Depth returns the number of intercepted operations enclosing ctx.
func Depth(ctx context.Context) int {
	depth := 0

	info, _ := CurrentInfo(ctx)
	for ; info != nil; info = info.previous {
		depth++
	}

	return depth
}
