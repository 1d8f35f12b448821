// Package interceptor wraps operations in transactions according to
// declarative attributes.
//
// An Interceptor resolves the attributes of an operation by name, picks the
// transaction manager named by the attributes' qualifier and runs the
// operation inside a transaction of that manager. Errors returned by the
// operation roll back or commit according to the attributes' rollback rules.
//
//	tx, _ := interceptor.New(
//		interceptor.WithAttributeSource(interceptor.MapSource{
//			"AccountService.Transfer": {Definition: transaction.Definition{Propagation: transaction.PropagationRequired}},
//		}),
//		interceptor.WithDefaultManager(manager),
//	)
//
//	receipt, err := interceptor.Call(ctx, tx, "AccountService.Transfer", svc.transfer)
package interceptor
