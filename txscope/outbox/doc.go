// Package outbox records integration events in the same database
// transaction as the business writes that produced them, and delivers them
// afterwards.
//
// A Writer buffers events for the unit of work in the context and inserts
// them from a before-commit synchronization, so they are persisted exactly
// when the surrounding transaction commits. A Dispatcher claims stored
// events in short transactions of its own and hands them to a handler.
//
//	writer, _ := outbox.NewWriter(repo, outbox.WithAfterCommit(dispatcher.Wake))
//
//	_, err := txi.Invoke(ctx, "Orders.Place", func(ctx context.Context) (any, error) {
//		// business writes through datasource.GetConn ...
//		event, err := outbox.NewEvent("order.placed", orderID, payload)
//		if err != nil {
//			return nil, err
//		}
//
//		return nil, writer.Enqueue(ctx, event)
//	})
package outbox
