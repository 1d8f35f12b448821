// Package redis plugs go-redis into transaction scopes.
//
// Factory hands out dedicated connections that a unit of work shares like
// any other resource. WatchManager is a transaction.CallbackManager running
// optimistic transactions: keys named with WithWatchKeys are watched, the
// callback reads through Tx.Reader and queues writes with Tx.Queue, and the
// queued writes are executed in one MULTI/EXEC when the callback returns.
// When a watched key changes first the whole callback runs again, so it
// must not have side effects outside the queued writes.
//
//	manager, _ := redis.NewWatchManager(client, redis.WithMaxAttempts(5))
//
//	ctx = redis.WithWatchKeys(ctx, "balance:42")
//	_, err := manager.Execute(ctx, nil, func(ctx context.Context, _ transaction.Status) (any, error) {
//		tx, _ := redis.TxFromContext(ctx, manager)
//		balance, err := tx.Reader().Get(ctx, "balance:42").Int64()
//		if err != nil && !errors.Is(err, goredis.Nil) {
//			return nil, err
//		}
//
//		return nil, tx.Queue(func(p goredis.Pipeliner) error {
//			return p.Set(ctx, "balance:42", balance+10, 0).Err()
//		})
//	})
package redis
