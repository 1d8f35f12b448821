// Package mongodb runs MongoDB multi-document transactions through
// transaction.Manager.
//
// A Factory starts client sessions. TransactionManager binds one session
// per unit of work and drives StartTransaction, CommitTransaction and
// AbortTransaction on it. Repositories pass WithSession(ctx, factory) to
// driver calls so their operations join the bound session.
//
//	tm, _ := mongodb.NewTransactionManager(factory, nil)
//	tmpl, _ := transaction.NewTemplate(tm)
//
//	_, err := tmpl.Execute(ctx, nil, func(ctx context.Context, _ transaction.Status) (any, error) {
//		_, err := orders.InsertOne(mongodb.WithSession(ctx, factory), order)
//		return nil, err
//	})
//
// Transactions need a replica set or sharded cluster. Savepoints do not
// exist in MongoDB, so PropagationNested is rejected.
package mongodb
