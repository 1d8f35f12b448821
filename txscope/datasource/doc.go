// Package datasource binds database/sql connections to units of work.
//
// Repositories call GetConn and ReleaseConn around each piece of work. Inside
// a unit of work every call gets the same *sql.Conn, and statements run on
// the unit's *sql.Tx when TransactionManager started one. Outside a unit of
// work GetConn hands out a fresh connection that ReleaseConn returns to the
// pool.
//
//	tm, _ := datasource.NewTransactionManager(factory)
//	tmpl, _ := transaction.NewTemplate(tm)
//	_, err := tmpl.Execute(ctx, def, func(ctx context.Context, _ transaction.Status) (any, error) {
//		conn, err := datasource.GetConn(ctx, factory)
//		if err != nil {
//			return nil, err
//		}
//		defer datasource.ReleaseConn(ctx, conn, factory)
//
//		_, err = conn.ExecContext(ctx, "UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, id)
//		return nil, err
//	})
package datasource
