package repositories

import "context"

// TxFn is the unit of work run by ExecTx. It must use the context it is given.
type TxFn func(ctx context.Context) error

// TransactionManager runs a unit of work atomically. A turn is never stored
// without its thread row, and a thread row is never claimed without a turn.
type TransactionManager interface {
	// ExecTx commits when fn returns nil and rolls back otherwise. Called
	// with a context that already carries a transaction, fn joins it.
	ExecTx(ctx context.Context, fn TxFn) error
}
