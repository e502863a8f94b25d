package contracts

import "context"

// TxManager runs fn inside one storage transaction. The transaction handle
// travels in ctx; repositories pick it up through their executor.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
