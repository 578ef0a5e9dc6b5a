package session

import "context"

// Txn collects cleanup callbacks tied to the caller's unit of work. The
// handler layer creates one per request and drains it once the outcome is
// known: rollback callbacks run only after the local side actually failed,
// never eagerly, so a cleanup cannot race a transaction that still commits.
type Txn struct {
	afterCommit   []func(ctx context.Context)
	afterRollback []func(ctx context.Context)
}

func NewTxn() *Txn {
	return &Txn{}
}

// AfterCommit registers fn to run when the unit of work completes.
func (t *Txn) AfterCommit(fn func(ctx context.Context)) {
	t.afterCommit = append(t.afterCommit, fn)
}

// AfterRollback registers fn to run when the unit of work is rolled back.
func (t *Txn) AfterRollback(fn func(ctx context.Context)) {
	t.afterRollback = append(t.afterRollback, fn)
}

// Commit drains the commit callbacks in registration order.
func (t *Txn) Commit(ctx context.Context) {
	for _, fn := range t.afterCommit {
		fn(ctx)
	}
	t.afterCommit = nil
	t.afterRollback = nil
}

// Rollback drains the rollback callbacks in registration order.
func (t *Txn) Rollback(ctx context.Context) {
	for _, fn := range t.afterRollback {
		fn(ctx)
	}
	t.afterCommit = nil
	t.afterRollback = nil
}

// compensate runs body; if it fails, undo runs before the error is returned.
// Multi-step remote-then-local operations use this to express their saga:
// the remote mutation's compensating delete is declared next to the local
// step that might invalidate it.
func compensate(ctx context.Context, body func() error, undo func(ctx context.Context)) error {
	if err := body(); err != nil {
		undo(ctx)
		return err
	}
	return nil
}
