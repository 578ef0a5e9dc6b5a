package session

import (
	"context"
	"errors"
	"testing"
)

func TestTxnCommitDrainsOnlyCommitCallbacks(t *testing.T) {
	ctx := context.Background()
	txn := NewTxn()

	var ran []string
	txn.AfterCommit(func(context.Context) { ran = append(ran, "c1") })
	txn.AfterCommit(func(context.Context) { ran = append(ran, "c2") })
	txn.AfterRollback(func(context.Context) { ran = append(ran, "r1") })

	txn.Commit(ctx)
	if len(ran) != 2 || ran[0] != "c1" || ran[1] != "c2" {
		t.Errorf("ran = %v", ran)
	}

	// Both lists are spent after draining.
	txn.Rollback(ctx)
	if len(ran) != 2 {
		t.Errorf("rollback after commit ran callbacks: %v", ran)
	}
}

func TestTxnRollbackDrainsOnlyRollbackCallbacks(t *testing.T) {
	ctx := context.Background()
	txn := NewTxn()

	var ran []string
	txn.AfterCommit(func(context.Context) { ran = append(ran, "c1") })
	txn.AfterRollback(func(context.Context) { ran = append(ran, "r1") })

	txn.Rollback(ctx)
	if len(ran) != 1 || ran[0] != "r1" {
		t.Errorf("ran = %v", ran)
	}
}

func TestCompensate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	var undone bool
	err := compensate(ctx, func() error { return boom }, func(context.Context) { undone = true })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if !undone {
		t.Error("undo did not run")
	}

	undone = false
	err = compensate(ctx, func() error { return nil }, func(context.Context) { undone = true })
	if err != nil || undone {
		t.Errorf("err = %v, undone = %v", err, undone)
	}
}
