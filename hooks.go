package sqlite

import "context"

// Hook installers take a user data handle; 0 removes the hook. The
// update/commit/rollback installers return the user data of the hook they
// replaced so the caller can release it.

// UpdateHook installs the update hook.
func (g *Gateway) UpdateHook(ctx context.Context, db, userData uint32) (prev uint32, err error) {
	return g.callPtr(ctx, g.updateHook, u32(db), u32(g.hookPtr(g.trampolines.Update, userData)), u32(userData))
}

// CommitHook installs the commit hook.
func (g *Gateway) CommitHook(ctx context.Context, db, userData uint32) (prev uint32, err error) {
	return g.callPtr(ctx, g.commitHook, u32(db), u32(g.hookPtr(g.trampolines.Commit, userData)), u32(userData))
}

// RollbackHook installs the rollback hook.
func (g *Gateway) RollbackHook(ctx context.Context, db, userData uint32) (prev uint32, err error) {
	return g.callPtr(ctx, g.rollbackHook, u32(db), u32(g.hookPtr(g.trampolines.Rollback, userData)), u32(userData))
}

// ProgressHandler installs a handler invoked every nOps virtual machine
// instructions.
func (g *Gateway) ProgressHandler(ctx context.Context, db uint32, nOps int, userData uint32) error {
	_, err := g.call(ctx, g.progressHandler, u32(db), i32(nOps), u32(g.hookPtr(g.trampolines.Progress, userData)), u32(userData))
	return err
}

// BusyHandler installs a handler invoked when a table is locked. It replaces
// any BusyTimeout.
func (g *Gateway) BusyHandler(ctx context.Context, db, userData uint32) (int, error) {
	return g.callInt(ctx, g.busyHandler, u32(db), u32(g.hookPtr(g.trampolines.Busy, userData)), u32(userData))
}

func (g *Gateway) hookPtr(trampoline, userData uint32) uint32 {
	if userData == 0 {
		return 0
	}
	return trampoline
}
