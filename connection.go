package sqlite

import "context"

// Open opens a database connection. db can be non-zero even when rc is not OK,
// in which case it still has to be closed.
func (g *Gateway) Open(ctx context.Context, filename string, flags int) (db uint32, rc int, err error) {
	name, err := g.AllocCString(ctx, filename)
	if err != nil {
		return 0, 0, err
	}
	defer g.freePtr(ctx, name)

	ppDb, err := g.allocScratch(ctx, ptrSize)
	if err != nil {
		return 0, 0, err
	}
	defer g.freePtr(ctx, ppDb)

	rc, err = g.callInt(ctx, g.open, u32(name), u32(ppDb), i32(flags), 0)
	if err != nil {
		return 0, 0, err
	}
	db, err = g.ReadPtr(ppDb)
	return db, rc, err
}

// Close closes a database connection.
func (g *Gateway) Close(ctx context.Context, db uint32) (int, error) {
	return g.callInt(ctx, g.close, u32(db))
}

// Prepare compiles the first statement in sql. stmt is 0 when sql holds no
// statement (only whitespace or comments).
func (g *Gateway) Prepare(ctx context.Context, db uint32, sql string) (stmt uint32, rc int, err error) {
	zSQL, n, err := g.AllocString(ctx, sql)
	if err != nil {
		return 0, 0, err
	}
	defer g.freePtr(ctx, zSQL)

	ppStmt, err := g.allocScratch(ctx, ptrSize)
	if err != nil {
		return 0, 0, err
	}
	defer g.freePtr(ctx, ppStmt)

	rc, err = g.callInt(ctx, g.prepare, u32(db), u32(zSQL), u32(n), u32(ppStmt), 0)
	if err != nil {
		return 0, 0, err
	}
	stmt, err = g.ReadPtr(ppStmt)
	return stmt, rc, err
}

// Finalize destroys a prepared statement.
func (g *Gateway) Finalize(ctx context.Context, stmt uint32) (int, error) {
	return g.callInt(ctx, g.finalize, u32(stmt))
}

// Reset rewinds a prepared statement. Bindings are kept.
func (g *Gateway) Reset(ctx context.Context, stmt uint32) (int, error) {
	return g.callInt(ctx, g.reset, u32(stmt))
}

// ClearBindings sets every parameter of stmt back to NULL.
func (g *Gateway) ClearBindings(ctx context.Context, stmt uint32) (int, error) {
	return g.callInt(ctx, g.clearBindings, u32(stmt))
}

// Step evaluates stmt until the next row (ROW) or completion (DONE).
func (g *Gateway) Step(ctx context.Context, stmt uint32) (int, error) {
	return g.callInt(ctx, g.step, u32(stmt))
}

// Exec runs every statement in sql. callback is a function table index inside
// the module (0 for none) and arg its first argument; no host trampoline is
// involved. The engine's error message, if any, is returned in msg.
func (g *Gateway) Exec(ctx context.Context, db uint32, sql string, callback, arg uint32) (rc int, msg string, err error) {
	zSQL, err := g.AllocCString(ctx, sql)
	if err != nil {
		return 0, "", err
	}
	defer g.freePtr(ctx, zSQL)

	pzErr, err := g.allocScratch(ctx, ptrSize)
	if err != nil {
		return 0, "", err
	}
	defer g.freePtr(ctx, pzErr)

	rc, err = g.callInt(ctx, g.exec, u32(db), u32(zSQL), u32(callback), u32(arg), u32(pzErr))
	if err != nil {
		return 0, "", err
	}

	zErr, err := g.ReadPtr(pzErr)
	if err != nil || zErr == 0 {
		return rc, "", err
	}
	defer g.sqliteFreePtr(ctx, zErr)
	msg, err = g.ReadCString(zErr)
	return rc, msg, err
}

// Changes returns the rows modified by the most recent statement on db.
func (g *Gateway) Changes(ctx context.Context, db uint32) (int64, error) {
	r, err := g.call(ctx, g.changes, u32(db))
	return int64(r), err
}

// TotalChanges returns the rows modified since db was opened.
func (g *Gateway) TotalChanges(ctx context.Context, db uint32) (int, error) {
	return g.callInt(ctx, g.totalChanges, u32(db))
}

// Interrupt aborts any pending operation on db.
func (g *Gateway) Interrupt(ctx context.Context, db uint32) error {
	_, err := g.call(ctx, g.interrupt, u32(db))
	return err
}

// Sleep suspends the engine for at least ms milliseconds and returns the
// time actually requested from the VFS.
func (g *Gateway) Sleep(ctx context.Context, ms int) (int, error) {
	return g.callInt(ctx, g.sleep, i32(ms))
}

// BusyTimeout installs the engine's built-in busy handler.
func (g *Gateway) BusyTimeout(ctx context.Context, db uint32, ms int) (int, error) {
	return g.callInt(ctx, g.busyTimeout, u32(db), i32(ms))
}

// Limit changes a run-time limit and returns its previous value. A negative
// value leaves the limit unchanged.
func (g *Gateway) Limit(ctx context.Context, db uint32, id, value int) (int, error) {
	return g.callInt(ctx, g.limit, u32(db), i32(id), i32(value))
}

// LibVersion returns the engine version string.
func (g *Gateway) LibVersion(ctx context.Context) (string, error) {
	ptr, err := g.callPtr(ctx, g.libVersion)
	if err != nil {
		return "", err
	}
	return g.ReadCString(ptr)
}

// ErrMsg returns the English error message for the most recent failure on db.
func (g *Gateway) ErrMsg(ctx context.Context, db uint32) (string, error) {
	ptr, err := g.callPtr(ctx, g.errMsg, u32(db))
	if err != nil {
		return "", err
	}
	return g.ReadCString(ptr)
}

// ExtendedErrCode returns the extended result code of the most recent failure.
func (g *Gateway) ExtendedErrCode(ctx context.Context, db uint32) (int, error) {
	return g.callInt(ctx, g.extendedErrCode, u32(db))
}
