package sqlite

import (
	"context"
	"errors"
)

// Serialize copies the content of schema ("main" if empty) out of the engine.
// It returns nil when the engine has nothing to serialize.
func (g *Gateway) Serialize(ctx context.Context, db uint32, schema string) ([]byte, error) {
	zSchema, err := g.AllocCString(ctx, schemaName(schema))
	if err != nil {
		return nil, err
	}
	defer g.freePtr(ctx, zSchema)

	piSize, err := g.allocScratch(ctx, 8)
	if err != nil {
		return nil, err
	}
	defer g.freePtr(ctx, piSize)

	ptr, err := g.callPtr(ctx, g.serialize, u32(db), u32(zSchema), u32(piSize), 0)
	if err != nil || ptr == 0 {
		return nil, err
	}
	defer g.sqliteFreePtr(ctx, ptr)

	size, ok := g.mem.ReadUint64Le(piSize)
	if !ok {
		return nil, errors.New("failed to read serialized size")
	}
	return g.ReadBytes(ptr, uint32(size))
}

// Deserialize replaces schema ("main" if empty) with the database in data.
// The copy made inside the sandbox belongs to the engine once the call runs,
// even when it fails, and is resizable. It is freed here only if the call
// itself traps.
func (g *Gateway) Deserialize(ctx context.Context, db uint32, schema string, data []byte) (int, error) {
	zSchema, err := g.AllocCString(ctx, schemaName(schema))
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zSchema)

	buf, err := g.callPtr(ctx, g.sqliteMalloc, i64(int64(max(len(data), 1))))
	if err != nil {
		return 0, err
	}
	if buf == 0 {
		return NOMEM, nil
	}
	if err := g.WriteBytes(buf, data); err != nil {
		g.sqliteFreePtr(ctx, buf)
		return 0, err
	}

	size := i64(int64(len(data)))
	rc, err := g.callInt(ctx, g.deserialize, u32(db), u32(zSchema), u32(buf), size, size, i32(deserializeFlags))
	if err != nil {
		g.sqliteFreePtr(ctx, buf)
		return 0, err
	}
	return rc, nil
}

func schemaName(schema string) string {
	if schema == "" {
		return "main"
	}
	return schema
}

// Online backup. The caller drives the copy: BackupInit, then BackupStep until
// it returns DONE, then BackupFinish.

// BackupInit starts copying srcName of src into destName of dest. It returns 0
// on failure; the error is then available from ErrMsg on dest.
func (g *Gateway) BackupInit(ctx context.Context, dest uint32, destName string, src uint32, srcName string) (uint32, error) {
	zDest, err := g.AllocCString(ctx, schemaName(destName))
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zDest)

	zSrc, err := g.AllocCString(ctx, schemaName(srcName))
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zSrc)

	return g.callPtr(ctx, g.backupInit, u32(dest), u32(zDest), u32(src), u32(zSrc))
}

// BackupStep copies up to nPages pages; a negative count copies everything.
func (g *Gateway) BackupStep(ctx context.Context, backup uint32, nPages int) (int, error) {
	return g.callInt(ctx, g.backupStep, u32(backup), i32(nPages))
}

// BackupFinish releases the backup object.
func (g *Gateway) BackupFinish(ctx context.Context, backup uint32) (int, error) {
	return g.callInt(ctx, g.backupFinish, u32(backup))
}

// BackupRemaining returns the number of pages still to be copied.
func (g *Gateway) BackupRemaining(ctx context.Context, backup uint32) (int, error) {
	return g.callInt(ctx, g.backupRemaining, u32(backup))
}

// BackupPageCount returns the total number of pages in the source.
func (g *Gateway) BackupPageCount(ctx context.Context, backup uint32) (int, error) {
	return g.callInt(ctx, g.backupPageCount, u32(backup))
}
