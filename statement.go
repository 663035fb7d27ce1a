package sqlite

import "context"

// Parameter indexes are 1-based, column indexes 0-based, as in the C API.

// BindParameterCount returns the largest parameter index in stmt.
func (g *Gateway) BindParameterCount(ctx context.Context, stmt uint32) (int, error) {
	return g.callInt(ctx, g.bindParameterCount, u32(stmt))
}

// BindInt binds a 32-bit integer.
func (g *Gateway) BindInt(ctx context.Context, stmt uint32, pos int, v int32) (int, error) {
	return g.callInt(ctx, g.bindInt, u32(stmt), i32(pos), i32(int(v)))
}

// BindInt64 binds a 64-bit integer.
func (g *Gateway) BindInt64(ctx context.Context, stmt uint32, pos int, v int64) (int, error) {
	return g.callInt(ctx, g.bindInt64, u32(stmt), i32(pos), i64(v))
}

// BindDouble binds a floating point value.
func (g *Gateway) BindDouble(ctx context.Context, stmt uint32, pos int, v float64) (int, error) {
	return g.callInt(ctx, g.bindDouble, u32(stmt), i32(pos), f64(v))
}

// BindNull binds NULL.
func (g *Gateway) BindNull(ctx context.Context, stmt uint32, pos int) (int, error) {
	return g.callInt(ctx, g.bindNull, u32(stmt), i32(pos))
}

// BindText binds a UTF-8 string. The engine copies it before returning.
func (g *Gateway) BindText(ctx context.Context, stmt uint32, pos int, s string) (int, error) {
	ptr, n, err := g.AllocString(ctx, s)
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, ptr)
	return g.callInt(ctx, g.bindText, u32(stmt), i32(pos), u32(ptr), u32(n), i32(transient))
}

// BindBlob binds a blob. The engine copies it before returning. A nil slice
// binds NULL; an empty, non-nil slice binds a zero-length blob.
func (g *Gateway) BindBlob(ctx context.Context, stmt uint32, pos int, b []byte) (int, error) {
	if b == nil {
		return g.BindNull(ctx, stmt, pos)
	}
	ptr, err := g.AllocBytes(ctx, b)
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, ptr)
	return g.callInt(ctx, g.bindBlob, u32(stmt), i32(pos), u32(ptr), i32(len(b)), i32(transient))
}

// ColumnCount returns the number of result columns of stmt.
func (g *Gateway) ColumnCount(ctx context.Context, stmt uint32) (int, error) {
	return g.callInt(ctx, g.columnCount, u32(stmt))
}

// ColumnType returns the datatype code of a result column in the current row.
func (g *Gateway) ColumnType(ctx context.Context, stmt uint32, col int) (int, error) {
	return g.callInt(ctx, g.columnType, u32(stmt), i32(col))
}

// ColumnDeclType returns the declared type of a result column, or "" for
// expressions.
func (g *Gateway) ColumnDeclType(ctx context.Context, stmt uint32, col int) (string, error) {
	ptr, err := g.callPtr(ctx, g.columnDeclType, u32(stmt), i32(col))
	if err != nil {
		return "", err
	}
	return g.ReadCString(ptr)
}

// ColumnName returns the name of a result column.
func (g *Gateway) ColumnName(ctx context.Context, stmt uint32, col int) (string, error) {
	ptr, err := g.callPtr(ctx, g.columnName, u32(stmt), i32(col))
	if err != nil {
		return "", err
	}
	return g.ReadCString(ptr)
}

// ColumnTableName returns the table a result column originates from.
func (g *Gateway) ColumnTableName(ctx context.Context, stmt uint32, col int) (string, error) {
	ptr, err := g.callPtr(ctx, g.columnTableName, u32(stmt), i32(col))
	if err != nil {
		return "", err
	}
	return g.ReadCString(ptr)
}

// ColumnMetadata describes the constraints on a table column.
type ColumnMetadata struct {
	NotNull       bool
	PrimaryKey    bool
	AutoIncrement bool
}

// TableColumnMetadata looks up the constraints of table.column in any
// attached database.
func (g *Gateway) TableColumnMetadata(ctx context.Context, db uint32, table, column string) (ColumnMetadata, int, error) {
	zTable, err := g.AllocCString(ctx, table)
	if err != nil {
		return ColumnMetadata{}, 0, err
	}
	defer g.freePtr(ctx, zTable)

	zColumn, err := g.AllocCString(ctx, column)
	if err != nil {
		return ColumnMetadata{}, 0, err
	}
	defer g.freePtr(ctx, zColumn)

	// three consecutive int outputs: not null, primary key, autoincrement
	out, err := g.allocScratch(ctx, 3*ptrSize)
	if err != nil {
		return ColumnMetadata{}, 0, err
	}
	defer g.freePtr(ctx, out)

	rc, err := g.callInt(ctx, g.tableColumnMetadata,
		u32(db), 0, u32(zTable), u32(zColumn), 0, 0,
		u32(out), u32(out+ptrSize), u32(out+2*ptrSize))
	if err != nil {
		return ColumnMetadata{}, 0, err
	}

	var flags [3]uint32
	for i := range flags {
		if flags[i], err = g.ReadPtr(out + uint32(i)*ptrSize); err != nil {
			return ColumnMetadata{}, rc, err
		}
	}
	return ColumnMetadata{
		NotNull:       flags[0] != 0,
		PrimaryKey:    flags[1] != 0,
		AutoIncrement: flags[2] != 0,
	}, rc, nil
}

// ColumnInt returns a result column as a 32-bit integer.
func (g *Gateway) ColumnInt(ctx context.Context, stmt uint32, col int) (int32, error) {
	r, err := g.call(ctx, g.columnInt, u32(stmt), i32(col))
	return int32(r), err
}

// ColumnInt64 returns a result column as a 64-bit integer.
func (g *Gateway) ColumnInt64(ctx context.Context, stmt uint32, col int) (int64, error) {
	r, err := g.call(ctx, g.columnInt64, u32(stmt), i32(col))
	return int64(r), err
}

// ColumnDouble returns a result column as a floating point value.
func (g *Gateway) ColumnDouble(ctx context.Context, stmt uint32, col int) (float64, error) {
	r, err := g.call(ctx, g.columnDouble, u32(stmt), i32(col))
	return tof64(r), err
}

// ColumnText returns a result column as text. NULL reads as "".
func (g *Gateway) ColumnText(ctx context.Context, stmt uint32, col int) (string, error) {
	ptr, err := g.callPtr(ctx, g.columnText, u32(stmt), i32(col))
	if err != nil || ptr == 0 {
		return "", err
	}
	n, err := g.ColumnBytes(ctx, stmt, col)
	if err != nil {
		return "", err
	}
	return g.readString(ptr, uint32(n))
}

// ColumnBlob returns a result column as a blob. It returns nil for NULL and a
// non-nil empty slice for a zero-length value; the engine hands back a null
// pointer in both cases, so the column type decides.
func (g *Gateway) ColumnBlob(ctx context.Context, stmt uint32, col int) ([]byte, error) {
	typ, err := g.ColumnType(ctx, stmt, col)
	if err != nil {
		return nil, err
	}
	ptr, err := g.callPtr(ctx, g.columnBlob, u32(stmt), i32(col))
	if err != nil {
		return nil, err
	}
	if ptr == 0 {
		if typ == NULL {
			return nil, nil
		}
		return []byte{}, nil
	}
	n, err := g.ColumnBytes(ctx, stmt, col)
	if err != nil {
		return nil, err
	}
	return g.ReadBytes(ptr, uint32(n))
}

// ColumnBytes returns the size in bytes of a blob or text result column.
func (g *Gateway) ColumnBytes(ctx context.Context, stmt uint32, col int) (int, error) {
	return g.callInt(ctx, g.columnBytes, u32(stmt), i32(col))
}
