// Package sqlite drives a SQLite engine compiled to a WASI reactor module.
//
// The engine runs inside wazero; every call crosses the sandbox boundary as
// machine words, so strings, blobs and output parameters are copied in and out
// of the module's linear memory explicitly. Callbacks from the engine (user
// functions, collations, hooks) arrive through a fixed set of trampolines and
// are dispatched by the integer handle passed as user data.
package sqlite

// Memory management exports
const (
	// ExportMalloc allocates memory in WASM linear memory.
	// Signature: malloc(size: i32) -> i32 (pointer)
	ExportMalloc = "malloc"

	// ExportFree frees memory allocated with malloc.
	// Signature: free(ptr: i32) -> void
	ExportFree = "free"

	// ExportSqliteMalloc allocates through the engine allocator. Buffers handed
	// over to the engine (deserialize with FREEONCLOSE) must come from here.
	// Signature: sqlite3_malloc64(size: i64) -> i32 (pointer)
	ExportSqliteMalloc = "sqlite3_malloc64"

	// ExportSqliteFree frees memory owned by the engine allocator (error
	// messages, serialized databases).
	// Signature: sqlite3_free(ptr: i32) -> void
	ExportSqliteFree = "sqlite3_free"
)

// Connection exports
const (
	// ExportOpen opens a connection and writes its handle to ppDb.
	// Signature: sqlite3_open_v2(filename: i32, ppDb: i32, flags: i32, zVfs: i32) -> i32 (rc)
	ExportOpen = "sqlite3_open_v2"

	// Signature: sqlite3_close(db: i32) -> i32 (rc)
	ExportClose = "sqlite3_close"

	// ExportExec runs every statement in sql. A non-zero pzErrMsg receives a
	// message allocated with sqlite3_malloc.
	// Signature: sqlite3_exec(db: i32, sql: i32, callback: i32, arg: i32, pzErrMsg: i32) -> i32 (rc)
	ExportExec = "sqlite3_exec"

	// Signature: sqlite3_changes64(db: i32) -> i64
	ExportChanges = "sqlite3_changes64"

	ExportTotalChanges    = "sqlite3_total_changes"
	ExportLimit           = "sqlite3_limit"
	ExportErrMsg          = "sqlite3_errmsg"
	ExportExtendedErrCode = "sqlite3_extended_errcode"
	ExportBusyTimeout     = "sqlite3_busy_timeout"
	ExportLibVersion      = "sqlite3_libversion"
	ExportSleep           = "sqlite3_sleep"
	ExportInterrupt       = "sqlite3_interrupt"

	// ExportTableColumnMetadata reports the declared properties of a column.
	// The gateway passes zero for zDbName, pzDataType and pzCollSeq.
	// Signature: sqlite3_table_column_metadata(db: i32, zDbName: i32, zTableName: i32,
	// zColumnName: i32, pzDataType: i32, pzCollSeq: i32, pNotNull: i32,
	// pPrimaryKey: i32, pAutoinc: i32) -> i32 (rc)
	ExportTableColumnMetadata = "sqlite3_table_column_metadata"
)

// Statement exports
const (
	// ExportPrepare compiles the first statement of sql (nByte bytes, not
	// terminated) and writes the statement handle to ppStmt.
	// Signature: sqlite3_prepare_v2(db: i32, sql: i32, nByte: i32, ppStmt: i32, pzTail: i32) -> i32 (rc)
	ExportPrepare = "sqlite3_prepare_v2"

	ExportFinalize           = "sqlite3_finalize"
	ExportStep               = "sqlite3_step"
	ExportReset              = "sqlite3_reset"
	ExportClearBindings      = "sqlite3_clear_bindings"
	ExportBindParameterCount = "sqlite3_bind_parameter_count"

	ExportColumnCount     = "sqlite3_column_count"
	ExportColumnType      = "sqlite3_column_type"
	ExportColumnDeclType  = "sqlite3_column_decltype"
	ExportColumnName      = "sqlite3_column_name"
	ExportColumnText      = "sqlite3_column_text"
	ExportColumnInt       = "sqlite3_column_int"
	ExportColumnInt64     = "sqlite3_column_int64"
	ExportColumnDouble    = "sqlite3_column_double"
	ExportColumnBlob      = "sqlite3_column_blob"
	ExportColumnBytes     = "sqlite3_column_bytes"
	ExportColumnTableName = "sqlite3_column_table_name"

	ExportBindInt    = "sqlite3_bind_int"
	ExportBindInt64  = "sqlite3_bind_int64"
	ExportBindDouble = "sqlite3_bind_double"
	ExportBindNull   = "sqlite3_bind_null"

	// ExportBindText and ExportBindBlob are always called with the transient
	// destructor (-1), so the engine copies the data before returning.
	// Signature: sqlite3_bind_text(stmt: i32, pos: i32, ptr: i32, n: i32, destructor: i32) -> i32 (rc)
	ExportBindText = "sqlite3_bind_text"
	ExportBindBlob = "sqlite3_bind_blob"
)

// Function exports
const (
	// ExportCreateFunction registers a scalar function (xFunc set) or an
	// aggregate (xStep and xFinal set); all three zero drops it.
	// Signature: sqlite3_create_function_v2(db: i32, name: i32, nArg: i32, eTextRep: i32,
	// pApp: i32, xFunc: i32, xStep: i32, xFinal: i32, xDestroy: i32) -> i32 (rc)
	ExportCreateFunction = "sqlite3_create_function_v2"

	// ExportCreateWindowFunc registers an aggregate that can run as a window
	// function when xValue and xInverse are set.
	// Signature: sqlite3_create_window_function(db: i32, name: i32, nArg: i32, eTextRep: i32,
	// pApp: i32, xStep: i32, xFinal: i32, xValue: i32, xInverse: i32, xDestroy: i32) -> i32 (rc)
	ExportCreateWindowFunc = "sqlite3_create_window_function"

	// ExportCreateCollation registers a collating sequence; xCompare zero drops it.
	// Signature: sqlite3_create_collation_v2(db: i32, name: i32, eTextRep: i32,
	// pArg: i32, xCompare: i32, xDestroy: i32) -> i32 (rc)
	ExportCreateCollation = "sqlite3_create_collation_v2"

	ExportUserData = "sqlite3_user_data"

	// Signature: sqlite3_aggregate_context(ctx: i32, nBytes: i32) -> i32 (pointer, zeroed on first use)
	ExportAggregateContext = "sqlite3_aggregate_context"

	ExportResultText       = "sqlite3_result_text"
	ExportResultNull       = "sqlite3_result_null"
	ExportResultInt64      = "sqlite3_result_int64"
	ExportResultInt        = "sqlite3_result_int"
	ExportResultDouble     = "sqlite3_result_double"
	ExportResultBlob       = "sqlite3_result_blob"
	ExportResultError      = "sqlite3_result_error"
	ExportResultErrorNomem = "sqlite3_result_error_nomem"

	ExportValueDouble = "sqlite3_value_double"
	ExportValueText   = "sqlite3_value_text"
	ExportValueInt    = "sqlite3_value_int"
	ExportValueType   = "sqlite3_value_type"
	ExportValueInt64  = "sqlite3_value_int64"
	ExportValueBlob   = "sqlite3_value_blob"
	ExportValueBytes  = "sqlite3_value_bytes"
)

// Hook exports. The update, commit and rollback installers return the user
// data of the hook they replaced.
// Signature: sqlite3_xxx_hook(db: i32, callback: i32, pArg: i32) -> i32 (previous pArg)
const (
	ExportUpdateHook   = "sqlite3_update_hook"
	ExportCommitHook   = "sqlite3_commit_hook"
	ExportRollbackHook = "sqlite3_rollback_hook"

	// Signature: sqlite3_progress_handler(db: i32, nOps: i32, callback: i32, pArg: i32) -> void
	ExportProgressHandler = "sqlite3_progress_handler"

	// Signature: sqlite3_busy_handler(db: i32, callback: i32, pArg: i32) -> i32 (rc)
	ExportBusyHandler = "sqlite3_busy_handler"
)

// Serialization and backup exports
const (
	// ExportSerialize returns a copy of the database allocated with
	// sqlite3_malloc and writes its size to piSize.
	// Signature: sqlite3_serialize(db: i32, zSchema: i32, piSize: i32, mFlags: i32) -> i32 (pointer)
	ExportSerialize = "sqlite3_serialize"

	// ExportDeserialize replaces zSchema with the database in pData. With
	// FREEONCLOSE the engine owns pData from the call on.
	// Signature: sqlite3_deserialize(db: i32, zSchema: i32, pData: i32, szDb: i64,
	// szBuf: i64, mFlags: i32) -> i32 (rc)
	ExportDeserialize = "sqlite3_deserialize"

	// Signature: sqlite3_backup_init(dest: i32, zDestName: i32, src: i32, zSrcName: i32) -> i32 (backup)
	ExportBackupInit      = "sqlite3_backup_init"
	ExportBackupStep      = "sqlite3_backup_step"
	ExportBackupFinish    = "sqlite3_backup_finish"
	ExportBackupRemaining = "sqlite3_backup_remaining"
	ExportBackupPageCount = "sqlite3_backup_pagecount"
)

// Trampoline address exports. Each takes no arguments and returns the
// function table index of the matching trampoline.
// Signature: xFooPtr() -> i32
const (
	ExportFuncPtr             = "xFuncPtr"
	ExportStepPtr             = "xStepPtr"
	ExportFinalPtr            = "xFinalPtr"
	ExportValuePtr            = "xValuePtr"
	ExportInversePtr          = "xInversePtr"
	ExportDestroyPtr          = "xDestroyPtr"
	ExportProgressPtr         = "xProgressPtr"
	ExportBusyPtr             = "xBusyPtr"
	ExportComparePtr          = "xComparePtr"
	ExportDestroyCollationPtr = "xDestroyCollationPtr"
	ExportUpdatePtr           = "xUpdatePtr"
	ExportCommitPtr           = "xCommitPtr"
	ExportRollbackPtr         = "xRollbackPtr"
)

// Host import module for trampolines. The engine module imports these and
// the trampolines forward to them with the registration's user data.
const (
	// ImportModuleCallbacks is the default import module name for callbacks.
	ImportModuleCallbacks = "env"

	// ImportFunc is a scalar function call.
	// Signature: xFunc(ctx: i32, argc: i32, argv: i32) -> void
	ImportFunc = "xFunc"

	// ImportStep feeds one row to an aggregate.
	// Signature: xStep(ctx: i32, argc: i32, argv: i32) -> void
	ImportStep = "xStep"

	// ImportFinal produces an aggregate result.
	// Signature: xFinal(ctx: i32) -> void
	ImportFinal = "xFinal"

	// ImportValue produces the current value of a window aggregate.
	// Signature: xValue(ctx: i32) -> void
	ImportValue = "xValue"

	// ImportInverse removes one row from a window aggregate.
	// Signature: xInverse(ctx: i32, argc: i32, argv: i32) -> void
	ImportInverse = "xInverse"

	// ImportDestroy is called when the engine drops a function registration.
	// Signature: xDestroy(userData: i32) -> void
	ImportDestroy = "xDestroy"

	// ImportProgress is the progress handler. Non-zero interrupts the statement.
	// Signature: xProgress(userData: i32) -> i32
	ImportProgress = "xProgress"

	// ImportBusy is the busy handler. Zero stops retrying.
	// Signature: xBusy(userData: i32, count: i32) -> i32
	ImportBusy = "xBusy"

	// ImportCompare compares two strings for a collation.
	// Signature: xCompare(userData: i32, len1: i32, ptr1: i32, len2: i32, ptr2: i32) -> i32
	ImportCompare = "xCompare"

	// ImportDestroyCollation is called when the engine drops a collation.
	// Signature: xDestroyCollation(userData: i32) -> void
	ImportDestroyCollation = "xDestroyCollation"

	// ImportUpdate is the update hook.
	// Signature: xUpdate(userData: i32, op: i32, db: i32, table: i32, rowid: i64) -> void
	ImportUpdate = "xUpdate"

	// ImportCommit is the commit hook. Non-zero turns the commit into a rollback.
	// Signature: xCommit(userData: i32) -> i32
	ImportCommit = "xCommit"

	// ImportRollback is the rollback hook.
	// Signature: xRollback(userData: i32) -> void
	ImportRollback = "xRollback"
)
