package sqlite

// Result codes returned by the engine. Extended codes carry extra bits above
// the low byte.
const (
	OK         = 0
	ERROR      = 1
	INTERNAL   = 2
	PERM       = 3
	ABORT      = 4
	BUSY       = 5
	LOCKED     = 6
	NOMEM      = 7
	READONLY   = 8
	INTERRUPT  = 9
	IOERR      = 10
	CORRUPT    = 11
	NOTFOUND   = 12
	FULL       = 13
	CANTOPEN   = 14
	PROTOCOL   = 15
	EMPTY      = 16
	SCHEMA     = 17
	TOOBIG     = 18
	CONSTRAINT = 19
	MISMATCH   = 20
	MISUSE     = 21
	NOLFS      = 22
	AUTH       = 23
	FORMAT     = 24
	RANGE      = 25
	NOTADB     = 26
	NOTICE     = 27
	WARNING    = 28
	ROW        = 100
	DONE       = 101
)

// Fundamental datatypes.
const (
	INTEGER = 1
	FLOAT   = 2
	TEXT    = 3
	BLOB    = 4
	NULL    = 5
)

// Flags for Open.
const (
	OpenReadOnly     = 0x00000001
	OpenReadWrite    = 0x00000002
	OpenCreate       = 0x00000004
	OpenURI          = 0x00000040
	OpenMemory       = 0x00000080
	OpenNoMutex      = 0x00008000
	OpenFullMutex    = 0x00010000
	OpenSharedCache  = 0x00020000
	OpenPrivateCache = 0x00040000
)

// Text encodings and function flags.
const (
	UTF8          = 1
	UTF16LE       = 2
	UTF16BE       = 3
	UTF16         = 4
	Deterministic = 0x000000800
	DirectOnly    = 0x000080000
	Innocuous     = 0x000200000
)

// Operation codes passed to the update hook.
const (
	OpDelete = 9
	OpInsert = 18
	OpUpdate = 23
)

// Limit categories for Limit.
const (
	LimitLength            = 0
	LimitSQLLength         = 1
	LimitColumn            = 2
	LimitExprDepth         = 3
	LimitCompoundSelect    = 4
	LimitVdbeOp            = 5
	LimitFunctionArg       = 6
	LimitAttached          = 7
	LimitLikePatternLength = 8
	LimitVariableNumber    = 9
	LimitTriggerDepth      = 10
	LimitWorkerThreads     = 11
)

const (
	// transient asks the engine to copy the buffer before the call returns.
	transient = -1

	deserializeFreeOnClose = 1
	deserializeResizeable  = 2

	// deserializeFlags hands the buffer to the engine and lets it grow.
	deserializeFlags = deserializeFreeOnClose | deserializeResizeable
)
