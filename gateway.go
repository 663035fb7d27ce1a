package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/tetratelabs/wazero/api"
)

// ptrSize is the width of a pointer in wasm32 linear memory.
const ptrSize = 4

// Trampolines holds the function table indices of the engine-side callback
// trampolines. They are resolved once and never change for a module instance.
type Trampolines struct {
	Func             uint32
	Step             uint32
	Final            uint32
	Value            uint32
	Inverse          uint32
	Destroy          uint32
	Progress         uint32
	Busy             uint32
	Compare          uint32
	DestroyCollation uint32
	Update           uint32
	Commit           uint32
	Rollback         uint32
}

// Gateway is the single point of contact with the engine module. Every method
// wraps one engine export, copying arguments into linear memory and decoding
// results. Engine result codes are returned verbatim; the error return is only
// set when the sandbox call itself fails.
//
// A Gateway is not safe for concurrent use. Callbacks re-enter it while an
// outer call is still running, so callers serialize access themselves.
type Gateway struct {
	mod api.Module
	mem api.Memory

	// Memory management
	malloc       api.Function
	free         api.Function
	sqliteMalloc api.Function
	sqliteFree   api.Function

	// Connection and statement lifecycle
	open               api.Function
	close              api.Function
	prepare            api.Function
	finalize           api.Function
	step               api.Function
	exec               api.Function
	changes            api.Function
	totalChanges       api.Function
	reset              api.Function
	clearBindings      api.Function
	limit              api.Function
	errMsg             api.Function
	extendedErrCode    api.Function
	busyTimeout        api.Function
	libVersion         api.Function
	sleep              api.Function
	interrupt          api.Function
	bindParameterCount api.Function

	// Columns
	columnCount         api.Function
	columnType          api.Function
	columnDeclType      api.Function
	columnName          api.Function
	columnText          api.Function
	columnInt           api.Function
	columnInt64         api.Function
	columnDouble        api.Function
	columnBlob          api.Function
	columnBytes         api.Function
	columnTableName     api.Function
	tableColumnMetadata api.Function

	// Bindings
	bindInt    api.Function
	bindInt64  api.Function
	bindDouble api.Function
	bindNull   api.Function
	bindText   api.Function
	bindBlob   api.Function

	// Functions, results and values
	createFunction      api.Function
	createWindowFunc    api.Function
	userData            api.Function
	aggregateContext    api.Function
	resultText          api.Function
	resultNull          api.Function
	resultInt64         api.Function
	resultInt           api.Function
	resultDouble        api.Function
	resultBlob          api.Function
	resultError         api.Function
	resultErrorNomem    api.Function
	valueDouble         api.Function
	valueText           api.Function
	valueInt            api.Function
	valueType           api.Function
	valueInt64          api.Function
	valueBlob           api.Function
	valueBytes          api.Function
	createCollation     api.Function
	progressHandler     api.Function
	busyHandler         api.Function
	updateHook          api.Function
	commitHook          api.Function
	rollbackHook        api.Function

	// Serialization and backup
	serialize       api.Function
	deserialize     api.Function
	backupInit      api.Function
	backupStep      api.Function
	backupFinish    api.Function
	backupRemaining api.Function
	backupPageCount api.Function

	trampolines Trampolines
}

// NewGateway resolves every engine export and trampoline address of mod. All
// missing exports are reported together.
func NewGateway(ctx context.Context, mod api.Module) (*Gateway, error) {
	g := &Gateway{mod: mod, mem: mod.Memory()}

	var errs *multierror.Error
	if g.mem == nil {
		errs = multierror.Append(errs, errors.New("module has no memory"))
	}

	for _, e := range g.exportTable() {
		fn := mod.ExportedFunction(e.name)
		if fn == nil {
			errs = multierror.Append(errs, errors.New("missing export: "+e.name))
			continue
		}
		*e.fn = fn
	}

	for _, t := range g.trampolineTable() {
		fn := mod.ExportedFunction(t.name)
		if fn == nil {
			errs = multierror.Append(errs, errors.New("missing export: "+t.name))
			continue
		}
		results, err := fn.Call(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s failed: %w", t.name, err))
			continue
		}
		if len(results) == 0 || uint32(results[0]) == 0 {
			errs = multierror.Append(errs, errors.New("null trampoline: "+t.name))
			continue
		}
		*t.ptr = uint32(results[0])
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return g, nil
}

type exportRef struct {
	name string
	fn   *api.Function
}

func (g *Gateway) exportTable() []exportRef {
	return []exportRef{
		{ExportMalloc, &g.malloc},
		{ExportFree, &g.free},
		{ExportSqliteMalloc, &g.sqliteMalloc},
		{ExportSqliteFree, &g.sqliteFree},
		{ExportOpen, &g.open},
		{ExportClose, &g.close},
		{ExportPrepare, &g.prepare},
		{ExportFinalize, &g.finalize},
		{ExportStep, &g.step},
		{ExportExec, &g.exec},
		{ExportChanges, &g.changes},
		{ExportTotalChanges, &g.totalChanges},
		{ExportReset, &g.reset},
		{ExportClearBindings, &g.clearBindings},
		{ExportBindParameterCount, &g.bindParameterCount},
		{ExportColumnCount, &g.columnCount},
		{ExportColumnType, &g.columnType},
		{ExportColumnDeclType, &g.columnDeclType},
		{ExportColumnName, &g.columnName},
		{ExportColumnText, &g.columnText},
		{ExportColumnInt, &g.columnInt},
		{ExportColumnInt64, &g.columnInt64},
		{ExportColumnDouble, &g.columnDouble},
		{ExportColumnBlob, &g.columnBlob},
		{ExportColumnBytes, &g.columnBytes},
		{ExportColumnTableName, &g.columnTableName},
		{ExportTableColumnMetadata, &g.tableColumnMetadata},
		{ExportBindInt, &g.bindInt},
		{ExportBindInt64, &g.bindInt64},
		{ExportBindDouble, &g.bindDouble},
		{ExportBindNull, &g.bindNull},
		{ExportBindText, &g.bindText},
		{ExportBindBlob, &g.bindBlob},
		{ExportLimit, &g.limit},
		{ExportErrMsg, &g.errMsg},
		{ExportExtendedErrCode, &g.extendedErrCode},
		{ExportBusyTimeout, &g.busyTimeout},
		{ExportLibVersion, &g.libVersion},
		{ExportCreateFunction, &g.createFunction},
		{ExportCreateWindowFunc, &g.createWindowFunc},
		{ExportUserData, &g.userData},
		{ExportAggregateContext, &g.aggregateContext},
		{ExportResultText, &g.resultText},
		{ExportResultNull, &g.resultNull},
		{ExportResultInt64, &g.resultInt64},
		{ExportResultInt, &g.resultInt},
		{ExportResultDouble, &g.resultDouble},
		{ExportResultBlob, &g.resultBlob},
		{ExportResultError, &g.resultError},
		{ExportResultErrorNomem, &g.resultErrorNomem},
		{ExportValueDouble, &g.valueDouble},
		{ExportValueText, &g.valueText},
		{ExportValueInt, &g.valueInt},
		{ExportValueType, &g.valueType},
		{ExportValueInt64, &g.valueInt64},
		{ExportValueBlob, &g.valueBlob},
		{ExportValueBytes, &g.valueBytes},
		{ExportProgressHandler, &g.progressHandler},
		{ExportBusyHandler, &g.busyHandler},
		{ExportSerialize, &g.serialize},
		{ExportDeserialize, &g.deserialize},
		{ExportCreateCollation, &g.createCollation},
		{ExportUpdateHook, &g.updateHook},
		{ExportCommitHook, &g.commitHook},
		{ExportRollbackHook, &g.rollbackHook},
		{ExportBackupInit, &g.backupInit},
		{ExportBackupStep, &g.backupStep},
		{ExportBackupFinish, &g.backupFinish},
		{ExportBackupRemaining, &g.backupRemaining},
		{ExportBackupPageCount, &g.backupPageCount},
		{ExportSleep, &g.sleep},
		{ExportInterrupt, &g.interrupt},
	}
}

type trampolineRef struct {
	name string
	ptr  *uint32
}

func (g *Gateway) trampolineTable() []trampolineRef {
	t := &g.trampolines
	return []trampolineRef{
		{ExportFuncPtr, &t.Func},
		{ExportStepPtr, &t.Step},
		{ExportFinalPtr, &t.Final},
		{ExportValuePtr, &t.Value},
		{ExportInversePtr, &t.Inverse},
		{ExportDestroyPtr, &t.Destroy},
		{ExportProgressPtr, &t.Progress},
		{ExportBusyPtr, &t.Busy},
		{ExportComparePtr, &t.Compare},
		{ExportDestroyCollationPtr, &t.DestroyCollation},
		{ExportUpdatePtr, &t.Update},
		{ExportCommitPtr, &t.Commit},
		{ExportRollbackPtr, &t.Rollback},
	}
}

// Trampolines returns the resolved trampoline addresses.
func (g *Gateway) Trampolines() Trampolines {
	return g.trampolines
}

// Memory returns the engine's linear memory.
func (g *Gateway) Memory() api.Memory {
	return g.mem
}

// Call helpers

func (g *Gateway) call(ctx context.Context, fn api.Function, params ...uint64) (uint64, error) {
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", fn.Definition().DebugName(), err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

func (g *Gateway) callInt(ctx context.Context, fn api.Function, params ...uint64) (int, error) {
	r, err := g.call(ctx, fn, params...)
	return int(api.DecodeI32(r)), err
}

func (g *Gateway) callPtr(ctx context.Context, fn api.Function, params ...uint64) (uint32, error) {
	r, err := g.call(ctx, fn, params...)
	return api.DecodeU32(r), err
}

func i32(v int) uint64       { return api.EncodeI32(int32(v)) }
func u32(v uint32) uint64    { return api.EncodeU32(v) }
func i64(v int64) uint64     { return api.EncodeI64(v) }
func f64(v float64) uint64   { return api.EncodeF64(v) }
func tof64(v uint64) float64 { return api.DecodeF64(v) }

// Memory helpers

// Malloc allocates size bytes with the module's malloc. The caller owns the
// returned pointer and releases it with Free.
func (g *Gateway) Malloc(ctx context.Context, size uint32) (uint32, error) {
	ptr, err := g.callPtr(ctx, g.malloc, u32(size))
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.New("malloc returned null")
	}
	return ptr, nil
}

// Free releases a pointer obtained from Malloc or one of the Alloc helpers.
// Freeing 0 is a no-op.
func (g *Gateway) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	_, err := g.call(ctx, g.free, u32(ptr))
	return err
}

// freePtr is Free for cleanup paths where the error has nowhere to go.
func (g *Gateway) freePtr(ctx context.Context, ptr uint32) {
	_ = g.Free(ctx, ptr)
}

// sqliteFreePtr releases memory owned by the engine allocator.
func (g *Gateway) sqliteFreePtr(ctx context.Context, ptr uint32) {
	if ptr != 0 {
		_, _ = g.call(ctx, g.sqliteFree, u32(ptr))
	}
}

// AllocBytes copies data into a fresh allocation. Empty data still yields a
// valid, non-null pointer.
func (g *Gateway) AllocBytes(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := g.Malloc(ctx, uint32(max(len(data), 1)))
	if err != nil {
		return 0, err
	}
	if !g.mem.Write(ptr, data) {
		g.freePtr(ctx, ptr)
		return 0, errors.New("failed to write to memory")
	}
	return ptr, nil
}

// AllocString copies s without a terminator and returns the pointer and the
// byte length, for length-accompanied APIs.
func (g *Gateway) AllocString(ctx context.Context, s string) (ptr, n uint32, err error) {
	ptr, err = g.AllocBytes(ctx, []byte(s))
	if err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

// AllocCString copies s with a trailing NUL.
func (g *Gateway) AllocCString(ctx context.Context, s string) (uint32, error) {
	b := append([]byte(s), 0) // null-terminated
	return g.AllocBytes(ctx, b)
}

// allocScratch allocates n zeroed bytes for output parameters.
func (g *Gateway) allocScratch(ctx context.Context, n uint32) (uint32, error) {
	return g.AllocBytes(ctx, make([]byte, n))
}

// ReadPtr reads the 32-bit pointer stored at ptrptr.
func (g *Gateway) ReadPtr(ptrptr uint32) (uint32, error) {
	v, ok := g.mem.ReadUint32Le(ptrptr)
	if !ok {
		return 0, fmt.Errorf("pointer read out of range: %#x", ptrptr)
	}
	return v, nil
}

// ReadBytes copies n bytes starting at ptr.
func (g *Gateway) ReadBytes(ptr, n uint32) ([]byte, error) {
	view, ok := g.mem.Read(ptr, n)
	if !ok {
		return nil, fmt.Errorf("read out of range: %#x+%d", ptr, n)
	}
	return bytes.Clone(view), nil
}

// WriteBytes copies data into memory at ptr.
func (g *Gateway) WriteBytes(ptr uint32, data []byte) error {
	if !g.mem.Write(ptr, data) {
		return fmt.Errorf("write out of range: %#x+%d", ptr, len(data))
	}
	return nil
}

// ReadCString reads a NUL-terminated string. A null pointer reads as "".
func (g *Gateway) ReadCString(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	size := g.mem.Size()
	if ptr >= size {
		return "", fmt.Errorf("string read out of range: %#x", ptr)
	}
	view, _ := g.mem.Read(ptr, size-ptr)
	end := bytes.IndexByte(view, 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at %#x", ptr)
	}
	return string(view[:end]), nil
}

func (g *Gateway) readString(ptr, n uint32) (string, error) {
	if ptr == 0 || n == 0 {
		return "", nil
	}
	view, ok := g.mem.Read(ptr, n)
	if !ok {
		return "", fmt.Errorf("read out of range: %#x+%d", ptr, n)
	}
	return string(view), nil
}
