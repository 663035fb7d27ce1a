package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// fakeTrampolines maps a trampoline address (index + 1) to the callback it
// stands for, with the callback's signature.
var fakeTrampolines = []struct{ export, target, params, results string }{
	{ExportFuncPtr, ImportFunc, "iii", ""},
	{ExportStepPtr, ImportStep, "iii", ""},
	{ExportFinalPtr, ImportFinal, "i", ""},
	{ExportValuePtr, ImportValue, "i", ""},
	{ExportInversePtr, ImportInverse, "iii", ""},
	{ExportDestroyPtr, ImportDestroy, "i", ""},
	{ExportProgressPtr, ImportProgress, "i", "i"},
	{ExportBusyPtr, ImportBusy, "ii", "i"},
	{ExportComparePtr, ImportCompare, "iiiii", "i"},
	{ExportDestroyCollationPtr, ImportDestroyCollation, "i", ""},
	{ExportUpdatePtr, ImportUpdate, "iiiiI", ""},
	{ExportCommitPtr, ImportCommit, "i", "i"},
	{ExportRollbackPtr, ImportRollback, "i", ""},
}

const fakeDB = 7

type fakeValue struct {
	typ  int
	i    int64
	f    float64
	text string
	blob []byte
}

func intVal(v int64) fakeValue     { return fakeValue{typ: INTEGER, i: v} }
func floatVal(v float64) fakeValue { return fakeValue{typ: FLOAT, f: v} }
func textVal(s string) fakeValue   { return fakeValue{typ: TEXT, text: s} }
func blobVal(b []byte) fakeValue   { return fakeValue{typ: BLOB, blob: b} }

var nullVal = fakeValue{typ: NULL}

func (v fakeValue) asText() string {
	switch v.typ {
	case INTEGER:
		return strconv.FormatInt(v.i, 10)
	case FLOAT:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case BLOB:
		return string(v.blob)
	}
	return v.text
}

type fakeResult struct {
	value      fakeValue
	err        string
	isErr      bool
	nomem      bool
	destructor int32
}

type fakeBind struct {
	value      fakeValue
	destructor int32
}

type fakeFunc struct {
	nArgs    int
	textRep  int
	userData uint32
	xFunc    uint32
	xStep    uint32
	xFinal   uint32
	xValue   uint32
	xInverse uint32
	xDestroy uint32
}

type fakeHook struct {
	fn, userData uint32
}

type queryKind int

const (
	rowsQuery queryKind = iota
	scalarQuery
	aggregateQuery
	windowQuery
	collationQuery
)

// fakeQuery scripts what a statement returns. Queries that evaluate a
// function call it through the trampolines once per args row.
type fakeQuery struct {
	kind      queryKind
	columns   []string
	decltypes []string
	table     string
	params    int
	rows      [][]fakeValue

	fn     string
	args   [][]fakeValue
	window int // frame size of a sliding window, 0 for unbounded
	pairs  [][2]string
}

func (q *fakeQuery) argc() int {
	if len(q.args) == 0 {
		return 0
	}
	return len(q.args[0])
}

type fakeStmt struct {
	query *fakeQuery
	rows  [][]fakeValue
	cur   []fakeValue
	pos   int
	ran   bool
	binds map[int]fakeBind
}

// fakeEngine is a host module exporting the engine ABI over the linear
// memory of the guest module wrapping it. It scripts statements, records what the gateway passes in and calls
// back into the trampoline host module like the engine would.
type fakeEngine struct {
	t   *testing.T
	mem api.Memory
	cb  api.Module

	omit           map[string]bool
	nullTrampoline string

	next   uint32
	live   map[uint32]uint32 // host allocations, freed with free
	engine map[uint32]uint32 // engine allocations, freed with sqlite3_free
	owned  map[uint32]uint32 // buffers handed over to the engine

	filename  string
	openFlags int
	closeRC   int
	errmsg    string
	extErr    int
	execSQL   string
	execErr   string
	changes   int64
	limits    map[int]int
	busyMS    int
	slept     int
	interrupt int

	queries    map[string]*fakeQuery
	stmts      map[uint32]*fakeStmt
	handle     uint32
	funcs      map[string]*fakeFunc
	collations map[string]*fakeFunc
	hooks      map[string]fakeHook
	progressN  int

	userData  map[uint32]uint32
	aggCtx    map[uint32]uint32
	aggNomem  bool
	values    map[uint32]fakeValue
	results   map[uint32]*fakeResult
	evaluated int

	metadataTable string
	metadata      [3]int32
	metadataNulls bool

	serialized   []byte
	deserialized struct {
		schema     string
		data       []byte
		szDb       int64
		szBuf      int64
		flags      int32
		fromEngine bool
	}
	deserializeTrap  bool
	mallocNull       bool
	engineMallocNull bool
	collationRC      int

	backup struct {
		destName, srcName string
		remaining, total  int
	}

	logs []string
}

func newFakeEngine(t *testing.T) *fakeEngine {
	return &fakeEngine{
		t:          t,
		omit:       map[string]bool{},
		next:       64,
		live:       map[uint32]uint32{},
		engine:     map[uint32]uint32{},
		owned:      map[uint32]uint32{},
		limits:     map[int]int{},
		queries:    map[string]*fakeQuery{},
		stmts:      map[uint32]*fakeStmt{},
		handle:     100,
		funcs:      map[string]*fakeFunc{},
		collations: map[string]*fakeFunc{},
		hooks:      map[string]fakeHook{},
		userData:   map[uint32]uint32{},
		aggCtx:     map[uint32]uint32{},
		values:     map[uint32]fakeValue{},
		results:    map[uint32]*fakeResult{},
	}
}

// newFakeInstance builds an Instance over a fake engine. setup runs before the
// exports are resolved.
func newFakeInstance(t *testing.T, setup ...func(*fakeEngine)) (*Instance, *fakeEngine) {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })
	Registry.Reset()
	t.Cleanup(Registry.Reset)

	f := newFakeEngine(t)
	log := lgr.Func(func(format string, args ...interface{}) {
		f.logs = append(f.logs, fmt.Sprintf(format, args...))
	})
	d := newDispatcher(log)
	cb, err := d.instantiate(ctx, r, ImportModuleCallbacks)
	require.NoError(t, err)
	f.cb, err = f.wrapCallbacks(ctx, r)
	require.NoError(t, err)

	for _, s := range setup {
		s(f)
	}
	mod, err := f.instantiate(ctx, r)
	require.NoError(t, err)

	gw, err := NewGateway(ctx, mod)
	require.NoError(t, err)
	d.gw = gw

	return &Instance{
		runtime:   r,
		mod:       mod,
		callbacks: cb,
		gw:        gw,
		log:       log,
		handlers:  make(map[uint32]*connHandlers),
	}, f
}

// instantiate registers the engine exports as host module "fake-sqlite" and
// returns the guest module "fake-engine" exporting them together with a
// 16 page memory.
func (f *fakeEngine) instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	const host = "fake-sqlite"
	b := r.NewHostModuleBuilder(host)
	var imports []wrapImport
	for _, e := range f.exports() {
		if f.omit[e.name] {
			continue
		}
		b.NewFunctionBuilder().
			WithGoFunction(api.GoFunc(e.fn), valueTypes(e.params), valueTypes(e.results)).
			Export(e.name)
		imports = append(imports, wrapImport{module: host, name: e.name, params: e.params, results: e.results})
	}
	for i, tr := range fakeTrampolines {
		if f.omit[tr.export] {
			continue
		}
		addr := uint64(i + 1)
		if tr.export == f.nullTrampoline {
			addr = 0
		}
		b.NewFunctionBuilder().
			WithGoFunction(api.GoFunc(func(_ context.Context, stack []uint64) { stack[0] = addr }),
				nil, []api.ValueType{api.ValueTypeI32}).
			Export(tr.export)
		imports = append(imports, wrapImport{module: host, name: tr.export, results: "i"})
	}
	if _, err := b.Instantiate(ctx); err != nil {
		return nil, err
	}

	mod, err := r.InstantiateWithConfig(ctx, wrapperWasm(imports, 16), wazero.NewModuleConfig().WithName("fake-engine"))
	if err != nil {
		return nil, err
	}
	f.mem = mod.Memory()
	return mod, nil
}

// wrapCallbacks returns a guest module exporting the trampoline targets of
// the callback host module, for the fake to call like the engine would.
func (f *fakeEngine) wrapCallbacks(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	imports := make([]wrapImport, len(fakeTrampolines))
	for i, tr := range fakeTrampolines {
		imports[i] = wrapImport{module: ImportModuleCallbacks, name: tr.target, params: tr.params, results: tr.results}
	}
	return r.InstantiateWithConfig(ctx, wrapperWasm(imports, 0), wazero.NewModuleConfig().WithName("fake-callbacks"))
}

func valueTypes(sig string) []api.ValueType {
	types := make([]api.ValueType, len(sig))
	for i, c := range sig {
		switch c {
		case 'i':
			types[i] = api.ValueTypeI32
		case 'I':
			types[i] = api.ValueTypeI64
		case 'F':
			types[i] = api.ValueTypeF64
		}
	}
	return types
}

type fakeExport struct {
	name            string
	params, results string
	fn              func(ctx context.Context, stack []uint64)
}

func (f *fakeEngine) exports() []fakeExport {
	return []fakeExport{
		{ExportMalloc, "i", "i", func(_ context.Context, s []uint64) {
			n := uint32(s[0])
			if f.mallocNull {
				s[0] = 0
				return
			}
			p := f.bump(n)
			f.live[p] = n
			s[0] = uint64(p)
		}},
		{ExportFree, "i", "", func(_ context.Context, s []uint64) {
			p := uint32(s[0])
			if _, ok := f.live[p]; !ok {
				f.t.Errorf("free of unknown pointer %#x", p)
			}
			delete(f.live, p)
		}},
		{ExportSqliteMalloc, "I", "i", func(_ context.Context, s []uint64) {
			if f.engineMallocNull {
				s[0] = 0
				return
			}
			n := uint32(s[0])
			p := f.bump(n)
			f.engine[p] = n
			s[0] = uint64(p)
		}},
		{ExportSqliteFree, "i", "", func(_ context.Context, s []uint64) {
			p := uint32(s[0])
			if _, ok := f.engine[p]; !ok {
				f.t.Errorf("sqlite3_free of unknown pointer %#x", p)
			}
			delete(f.engine, p)
		}},

		{ExportOpen, "iiii", "i", func(_ context.Context, s []uint64) {
			f.filename = f.cstr(uint32(s[0]))
			f.openFlags = int(int32(s[2]))
			if s[3] != 0 {
				f.t.Errorf("open with a vfs name")
			}
			f.mem.WriteUint32Le(uint32(s[1]), fakeDB)
			s[0] = OK
		}},
		{ExportClose, "i", "i", func(ctx context.Context, s []uint64) {
			if f.closeRC != OK {
				s[0] = api.EncodeI32(int32(f.closeRC))
				return
			}
			for key, fn := range f.funcs {
				f.destroy(ctx, fn.xDestroy, fn.userData)
				delete(f.funcs, key)
			}
			for key, c := range f.collations {
				f.destroy(ctx, c.xDestroy, c.userData)
				delete(f.collations, key)
			}
			s[0] = OK
		}},
		{ExportPrepare, "iiiii", "i", func(_ context.Context, s []uint64) {
			s[0] = api.EncodeI32(int32(f.prepare(f.str(uint32(s[1]), uint32(s[2])), uint32(s[3]))))
			if s[4] != 0 {
				f.t.Errorf("prepare with a tail pointer")
			}
		}},
		{ExportFinalize, "i", "i", func(_ context.Context, s []uint64) {
			delete(f.stmts, uint32(s[0]))
			s[0] = OK
		}},
		{ExportStep, "i", "i", func(ctx context.Context, s []uint64) {
			s[0] = api.EncodeI32(int32(f.step(ctx, f.stmt(s[0]))))
		}},
		{ExportExec, "iiiii", "i", func(_ context.Context, s []uint64) {
			f.execSQL = f.cstr(uint32(s[1]))
			if f.execErr == "" {
				s[0] = OK
				return
			}
			msg := f.engineCString(f.execErr)
			f.mem.WriteUint32Le(uint32(s[4]), msg)
			s[0] = ERROR
		}},
		{ExportChanges, "i", "I", func(_ context.Context, s []uint64) { s[0] = api.EncodeI64(f.changes) }},
		{ExportTotalChanges, "i", "i", func(_ context.Context, s []uint64) { s[0] = api.EncodeI32(int32(f.changes)) }},
		{ExportReset, "i", "i", func(_ context.Context, s []uint64) {
			st := f.stmt(s[0])
			st.pos, st.ran, st.rows, st.cur = 0, false, nil, nil
			s[0] = OK
		}},
		{ExportClearBindings, "i", "i", func(_ context.Context, s []uint64) {
			f.stmt(s[0]).binds = map[int]fakeBind{}
			s[0] = OK
		}},
		{ExportBindParameterCount, "i", "i", func(_ context.Context, s []uint64) {
			s[0] = uint64(f.stmt(s[0]).query.params)
		}},

		{ExportColumnCount, "i", "i", func(_ context.Context, s []uint64) {
			s[0] = uint64(len(f.stmt(s[0]).query.columns))
		}},
		{ExportColumnType, "ii", "i", func(_ context.Context, s []uint64) {
			s[0] = uint64(f.column(s).typ)
		}},
		{ExportColumnDeclType, "ii", "i", func(_ context.Context, s []uint64) {
			q := f.stmt(s[0]).query
			s[0] = uint64(f.optCString(q.decltypes[int32(s[1])]))
		}},
		{ExportColumnName, "ii", "i", func(_ context.Context, s []uint64) {
			q := f.stmt(s[0]).query
			s[0] = uint64(f.cstring(q.columns[int32(s[1])]))
		}},
		{ExportColumnTableName, "ii", "i", func(_ context.Context, s []uint64) {
			s[0] = uint64(f.optCString(f.stmt(s[0]).query.table))
		}},
		{ExportColumnText, "ii", "i", func(_ context.Context, s []uint64) {
			v := f.column(s)
			if v.typ == NULL {
				s[0] = 0
				return
			}
			s[0] = uint64(f.cstring(v.asText()))
		}},
		{ExportColumnInt, "ii", "i", func(_ context.Context, s []uint64) { s[0] = api.EncodeI32(int32(f.column(s).i)) }},
		{ExportColumnInt64, "ii", "I", func(_ context.Context, s []uint64) { s[0] = api.EncodeI64(f.column(s).i) }},
		{ExportColumnDouble, "ii", "F", func(_ context.Context, s []uint64) { s[0] = api.EncodeF64(f.column(s).f) }},
		{ExportColumnBlob, "ii", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.blobPtr(f.column(s))) }},
		{ExportColumnBytes, "ii", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.byteLen(f.column(s))) }},
		{ExportTableColumnMetadata, "iiiiiiiii", "i", func(_ context.Context, s []uint64) {
			f.metadataNulls = s[1] == 0 && s[4] == 0 && s[5] == 0
			table, column := f.cstr(uint32(s[2])), f.cstr(uint32(s[3]))
			if table != f.metadataTable || column == "" {
				f.errmsg = "no such table column: " + table + "." + column
				s[0] = ERROR
				return
			}
			for i, v := range f.metadata {
				f.mem.WriteUint32Le(uint32(s[6+i]), uint32(v))
			}
			s[0] = OK
		}},

		{ExportBindInt, "iii", "i", func(_ context.Context, s []uint64) {
			f.bind(s, fakeBind{value: intVal(int64(int32(s[2])))})
		}},
		{ExportBindInt64, "iiI", "i", func(_ context.Context, s []uint64) {
			f.bind(s, fakeBind{value: intVal(int64(s[2]))})
		}},
		{ExportBindDouble, "iiF", "i", func(_ context.Context, s []uint64) {
			f.bind(s, fakeBind{value: floatVal(api.DecodeF64(s[2]))})
		}},
		{ExportBindNull, "ii", "i", func(_ context.Context, s []uint64) {
			f.bind(s, fakeBind{value: nullVal})
		}},
		{ExportBindText, "iiiii", "i", func(_ context.Context, s []uint64) {
			f.bind(s, fakeBind{value: textVal(f.str(uint32(s[2]), uint32(s[3]))), destructor: int32(s[4])})
		}},
		{ExportBindBlob, "iiiii", "i", func(_ context.Context, s []uint64) {
			if s[2] == 0 {
				f.t.Errorf("blob bound from a null pointer")
			}
			f.bind(s, fakeBind{value: blobVal([]byte(f.str(uint32(s[2]), uint32(s[3])))), destructor: int32(s[4])})
		}},

		{ExportLimit, "iii", "i", func(_ context.Context, s []uint64) {
			id, v := int(int32(s[1])), int(int32(s[2]))
			prev := f.limits[id]
			if v >= 0 {
				f.limits[id] = v
			}
			s[0] = api.EncodeI32(int32(prev))
		}},
		{ExportErrMsg, "i", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.cstring(f.errmsg)) }},
		{ExportExtendedErrCode, "i", "i", func(_ context.Context, s []uint64) { s[0] = api.EncodeI32(int32(f.extErr)) }},
		{ExportBusyTimeout, "ii", "i", func(_ context.Context, s []uint64) {
			f.busyMS = int(int32(s[1]))
			delete(f.hooks, "busy")
			s[0] = OK
		}},
		{ExportLibVersion, "", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.cstring("3.49.1")) }},
		{ExportSleep, "i", "i", func(_ context.Context, s []uint64) {
			f.slept += int(int32(s[0]))
		}},
		{ExportInterrupt, "i", "", func(_ context.Context, _ []uint64) { f.interrupt++ }},

		{ExportCreateFunction, "iiiiiiiii", "i", func(ctx context.Context, s []uint64) {
			s[0] = f.createFunc(ctx, s[1], &fakeFunc{
				nArgs: int(int32(s[2])), textRep: int(int32(s[3])), userData: uint32(s[4]),
				xFunc: uint32(s[5]), xStep: uint32(s[6]), xFinal: uint32(s[7]), xDestroy: uint32(s[8]),
			})
		}},
		{ExportCreateWindowFunc, "iiiiiiiiii", "i", func(ctx context.Context, s []uint64) {
			s[0] = f.createFunc(ctx, s[1], &fakeFunc{
				nArgs: int(int32(s[2])), textRep: int(int32(s[3])), userData: uint32(s[4]),
				xStep: uint32(s[5]), xFinal: uint32(s[6]), xValue: uint32(s[7]), xInverse: uint32(s[8]),
				xDestroy: uint32(s[9]),
			})
		}},
		{ExportCreateCollation, "iiiiii", "i", func(ctx context.Context, s []uint64) {
			if f.collationRC != OK {
				s[0] = api.EncodeI32(int32(f.collationRC))
				return
			}
			name := f.cstr(uint32(s[1]))
			if old, ok := f.collations[name]; ok {
				f.destroy(ctx, old.xDestroy, old.userData)
				delete(f.collations, name)
			}
			if s[4] != 0 {
				f.collations[name] = &fakeFunc{
					textRep: int(int32(s[2])), userData: uint32(s[3]), xFunc: uint32(s[4]), xDestroy: uint32(s[5]),
				}
			}
			s[0] = OK
		}},
		{ExportUserData, "i", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.userData[uint32(s[0])]) }},
		{ExportAggregateContext, "ii", "i", func(_ context.Context, s []uint64) {
			ctxPtr, n := uint32(s[0]), int32(s[1])
			if slot, ok := f.aggCtx[ctxPtr]; ok {
				s[0] = uint64(slot)
				return
			}
			if n <= 0 || f.aggNomem {
				s[0] = 0
				return
			}
			slot := f.bump(uint32(n))
			f.aggCtx[ctxPtr] = slot
			s[0] = uint64(slot)
		}},

		{ExportResultText, "iiii", "", func(_ context.Context, s []uint64) {
			f.result(s[0], fakeResult{value: textVal(f.str(uint32(s[1]), uint32(s[2]))), destructor: int32(s[3])})
		}},
		{ExportResultNull, "i", "", func(_ context.Context, s []uint64) { f.result(s[0], fakeResult{value: nullVal}) }},
		{ExportResultInt64, "iI", "", func(_ context.Context, s []uint64) {
			f.result(s[0], fakeResult{value: intVal(int64(s[1]))})
		}},
		{ExportResultInt, "ii", "", func(_ context.Context, s []uint64) {
			f.result(s[0], fakeResult{value: intVal(int64(int32(s[1])))})
		}},
		{ExportResultDouble, "iF", "", func(_ context.Context, s []uint64) {
			f.result(s[0], fakeResult{value: floatVal(api.DecodeF64(s[1]))})
		}},
		{ExportResultBlob, "iiii", "", func(_ context.Context, s []uint64) {
			f.result(s[0], fakeResult{value: blobVal([]byte(f.str(uint32(s[1]), uint32(s[2])))), destructor: int32(s[3])})
		}},
		{ExportResultError, "iii", "", func(_ context.Context, s []uint64) {
			f.result(s[0], fakeResult{isErr: true, err: f.str(uint32(s[1]), uint32(s[2]))})
		}},
		{ExportResultErrorNomem, "i", "", func(_ context.Context, s []uint64) {
			f.result(s[0], fakeResult{isErr: true, nomem: true, err: "out of memory"})
		}},

		{ExportValueType, "i", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.value(s[0]).typ) }},
		{ExportValueInt, "i", "i", func(_ context.Context, s []uint64) { s[0] = api.EncodeI32(int32(f.value(s[0]).i)) }},
		{ExportValueInt64, "i", "I", func(_ context.Context, s []uint64) { s[0] = api.EncodeI64(f.value(s[0]).i) }},
		{ExportValueDouble, "i", "F", func(_ context.Context, s []uint64) { s[0] = api.EncodeF64(f.value(s[0]).f) }},
		{ExportValueText, "i", "i", func(_ context.Context, s []uint64) {
			v := f.value(s[0])
			if v.typ == NULL {
				s[0] = 0
				return
			}
			s[0] = uint64(f.cstring(v.asText()))
		}},
		{ExportValueBlob, "i", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.blobPtr(f.value(s[0]))) }},
		{ExportValueBytes, "i", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.byteLen(f.value(s[0]))) }},

		{ExportProgressHandler, "iiii", "", func(_ context.Context, s []uint64) {
			f.progressN = int(int32(s[1]))
			f.setHook("progress", s[2], s[3])
		}},
		{ExportBusyHandler, "iii", "i", func(_ context.Context, s []uint64) {
			f.setHook("busy", s[1], s[2])
			s[0] = OK
		}},
		{ExportUpdateHook, "iii", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.setHook("update", s[1], s[2])) }},
		{ExportCommitHook, "iii", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.setHook("commit", s[1], s[2])) }},
		{ExportRollbackHook, "iii", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.setHook("rollback", s[1], s[2])) }},

		{ExportSerialize, "iiii", "i", func(_ context.Context, s []uint64) {
			if f.cstr(uint32(s[1])) != "main" || f.serialized == nil {
				s[0] = 0
				return
			}
			p := f.bump(uint32(max(len(f.serialized), 1)))
			f.mem.Write(p, f.serialized)
			f.engine[p] = uint32(len(f.serialized))
			f.mem.WriteUint64Le(uint32(s[2]), uint64(len(f.serialized)))
			s[0] = uint64(p)
		}},
		{ExportDeserialize, "iiiIIi", "i", func(_ context.Context, s []uint64) {
			if f.deserializeTrap {
				panic("deserialize trapped")
			}
			buf := uint32(s[2])
			d := &f.deserialized
			d.schema = f.cstr(uint32(s[1]))
			d.szDb, d.szBuf, d.flags = int64(s[3]), int64(s[4]), int32(s[5])
			d.data = []byte(f.str(buf, uint32(d.szDb)))
			if n, ok := f.engine[buf]; ok {
				d.fromEngine = true
				f.owned[buf] = n
				delete(f.engine, buf)
			}
			s[0] = OK
		}},

		{ExportBackupInit, "iiii", "i", func(_ context.Context, s []uint64) {
			f.backup.destName, f.backup.srcName = f.cstr(uint32(s[1])), f.cstr(uint32(s[3]))
			f.backup.remaining = f.backup.total
			s[0] = 9
		}},
		{ExportBackupStep, "ii", "i", func(_ context.Context, s []uint64) {
			n := int(int32(s[1]))
			if n < 0 || n > f.backup.remaining {
				n = f.backup.remaining
			}
			f.backup.remaining -= n
			if f.backup.remaining == 0 {
				s[0] = DONE
				return
			}
			s[0] = OK
		}},
		{ExportBackupFinish, "i", "i", func(_ context.Context, s []uint64) { s[0] = OK }},
		{ExportBackupRemaining, "i", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.backup.remaining) }},
		{ExportBackupPageCount, "i", "i", func(_ context.Context, s []uint64) { s[0] = uint64(f.backup.total) }},
	}
}

// Memory

func (f *fakeEngine) bump(n uint32) uint32 {
	p := f.next
	f.next += (max(n, 1) + 7) &^ 7
	if f.next > f.mem.Size() {
		panic("fake engine out of memory")
	}
	f.mem.Write(p, make([]byte, n))
	return p
}

// cstring writes s into engine-internal memory the host must not free.
func (f *fakeEngine) cstring(s string) uint32 {
	p := f.bump(uint32(len(s) + 1))
	f.mem.Write(p, append([]byte(s), 0))
	return p
}

func (f *fakeEngine) optCString(s string) uint32 {
	if s == "" {
		return 0
	}
	return f.cstring(s)
}

// engineCString is cstring for memory the host releases with sqlite3_free.
func (f *fakeEngine) engineCString(s string) uint32 {
	p := f.cstring(s)
	f.engine[p] = uint32(len(s) + 1)
	return p
}

func (f *fakeEngine) cstr(p uint32) string {
	if p == 0 {
		return ""
	}
	var b []byte
	for {
		c, ok := f.mem.ReadByte(p)
		if !ok || c == 0 {
			return string(b)
		}
		b = append(b, c)
		p++
	}
}

func (f *fakeEngine) str(p, n uint32) string {
	b, ok := f.mem.Read(p, n)
	if !ok {
		f.t.Errorf("read out of range: %#x+%d", p, n)
		return ""
	}
	return string(b)
}

func (f *fakeEngine) blobPtr(v fakeValue) uint32 {
	if v.typ != BLOB || len(v.blob) == 0 {
		return 0
	}
	p := f.bump(uint32(len(v.blob)))
	f.mem.Write(p, v.blob)
	return p
}

func (f *fakeEngine) byteLen(v fakeValue) int {
	switch v.typ {
	case NULL:
		return 0
	case BLOB:
		return len(v.blob)
	}
	return len(v.asText())
}

func (f *fakeEngine) requireNoLeaks(t *testing.T) {
	t.Helper()
	require.Empty(t, f.live, "host allocations not freed")
	require.Empty(t, f.engine, "engine allocations not freed")
}

// Statements

func (f *fakeEngine) stmt(h uint64) *fakeStmt {
	s, ok := f.stmts[uint32(h)]
	if !ok {
		panic(fmt.Sprintf("unknown statement %d", h))
	}
	return s
}

func (f *fakeEngine) column(s []uint64) fakeValue {
	st := f.stmt(s[0])
	col := int(int32(s[1]))
	if col < 0 || col >= len(st.cur) {
		return nullVal
	}
	return st.cur[col]
}

func (f *fakeEngine) bind(s []uint64, b fakeBind) {
	st := f.stmt(s[0])
	pos := int(int32(s[1]))
	if pos < 1 || pos > st.query.params {
		s[0] = RANGE
		return
	}
	if st.binds == nil {
		st.binds = map[int]fakeBind{}
	}
	st.binds[pos] = b
	s[0] = OK
}

func (f *fakeEngine) prepare(sql string, ppStmt uint32) int {
	f.mem.WriteUint32Le(ppStmt, 0)
	q, ok := f.queries[sql]
	if !ok {
		f.errmsg = "near \"" + sql + "\": syntax error"
		return ERROR
	}
	switch q.kind {
	case scalarQuery, aggregateQuery, windowQuery:
		if f.lookupFunc(q.fn, q.argc()) == nil {
			f.errmsg = "no such function: " + q.fn
			return ERROR
		}
	case collationQuery:
		if _, ok := f.collations[q.fn]; !ok {
			f.errmsg = "no such collation sequence: " + q.fn
			return ERROR
		}
	}
	f.handle++
	f.stmts[f.handle] = &fakeStmt{query: q}
	f.mem.WriteUint32Le(ppStmt, f.handle)
	return OK
}

func (f *fakeEngine) step(ctx context.Context, st *fakeStmt) int {
	if !st.ran {
		st.ran = true
		rows, rc := f.evaluate(ctx, st.query)
		if rc != OK {
			return rc
		}
		st.rows = rows
	}
	if st.pos >= len(st.rows) {
		st.cur = nil
		return DONE
	}
	st.cur = st.rows[st.pos]
	st.pos++
	return ROW
}

func (f *fakeEngine) evaluate(ctx context.Context, q *fakeQuery) ([][]fakeValue, int) {
	f.evaluated++
	switch q.kind {
	case scalarQuery:
		fn := f.lookupFunc(q.fn, q.argc())
		var rows [][]fakeValue
		for _, args := range q.args {
			ctxPtr := f.newContext(fn.userData)
			argc, argv := f.argv(args)
			f.call(ctx, fn.xFunc, uint64(ctxPtr), argc, argv)
			v, rc := f.takeResult(ctxPtr)
			if rc != OK {
				return nil, rc
			}
			rows = append(rows, []fakeValue{v})
		}
		return rows, OK

	case aggregateQuery:
		fn := f.lookupFunc(q.fn, q.argc())
		ctxPtr := f.newContext(fn.userData)
		for _, args := range q.args {
			argc, argv := f.argv(args)
			f.call(ctx, fn.xStep, uint64(ctxPtr), argc, argv)
			if r := f.results[ctxPtr]; r != nil && r.isErr {
				_, rc := f.takeResult(ctxPtr)
				return nil, rc
			}
		}
		f.call(ctx, fn.xFinal, uint64(ctxPtr))
		v, rc := f.takeResult(ctxPtr)
		if rc != OK {
			return nil, rc
		}
		return [][]fakeValue{{v}}, OK

	case windowQuery:
		fn := f.lookupFunc(q.fn, q.argc())
		ctxPtr := f.newContext(fn.userData)
		var rows [][]fakeValue
		for i, args := range q.args {
			argc, argv := f.argv(args)
			f.call(ctx, fn.xStep, uint64(ctxPtr), argc, argv)
			if q.window > 0 && i >= q.window {
				argc, argv := f.argv(q.args[i-q.window])
				f.call(ctx, fn.xInverse, uint64(ctxPtr), argc, argv)
			}
			f.call(ctx, fn.xValue, uint64(ctxPtr))
			v, rc := f.takeResult(ctxPtr)
			if rc != OK {
				return nil, rc
			}
			rows = append(rows, []fakeValue{v})
		}
		f.call(ctx, fn.xFinal, uint64(ctxPtr))
		delete(f.results, ctxPtr)
		return rows, OK

	case collationQuery:
		c := f.collations[q.fn]
		var rows [][]fakeValue
		for _, p := range q.pairs {
			a, b := f.cstring(p[0]), f.cstring(p[1])
			r := f.call(ctx, c.xFunc, uint64(c.userData), uint64(len(p[0])), uint64(a), uint64(len(p[1])), uint64(b))
			rows = append(rows, []fakeValue{intVal(int64(api.DecodeI32(r[0])))})
		}
		return rows, OK
	}
	return q.rows, OK
}

func (f *fakeEngine) takeResult(ctxPtr uint32) (fakeValue, int) {
	r := f.results[ctxPtr]
	delete(f.results, ctxPtr)
	switch {
	case r == nil:
		return nullVal, OK
	case r.nomem:
		f.errmsg = r.err
		return nullVal, NOMEM
	case r.isErr:
		f.errmsg = r.err
		return nullVal, ERROR
	}
	if r.destructor != transient && (r.value.typ == TEXT || r.value.typ == BLOB) {
		f.t.Errorf("result set without the transient destructor: %d", r.destructor)
	}
	return r.value, OK
}

// Functions

func (f *fakeEngine) lookupFunc(name string, argc int) *fakeFunc {
	if fn, ok := f.funcs[fmt.Sprintf("%s/%d", name, argc)]; ok {
		return fn
	}
	return f.funcs[name+"/-1"]
}

func (f *fakeEngine) createFunc(ctx context.Context, zName uint64, fn *fakeFunc) uint64 {
	key := fmt.Sprintf("%s/%d", f.cstr(uint32(zName)), fn.nArgs)
	if old, ok := f.funcs[key]; ok {
		f.destroy(ctx, old.xDestroy, old.userData)
		delete(f.funcs, key)
	}
	if fn.xFunc != 0 || fn.xStep != 0 {
		f.funcs[key] = fn
	}
	return OK
}

func (f *fakeEngine) destroy(ctx context.Context, xDestroy, userData uint32) {
	if xDestroy != 0 {
		f.call(ctx, xDestroy, uint64(userData))
	}
}

func (f *fakeEngine) newContext(userData uint32) uint32 {
	p := f.bump(16)
	f.userData[p] = userData
	return p
}

func (f *fakeEngine) argv(args []fakeValue) (argc, argv uint64) {
	arr := f.bump(uint32(len(args)) * ptrSize)
	for i, v := range args {
		p := f.bump(16)
		f.values[p] = v
		f.mem.WriteUint32Le(arr+uint32(i)*ptrSize, p)
	}
	return uint64(len(args)), uint64(arr)
}

func (f *fakeEngine) value(h uint64) fakeValue {
	v, ok := f.values[uint32(h)]
	if !ok {
		panic(fmt.Sprintf("unknown value %#x", h))
	}
	return v
}

func (f *fakeEngine) result(ctxPtr uint64, r fakeResult) {
	f.results[uint32(ctxPtr)] = &r
}

// Hooks

// setHook installs a hook and returns the user data of the one it replaced.
func (f *fakeEngine) setHook(name string, fn, userData uint64) uint32 {
	prev := f.hooks[name].userData
	if fn == 0 {
		delete(f.hooks, name)
	} else {
		f.hooks[name] = fakeHook{fn: uint32(fn), userData: uint32(userData)}
	}
	return prev
}

// fire invokes an installed hook the way the engine would. It reports false
// if no hook is installed.
func (f *fakeEngine) fire(ctx context.Context, name string, params ...uint64) (uint64, bool, error) {
	h, ok := f.hooks[name]
	if !ok {
		return 0, false, nil
	}
	results, err := f.trampoline(ctx, h.fn, append([]uint64{uint64(h.userData)}, params...)...)
	if err != nil || len(results) == 0 {
		return 0, true, err
	}
	return results[0], true, nil
}

func (f *fakeEngine) fireUpdate(ctx context.Context, op int, db, table string, rowid int64) (bool, error) {
	_, ok, err := f.fire(ctx, "update", api.EncodeI32(int32(op)), uint64(f.cstring(db)), uint64(f.cstring(table)), api.EncodeI64(rowid))
	return ok, err
}

// Trampolines

func (f *fakeEngine) trampoline(ctx context.Context, addr uint32, params ...uint64) ([]uint64, error) {
	if addr == 0 || int(addr) > len(fakeTrampolines) {
		return nil, fmt.Errorf("bad trampoline address %d", addr)
	}
	name := fakeTrampolines[addr-1].target
	fn := f.cb.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("callback %s not exported", name)
	}
	return fn.Call(ctx, params...)
}

// call is trampoline for use inside an engine export: a failing callback
// fails the export call that triggered it.
func (f *fakeEngine) call(ctx context.Context, addr uint32, params ...uint64) []uint64 {
	results, err := f.trampoline(ctx, addr, params...)
	if err != nil {
		panic(err)
	}
	return results
}
