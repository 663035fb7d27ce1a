package sqlite

import (
	"context"
	"fmt"

	"github.com/go-pkgz/lgr"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/aperturerobotics/go-sqlite-wasi/udf"
)

// dispatcher implements the host side of the engine's trampolines. Every
// trampoline carries a user data handle that is resolved through Registry.
type dispatcher struct {
	gw  *Gateway
	log lgr.L

	// accumulators of running aggregate evaluations, keyed by the handle
	// stored in the engine's aggregate context
	aggs *udf.Store[Aggregate]
}

func newDispatcher(log lgr.L) *dispatcher {
	return &dispatcher{log: log, aggs: udf.NewStore[Aggregate]()}
}

// instantiate registers the trampoline targets as host module name.
func (d *dispatcher) instantiate(ctx context.Context, r wazero.Runtime, name string) (api.Module, error) {
	i32, i64 := api.ValueTypeI32, api.ValueTypeI64
	funcs := []struct {
		name    string
		fn      api.GoModuleFunc
		params  []api.ValueType
		results []api.ValueType
	}{
		{ImportFunc, d.xFunc, []api.ValueType{i32, i32, i32}, nil},
		{ImportStep, d.xStep, []api.ValueType{i32, i32, i32}, nil},
		{ImportFinal, d.xFinal, []api.ValueType{i32}, nil},
		{ImportValue, d.xValue, []api.ValueType{i32}, nil},
		{ImportInverse, d.xInverse, []api.ValueType{i32, i32, i32}, nil},
		{ImportDestroy, d.xDestroy, []api.ValueType{i32}, nil},
		{ImportProgress, d.xProgress, []api.ValueType{i32}, []api.ValueType{i32}},
		{ImportBusy, d.xBusy, []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{ImportCompare, d.xCompare, []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32}},
		{ImportDestroyCollation, d.xDestroy, []api.ValueType{i32}, nil},
		{ImportUpdate, d.xUpdate, []api.ValueType{i32, i32, i32, i32, i64}, nil},
		{ImportCommit, d.xCommit, []api.ValueType{i32}, []api.ValueType{i32}},
		{ImportRollback, d.xRollback, []api.ValueType{i32}, nil},
	}

	b := r.NewHostModuleBuilder(name)
	for _, f := range funcs {
		b.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, f.params, f.results).
			Export(f.name)
	}
	return b.Instantiate(ctx)
}

// Function trampolines

func (d *dispatcher) xFunc(ctx context.Context, _ api.Module, stack []uint64) {
	c, v := d.resolveContext(ctx, stack[0])
	fn, ok := v.(ScalarFunc)
	if !ok {
		d.unresolved(c, ImportFunc, v)
		return
	}
	args := d.args(c, stack[1], stack[2])
	d.guardFunc(c, ImportFunc, func() { fn(c, args) })
}

func (d *dispatcher) xStep(ctx context.Context, _ api.Module, stack []uint64) {
	c, v := d.resolveContext(ctx, stack[0])
	create, ok := aggregateFactory(v)
	if !ok {
		d.unresolved(c, ImportStep, v)
		return
	}
	acc, _, ok := d.accumulator(c, create)
	if !ok {
		return
	}
	args := d.args(c, stack[1], stack[2])
	d.guardFunc(c, ImportStep, func() { acc.Step(c, args) })
}

func (d *dispatcher) xFinal(ctx context.Context, _ api.Module, stack []uint64) {
	c, v := d.resolveContext(ctx, stack[0])
	create, ok := aggregateFactory(v)
	if !ok {
		d.unresolved(c, ImportFinal, v)
		return
	}
	acc, h, ok := d.accumulator(c, create)
	if !ok {
		return
	}
	defer d.aggs.Free(h)
	d.guardFunc(c, ImportFinal, func() { acc.Final(c) })
}

func (d *dispatcher) xValue(ctx context.Context, _ api.Module, stack []uint64) {
	c, win, ok := d.window(ctx, stack[0], ImportValue)
	if !ok {
		return
	}
	d.guardFunc(c, ImportValue, func() { win.Value(c) })
}

func (d *dispatcher) xInverse(ctx context.Context, _ api.Module, stack []uint64) {
	c, win, ok := d.window(ctx, stack[0], ImportInverse)
	if !ok {
		return
	}
	args := d.args(c, stack[1], stack[2])
	d.guardFunc(c, ImportInverse, func() { win.Inverse(c, args) })
}

func (d *dispatcher) window(ctx context.Context, ctxPtr uint64, trampoline string) (*Context, WindowAggregate, bool) {
	c, v := d.resolveContext(ctx, ctxPtr)
	f, ok := v.(WindowFunc)
	if !ok {
		d.unresolved(c, trampoline, v)
		return c, nil, false
	}
	acc, _, ok := d.accumulator(c, func() Aggregate { return f() })
	if !ok {
		return c, nil, false
	}
	return c, acc.(WindowAggregate), true
}

// xDestroy serves both function and collation destructors.
func (d *dispatcher) xDestroy(_ context.Context, _ api.Module, stack []uint64) {
	h := api.DecodeU32(stack[0])
	if !Registry.Free(h) {
		d.log.Logf("[DEBUG] destroy of unknown callback handle %d", h)
	}
}

// Handler trampolines

func (d *dispatcher) xProgress(_ context.Context, _ api.Module, stack []uint64) {
	h := api.DecodeU32(stack[0])
	fn, ok := d.lookup(h).(ProgressFunc)
	if !ok {
		d.log.Logf("[WARN] %s: no progress handler for handle %d", ImportProgress, h)
		stack[0] = 0
		return
	}
	interrupt := true // a panicking handler stops the statement
	d.guard(ImportProgress, func() { interrupt = fn() })
	stack[0] = boolResult(interrupt)
}

func (d *dispatcher) xBusy(_ context.Context, _ api.Module, stack []uint64) {
	h := api.DecodeU32(stack[0])
	count := int(api.DecodeI32(stack[1]))
	fn, ok := d.lookup(h).(BusyFunc)
	if !ok {
		d.log.Logf("[WARN] %s: no busy handler for handle %d", ImportBusy, h)
		stack[0] = 0
		return
	}
	retry := false
	d.guard(ImportBusy, func() { retry = fn(count) })
	stack[0] = boolResult(retry)
}

func (d *dispatcher) xCompare(_ context.Context, _ api.Module, stack []uint64) {
	h := api.DecodeU32(stack[0])
	fn, ok := d.lookup(h).(CollationFunc)
	if !ok {
		d.log.Logf("[WARN] %s: no collation for handle %d", ImportCompare, h)
		stack[0] = 0
		return
	}
	a, err := d.gw.readString(api.DecodeU32(stack[2]), api.DecodeU32(stack[1]))
	must(err)
	b, err := d.gw.readString(api.DecodeU32(stack[4]), api.DecodeU32(stack[3]))
	must(err)

	cmp := 0
	d.guard(ImportCompare, func() { cmp = fn(a, b) })
	switch {
	case cmp < 0:
		stack[0] = api.EncodeI32(-1)
	case cmp > 0:
		stack[0] = api.EncodeI32(1)
	default:
		stack[0] = 0
	}
}

func (d *dispatcher) xUpdate(_ context.Context, _ api.Module, stack []uint64) {
	h := api.DecodeU32(stack[0])
	fn, ok := d.lookup(h).(UpdateFunc)
	if !ok {
		d.log.Logf("[WARN] %s: no update hook for handle %d", ImportUpdate, h)
		return
	}
	op := int(api.DecodeI32(stack[1]))
	db, err := d.gw.ReadCString(api.DecodeU32(stack[2]))
	must(err)
	table, err := d.gw.ReadCString(api.DecodeU32(stack[3]))
	must(err)
	rowid := int64(stack[4])
	d.guard(ImportUpdate, func() { fn(op, db, table, rowid) })
}

func (d *dispatcher) xCommit(_ context.Context, _ api.Module, stack []uint64) {
	h := api.DecodeU32(stack[0])
	fn, ok := d.lookup(h).(CommitFunc)
	if !ok {
		d.log.Logf("[WARN] %s: no commit hook for handle %d", ImportCommit, h)
		stack[0] = 0
		return
	}
	rollback := true // a panicking hook vetoes the commit
	d.guard(ImportCommit, func() { rollback = fn() })
	stack[0] = boolResult(rollback)
}

func (d *dispatcher) xRollback(_ context.Context, _ api.Module, stack []uint64) {
	h := api.DecodeU32(stack[0])
	fn, ok := d.lookup(h).(RollbackFunc)
	if !ok {
		d.log.Logf("[WARN] %s: no rollback hook for handle %d", ImportRollback, h)
		return
	}
	d.guard(ImportRollback, func() { fn() })
}

// Helpers

func (d *dispatcher) lookup(h uint32) any {
	v, _ := Registry.Get(h)
	return v
}

// resolveContext wraps the engine context and finds the callback registered
// for it through its user data.
func (d *dispatcher) resolveContext(ctx context.Context, ctxPtr uint64) (*Context, any) {
	c := &Context{ctx: ctx, g: d.gw, ptr: api.DecodeU32(ctxPtr)}
	h, err := d.gw.UserData(ctx, c.ptr)
	must(err)
	return c, d.lookup(h)
}

func (d *dispatcher) args(c *Context, argc, argv uint64) []Value {
	ptrs, err := d.gw.ReadArgs(int(api.DecodeI32(argc)), api.DecodeU32(argv))
	must(err)
	args := make([]Value, len(ptrs))
	for i, p := range ptrs {
		args[i] = Value{ctx: c.ctx, g: d.gw, ptr: p}
	}
	return args
}

func aggregateFactory(v any) (func() Aggregate, bool) {
	switch f := v.(type) {
	case AggregateFunc:
		return f, true
	case WindowFunc:
		return func() Aggregate { return f() }, true
	}
	return nil, false
}

// accumulator returns the accumulator of the aggregate evaluation behind c,
// creating it on first use. The engine keeps its handle in a 4-byte
// aggregate context. It reports false after setting a NOMEM result.
func (d *dispatcher) accumulator(c *Context, create func() Aggregate) (Aggregate, udf.Handle, bool) {
	slot, err := d.gw.AggregateContext(c.ctx, c.ptr, ptrSize)
	must(err)
	if slot == 0 {
		c.ResultErrorNomem()
		return nil, 0, false
	}
	h, err := d.gw.ReadPtr(slot)
	must(err)
	if acc, ok := d.aggs.Get(h); ok {
		return acc, h, true
	}

	acc := create()
	h = d.aggs.Register("", acc)
	if !d.gw.mem.WriteUint32Le(slot, h) {
		d.aggs.Free(h)
		must(fmt.Errorf("aggregate context write out of range: %#x", slot))
	}
	return acc, h, true
}

func (d *dispatcher) unresolved(c *Context, trampoline string, v any) {
	d.log.Logf("[WARN] %s: no matching callback (%T)", trampoline, v)
	c.ResultError(fmt.Errorf("%s: no matching callback", trampoline))
}

// guard runs fn and returns the value of a panic raised by user code, after
// logging it. Failures of nested sandbox calls keep unwinding to wazero.
func (d *dispatcher) guard(trampoline string, fn func()) (recovered any) {
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(callError); ok {
				panic(ce)
			}
			d.log.Logf("[WARN] %s: callback panic: %v", trampoline, r)
			recovered = r
		}
	}()
	fn()
	return nil
}

// guardFunc is guard for function callbacks: a panic becomes the SQL error.
func (d *dispatcher) guardFunc(c *Context, trampoline string, fn func()) {
	if r := d.guard(trampoline, fn); r != nil {
		c.ResultError(fmt.Errorf("%s: %v", trampoline, r))
	}
}

func boolResult(b bool) uint64 {
	if b {
		return api.EncodeI32(1)
	}
	return 0
}
