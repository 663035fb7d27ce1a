package sqlite

import (
	"context"

	"github.com/aperturerobotics/go-sqlite-wasi/udf"
)

// Registry maps callback handles to Go callbacks for every engine instance in
// the process. The handle is what the engine receives as user data.
var Registry = udf.NewStore[any]()

// ScalarFunc implements a scalar SQL function. It reports its result through
// ctx; setting none yields NULL.
type ScalarFunc func(ctx *Context, args []Value)

// Aggregate accumulates one evaluation of an aggregate function.
type Aggregate interface {
	Step(ctx *Context, args []Value)
	Final(ctx *Context)
}

// WindowAggregate is an Aggregate that can also act as a window function.
type WindowAggregate interface {
	Aggregate
	Value(ctx *Context)
	Inverse(ctx *Context, args []Value)
}

// AggregateFunc returns a fresh accumulator for each aggregate evaluation.
type AggregateFunc func() Aggregate

// WindowFunc returns a fresh accumulator for each window evaluation.
type WindowFunc func() WindowAggregate

// CollationFunc compares a and b like strings.Compare.
type CollationFunc func(a, b string) int

// BusyFunc is called with the number of prior calls for the same lock event.
// Returning true retries; false gives up with BUSY.
type BusyFunc func(count int) bool

// ProgressFunc is called periodically during long queries. Returning true
// interrupts the running statement.
type ProgressFunc func() bool

// CommitFunc is called before a commit. Returning true turns it into a rollback.
type CommitFunc func() bool

// RollbackFunc is called after a rollback.
type RollbackFunc func()

// UpdateFunc is called for every inserted, updated or deleted rowid table row.
// op is OpInsert, OpUpdate or OpDelete.
type UpdateFunc func(op int, db, table string, rowid int64)

// callError carries a failed nested sandbox call out of a callback. wazero
// reports the panic as the error of the outer call.
type callError struct{ err error }

func (e callError) Error() string { return e.err.Error() }
func (e callError) Unwrap() error { return e.err }

func must(err error) {
	if err != nil {
		panic(callError{err})
	}
}

// Context is the engine's function context, valid for one callback.
type Context struct {
	ctx context.Context
	g   *Gateway
	ptr uint32
}

// Context returns the context of the sandbox call that triggered the callback.
func (c *Context) Context() context.Context { return c.ctx }

// ResultInt sets the result to a 32-bit integer.
func (c *Context) ResultInt(v int32) { must(c.g.ResultInt(c.ctx, c.ptr, v)) }

// ResultInt64 sets the result to a 64-bit integer.
func (c *Context) ResultInt64(v int64) { must(c.g.ResultInt64(c.ctx, c.ptr, v)) }

// ResultDouble sets the result to a floating point value.
func (c *Context) ResultDouble(v float64) { must(c.g.ResultDouble(c.ctx, c.ptr, v)) }

// ResultText sets the result to a string.
func (c *Context) ResultText(s string) { must(c.g.ResultText(c.ctx, c.ptr, s)) }

// ResultBlob sets the result to a blob.
func (c *Context) ResultBlob(b []byte) { must(c.g.ResultBlob(c.ctx, c.ptr, b)) }

// ResultNull sets the result to NULL.
func (c *Context) ResultNull() { must(c.g.ResultNull(c.ctx, c.ptr)) }

// ResultError fails the SQL statement with err's message.
func (c *Context) ResultError(err error) { must(c.g.ResultError(c.ctx, c.ptr, err.Error())) }

// ResultErrorNomem fails the SQL statement with NOMEM.
func (c *Context) ResultErrorNomem() { must(c.g.ResultErrorNomem(c.ctx, c.ptr)) }

// Value is one argument of a function call.
type Value struct {
	ctx context.Context
	g   *Gateway
	ptr uint32
}

// Type returns the datatype code of the argument.
func (v Value) Type() int {
	t, err := v.g.ValueType(v.ctx, v.ptr)
	must(err)
	return t
}

// IsNull reports whether the argument is NULL.
func (v Value) IsNull() bool { return v.Type() == NULL }

// Int returns the argument as a 32-bit integer.
func (v Value) Int() int32 {
	r, err := v.g.ValueInt(v.ctx, v.ptr)
	must(err)
	return r
}

// Int64 returns the argument as a 64-bit integer.
func (v Value) Int64() int64 {
	r, err := v.g.ValueInt64(v.ctx, v.ptr)
	must(err)
	return r
}

// Double returns the argument as a floating point value.
func (v Value) Double() float64 {
	r, err := v.g.ValueDouble(v.ctx, v.ptr)
	must(err)
	return r
}

// Text returns the argument as a string.
func (v Value) Text() string {
	r, err := v.g.ValueText(v.ctx, v.ptr)
	must(err)
	return r
}

// Blob returns the argument as a blob; nil for NULL.
func (v Value) Blob() []byte {
	r, err := v.g.ValueBlob(v.ctx, v.ptr)
	must(err)
	return r
}

// Bytes returns the size in bytes of a text or blob argument.
func (v Value) Bytes() int {
	r, err := v.g.ValueBytes(v.ctx, v.ptr)
	must(err)
	return r
}
