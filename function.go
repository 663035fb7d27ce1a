package sqlite

import "context"

// The methods in this file are called from inside trampolines while the engine
// is evaluating a user function; ctxPtr is the engine's sqlite3_context and
// valuePtr one of its sqlite3_value arguments.

// UserData returns the user data the function behind ctxPtr was registered with.
func (g *Gateway) UserData(ctx context.Context, ctxPtr uint32) (uint32, error) {
	return g.callPtr(ctx, g.userData, u32(ctxPtr))
}

// AggregateContext returns n zeroed bytes of per-invocation aggregate state,
// allocated on first use. With n == 0 it returns 0 if nothing was allocated yet.
func (g *Gateway) AggregateContext(ctx context.Context, ctxPtr uint32, n int) (uint32, error) {
	return g.callPtr(ctx, g.aggregateContext, u32(ctxPtr), i32(n))
}

// ResultInt sets the function result to a 32-bit integer.
func (g *Gateway) ResultInt(ctx context.Context, ctxPtr uint32, v int32) error {
	_, err := g.call(ctx, g.resultInt, u32(ctxPtr), i32(int(v)))
	return err
}

// ResultInt64 sets the function result to a 64-bit integer.
func (g *Gateway) ResultInt64(ctx context.Context, ctxPtr uint32, v int64) error {
	_, err := g.call(ctx, g.resultInt64, u32(ctxPtr), i64(v))
	return err
}

// ResultDouble sets the function result to a floating point value.
func (g *Gateway) ResultDouble(ctx context.Context, ctxPtr uint32, v float64) error {
	_, err := g.call(ctx, g.resultDouble, u32(ctxPtr), f64(v))
	return err
}

// ResultNull sets the function result to NULL.
func (g *Gateway) ResultNull(ctx context.Context, ctxPtr uint32) error {
	_, err := g.call(ctx, g.resultNull, u32(ctxPtr))
	return err
}

// ResultText sets the function result to a string; the engine copies it.
func (g *Gateway) ResultText(ctx context.Context, ctxPtr uint32, s string) error {
	ptr, n, err := g.AllocString(ctx, s)
	if err != nil {
		return err
	}
	defer g.freePtr(ctx, ptr)
	_, err = g.call(ctx, g.resultText, u32(ctxPtr), u32(ptr), u32(n), i32(transient))
	return err
}

// ResultBlob sets the function result to a blob; the engine copies it. A nil
// slice sets NULL.
func (g *Gateway) ResultBlob(ctx context.Context, ctxPtr uint32, b []byte) error {
	if b == nil {
		return g.ResultNull(ctx, ctxPtr)
	}
	ptr, err := g.AllocBytes(ctx, b)
	if err != nil {
		return err
	}
	defer g.freePtr(ctx, ptr)
	_, err = g.call(ctx, g.resultBlob, u32(ctxPtr), u32(ptr), i32(len(b)), i32(transient))
	return err
}

// ResultError makes the function raise an error with the given message.
func (g *Gateway) ResultError(ctx context.Context, ctxPtr uint32, msg string) error {
	ptr, n, err := g.AllocString(ctx, msg)
	if err != nil {
		return err
	}
	defer g.freePtr(ctx, ptr)
	_, err = g.call(ctx, g.resultError, u32(ctxPtr), u32(ptr), u32(n))
	return err
}

// ResultErrorNomem makes the function raise an out-of-memory error.
func (g *Gateway) ResultErrorNomem(ctx context.Context, ctxPtr uint32) error {
	_, err := g.call(ctx, g.resultErrorNomem, u32(ctxPtr))
	return err
}

// ValueType returns the datatype code of a function argument.
func (g *Gateway) ValueType(ctx context.Context, valuePtr uint32) (int, error) {
	return g.callInt(ctx, g.valueType, u32(valuePtr))
}

// ValueInt returns a function argument as a 32-bit integer.
func (g *Gateway) ValueInt(ctx context.Context, valuePtr uint32) (int32, error) {
	r, err := g.call(ctx, g.valueInt, u32(valuePtr))
	return int32(r), err
}

// ValueInt64 returns a function argument as a 64-bit integer.
func (g *Gateway) ValueInt64(ctx context.Context, valuePtr uint32) (int64, error) {
	r, err := g.call(ctx, g.valueInt64, u32(valuePtr))
	return int64(r), err
}

// ValueDouble returns a function argument as a floating point value.
func (g *Gateway) ValueDouble(ctx context.Context, valuePtr uint32) (float64, error) {
	r, err := g.call(ctx, g.valueDouble, u32(valuePtr))
	return tof64(r), err
}

// ValueText returns a function argument as text. NULL reads as "".
func (g *Gateway) ValueText(ctx context.Context, valuePtr uint32) (string, error) {
	ptr, err := g.callPtr(ctx, g.valueText, u32(valuePtr))
	if err != nil || ptr == 0 {
		return "", err
	}
	n, err := g.ValueBytes(ctx, valuePtr)
	if err != nil {
		return "", err
	}
	return g.readString(ptr, uint32(n))
}

// ValueBlob returns a function argument as a blob: nil for NULL, an empty
// non-nil slice for a zero-length value.
func (g *Gateway) ValueBlob(ctx context.Context, valuePtr uint32) ([]byte, error) {
	typ, err := g.ValueType(ctx, valuePtr)
	if err != nil {
		return nil, err
	}
	ptr, err := g.callPtr(ctx, g.valueBlob, u32(valuePtr))
	if err != nil {
		return nil, err
	}
	if ptr == 0 {
		if typ == NULL {
			return nil, nil
		}
		return []byte{}, nil
	}
	n, err := g.ValueBytes(ctx, valuePtr)
	if err != nil {
		return nil, err
	}
	return g.ReadBytes(ptr, uint32(n))
}

// ValueBytes returns the size in bytes of a blob or text argument.
func (g *Gateway) ValueBytes(ctx context.Context, valuePtr uint32) (int, error) {
	return g.callInt(ctx, g.valueBytes, u32(valuePtr))
}

// ReadArgs reads argc sqlite3_value pointers from the argv array.
func (g *Gateway) ReadArgs(argc int, argv uint32) ([]uint32, error) {
	args := make([]uint32, argc)
	for i := range args {
		p, err := g.ReadPtr(argv + uint32(i)*ptrSize)
		if err != nil {
			return nil, err
		}
		args[i] = p
	}
	return args, nil
}

// Registration. The engine is always handed the fixed trampolines plus
// userData, an opaque handle the trampolines resolve back to a Go callback.

// CreateFunction registers a scalar function taking nArgs arguments (-1 for
// any). flags may add Deterministic, DirectOnly or Innocuous.
func (g *Gateway) CreateFunction(ctx context.Context, db uint32, name string, nArgs, flags int, userData uint32) (int, error) {
	zName, err := g.AllocCString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zName)

	t := g.trampolines
	return g.callInt(ctx, g.createFunction,
		u32(db), u32(zName), i32(nArgs), i32(UTF8|flags), u32(userData),
		u32(t.Func), 0, 0, u32(t.Destroy))
}

// CreateAggregateFunction registers an aggregate function. With window set,
// the value and inverse trampolines are wired in and the function can also
// be used as a window function.
func (g *Gateway) CreateAggregateFunction(ctx context.Context, db uint32, name string, nArgs, flags int, userData uint32, window bool) (int, error) {
	zName, err := g.AllocCString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zName)

	t := g.trampolines
	var xValue, xInverse uint32
	if window {
		xValue, xInverse = t.Value, t.Inverse
	}
	return g.callInt(ctx, g.createWindowFunc,
		u32(db), u32(zName), i32(nArgs), i32(UTF8|flags), u32(userData),
		u32(t.Step), u32(t.Final), u32(xValue), u32(xInverse), u32(t.Destroy))
}

// CreateNullFunction drops the function registered as name with nArgs
// arguments. The engine calls the destroy trampoline of the old registration.
func (g *Gateway) CreateNullFunction(ctx context.Context, db uint32, name string, nArgs int) (int, error) {
	zName, err := g.AllocCString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zName)
	return g.callInt(ctx, g.createFunction, u32(db), u32(zName), i32(nArgs), i32(UTF8), 0, 0, 0, 0, 0)
}

// CreateCollation registers a collating sequence.
func (g *Gateway) CreateCollation(ctx context.Context, db uint32, name string, userData uint32) (int, error) {
	zName, err := g.AllocCString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zName)

	t := g.trampolines
	return g.callInt(ctx, g.createCollation,
		u32(db), u32(zName), i32(UTF8), u32(userData), u32(t.Compare), u32(t.DestroyCollation))
}

// DestroyCollation drops a collating sequence.
func (g *Gateway) DestroyCollation(ctx context.Context, db uint32, name string) (int, error) {
	zName, err := g.AllocCString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer g.freePtr(ctx, zName)
	return g.callInt(ctx, g.createCollation, u32(db), u32(zName), i32(UTF8), 0, 0, 0)
}
