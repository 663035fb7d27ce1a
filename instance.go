package sqlite

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/aperturerobotics/go-sqlite-wasi/udf"
)

// DefaultModuleName is the name the engine module is instantiated under.
const DefaultModuleName = "sqlite3.wasm"

// Instance wraps a SQLite WASI reactor module together with the host module
// serving its callbacks.
//
// Only one Instance can live in a wazero.Runtime, as the callback module name
// is fixed by the engine's imports. Like Gateway, an Instance is not safe for
// concurrent use.
type Instance struct {
	runtime   wazero.Runtime
	mod       api.Module
	callbacks api.Module
	gw        *Gateway
	log       lgr.L

	// Callback handles of per-connection handlers, released when replaced or
	// when the connection is closed
	mu       sync.Mutex
	handlers map[uint32]*connHandlers
}

type connHandlers struct {
	update, commit, rollback, busy, progress udf.Handle
}

// Config holds configuration for creating a new Instance.
type Config struct {
	// Stdin is the standard input of the engine module. Default: empty.
	Stdin io.Reader
	// Stdout is the standard output of the engine module. Default: discard.
	Stdout io.Writer
	// Stderr is the standard error of the engine module. Default: discard.
	Stderr io.Writer
	// FS is the filesystem database files are opened from.
	// Default: no filesystem access, so only in-memory databases work.
	FS fs.FS
	// FSConfig allows configuring the wazero filesystem.
	// If set, FS is ignored.
	FSConfig wazero.FSConfig
	// Logger receives callback failures. Default: lgr.NoOp.
	Logger lgr.L
	// ModuleName is the name of the engine module. Default: DefaultModuleName.
	ModuleName string
	// CallbackModule is the import module the engine expects its callbacks
	// in. Default: ImportModuleCallbacks.
	CallbackModule string
}

// Compile compiles an engine module. The compiled module can be reused across
// runtimes sharing a compilation cache.
func Compile(ctx context.Context, r wazero.Runtime, wasm []byte) (wazero.CompiledModule, error) {
	return r.CompileModule(ctx, wasm)
}

// NewInstance compiles and instantiates the engine in wasm.
// Call Close() when done to release resources.
func NewInstance(ctx context.Context, r wazero.Runtime, wasm []byte, cfg *Config) (*Instance, error) {
	compiled, err := Compile(ctx, r, wasm)
	if err != nil {
		return nil, err
	}
	return NewInstanceWithModule(ctx, r, compiled, cfg)
}

// NewInstanceWithModule creates a new Instance using a pre-compiled module.
func NewInstanceWithModule(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule, cfg *Config) (*Instance, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = lgr.NoOp
	}
	name := cfg.ModuleName
	if name == "" {
		name = DefaultModuleName
	}
	cbName := cfg.CallbackModule
	if cbName == "" {
		cbName = ImportModuleCallbacks
	}
	if r.Module(cbName) != nil {
		return nil, fmt.Errorf("callback module %q already instantiated", cbName)
	}

	// The trampolines only reach the gateway once the engine runs SQL, so the
	// host module can be registered before the gateway exists
	d := newDispatcher(log)
	callbacks, err := d.instantiate(ctx, r, cbName)
	if err != nil {
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	if r.Module(wasi_snapshot_preview1.ModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			callbacks.Close(ctx)
			return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}

	modCfg := wazero.NewModuleConfig().WithName(name)
	if cfg.Stdin != nil {
		modCfg = modCfg.WithStdin(cfg.Stdin)
	}
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}
	if cfg.FSConfig != nil {
		modCfg = modCfg.WithFSConfig(cfg.FSConfig)
	} else if cfg.FS != nil {
		modCfg = modCfg.WithFSConfig(wazero.NewFSConfig().WithFSMount(cfg.FS, "/"))
	}

	// Reactor mode: no _start
	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		callbacks.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			mod.Close(ctx)
			callbacks.Close(ctx)
			return nil, fmt.Errorf("_initialize failed: %w", err)
		}
	}

	gw, err := NewGateway(ctx, mod)
	if err != nil {
		mod.Close(ctx)
		callbacks.Close(ctx)
		return nil, err
	}
	d.gw = gw
	log.Logf("[DEBUG] engine module %s instantiated, callbacks in %q", name, cbName)

	return &Instance{
		runtime:   r,
		mod:       mod,
		callbacks: callbacks,
		gw:        gw,
		log:       log,
		handlers:  make(map[uint32]*connHandlers),
	}, nil
}

// Gateway returns the low-level call gateway of the engine.
func (in *Instance) Gateway() *Gateway {
	return in.gw
}

// Functions and collations. The engine owns the registration from here on
// and releases the callback handle through the destroy trampoline when the
// function is replaced or dropped, or when the connection closes.

// CreateFunction registers fn as the scalar SQL function name with nArgs
// arguments (-1 for any).
func (in *Instance) CreateFunction(ctx context.Context, db uint32, name string, nArgs, flags int, fn ScalarFunc) (int, error) {
	h := Registry.Register(name, fn)
	rc, err := in.gw.CreateFunction(ctx, db, name, nArgs, flags, h)
	if err != nil {
		Registry.Free(h)
	}
	return rc, err
}

// CreateAggregateFunction registers an aggregate SQL function. create is called
// once per aggregate evaluation.
func (in *Instance) CreateAggregateFunction(ctx context.Context, db uint32, name string, nArgs, flags int, create AggregateFunc) (int, error) {
	h := Registry.Register(name, create)
	rc, err := in.gw.CreateAggregateFunction(ctx, db, name, nArgs, flags, h, false)
	if err != nil {
		Registry.Free(h)
	}
	return rc, err
}

// CreateWindowFunction registers an aggregate SQL function that can also be
// used as a window function.
func (in *Instance) CreateWindowFunction(ctx context.Context, db uint32, name string, nArgs, flags int, create WindowFunc) (int, error) {
	h := Registry.Register(name, create)
	rc, err := in.gw.CreateAggregateFunction(ctx, db, name, nArgs, flags, h, true)
	if err != nil {
		Registry.Free(h)
	}
	return rc, err
}

// DropFunction removes the function name with nArgs arguments.
func (in *Instance) DropFunction(ctx context.Context, db uint32, name string, nArgs int) (int, error) {
	return in.gw.CreateNullFunction(ctx, db, name, nArgs)
}

// CreateCollation registers fn as the collating sequence name.
func (in *Instance) CreateCollation(ctx context.Context, db uint32, name string, fn CollationFunc) (int, error) {
	h := Registry.Register(name, fn)
	rc, err := in.gw.CreateCollation(ctx, db, name, h)
	// the engine does not call the destructor when the registration fails
	if err != nil || rc != OK {
		Registry.Free(h)
	}
	return rc, err
}

// DropCollation removes the collating sequence name.
func (in *Instance) DropCollation(ctx context.Context, db uint32, name string) (int, error) {
	return in.gw.DestroyCollation(ctx, db, name)
}

// Hooks and handlers. A nil callback removes the current one.

// SetUpdateHook installs fn as the update hook of db.
func (in *Instance) SetUpdateHook(ctx context.Context, db uint32, fn UpdateFunc) error {
	h := registerHandler(fn, fn == nil)
	prev, err := in.gw.UpdateHook(ctx, db, h)
	if err != nil {
		Registry.Free(h)
		return err
	}
	in.replaced(db, prev, func(c *connHandlers) *udf.Handle { return &c.update }, h)
	return nil
}

// SetCommitHook installs fn as the commit hook of db.
func (in *Instance) SetCommitHook(ctx context.Context, db uint32, fn CommitFunc) error {
	h := registerHandler(fn, fn == nil)
	prev, err := in.gw.CommitHook(ctx, db, h)
	if err != nil {
		Registry.Free(h)
		return err
	}
	in.replaced(db, prev, func(c *connHandlers) *udf.Handle { return &c.commit }, h)
	return nil
}

// SetRollbackHook installs fn as the rollback hook of db.
func (in *Instance) SetRollbackHook(ctx context.Context, db uint32, fn RollbackFunc) error {
	h := registerHandler(fn, fn == nil)
	prev, err := in.gw.RollbackHook(ctx, db, h)
	if err != nil {
		Registry.Free(h)
		return err
	}
	in.replaced(db, prev, func(c *connHandlers) *udf.Handle { return &c.rollback }, h)
	return nil
}

// SetBusyHandler installs fn as the busy handler of db.
func (in *Instance) SetBusyHandler(ctx context.Context, db uint32, fn BusyFunc) (int, error) {
	h := registerHandler(fn, fn == nil)
	rc, err := in.gw.BusyHandler(ctx, db, h)
	if err != nil || rc != OK {
		Registry.Free(h)
		return rc, err
	}
	in.swap(db, func(c *connHandlers) *udf.Handle { return &c.busy }, h)
	return rc, nil
}

// SetProgressHandler installs fn to be called every nOps virtual machine
// instructions while db runs a statement.
func (in *Instance) SetProgressHandler(ctx context.Context, db uint32, nOps int, fn ProgressFunc) error {
	h := registerHandler(fn, fn == nil)
	if err := in.gw.ProgressHandler(ctx, db, nOps, h); err != nil {
		Registry.Free(h)
		return err
	}
	in.swap(db, func(c *connHandlers) *udf.Handle { return &c.progress }, h)
	return nil
}

// registerHandler returns the handle of fn, or 0 when the callback is being
// removed.
func registerHandler(fn any, remove bool) udf.Handle {
	if remove {
		return 0
	}
	return Registry.Register("", fn)
}

// replaced records h as the current handler and releases prev, the user data
// the engine reported for the hook it replaced.
func (in *Instance) replaced(db, prev uint32, field func(*connHandlers) *udf.Handle, h udf.Handle) {
	in.mu.Lock()
	defer in.mu.Unlock()
	Registry.Free(prev)
	in.setLocked(db, field, h)
}

// swap records h as the current handler and releases the one it replaced.
func (in *Instance) swap(db uint32, field func(*connHandlers) *udf.Handle, h udf.Handle) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.handlers[db]; ok {
		Registry.Free(*field(c))
	}
	in.setLocked(db, field, h)
}

func (in *Instance) setLocked(db uint32, field func(*connHandlers) *udf.Handle, h udf.Handle) {
	c, ok := in.handlers[db]
	if !ok {
		c = &connHandlers{}
		in.handlers[db] = c
	}
	*field(c) = h
}

func (in *Instance) releaseLocked(db uint32) {
	c, ok := in.handlers[db]
	if !ok {
		return
	}
	for _, h := range []udf.Handle{c.update, c.commit, c.rollback, c.busy, c.progress} {
		Registry.Free(h)
	}
	delete(in.handlers, db)
}

// Open opens a connection; see Gateway.Open.
func (in *Instance) Open(ctx context.Context, filename string, flags int) (db uint32, rc int, err error) {
	db, rc, err = in.gw.Open(ctx, filename, flags)
	if err != nil || db == 0 {
		return db, rc, err
	}
	// handlers left behind by a connection at the same address that was
	// closed without CloseDB
	in.mu.Lock()
	in.releaseLocked(db)
	in.mu.Unlock()
	return db, rc, nil
}

// CloseDB closes the connection db and, once the engine has let go of it,
// releases the handles of its hooks and handlers. Connections with hooks or
// handlers installed through the Instance must be closed here rather than
// with Gateway.Close.
func (in *Instance) CloseDB(ctx context.Context, db uint32) (int, error) {
	rc, err := in.gw.Close(ctx, db)
	if err != nil || rc != OK {
		return rc, err
	}
	in.mu.Lock()
	in.releaseLocked(db)
	in.mu.Unlock()
	return rc, nil
}

// Close releases the engine and callback modules. Connections still open are
// dropped with the engine's memory.
func (in *Instance) Close(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	for db := range in.handlers {
		in.releaseLocked(db)
	}

	var errs *multierror.Error
	if in.mod != nil {
		if err := in.mod.Close(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if in.callbacks != nil {
		if err := in.callbacks.Close(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close callbacks: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
