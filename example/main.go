// Example runs SQL statements against a wasm build of the engine.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/tetratelabs/wazero"

	sqlite "github.com/aperturerobotics/go-sqlite-wasi"
)

type options struct {
	PositionalArgs struct {
		SQL []string `positional-arg-name:"sql" description:"statements to run, in order"`
	} `positional-args:"yes"`

	Wasm string `short:"w" long:"wasm" env:"SQLITE_WASM" description:"engine wasm module"`
	DB   string `short:"d" long:"db" env:"SQLITE_DB" description:"database filename" default:":memory:"`
	Dbg  bool   `long:"dbg" description:"debug mode"`
}

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Dbg)
	if opts.Wasm == "" {
		fmt.Fprintln(os.Stderr, "engine wasm module is required, set --wasm or $SQLITE_WASM")
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		log.Printf("[ERROR] %v", err)
		fmt.Fprintln(os.Stderr, color.New(color.FgHiRed).Sprintf("failed, %v", err))
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wasm, err := os.ReadFile(opts.Wasm)
	if err != nil {
		return fmt.Errorf("can't read engine %q: %w", opts.Wasm, err)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	in, err := sqlite.NewInstance(ctx, r, wasm, &sqlite.Config{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: lgr.Std,
	})
	if err != nil {
		return fmt.Errorf("can't instantiate engine: %w", err)
	}
	defer in.Close(ctx)

	gw := in.Gateway()
	version, err := gw.LibVersion(ctx)
	if err != nil {
		return err
	}
	log.Printf("[INFO] sqlite %s, db %s", version, opts.DB)

	db, rc, err := in.Open(ctx, opts.DB, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return err
	}
	defer in.CloseDB(ctx, db)
	if rc != sqlite.OK {
		msg, _ := gw.ErrMsg(ctx, db)
		return fmt.Errorf("can't open %s: %s (%d)", opts.DB, msg, rc)
	}

	if _, err := in.CreateFunction(ctx, db, "double", 1, sqlite.Deterministic, func(c *sqlite.Context, args []sqlite.Value) {
		c.ResultInt64(args[0].Int64() * 2)
	}); err != nil {
		return err
	}

	for _, sql := range opts.PositionalArgs.SQL {
		if err := query(ctx, os.Stdout, gw, db, sql); err != nil {
			return err
		}
	}
	return nil
}

// query prepares sql and prints every row it produces, tab separated.
func query(ctx context.Context, w io.Writer, gw *sqlite.Gateway, db uint32, sql string) error {
	log.Printf("[DEBUG] query %q", sql)
	stmt, rc, err := gw.Prepare(ctx, db, sql)
	if err != nil {
		return err
	}
	if rc != sqlite.OK {
		msg, _ := gw.ErrMsg(ctx, db)
		return fmt.Errorf("prepare %q: %s", sql, msg)
	}
	if stmt == 0 {
		return nil // empty statement
	}
	defer gw.Finalize(ctx, stmt)

	n, err := gw.ColumnCount(ctx, stmt)
	if err != nil {
		return err
	}
	if n > 0 {
		names := make([]string, n)
		for i := range names {
			if names[i], err = gw.ColumnName(ctx, stmt, i); err != nil {
				return err
			}
		}
		fmt.Fprintln(w, color.New(color.FgCyan).Sprint(strings.Join(names, "\t")))
	}

	for {
		rc, err := gw.Step(ctx, stmt)
		if err != nil {
			return err
		}
		switch rc {
		case sqlite.DONE:
			return nil
		case sqlite.ROW:
		default:
			msg, _ := gw.ErrMsg(ctx, db)
			return fmt.Errorf("step %q: %s (%d)", sql, msg, rc)
		}

		row := make([]string, n)
		for i := range row {
			typ, err := gw.ColumnType(ctx, stmt, i)
			if err != nil {
				return err
			}
			if typ == sqlite.NULL {
				row[i] = "NULL"
				continue
			}
			if row[i], err = gw.ColumnText(ctx, stmt, i); err != nil {
				return err
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.CallerFile}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
