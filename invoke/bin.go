package main

import (
	"encoding/hex"
	"fmt"
	"github.com/ZenLiuCN/native"
	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"log"
	"os"
	"strconv"
)

var registry *native.Registry

func main() {
	app := cli.NewApp()
	app.Usage = "native shared library invoker"
	app.Name = "Invoke"
	app.Description = "load native shared libraries, list their exports and call them with a fixed call shape"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, EnvVars: []string{"NATIVE_DEBUG"}},
		&cli.BoolFlag{Name: "lazy", Aliases: []string{"l"}, EnvVars: []string{"NATIVE_LAZY"}, Usage: "resolve native dependencies on first use"},
		&cli.BoolFlag{Name: "capture", Aliases: []string{"c"}, Usage: "forward native stdout to stderr with a [native] prefix"},
	}
	app.Before = before
	app.After = after
	app.Commands = []*cli.Command{
		{
			Name:      "symbols",
			Action:    symbols,
			Usage:     "list exported symbols of libraries",
			ArgsUsage: "<library>...",
		},
		{
			Name:   "call",
			Action: call,
			Usage:  "invoke a symbol, shapes: text, args, buffer, scalar, void",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "shape", Aliases: []string{"s"}, Value: "text", Usage: "call shape of the symbol"},
				&cli.BoolFlag{Name: "hex", Aliases: []string{"x"}, Usage: "buffer argument is hex encoded"},
				&cli.IntFlag{Name: "repeat", Aliases: []string{"n"}, Value: 1, Usage: "invoke n times"},
			},
			ArgsUsage: "<library> <symbol> [args...]",
		},
		{
			Name:      "run",
			Action:    run,
			Usage:     "invoke a void symbol and print what it wrote to stdout",
			ArgsUsage: "<library> <symbol>",
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func before(ctx *cli.Context) error {
	var opts []native.Option
	if ctx.Bool("debug") {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		native.SetLogger(l)
		opts = append(opts, native.WithDebug(true), native.WithLogger(l))
	}
	if ctx.Bool("lazy") {
		opts = append(opts, native.WithFlags(native.RTLDLazy|native.RTLDLocal))
	}
	registry = native.NewRegistry(opts...)
	return nil
}

func after(ctx *cli.Context) error {
	if registry == nil {
		return nil
	}
	if ctx.Bool("debug") {
		for _, m := range registry.Modules() {
			log.Printf("resident module:\n%s", spew.Sdump(m.Info()))
		}
	}
	_ = native.Logger().Sync()
	return registry.UnloadAll()
}

func symbols(ctx *cli.Context) (err error) {
	if ctx.NArg() == 0 {
		return fmt.Errorf("missing library list")
	}
	for _, s := range ctx.Args().Slice() {
		var names []string
		if names, err = registry.ListSymbols(s); err != nil {
			return
		}
		if ctx.NArg() > 1 {
			fmt.Printf("%s:\n", s)
		}
		for _, n := range names {
			fmt.Println(n)
		}
	}
	return
}

func call(ctx *cli.Context) (err error) {
	if ctx.NArg() < 2 {
		return fmt.Errorf("required arguments <library> <symbol> missing")
	}
	shape, err := native.ParseShape(ctx.String("shape"))
	if err != nil {
		return
	}
	args, err := parseArgs(shape, ctx.Args().Slice()[2:], ctx.Bool("hex"))
	if err != nil {
		return
	}
	var out []string
	err = capture(ctx, func() (err error) {
		var s string
		for i := 0; i < max(1, ctx.Int("repeat")); i++ {
			if s, err = registry.LoadAndInvoke(ctx.Args().Get(0), ctx.Args().Get(1), shape, args); err != nil {
				return
			}
			if shape != native.SideEffect {
				out = append(out, s)
			}
		}
		return
	})
	for _, s := range out {
		fmt.Println(s)
	}
	return
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("required arguments <library> <symbol> missing")
	}
	m, err := registry.Pin(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	var invokeErr error
	out, err := native.Capture(func() {
		_, invokeErr = m.Invoke(ctx.Args().Get(1), native.SideEffect, native.Args{})
	})
	if invokeErr != nil {
		return invokeErr
	}
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func parseArgs(shape native.Shape, rest []string, isHex bool) (a native.Args, err error) {
	switch shape {
	case native.ArgsText:
		a.Texts = rest
	case native.BufferText:
		if len(rest) != 1 {
			return a, fmt.Errorf("buffer shape takes exactly one argument")
		}
		if isHex {
			a.Buffer, err = hex.DecodeString(rest[0])
		} else {
			a.Buffer = []byte(rest[0])
		}
	case native.ScalarText:
		if len(rest) != 1 {
			return a, fmt.Errorf("scalar shape takes exactly one argument")
		}
		a.Scalar, err = strconv.ParseFloat(rest[0], 64)
	default:
		if len(rest) > 0 {
			return a, fmt.Errorf("%s shape takes no arguments", shape)
		}
	}
	return
}

// capture runs f with native stdout forwarded to stderr when --capture is set.
func capture(ctx *cli.Context, f func() error) error {
	if !ctx.Bool("capture") {
		return f()
	}
	if err := native.SetOutputCallback(func(s string) {
		_, _ = fmt.Fprint(os.Stderr, "[native] ", s)
	}); err != nil {
		return err
	}
	err := f()
	if e := native.ClearOutputCallback(); err == nil {
		err = e
	}
	return err
}
