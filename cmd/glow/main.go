package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gpujit/glow/compiler"
	"github.com/gpujit/glow/compiler/front"
	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
	"github.com/gpujit/glow/compiler/transform"
)

func main() {
	irCmd := &cli.Command{
		Name:   "ir",
		Action: irAct,
		Args:   cli.Args{},
	}

	ptxCmd := &cli.Command{
		Name:   "ptx",
		Action: ptxAct,
		Args:   cli.Args{},
	}

	clCmd := &cli.Command{
		Name:   "cl",
		Action: clAct,
		Args:   cli.Args{},
	}

	app := &cli.Command{
		Name:        "glow",
		Description: "glow compiles device kernels to ptx and opencl",
		Commands: []*cli.Command{
			irCmd,
			ptxCmd,
			clCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func assemble(name string) (*il.Registry, ir.MethodHandle, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, "", errors.Wrap(err, "read file")
	}

	reg := il.NewRegistry()

	last, err := il.Assemble(reg, text)
	if err != nil {
		return nil, "", errors.Wrap(err, "assemble")
	}

	if last == nil {
		return nil, "", errors.New("no kernels in %v", name)
	}

	return reg, last.Handle, nil
}

func irAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		reg, h, err := assemble(a)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		ictx := ir.NewContext(tp.ABI64)

		m, err := front.New(reg).Compile(ctx, ictx, h)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		err = transform.Run(ctx, m, ir.Specialization{})
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		fmt.Printf("%s", m.Dump(nil))
	}

	return nil
}

func ptxAct(c *cli.Command) (err error) {
	return emitAct(c, compiler.PTX())
}

func clAct(c *cli.Command) (err error) {
	return emitAct(c, compiler.OpenCL())
}

func emitAct(c *cli.Command, be compiler.Backend) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		reg, h, err := assemble(a)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		art, err := compiler.Compile(ctx, reg, h, ir.Specialization{}, be)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		fmt.Printf("%s", art.Source)
	}

	return nil
}
