// Package pnps implements the pnps-utils command line tool: per-sample
// pN/pS calculation for annotated coding regions from aligned
// sequencing data.
package pnps

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var version = "development"

// Handler is a runnable subcommand.
type Handler interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

type handlerFunc func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int

func (f handlerFunc) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return f(prog, args, stdin, stdout, stderr)
}

var printVersion = handlerFunc(func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintln(stdout, version)
	return 0
})

var handlers = map[string]Handler{
	"version":   printVersion,
	"-version":  printVersion,
	"--version": printVersion,

	"config": &configcmd{},
	"parse":  &parsecmd{},
	"calc":   &calccmd{},
	"stats":  &statscmd{},
}

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(runCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func runCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	h, ok := handlers[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unrecognized command %q\n", args[0])
		usage(stderr)
		return 2
	}
	return h.RunCommand(prog+" "+args[0], args[1:], stdin, stdout, stderr)
}

func usage(w io.Writer) {
	var names []string
	for name := range handlers {
		if name[0] != '-' {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	fmt.Fprintf(w, "available commands: %v\n", names)
}
