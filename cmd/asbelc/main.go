// Package main provides asbelc, the command line driver of the Asbel
// ownership and refinement pipeline. It reads typed ASTs as JSON, reports
// diagnostics, prints the lowered IR, runs it on the reference interpreter
// and serves the pipeline over HTTP/3.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/asbel-lang/asbel/internal/cli"
)

const tool = "asbelc"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code: 0 on
// success, 1 when diagnostics or execution failed, 2 on usage errors.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "version", "-v", "--version":
		jsonOutput := false
		for _, arg := range rest {
			if arg == "--json" || arg == "-j" {
				jsonOutput = true
				break
			}
		}
		cli.PrintVersion(stdout, "Asbel compiler", jsonOutput)
		return 0
	case "check":
		return checkCmd(rest, stdout, stderr)
	case "lower":
		return lowerCmd(rest, stdout, stderr)
	case "run":
		return runCmd(rest, stdout, stderr)
	case "serve":
		return serveCmd(rest, stdout, stderr)
	case "init":
		return initCmd(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand: %s\n", sub)
		usage(stderr)
		return 2
	}
}

var commands = []cli.CommandInfo{
	{
		Name:        "check",
		Usage:       tool + " check [options] <typed-ast.json>...",
		Description: "Analyse typed ASTs and report diagnostics",
		Examples:    []string{tool + " check -watch prog.json", tool + " check -json -Werror prog.json"},
	},
	{
		Name:        "lower",
		Usage:       tool + " lower [options] <typed-ast.json>...",
		Description: "Print the lowered IR as text or JSON",
		Examples:    []string{tool + " lower -format json -o prog.ir.json prog.json"},
	},
	{
		Name:        "run",
		Usage:       tool + " run [options] <typed-ast.json> [args...]",
		Description: "Lower and execute an entry function",
		Examples:    []string{tool + " run -entry sqrt prog.json 9", tool + " run -trace prog.json"},
	},
	{
		Name:        "serve",
		Usage:       tool + " serve [options]",
		Description: "Serve the pipeline over HTTP/3",
		Examples:    []string{tool + " serve -addr 127.0.0.1:4433 -cert cert.pem -key key.pem"},
	},
	{
		Name:        "init",
		Usage:       tool + " init [options]",
		Description: "Write a configuration file",
		Examples:    []string{tool + " init -workers 4 -Werror", tool + " init -force -config ci.json"},
	},
	{
		Name:        "version",
		Usage:       tool + " version [--json]",
		Description: "Show version information",
	},
}

func command(name string) cli.CommandInfo {
	for _, c := range commands {
		if c.Name == name {
			return c
		}
	}
	return cli.CommandInfo{Name: name, Usage: tool + " " + name + " [options]"}
}

func usage(w io.Writer) {
	cli.PrintUsage(w, tool, commands)
}
