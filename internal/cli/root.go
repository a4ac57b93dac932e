// Package cli implements the relink command line: the server itself plus
// the administrative commands that drive a running server over its API.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch args[0] {
	case "server":
		return runServer(ctx, args[1:])
	case "id":
		return runID(args[1:])
	case "get":
		return runGet(ctx, args[1:])
	case "new":
		return runNew(ctx, args[1:])
	case "set":
		return runSet(ctx, args[1:])
	case "add":
		return runAdd(ctx, args[1:])
	case "rem":
		return runRem(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	case "token":
		return runToken()
	case "version", "--version", "-v":
		printVersion()
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}
