// Command agent runs the personal agent runtime: a single-node HTTP server
// with per-session turn pipelines, a durable scheduler and a SQLite store.
//
// Subcommands:
//
//	serve   start the runtime (HTTP server + dispatch loop)
//	chat    interactive CLI chat against a running runtime
//	status  print the runtime status endpoint
//	init    write a starter agent.yaml and create the database
package main

import (
	"context"
	"fmt"
	"os"

	"goa.design/clue/log"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "serve":
		err = serveCmd(ctx, os.Args[2:])
	case "chat":
		err = chatCmd(ctx, os.Args[2:])
	case "status":
		err = statusCmd(ctx, os.Args[2:])
	case "init":
		err = initCmd(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Errorf(ctx, err, "command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: agent <command> [flags]

commands:
  serve   start the runtime (HTTP server + dispatch loop)
  chat    interactive CLI chat against a running runtime
  status  print the runtime status endpoint
  init    write a starter agent.yaml and create the database
`)
}
