package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const usage = `gochat is a chat client backend for OpenAI-compatible APIs.

Usage:
  gochat <command> [flags]

Commands:
  serve    Start the HTTP server for the browser client
  models   List the models offered by the configured endpoint
  chat     Chat with a model from the terminal

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdin, os.Stdout)
}

func execute(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return printUsage(out)
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "models":
		return listModels(ctx, args[1:], out)
	case "chat":
		return chat(ctx, args[1:], in, out)
	case "help", "-h", "--help":
		return printUsage(out)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage(out io.Writer) error {
	fmt.Fprintln(out, strings.TrimSpace(usage))
	return nil
}
