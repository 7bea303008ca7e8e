// Package main provides the dirsync entry point: the Lambda handler and the local operator commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/peteski22/dirsync/internal/config"
)

const usage = `usage: dirsync [command]

With no command, dirsync runs as an AWS Lambda handler.

Commands:
  init        create ~/.dirsync/config.yaml
  consent     grant tenant-wide admin consent for the application
  set-secret  store the client secret read from standard input
  test        check the credentials by reading the tenant organization`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Warn("could not load .env file", "error", err)
	}

	if len(os.Args) < 2 {
		lambda.Start(handler)
		return
	}

	if err := runCommand(context.Background(), os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runCommand runs a local operator command.
func runCommand(ctx context.Context, name string) error {
	switch name {
	case "init":
		return runInit()
	case "consent":
		return runConsent()
	case "set-secret":
		return runSetSecret(ctx, os.Stdin)
	case "test":
		return runTest(ctx, os.Stdout)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	default:
		return errors.New("unknown command " + name + "\n\n" + usage)
	}
}
