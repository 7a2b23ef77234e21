package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/chronicle/internal/cli"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	cli.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	root.Version = fmt.Sprintf("%s (commit=%s, date=%s)", version, commit, date)

	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "chronicle: %v\n", err)
		}
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
