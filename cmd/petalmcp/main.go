package main

import (
	"context"
	"errors"
	"os"

	"github.com/petal-labs/petalmcp/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	ctx, stop := cli.NotifyContext(context.Background())
	err := cli.NewRootCmd(version, cli.Deps{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
