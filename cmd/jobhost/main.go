package main

import (
	"context"
	"os"

	"jobhost/cmd/jobhost/commands"
)

func main() {
	if err := commands.NewRoot().ExecuteContext(context.Background()); err != nil {
		commands.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}
