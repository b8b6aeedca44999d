// Package main is the entry point for the Vigil cloud log alert service.
package main

import (
	"context"
	"fmt"
	"os"

	"vigil/bootstrap"
	"vigil/cmd"

	"github.com/spf13/cobra"
)

// run initializes and starts the service.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}

// subcommands are dispatched before the server starts
var subcommands = map[string]func() *cobra.Command{
	"analyze": cmd.NewAnalyzeCmd,
	"dlq":     cmd.NewDLQCmd,
}

func main() {
	if len(os.Args) > 1 {
		if newCmd, ok := subcommands[os.Args[1]]; ok {
			// Strip the subcommand name since the command already knows it
			os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

			if err := newCmd().Execute(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
