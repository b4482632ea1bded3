package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/mcwatch/internal/version"
)

func main() {
	cmd := &cobra.Command{
		Use:           "mcwatch",
		Short:         "mcwatch polls Minecraft servers and notifies chat groups when they go up or down",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(probeCmd())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ mcwatch: %v\n", err)
		os.Exit(1)
	}
}
