package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "omnihub",
		Short: "Multi-tenant message routing and tracing hub",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingress and routing pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	root.AddCommand(serveCmd)
	root.AddCommand(newTraceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
