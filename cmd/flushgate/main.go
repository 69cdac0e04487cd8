// Command flushgate drives an appender, a durabilizer and a set of observers
// against one file and reports whether every observer saw only durable bytes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:           "flushgate",
		Short:         "Coordinate append, sync and read-back of an append-only file",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.AddCommand(newRunCmd())
	c.AddCommand(newVerifyCmd())
	return c
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flushgate:", err)
		os.Exit(1)
	}
}
