// Command cognit is the device-side companion CLI: it offloads a single
// function from the shell, manages the requirements record, and moves
// payloads through the object store. The long-lived path is the library;
// the CLI exists for provisioning and debugging devices in the field.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "cognit",
		Short: "Device-side client for the COGNIT compute fabric",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the device configuration file (YAML)")

	root.AddCommand(
		newOffloadCmd(),
		newRequirementsCmd(),
		newStorageCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cognit %s\n", version)
		},
	}
}
