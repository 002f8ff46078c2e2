package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gezibash/ifrau/internal/config"

	// Channel backends register themselves.
	_ "github.com/gezibash/ifrau/pkg/channel/grpcchan"
	_ "github.com/gezibash/ifrau/pkg/channel/mem"
	_ "github.com/gezibash/ifrau/pkg/channel/redis"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ifrau",
		Short: "ifrau - host/embedded messaging over a channel",
		Long: `Run either side of an ifrau conversation over a channel backend.

Host:
  ifrau host --src URL      Accept a client and serve the system service

Client:
  ifrau call TYPE [ARGS]    Send a request and print the response
  ifrau emit EVENT [ARGS]   Send an event
  ifrau invoke SVC VER M    Call a host service method
  ifrau describe SVC VER    List a host service's methods

Arguments are JSON; anything that does not parse is sent as a string.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.AddCommonFlags(rootCmd)

	rootCmd.AddCommand(
		newHostCmd(),
		newCallCmd(),
		newEmitCmd(),
		newInvokeCmd(),
		newDescribeCmd(),
		newBackendsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
