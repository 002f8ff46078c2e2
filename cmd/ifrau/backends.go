package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gezibash/ifrau/internal/cli"
	"github.com/gezibash/ifrau/pkg/channel"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List channel backends and their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("output")
			t := cli.NewOutput(cli.ParseFormat(format), cmd.OutOrStdout()).Table("backends", "Backend", "Defaults")
			for _, name := range channel.ListBackends() {
				defaults := channel.GetDefaults(name)
				keys := make([]string, 0, len(defaults))
				for k := range defaults {
					keys = append(keys, k)
				}
				slices.Sort(keys)

				pairs := make([]string, 0, len(keys))
				for _, k := range keys {
					pairs = append(pairs, fmt.Sprintf("%s=%q", k, defaults[k]))
				}
				t.AddRow(name, strings.Join(pairs, " "))
			}
			return t.Render()
		},
	}
}
