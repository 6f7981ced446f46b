package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VersionCmd returns the version command. info and short render the
// build-time version variables owned by the main package.
func VersionCmd(info, short func() string) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print detailed version information including git commit and build date.",
		Run: func(cmd *cobra.Command, args []string) {
			if compact {
				fmt.Println(short())
				return
			}
			fmt.Println(info())
		},
	}
	cmd.Flags().BoolVar(&compact, "short", false, "Print only the version and short commit")
	return cmd
}
