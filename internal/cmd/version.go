package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		renderVersion(cmd.OutOrStdout(), versionShort)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print the bare version only")
	rootCmd.AddCommand(versionCmd)
}

// renderVersion writes version details to w (testable). The short form is
// meant for scripts; the long form carries the build provenance baked in
// via ldflags.
func renderVersion(w io.Writer, short bool) {
	v := resolvedVersion()
	if short {
		fmt.Fprintln(w, v)
		return
	}
	fmt.Fprintf(w, "warden %s\n", v)
	fmt.Fprintf(w, "  commit:  %s\n", Commit)
	fmt.Fprintf(w, "  built:   %s\n", BuildDate)
	fmt.Fprintf(w, "  runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
