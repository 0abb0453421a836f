package main

import (
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/osutil"
	"github.com/function61/pakka/pkg/pakadmin"
	"github.com/function61/pakka/pkg/pakserver"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   "pakka: artifact repository manager",
		Version: dynversion.Version,
		// hide the default "completion" subcommand from polluting UX (it can still be used). https://github.com/spf13/cobra/issues/1507
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	// admin commands are at the root level, they're used most often
	for _, entrypoint := range pakadmin.Entrypoints() {
		rootCmd.AddCommand(entrypoint)
	}

	rootCmd.AddCommand(pakserver.Entrypoint())

	osutil.ExitIfError(rootCmd.Execute())
}
