// The server component: catalog maintenance, async promotions and metrics
package pakserver

import (
	"fmt"
	"io"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/gokit/systemdinstaller"
	"github.com/spf13/cobra"
)

func Entrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the server component",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logTail := newLogTail(100)

			rootLogger := logex.StandardLoggerTo(io.MultiWriter(os.Stderr, logTail))

			osutil.ExitIfError(runServer(
				osutil.CancelOnInterruptOrTerminate(rootLogger),
				rootLogger,
				logTail))
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs systemd unit file to make pakka start on system boot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			serviceFile := systemdinstaller.SystemdServiceFile(
				"pakka",
				"pakka artifact repository server",
				systemdinstaller.Args("server"),
				systemdinstaller.Docs("https://github.com/function61/pakka", "https://function61.com/"))

			if err := systemdinstaller.Install(serviceFile); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			fmt.Println(systemdinstaller.GetHints(serviceFile))
		},
	})

	return cmd
}
