package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command; command output goes to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	clientFlags := &ClientFlags{}
	cmd := command{out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createControlCommand(cmd, clientFlags, "start", "Start the task (no-op when already running)"),
		createControlCommand(cmd, clientFlags, "stop", "Stop the task (no-op when already stopped)"),
		createControlCommand(cmd, clientFlags, "restart", "Stop the task and start it again after the restart delay"),
		createStatusCommand(cmd, clientFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "fgsvc",
		Short: "Single-task foreground service supervisor",
		Long: `fgsvc supervises one long-running task and exposes start, stop,
restart and status over HTTP.

Examples:
  fgsvc serve fgsvc.toml            # Run the daemon
  fgsvc start                       # Start the task via the local daemon
  fgsvc status --detail             # Detailed status
  fgsvc restart --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML/YAML config file")
	return root
}

func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate to trust for an HTTPS daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
}

func createControlCommand(c command, flags *ClientFlags, name, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Control(cmd.Context(), name, *flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStatusCommand(c command, flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the task is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Status(cmd.Context(), *flags)
		},
	}
	addClientFlags(cmd, flags)
	cmd.Flags().BoolVar(&flags.Detailed, "detail", false, "print the full status snapshot as JSON")
	return cmd
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the fgsvc daemon",
		Long: `Run the daemon: supervise the configured task and serve the control API.

Examples:
  fgsvc serve fgsvc.toml
  fgsvc serve --config=fgsvc.yaml --color=never
  fgsvc serve fgsvc.toml --daemonize --pidfile=/run/fgsvc.pid --logfile=/var/log/fgsvc.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Color, "color", "auto", "colorize text logs: auto, always, never")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file when daemonized")
	return cmd
}
