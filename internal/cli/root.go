// Package cli implements the tidepool command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coral-mesh/tidepool"
	"github.com/coral-mesh/tidepool/internal/config"
	"github.com/coral-mesh/tidepool/internal/logging"
	"github.com/coral-mesh/tidepool/pkg/version"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagTransport string
	flagEndpoint  string
)

var rootCmd = &cobra.Command{
	Use:   "tidepool",
	Short: "Tidepool - SQL client for the Tidepool query service",
	Long: `Submit SQL to the Tidepool analytical query service, wait for
asynchronous completion, and page through the result set.

Credentials and endpoints come from ~/.tidepool/config.yaml, TIDEPOOL_*
environment variables, or flags, in that order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.tidepool/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagTransport, "transport", "", "transport: rest, grpc, or connect")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "query service endpoint override")

	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newTablesCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("Tidepool version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// connectFromFlags resolves config file, environment, and flags into a
// live connection, prompting for a password when one is needed and stdin
// is a terminal.
func connectFromFlags(cmd *cobra.Command) (*tidepool.Connection, error) {
	path := flagConfig
	if path == "" {
		path = config.Path()
	}
	file, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flagTransport != "" {
		file.Query.Transport = flagTransport
	}
	if flagEndpoint != "" {
		file.Query.Endpoint = flagEndpoint
	}
	if flagLogLevel != "" {
		file.Log.Level = flagLogLevel
	}

	cfg, err := file.ClientConfig()
	if err != nil {
		return nil, err
	}

	if cfg.Username != "" && cfg.Password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("no password configured and stdin is not a terminal")
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", cfg.Username)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		cfg.Password = string(pw)
	}

	logger := logging.NewWithComponent(logging.Config{
		Level:  file.Log.Level,
		Pretty: file.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	}, "cli")
	cfg.Logger = &logger

	return tidepool.Connect(cfg)
}
