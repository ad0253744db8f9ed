package main

import (
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"querybridge/internal/config"
)

type rootOptions struct {
	configPath   string
	printMetrics bool

	app *app
}

// NewRootCmd creates the querybridge command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "querybridge",
		Short: "Run read-only queries against configured databases",
		Long: `querybridge connects to PostgreSQL, MySQL, SQL Server, SQLite and MongoDB
through one adapter contract. SQL is validated as read-only before any
connection is opened, and every request gets a fresh connection that is
always released.

Connections are declared in querybridge.yaml. Passwords and connection URLs
are stored encrypted with a master key read from the environment or the OS
keyring.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.app = newApp(cfg, keySource(cfg), cmd.ErrOrStderr())
			opts.app.cache.Start(cmd.Context())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.app == nil {
				return nil
			}
			opts.app.cache.Stop()
			if opts.printMetrics {
				return writeMetrics(cmd, opts.app)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./configs/querybridge.yaml or ./querybridge.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.printMetrics, "print-metrics", false, "write collected metrics to stderr on exit")

	cmd.AddCommand(
		newEnginesCmd(opts),
		newValidateCmd(opts),
		newKeygenCmd(opts),
		newEncryptCmd(opts),
		newQueryCmd(opts),
		newFindCmd(opts),
		newSchemaCmd(opts),
		newPreviewCmd(opts),
		newTestCmd(opts),
	)

	return cmd
}

// writeMetrics dumps the invocation's registry in the text exposition format.
func writeMetrics(cmd *cobra.Command, a *app) error {
	families, err := a.promReg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(cmd.ErrOrStderr(), expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
