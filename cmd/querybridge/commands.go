package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"querybridge/internal/database"
	"querybridge/internal/database/drivers"
	"querybridge/internal/model"
	"querybridge/internal/security"
)

func newEnginesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List supported database engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			renderEngines(cmd.OutOrStdout(), opts.app.registry.ListDrivers())
			return nil
		},
	}
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check that SQL is a single read-only statement",
		Long: `Validate SQL without connecting anywhere. On success the cleaned statement
that would be sent to the engine is printed.`,
		Example: `  querybridge validate "SELECT id, name FROM users -- all"
  querybridge validate --strict "WITH t AS (SELECT 1) SELECT * FROM t"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := security.NewSQLValidator(security.WithStrictParsing(strict || opts.app.cfg.Executor.StrictValidation))
			cleaned, err := v.ValidateAndClean(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cleaned)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "also require the statement to parse as a read-only statement")
	return cmd
}

func newKeygenCmd(opts *rootOptions) *cobra.Command {
	var store bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a master key for encrypting connection secrets",
		Example: `  export QUERYBRIDGE_MASTER_KEY=$(querybridge keygen)
  querybridge keygen --store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := security.GenerateMasterKey()
			if err != nil {
				return err
			}
			if !store {
				fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
				return nil
			}

			sec := opts.app.cfg.Security
			if err := security.NewKeyringKeySource(sec.KeyringService, sec.KeyringUser).Store(key); err != nil {
				return fmt.Errorf("failed to store key in keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Master key stored in keyring (service=%s, user=%s)\n", sec.KeyringService, sec.KeyringUser)
			return nil
		},
	}

	cmd.Flags().BoolVar(&store, "store", false, "store the key in the OS keyring instead of printing it")
	return cmd
}

func newEncryptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a password or connection URL for the config file",
		Long: `Encrypt a secret with the master key. The value is read from stdin when no
argument is given, so it stays out of shell history.`,
		Example: `  echo -n 's3cret' | querybridge encrypt`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := opts.app.requireVault()
			if err != nil {
				return err
			}

			var plaintext string
			if len(args) == 1 {
				plaintext = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				plaintext = strings.TrimRight(string(b), "\r\n")
			}

			ciphertext, err := vault.Encrypt(plaintext)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ciphertext)
			return nil
		},
	}
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		connID string
		format string
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SQL query against a relational connection",
		Example: `  querybridge query --conn warehouse "SELECT * FROM orders LIMIT 5"
  querybridge query --conn warehouse -o json "SELECT count(*) AS n FROM orders"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.app.connection(connID)
			if err != nil {
				return err
			}
			result, err := opts.app.executor.ExecuteQuery(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), result, format)
		},
	}

	addConnFlag(cmd, &connID)
	addFormatFlag(cmd, &format)
	return cmd
}

func newFindCmd(opts *rootOptions) *cobra.Command {
	var (
		connID     string
		format     string
		request    string
		collection string
		operation  string
		filter     string
		sortSpec   string
		projection string
		limit      int64
		skip       int64
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Run a find, aggregate or count operation against a document connection",
		Long: `Run a document operation. Build it from flags, or pass a full JSON
descriptor with --request (use @file to read it from a file).

Filters, sort and projection documents use MongoDB extended JSON. For
aggregate, --filter holds the pipeline array.`,
		Example: `  querybridge find --conn docs --collection users --filter '{"age": {"$gt": 30}}' --limit 10
  querybridge find --conn docs --op aggregate --collection orders --filter '[{"$group": {"_id": "$status", "n": {"$sum": 1}}}]'
  querybridge find --conn docs --request @op.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.app.connection(connID)
			if err != nil {
				return err
			}

			var op model.DocumentOperation
			if request != "" {
				data, err := readArgOrFile(request)
				if err != nil {
					return err
				}
				if op, err = model.ParseDocumentOperation(data); err != nil {
					return err
				}
			} else {
				op = model.DocumentOperation{
					Collection: collection,
					Operation:  model.DocumentOperationKind(operation),
					Query:      rawOrNil(filter),
					Options: model.DocumentOptions{
						Limit:      limit,
						Skip:       skip,
						Sort:       rawOrNil(sortSpec),
						Projection: rawOrNil(projection),
					},
				}
			}

			result, err := opts.app.executor.ExecuteDocumentQuery(cmd.Context(), cfg, op)
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), result, format)
		},
	}

	addConnFlag(cmd, &connID)
	addFormatFlag(cmd, &format)
	cmd.Flags().StringVar(&request, "request", "", "full operation descriptor as JSON, or @file")
	cmd.Flags().StringVar(&collection, "collection", "", "collection name")
	cmd.Flags().StringVar(&operation, "op", string(model.DocumentFind), "operation: find, aggregate or count")
	cmd.Flags().StringVar(&filter, "filter", "", "query document, or pipeline array for aggregate")
	cmd.Flags().StringVar(&sortSpec, "sort", "", "sort document")
	cmd.Flags().StringVar(&projection, "projection", "", "projection document")
	cmd.Flags().Int64Var(&limit, "limit", 0, "maximum documents to return")
	cmd.Flags().Int64Var(&skip, "skip", 0, "documents to skip")
	cmd.MarkFlagsMutuallyExclusive("request", "collection")
	return cmd
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	var (
		connID  string
		asJSON  bool
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema of a relational connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.app.connection(connID)
			if err != nil {
				return err
			}
			if refresh {
				opts.app.schemas.Invalidate(cfg.ID)
			}

			sc, err := opts.app.schemas.GetSchemaContext(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sc.Tables)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sc.Formatted)
			return nil
		},
	}

	addConnFlag(cmd, &connID)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tables as JSON instead of text")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore any cached schema")
	return cmd
}

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	var (
		connID string
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "preview <table>",
		Short: "Show the first rows of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.app.connection(connID)
			if err != nil {
				return err
			}
			stmt, err := drivers.PreviewSQL(cfg.Type, args[0], limit)
			if err != nil {
				return err
			}
			result, err := opts.app.executor.ExecuteQuery(cmd.Context(), cfg, stmt)
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), result, format)
		},
	}

	addConnFlag(cmd, &connID)
	addFormatFlag(cmd, &format)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "rows to show")
	return cmd
}

func newTestCmd(opts *rootOptions) *cobra.Command {
	var (
		connID string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check connectivity of one or all configured connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgs := opts.app.cfg.Connections
			if connID != "" {
				cfg, err := opts.app.connection(connID)
				if err != nil {
					return err
				}
				cfgs = []model.ConnectionConfig{*cfg}
			}
			if len(cfgs) == 0 {
				return fmt.Errorf("no connections configured")
			}

			summary := opts.app.health.CheckAll(cmd.Context(), cfgs)
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
			} else {
				renderHealth(cmd.OutOrStdout(), summary)
			}
			return unhealthyError(summary)
		},
	}

	cmd.Flags().StringVar(&connID, "conn", "", "connection id (default: all connections)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func unhealthyError(summary *database.DatabaseHealthSummary) error {
	if summary.UnhealthyConnections == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d connections unhealthy", summary.UnhealthyConnections, summary.TotalConnections)
}

func addConnFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "conn", "", "connection id from the config file")
	_ = cmd.MarkFlagRequired("conn")
}

func addFormatFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", formatTable, "output format: table or json")
}

func readArgOrFile(v string) ([]byte, error) {
	if path, ok := strings.CutPrefix(v, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	}
	return []byte(v), nil
}

func rawOrNil(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.RawMessage(s)
}
