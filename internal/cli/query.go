package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		format  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a SQL query and print the result set",
		Long: `Submit a SQL query, wait for completion, and print all rows.

Examples:
  # Default table output
  tidepool query "SELECT Id, Email FROM Contact LIMIT 10"

  # Pipe CSV into other tools
  tidepool query -o csv "SELECT * FROM Orders" > orders.csv

  # Force the grpc transport for one invocation
  tidepool query --transport grpc --endpoint grpcs://db.example.com:443 "SELECT 1"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connectFromFlags(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			cur, err := conn.Cursor()
			if err != nil {
				return err
			}

			if err := cur.Execute(ctx, args[0]); err != nil {
				return err
			}
			rows, err := cur.FetchAll(ctx)
			if err != nil {
				return err
			}

			if err := writeRows(cmd.OutOrStdout(), format, cur.Description(), rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d rows\n", cur.RowCount())
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format: table, csv, or json")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline for the query (0 = poll ceiling only)")
	return cmd
}
