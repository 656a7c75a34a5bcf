package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/tidepool/catalog"
)

func newTablesCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "tables [name]",
		Short: "List queryable tables, or describe one table's columns",
		Long: `Without arguments, lists every table the session can query.
With a table name, prints the table's columns and declared types.

Examples:
  tidepool tables
  tidepool tables --category Profile
  tidepool tables Contact`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connectFromFlags(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			ctx := cmd.Context()

			if len(args) == 1 {
				table, err := conn.DescribeTable(ctx, args[0])
				if err != nil {
					return err
				}
				return writeTableDescription(cmd.OutOrStdout(), table)
			}

			tables, err := conn.ListTables(ctx, catalog.Filter{EntityCategory: category})
			if err != nil {
				return err
			}
			return writeTableList(cmd.OutOrStdout(), tables)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by table category")
	return cmd
}
