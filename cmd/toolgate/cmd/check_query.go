package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate-io/toolgate/internal/domain/sqlguard"
)

var checkQueryWhitelist bool

var checkQueryCmd = &cobra.Command{
	Use:   "check-query [query]",
	Short: "Validate a database query against the SQL guard",
	Long: `Check-query runs one query through the layered SQL validator: raw
dangerous-pattern scan, comment stripping, blocked keywords, structural
checks and (optionally) the allow-pattern whitelist. The command exits
non-zero when the query is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []sqlguard.Option
		if checkQueryWhitelist {
			opts = append(opts, sqlguard.WithWhitelist(true))
		}
		validator := sqlguard.New(opts...)

		if err := validator.Validate(args[0]); err != nil {
			var fq *sqlguard.ForbiddenQueryError
			if errors.As(err, &fq) {
				fmt.Printf("rejected: %s (%s)\n", fq.Reason, fq.Detail)
				os.Exit(1)
			}
			return err
		}

		fmt.Println("allowed")
		return nil
	},
}

func init() {
	checkQueryCmd.Flags().BoolVar(&checkQueryWhitelist, "whitelist", false, "also require an allow-pattern match")
	rootCmd.AddCommand(checkQueryCmd)
}
