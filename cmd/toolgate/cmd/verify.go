package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate-io/toolgate/internal/adapter/outbound/sqlite"
	"github.com/toolgate-io/toolgate/internal/domain/audit"
)

var (
	verifyFromID int64
	verifyToID   int64
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain's hash links",
	Long: `Verify recomputes every entry hash in the audit chain and checks each
previous-hash link. Tampering is reported, never repaired. The command
exits non-zero when the chain is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := sqlite.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		chain := audit.NewChain(sqlite.NewChainStore(db), nil, slog.Default(),
			audit.WithVerifyChunk(cfg.Audit.VerifyChunk))

		result, err := chain.VerifyChain(cmd.Context(), verifyFromID, verifyToID)
		if err != nil {
			return fmt.Errorf("verifying chain: %w", err)
		}

		fmt.Printf("entries:  %d\n", result.Total)
		fmt.Printf("verified: %d\n", result.Verified)
		fmt.Printf("valid:    %t\n", result.Valid)
		for _, issue := range result.Issues {
			fmt.Printf("  entry %d [%s]: %s\n", issue.ID, issue.Type, issue.Message)
		}

		if !result.Valid {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyFromID, "from", 0, "first entry id to verify")
	verifyCmd.Flags().Int64Var(&verifyToID, "to", 0, "last entry id to verify (0 = end of log)")
	rootCmd.AddCommand(verifyCmd)
}
