package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate-io/toolgate/internal/adapter/outbound/sqlite"
	"github.com/toolgate-io/toolgate/internal/domain/audit"
)

var (
	exportFormat string
	exportOutput string
	exportFromID int64
	exportToID   int64
	exportVerify bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export redacted audit entries as CSV or JSON",
	Long: `Export writes audit entries in the requested id range to a file or
stdout. Entries are stored redacted; raw parameters never leave the chain.
With --verify the export embeds a fresh chain verification summary so the
document is self-certifying.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFormat != "csv" && exportFormat != "json" {
			return fmt.Errorf("unsupported format %q (use csv or json)", exportFormat)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := sqlite.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		var out io.Writer = os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		chain := audit.NewChain(sqlite.NewChainStore(db), nil, slog.Default(),
			audit.WithVerifyChunk(cfg.Audit.VerifyChunk))

		opts := audit.ExportOptions{
			FromID: exportFromID,
			ToID:   exportToID,
			Verify: exportVerify,
		}
		if exportFormat == "csv" {
			return chain.ExportCSV(cmd.Context(), out, opts)
		}
		return chain.ExportJSON(cmd.Context(), out, opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format: csv or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().Int64Var(&exportFromID, "from", 0, "first entry id to export")
	exportCmd.Flags().Int64Var(&exportToID, "to", 0, "last entry id to export (0 = end of log)")
	exportCmd.Flags().BoolVar(&exportVerify, "verify", false, "embed a chain verification summary")
	rootCmd.AddCommand(exportCmd)
}
