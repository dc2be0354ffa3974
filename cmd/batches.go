package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/store"
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect and purge upload batches",
}

// -- batches list --

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload batches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mission, _ := cmd.Flags().GetString("mission")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		batches, err := st.ListBatches(ctx, store.BatchFilter{
			MissionID: mission,
			Status:    model.BatchStatus(status),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "batches list")
		}

		if len(batches) == 0 {
			fmt.Fprintln(os.Stderr, "No batches found.")
			return nil
		}

		formatBatchesList(os.Stdout, batches)
		return nil
	},
}

// -- batches show --

var batchesShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show full details of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		b, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batches show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	},
}

// -- batches purge --

var batchesPurgeCmd = &cobra.Command{
	Use:   "purge <batch-id>",
	Short: "Delete a batch and every record it produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		removed, err := st.PurgeBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batches purge")
		}

		zap.L().Info("batch purged", zap.String("batch_id", args[0]), zap.Int64("records", removed))
		fmt.Fprintf(os.Stdout, "Purged batch %s (%d records)\n", args[0], removed)
		return nil
	},
}

// openStore validates the store config and returns a migrated store.
func openStore(cmd *cobra.Command) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// formatBatchesList writes a tabular list of batches to w.
func formatBatchesList(out io.Writer, batches []model.UploadBatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMISSION\tOPERATOR\tKIND\tFILE\tSTATUS\tPROCESSED\tFAILED\tDUPLICATES\tOTHER\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t----\t----\t------\t---------\t------\t----------\t-----\t-------")

	for _, b := range batches {
		file := b.FileName
		if len(file) > 30 {
			file = file[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			truncateID(b.ID),
			b.MissionID,
			b.Operator,
			b.Kind,
			file,
			b.Status,
			b.Processed,
			b.FailedValidation,
			b.Duplicates,
			b.OtherErrors,
			b.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	batchesListCmd.Flags().String("mission", "", "filter by mission id")
	batchesListCmd.Flags().String("status", "", "filter by batch status (pending, processing, completed, failed)")
	batchesListCmd.Flags().Int("limit", 50, "max number of batches to display")

	batchesCmd.AddCommand(batchesListCmd)
	batchesCmd.AddCommand(batchesShowCmd)
	batchesCmd.AddCommand(batchesPurgeCmd)
	rootCmd.AddCommand(batchesCmd)
}
