package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/hunter-cli/internal/correlate"
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Rank phone numbers seen in the cells of a mission's scans",
	Long: "Correlates the mission's call and session records with the cells captured by its scans " +
		"inside a time window. Window bounds without an offset are read in ingest.timezone.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		q, err := correlateQuery(cmd, env)
		if err != nil {
			return err
		}

		resp := env.Service.Report(ctx, q)
		if !resp.Success {
			if resp.Reason != "" {
				return eris.Errorf("correlate: %s: %s", resp.Reason, resp.Error)
			}
			return eris.New(resp.Error)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "table" {
			formatReport(os.Stdout, resp.Data)
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

// correlateQuery builds the query from flags, falling back to the engine
// defaults for --min and --counterpart.
func correlateQuery(cmd *cobra.Command, env *hunterEnv) (correlate.Query, error) {
	mission, _ := cmd.Flags().GetString("mission")
	startRaw, _ := cmd.Flags().GetString("start")
	endRaw, _ := cmd.Flags().GetString("end")
	minOcc, _ := cmd.Flags().GetInt("min")

	q := correlate.Query{
		MissionID:      mission,
		MinOccurrences: minOcc,
		Counterpart:    env.Service.Defaults().AttributeCounterpartCell,
	}
	if cmd.Flags().Changed("counterpart") {
		q.Counterpart, _ = cmd.Flags().GetBool("counterpart")
	}

	var err error
	if q.Start, err = correlate.ParseWindowTime(startRaw, env.Location); err != nil {
		return q, err
	}
	if q.End, err = correlate.ParseWindowEnd(endRaw, env.Location); err != nil {
		return q, err
	}
	return q, nil
}

// formatReport writes a report summary and its ranked results to w.
func formatReport(out io.Writer, rep *correlate.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Mission:\t%s\n", rep.MissionID)
	_, _ = fmt.Fprintf(w, "Window:\t%s .. %s\n", rep.Start.Format("2006-01-02 15:04:05Z07:00"), rep.End.Format("2006-01-02 15:04:05Z07:00"))
	_, _ = fmt.Fprintf(w, "Scan cells:\t%d\n", rep.ScanCells)
	_, _ = fmt.Fprintf(w, "Calls scanned:\t%d\n", rep.CallsScanned)
	_, _ = fmt.Fprintf(w, "Sessions scanned:\t%d\n", rep.SessionsScanned)
	if rep.Area != nil {
		_, _ = fmt.Fprintf(w, "Scan area:\t%.5f,%.5f .. %.5f,%.5f\n", rep.Area.MinLat, rep.Area.MinLon, rep.Area.MaxLat, rep.Area.MaxLon)
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "NUMBER\tCELLS\tOCCURRENCES\tCONFIDENCE\tOPERATORS\tFIRST_SEEN\tLAST_SEEN")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----------\t----------\t---------\t----------\t---------")
	for _, r := range rep.Results {
		ops := make([]string, len(r.Operators))
		for i, op := range r.Operators {
			ops[i] = string(op)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%s\t%s\t%s\n",
			r.Number,
			r.DistinctCells,
			r.Occurrences,
			r.Confidence,
			strings.Join(ops, ","),
			r.FirstSeen.Format("2006-01-02 15:04"),
			r.LastSeen.Format("2006-01-02 15:04"),
		)
	}
	if len(rep.Results) == 0 {
		_, _ = fmt.Fprintln(w, "(no numbers matched)")
	}
	_ = w.Flush()
}

func init() {
	correlateCmd.Flags().String("mission", "", "mission id")
	correlateCmd.Flags().String("start", "", "window start (RFC 3339 or 2006-01-02 15:04:05)")
	correlateCmd.Flags().String("end", "", "window end (RFC 3339 or 2006-01-02 15:04:05)")
	correlateCmd.Flags().Int("min", 0, "minimum distinct cells per number (default from config)")
	correlateCmd.Flags().Bool("counterpart", false, "also credit a call's cell to its other parties (default from config)")
	correlateCmd.Flags().String("format", "json", "output format (json, table)")
	rootCmd.AddCommand(correlateCmd)
}
