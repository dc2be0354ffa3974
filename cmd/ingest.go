package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/hunter-cli/internal/ingest"
	"github.com/sells-group/hunter-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest operator exports or scan files into a mission",
	Long: "Loads one or more files as independent upload batches. Local files are given with --file; " +
		"remote drops with --source (ftp://, http:// or https://). Interrupting the command stops each " +
		"file at its next chunk boundary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opRaw, _ := cmd.Flags().GetString("operator")
		kindRaw, _ := cmd.Flags().GetString("kind")
		mission, _ := cmd.Flags().GetString("mission")
		files, _ := cmd.Flags().GetStringArray("file")
		sources, _ := cmd.Flags().GetStringArray("source")

		reqs, err := ingestRequests(opRaw, kindRaw, mission, files, sources)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "store", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		outcomes := env.Ingestor.IngestAll(ctx, reqs)

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if err := writeOutcomesJSON(os.Stdout, outcomes); err != nil {
				return err
			}
		} else {
			formatOutcomes(os.Stdout, outcomes)
		}

		var failed int
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return eris.Errorf("%d of %d files failed", failed, len(outcomes))
		}
		return nil
	},
}

// ingestRequests builds one request per local file and remote source.
func ingestRequests(opRaw, kindRaw, mission string, files, sources []string) ([]ingest.Request, error) {
	op, err := model.ParseOperator(opRaw)
	if err != nil {
		return nil, err
	}
	kind, err := model.ParseRecordKind(kindRaw)
	if err != nil {
		return nil, err
	}
	if mission == "" {
		return nil, eris.New("--mission is required")
	}
	if len(files)+len(sources) == 0 {
		return nil, eris.New("at least one --file or --source is required")
	}

	reqs := make([]ingest.Request, 0, len(files)+len(sources))
	for _, f := range files {
		reqs = append(reqs, ingest.Request{
			Operator:  op,
			Kind:      kind,
			MissionID: mission,
			FileName:  filepath.Base(f),
			Location:  f,
		})
	}
	for _, s := range sources {
		reqs = append(reqs, ingest.Request{
			Operator:  op,
			Kind:      kind,
			MissionID: mission,
			FileName:  sourceName(s),
			Location:  s,
		})
	}
	return reqs, nil
}

// sourceName returns the file name of a remote location without its query.
func sourceName(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	return path.Base(location)
}

// formatOutcomes writes a per-file summary table to w.
func formatOutcomes(out io.Writer, outcomes []ingest.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tBATCH\tSTATUS\tPROCESSED\tFAILED\tDUPLICATES\tOTHER\tSUCCESS\tERROR")
	_, _ = fmt.Fprintln(w, "----\t-----\t------\t---------\t------\t----------\t-----\t-------\t-----")

	for _, o := range outcomes {
		res := o.Result
		if res == nil {
			res = &model.BatchResult{Status: model.BatchStatusFailed}
		}
		errMsg := res.Error
		if errMsg == "" && o.Err != nil {
			errMsg = o.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.1f%%\t%s\n",
			o.Request.FileName,
			truncateID(res.BatchID),
			res.Status,
			res.Processed,
			res.FailedValidation,
			res.Duplicates,
			res.OtherErrors,
			res.SuccessRate()*100,
			errMsg,
		)
	}
	_ = w.Flush()
}

type outcomeJSON struct {
	Request ingest.Request     `json:"request"`
	Result  *model.BatchResult `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func writeOutcomesJSON(out io.Writer, outcomes []ingest.Outcome) error {
	rows := make([]outcomeJSON, len(outcomes))
	for i, o := range outcomes {
		rows[i] = outcomeJSON{Request: o.Request, Result: o.Result}
		if o.Err != nil {
			rows[i].Error = o.Err.Error()
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	ingestCmd.Flags().String("operator", "", "operator that produced the files (claro, movistar, tigo, wom, hunter)")
	ingestCmd.Flags().String("kind", "", "record kind (calls, sessions, scan)")
	ingestCmd.Flags().String("mission", "", "mission id the batches belong to")
	ingestCmd.Flags().StringArray("file", nil, "local file to ingest (repeatable)")
	ingestCmd.Flags().StringArray("source", nil, "remote ftp:// or http(s):// location to ingest (repeatable)")
	ingestCmd.Flags().String("format", "table", "output format (table, json)")
	rootCmd.AddCommand(ingestCmd)
}
