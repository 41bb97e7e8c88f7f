package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"spectramerge/internal/ledger"
)

func newRunsCmd(o *options, stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded merge runs, most recent first",
		Long: `List recorded merge runs, most recent first.

Run history survives the process only with a persistent ledger driver, for
example SPECTRAMERGE_LEDGER_DRIVER=sqlite (file spectramerge.db by default,
see SPECTRAMERGE_LEDGER_SQLITE_PATH) or postgres. The default memory ledger
is empty in every new process.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			l, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer func() { _ = l.Close() }()
			runs, err := l.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				msg := fmt.Sprintf("no runs recorded in %s ledger", l.Driver())
				if l.Driver() == ledger.DriverMemory {
					msg += "; the memory ledger keeps no history across processes, set ledger.driver to sqlite or postgres"
				}
				_, err := fmt.Fprintln(stdout, msg)
				return err
			}
			w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tARTIFACTS\tOUT DIR\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.Status,
					r.Artifacts, r.Transcripts, r.OutDir, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")
	return cmd
}
