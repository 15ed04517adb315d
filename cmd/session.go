package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-pipeline/internal/outreach"
	"github.com/sells-group/lead-pipeline/internal/session"
)

var (
	sessionLetters bool
	reportTo       string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect session documents",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if sessionLetters {
			id = session.LettersID(id)
		}
		doc, err := readSession(cmd, id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var sessionAnalysisCmd = &cobra.Command{
	Use:   "analysis <session-id>",
	Short: "Print website probabilities and which leads qualify for letters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readSession(cmd, args[0])
		if err != nil {
			return err
		}
		writeAnalysis(cmd.OutOrStdout(), doc, cfg.Outreach.Threshold)
		return nil
	},
}

var sessionReportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Mail the session report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("mail"); err != nil {
			return err
		}
		to := reportTo
		if to == "" {
			to = cfg.Outreach.ReportRecipient
		}
		if to == "" {
			return eris.New("--to is required when outreach.report_recipient is not set")
		}

		doc, err := readSession(cmd, args[0])
		if err != nil {
			return err
		}
		mailer, err := initMailer(cmd.Context())
		if err != nil {
			return err
		}
		if err := newReporter(mailer).SendReport(cmd.Context(), to, args[0], doc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report for %s sent to %s\n", args[0], to)
		return nil
	},
}

func readSession(cmd *cobra.Command, id string) (session.Document, error) {
	env := &stageEnv{}
	defer env.Close()
	if _, err := openBackends(cmd.Context(), env); err != nil {
		return nil, err
	}
	return env.Store.Read(cmd.Context(), id)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeAnalysis prints one line per website, highest probability first.
func writeAnalysis(w io.Writer, doc session.Document, threshold float64) {
	type row struct {
		website string
		pct     float64
		scored  bool
		rec     session.CompanyRecord
	}
	rows := make([]row, 0, len(doc))
	for website, rec := range doc {
		pct, ok := rec.Score()
		rows = append(rows, row{website: website, pct: pct, scored: ok, rec: rec})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].scored != rows[j].scored {
			return rows[i].scored
		}
		if rows[i].pct != rows[j].pct {
			return rows[i].pct > rows[j].pct
		}
		return rows[i].website < rows[j].website
	})

	qualified := 0
	for _, r := range rows {
		mark := " "
		if outreach.Qualifies(r.rec, threshold) {
			mark = "*"
			qualified++
		}
		if r.scored {
			fmt.Fprintf(w, "%s %5.1f%%  %s\n", mark, r.pct, r.website)
		} else {
			fmt.Fprintf(w, "%s     -   %s\n", mark, r.website)
		}
	}
	fmt.Fprintf(w, "\n%d records, %d qualify for letters (>= %.0f%% with email)\n", len(rows), qualified, threshold)
}

func init() {
	sessionShowCmd.Flags().BoolVar(&sessionLetters, "letters", false, "show the letters document instead")
	sessionReportCmd.Flags().StringVar(&reportTo, "to", "", "recipient (default outreach.report_recipient)")
	sessionCmd.AddCommand(sessionShowCmd, sessionAnalysisCmd, sessionReportCmd)
	rootCmd.AddCommand(sessionCmd)
}
