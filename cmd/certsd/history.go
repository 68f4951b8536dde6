package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/caasmo/certsd"
	"github.com/caasmo/certsd/zombiezen"
)

var historyCmd = &cobra.Command{
	Use:   "history [identifier]",
	Short: "List certificates recorded in the history database",
	Long: `History lists every issuance recorded in history_db, newest first.
With an identifier such as example.com or *.example.com only the latest record is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if a.cfg.HistoryDB == "" {
		err := errors.New("history_db is not configured")
		a.logger.Error("cannot show history", "error", err)
		return err
	}

	ctx := cmd.Context()
	db, err := zombiezen.Open(ctx, a.cfg.HistoryDB)
	if err != nil {
		a.logger.Error("failed to open history database", "path", a.cfg.HistoryDB, "error", err)
		return err
	}
	defer db.Close()

	var certs []certsd.Cert
	if len(args) == 1 {
		latest, err := db.LatestCert(ctx, args[0])
		if err != nil {
			a.logger.Error("failed to read history", "error", err)
			return err
		}
		if latest != nil {
			certs = append(certs, *latest)
		}
	} else {
		certs, err = db.ListCerts(ctx)
		if err != nil {
			a.logger.Error("failed to read history", "error", err)
			return err
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tIDENTIFIER\tISSUED\tEXPIRES")
	for _, c := range certs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.Identifier, c.IssuedAt.Format(time.RFC3339), c.ExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
