package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/caasmo/certsd"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report the expiry of every stored certificate without contacting the CA",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	gate := certsd.NewExpiryGate(a.settings.RenewBeforeMonths, time.Now, a.logger.With("component", "expiry"))

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CERTIFICATE\tEXPIRES\tDECISION\tPATH")
	for _, domain := range a.cfg.Domains() {
		for _, v := range []certsd.Variant{certsd.WildcardCert, certsd.Apex} {
			paths := certsd.PathsFor(a.cfg.DataDir, domain, v)
			decision, expiry, err := gate.Check(nil, paths.Chain)
			if err != nil {
				a.logger.Error("cannot check certificate", "path", paths.Chain, "error", err)
				tw.Flush()
				return err
			}
			expires := "-"
			if !expiry.IsZero() {
				expires = expiry.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.OrderName(domain), expires, decision, paths.Chain)
		}
	}
	return tw.Flush()
}
