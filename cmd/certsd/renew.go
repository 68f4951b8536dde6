package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/caasmo/certsd"
	"github.com/caasmo/certsd/acmeclient"
	"github.com/caasmo/certsd/cloudflare"
	"github.com/caasmo/certsd/dnscheck"
	"github.com/caasmo/certsd/notify"
	"github.com/caasmo/certsd/telemetry"
	"github.com/caasmo/certsd/zombiezen"
)

var renewCmd = &cobra.Command{
	Use:   "renew [domain...]",
	Short: "Renew the wildcard and apex certificates of the configured domains",
	Long: `Renew checks every configured domain (or only the given ones), wildcard first
then apex, and renews certificates that are missing or expire within the threshold.
The run stops at the first domain that cannot be renewed.`,
	RunE: runRenew,
}

func init() {
	renewCmd.Flags().String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
	renewCmd.Flags().Bool("trace-stdout", false, "print OpenTelemetry spans to stderr")
	renewCmd.Flags().String("otlp-endpoint", "", "OTLP gRPC collector for traces (default $OTEL_EXPORTER_OTLP_ENDPOINT)")

	viper.BindPFlag("metrics_textfile", renewCmd.Flags().Lookup("metrics-textfile"))
	viper.BindPFlag("trace_stdout", renewCmd.Flags().Lookup("trace-stdout"))
	viper.BindPFlag("otlp_endpoint", renewCmd.Flags().Lookup("otlp-endpoint"))
}

func runRenew(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := a.logger

	for _, domain := range args {
		if _, err := a.cfg.Account(domain); err != nil {
			logger.Error("cannot renew", "error", err)
			return err
		}
	}

	tcfg := telemetry.DefaultConfig(Version)
	tcfg.Stdout = viper.GetBool("trace_stdout")
	if ep := viper.GetString("otlp_endpoint"); ep != "" {
		tcfg.OTLPEndpoint = ep
	}
	shutdown, err := telemetry.Setup(ctx, tcfg)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := certsd.NewMetrics(reg)
	if path := viper.GetString("metrics_textfile"); path != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(path, reg); err != nil {
				logger.Warn("failed to write metrics textfile", "path", path, "error", err)
			}
		}()
	}

	notifiers, err := notify.FromConfig(a.cfg.Notifications)
	if err != nil {
		logger.Error("invalid notification config", "error", err)
		return err
	}
	dispatcher := certsd.NewDispatcher(notifiers, a.settings, certsd.Sleep, metrics, logger)

	opts := []certsd.RenewerOption{
		certsd.WithDispatcher(dispatcher),
		certsd.WithMetrics(metrics),
	}
	if len(a.cfg.PropagationNameservers) > 0 {
		opts = append(opts, certsd.WithPropagation(dnscheck.New(a.cfg.PropagationNameservers, logger)))
	}
	if a.cfg.HistoryDB != "" {
		db, err := zombiezen.Open(ctx, a.cfg.HistoryDB)
		if err != nil {
			logger.Error("failed to open history database", "path", a.cfg.HistoryDB, "error", err)
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close history database", "error", err)
			}
		}()
		opts = append(opts, certsd.WithHistory(db))
	}

	client := acmeclient.New(logger, acmeclient.WithUserAgent("certsd/"+Version))
	renewer := certsd.NewRenewer(a.cfg, a.settings, client.Open, cloudflare.Factory(), logger, opts...)

	var outcomes []certsd.Outcome
	if len(args) == 0 {
		outcomes, err = renewer.RenewAll(ctx)
	} else {
		outcomes, err = renewer.RenewDomains(ctx, args)
	}

	out := cmd.OutOrStdout()
	for _, o := range outcomes {
		status := "skipped"
		if o.Renewed {
			status = "renewed"
		}
		if !o.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "%s\t%s\texpires %s\n", o.Variant.OrderName(o.Domain), status, o.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	if err != nil {
		logger.Error("renewal run failed", "error", err)
		return err
	}
	logger.Info("renewal run completed", "certificates", len(outcomes))
	return nil
}
