package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caasmo/certsd/zombiezen"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(context.Background(), os.Args[1:], os.Stdout, logger); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			logger.Error("export failed", "error", err)
		}
		os.Exit(1)
	}
}

// run writes the latest recorded chain of an identifier to a file or to stdout.
func run(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("export-certificate", flag.ContinueOnError)
	dbPath := fs.String("dbpath", "", "Path to the certsd history database (required)")
	identifier := fs.String("identifier", "", "Certificate identifier, e.g. example.com or *.example.com (required)")
	output := fs.String("output", "-", "Output file for the PEM chain, - for stdout")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: export-certificate -dbpath <db-file> -identifier <name> [-output <file>]\n")
		fmt.Fprintf(fs.Output(), "Writes the latest certificate chain recorded by certsd for an identifier.\n")
		fmt.Fprintf(fs.Output(), "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *identifier == "" {
		fs.Usage()
		return errors.New("dbpath and identifier are required")
	}

	logger.Info("Opening history database", "path", *dbPath)
	db, err := zombiezen.Open(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing history database", "error", err)
		}
	}()

	cert, err := db.LatestCert(ctx, *identifier)
	if err != nil {
		return err
	}
	if cert == nil {
		return fmt.Errorf("no certificate recorded for %s", *identifier)
	}
	logger.Info("Latest certificate loaded",
		"identifier", cert.Identifier,
		"issued_at", cert.IssuedAt,
		"expires_at", cert.ExpiresAt,
	)

	if *output == "-" {
		_, err := io.WriteString(stdout, cert.CertificateChain)
		return err
	}
	if err := os.WriteFile(*output, []byte(cert.CertificateChain), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *output, err)
	}
	logger.Info("Certificate chain written", "path", *output)
	return nil
}
