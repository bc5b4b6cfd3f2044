// Command verifier checks an exported pack bundle without access to the
// vault: it recomputes the manifest hash, rehashes every bundled artifact
// and verifies the signature.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/infrastructure/telemetry"
	"github.com/davidleathers/evidence-vault/internal/service/verifier"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verifier", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		bundlePath    = fs.String("bundle", "", "Pack bundle directory or bundle.zip")
		publicKeyPath = fs.String("public-key", "", "PEM file with the trusted verification key")
		skipArtifacts = fs.Bool("skip-artifacts", false, "Only check the manifest hash and signature")
		logLevel      = fs.String("log-level", "error", "Log level: debug, info, warn, error")
	)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *bundlePath == "" && fs.NArg() == 1 {
		*bundlePath = fs.Arg(0)
	}
	if *bundlePath == "" {
		fmt.Fprintln(stderr, "usage: verifier [-public-key key.pem] [-skip-artifacts] <bundle>")
		return exitUsage
	}

	logger, err := telemetry.NewZapLogger(*logLevel, "production")
	if err != nil {
		fmt.Fprintf(stderr, "creating logger: %v\n", err)
		return exitUsage
	}
	defer func() { _ = logger.Sync() }()

	var opts []verifier.Option
	opts = append(opts, verifier.WithLogger(logger))
	if *publicKeyPath != "" {
		pem, err := os.ReadFile(*publicKeyPath)
		if err != nil {
			fmt.Fprintf(stderr, "reading public key: %v\n", err)
			return exitUsage
		}
		opts = append(opts, verifier.WithTrustedKey(strings.TrimSpace(string(pem))))
	}

	fsys, closer, err := verifier.OpenBundle(*bundlePath)
	if err != nil {
		fmt.Fprintf(stderr, "opening bundle: %v\n", err)
		return exitUsage
	}
	defer closer.Close()

	m, proof, err := verifier.ReadBundle(fsys)
	if err != nil {
		fmt.Fprintf(stderr, "reading bundle: %v\n", err)
		return exitUsage
	}
	logger.Debug("bundle loaded",
		zap.String("pack_id", m.PackID.String()),
		zap.Int("artifacts", len(m.Artifacts)))

	var live verifier.LiveSource
	if !*skipArtifacts {
		live = verifier.NewBundleSource(fsys)
	}
	result := verifier.New(opts...).Verify(ctx, m, proof, live)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(stderr, "writing report: %v\n", err)
		return exitUsage
	}
	if !result.Valid {
		return exitInvalid
	}
	return exitValid
}
