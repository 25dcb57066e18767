// Command pipeline runs the review pipeline stages:
// scrape → unify → standardize → enrich → score.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"review_pipeline/internal/adapters/observability"
	"review_pipeline/internal/domain"
	"review_pipeline/internal/shared"
)

const usage = `usage: pipeline [-v] [-config path] <command> [flags]

commands:
  migrate      [-down]                     apply (or revert) database migrations
  scrape       -sheet path                 load entities and scrape their reviews
  unify        [-entities 1,2] [-quick]    map raw records into unified reviews
  standardize  [-entities 1,2] [-quick]    detect language and translate to English
  enrich       [-entities 1,2] [-attributes sentiment,complaint,response|all]
               [-published-after date] [-all] [-quick]
  score        [-entities 1,2] [-quick]    compute entity scores
  stats        [-fresh]                    print aggregate statistics
  full         -sheet path [-quick]        scrape, unify, standardize, enrich, score
`

const (
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "debug logging")
	cfgPath := fs.String("config", envOr("PIPELINE_CONFIG", "config.yaml"), "YAML config file (optional)")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitConfig
	}

	cfg, err := shared.Load(*cfgPath)
	log.Logger = observability.NewLogger(cfg.AppEnv, *verbose)
	if err != nil {
		log.Error().Err(err).Msg("configuration")
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.Serve(cfg.MetricsAddr)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	pl := newApp(cfg)
	defer pl.Close()

	err = pl.dispatch(ctx, cmd, rest)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrConfig), errors.Is(err, flag.ErrHelp):
		log.Error().Err(err).Str("command", cmd).Msg("configuration")
		return exitConfig
	default:
		log.Error().Err(err).Str("command", cmd).Msg("stage failed")
		return exitFailed
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
