// Command oracle runs the center node: it accepts escalated alerts, dedupes
// and rate-limits them, scores and correlates them in the background, and
// serves analytics. Command shape follows cmd/sentry, itself grounded on
// activecm-rita's rita.go and cmd/validate.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/netwatch/telemetry/analytics"
	"github.com/netwatch/telemetry/centercorrelator"
	"github.com/netwatch/telemetry/config"
	"github.com/netwatch/telemetry/ingest"
	"github.com/netwatch/telemetry/logger"
	"github.com/netwatch/telemetry/oraclehttp"
	"github.com/netwatch/telemetry/scorer"
	"github.com/netwatch/telemetry/store"
	"github.com/netwatch/telemetry/store/memory"
	"github.com/netwatch/telemetry/store/postgres"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "load configuration from `FILE`",
		Value:   "./oracle.hjson",
	}
}

func main() {
	app := &cli.App{
		Name:      "oracle",
		Usage:     "center node: ingest, score, correlate, analyze",
		UsageText: "oracle [-c FILE] command",
		Commands: []*cli.Command{
			runCommand(),
			validateConfigCommand(),
			migrateCommand(),
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			fmt.Fprintf(c.App.ErrWriter, "\n[!] %+v\n", err)
			cli.OsExiter(1)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Get().Fatal().Err(err).Send()
	}
}

func validateConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate-config",
		Usage: "validate an oracle configuration file",
		Flags: []cli.Flag{configFlag()},
		Action: func(cCtx *cli.Context) error {
			afs := afero.NewOsFs()
			if _, err := config.LoadOracleConfig(afs, cCtx.String("config")); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the postgres schema (alerts, threat_intelligence tables)",
		Flags: []cli.Flag{configFlag()},
		Action: func(cCtx *cli.Context) error {
			afs := afero.NewOsFs()
			cfg, err := config.LoadOracleConfig(afs, cCtx.String("config"))
			if err != nil {
				return fmt.Errorf("oracle: loading config: %w", err)
			}
			if cfg.Env.PostgresDSN == "" {
				return fmt.Errorf("oracle: ORACLE_POSTGRES_DSN is required for migrate")
			}
			ctx := context.Background()
			db, err := postgres.Connect(ctx, cfg.Env.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.InitSchema(ctx); err != nil {
				return err
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the center node",
		Flags: []cli.Flag{configFlag()},
		Action: func(cCtx *cli.Context) error {
			afs := afero.NewOsFs()
			cfg, err := config.LoadOracleConfig(afs, cCtx.String("config"))
			if err != nil {
				return fmt.Errorf("oracle: loading config: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOracle(ctx, cfg)
		},
	}
}

func runOracle(ctx context.Context, cfg config.OracleConfig) error {
	log := logger.Get()

	var alertStore store.AlertStore
	services := map[string]oraclehttp.ServiceChecker{}
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := postgres.Connect(ctx, cfg.Env.PostgresDSN)
		if err != nil {
			return fmt.Errorf("oracle: connecting to postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.InitSchema(ctx); err != nil {
			return fmt.Errorf("oracle: initializing schema: %w", err)
		}
		alertStore = pg
		services["database"] = pg
	default:
		alertStore = memory.NewAlertStore()
		services["database"] = alwaysUp{}
	}
	kv := memory.New()
	services["key_value_store"] = alwaysUp{}

	corr := centercorrelator.New(centercorrelator.Config{TemporalWindow: cfg.Correlator.TemporalWindow}, alertStore)

	sc := scorer.New(scorer.Config{
		UseReasoningService: cfg.Scorer.UseReasoningService,
		ReasoningTimeout:    cfg.Scorer.ReasoningTimeout,
		ReasoningMaxTokens:  cfg.Scorer.ReasoningMaxTokens,
	}, alertStore, nil, log)

	pipeline := newScoringPipeline(sc, corr, alertStore, log)

	in := ingest.New(ingest.Config{
		DedupeTTL:       cfg.Ingest.DedupeTTL,
		RateLimitPerMin: cfg.Ingest.RateLimitPerMin,
	}, kv, alertStore, pipeline, log)

	an := analytics.New(analytics.Config{CurrentThreshold: cfg.Analytics.BaseConfidenceThreshold}, alertStore)

	httpSrv := oraclehttp.New(cfg.HTTP.ListenAddr, in, an, services)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pipeline.run(gctx)
		return nil
	})

	g.Go(func() error {
		return httpSrv.Start(gctx)
	})

	return g.Wait()
}

// alwaysUp is a ServiceChecker for in-process collaborators (the in-memory
// store, the in-memory key-value store) that have no reachability failure
// mode distinct from the process itself being up.
type alwaysUp struct{}

func (alwaysUp) Check(context.Context) error { return nil }

// scoringPipeline adapts scorer.Scorer and centercorrelator.Correlator into
// the single ingest.Scorer.Schedule hook: score an alert deterministically
// (or via the reasoning service, which ScoreNow persists), then run the
// three correlation channels and write the correlations with a second
// row-level update, so the Background Scorer task named in §5 covers both
// §4.8 and §4.9.
type scoringPipeline struct {
	scorer     *scorer.Scorer
	correlator *centercorrelator.Correlator
	store      store.AlertStore
	log        zerolog.Logger

	jobs chan string
}

func newScoringPipeline(sc *scorer.Scorer, corr *centercorrelator.Correlator, as store.AlertStore, log zerolog.Logger) *scoringPipeline {
	return &scoringPipeline{
		scorer:     sc,
		correlator: corr,
		store:      as,
		log:        log,
		jobs:       make(chan string, 1000),
	}
}

func (p *scoringPipeline) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, id)
		}
	}
}

func (p *scoringPipeline) Schedule(id string) {
	select {
	case p.jobs <- id:
	default:
		p.log.Warn().Str("alert_id", id).Msg("scoring pipeline queue full, dropping job")
	}
}

func (p *scoringPipeline) process(ctx context.Context, id string) {
	if err := p.scorer.ScoreNow(ctx, id); err != nil {
		p.log.Warn().Err(err).Str("alert_id", id).Msg("scoring failed")
		return
	}

	a, ok, err := p.store.Get(ctx, id)
	if err != nil || !ok {
		return
	}

	correlations, err := p.correlator.Correlate(ctx, a)
	if err != nil {
		p.log.Warn().Err(err).Str("alert_id", id).Msg("correlation failed")
		return
	}
	if a.Score == nil {
		return
	}
	if err := p.store.UpdateScoring(ctx, id, *a.Score, a.RiskLevel, correlations); err != nil {
		p.log.Warn().Err(err).Str("alert_id", id).Msg("persisting correlations failed")
	}
}
