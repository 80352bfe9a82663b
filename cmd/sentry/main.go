// Command sentry runs the edge node: it tails Zeek log streams, correlates
// records into per-flow contexts, runs the streaming anomaly detector,
// independently monitors the notice log, and escalates threshold-crossing
// alerts to the center. Command shape (urfave/cli/v2 app with a run and a
// validate-config command) follows activecm-rita's rita.go and
// cmd/validate.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/config"
	"github.com/netwatch/telemetry/correlator"
	"github.com/netwatch/telemetry/detector"
	"github.com/netwatch/telemetry/escalator"
	"github.com/netwatch/telemetry/features"
	"github.com/netwatch/telemetry/logger"
	"github.com/netwatch/telemetry/logreader"
	"github.com/netwatch/telemetry/noticemon"
	"github.com/netwatch/telemetry/sentryhttp"
	"github.com/netwatch/telemetry/zeektypes"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "load configuration from `FILE`",
		Value:   "./sentry.hjson",
	}
}

func main() {
	app := &cli.App{
		Name:      "sentry",
		Usage:     "edge node: tail, correlate, detect, escalate",
		UsageText: "sentry [-c FILE] command",
		Commands: []*cli.Command{
			runCommand(),
			validateConfigCommand(),
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
		Usage: "validate a sentry configuration file",
		Flags: []cli.Flag{configFlag()},
		Action: func(cCtx *cli.Context) error {
			afs := afero.NewOsFs()
			if _, err := config.LoadSentryConfig(afs, cCtx.String("config")); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the edge node",
		Flags: []cli.Flag{configFlag()},
		Action: func(cCtx *cli.Context) error {
			afs := afero.NewOsFs()
			cfg, err := config.LoadSentryConfig(afs, cCtx.String("config"))
			if err != nil {
				return fmt.Errorf("sentry: loading config: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSentry(ctx, afs, cfg)
		},
	}
}

func runSentry(ctx context.Context, afs afero.Fs, cfg config.SentryConfig) error {
	log := logger.Get()

	esc := escalator.New(escalator.Config{
		OracleURL:     cfg.Escalator.OracleURL,
		QueueCapacity: cfg.Escalator.QueueCapacity,
		POSTTimeout:   cfg.Escalator.POSTTimeout,
		RetryInterval: cfg.Escalator.RetryInterval,
	})
	httpSrv := sentryhttp.New(cfg.HTTP.ListenAddr, esc)

	corr := correlator.New(cfg.Correlator.MaxFlowContexts)
	det := detector.New(detector.Config{
		TrainingSamples: cfg.Detector.TrainingSamples,
		AlertThreshold:  cfg.Detector.AlertThreshold,
		ModelPath:       cfg.Detector.ModelPath,
	}, afs)

	reader := logreader.New(afs, cfg.LogReader.SearchPaths, cfg.LogReader.PollInterval, cfg.LogReader.ScannerBufBytes)

	records := make(chan logreader.Record, 10000)
	correlatorIn := make(chan logreader.Record, 10000)
	noticeIn := make(chan logreader.Record, 10000)
	readErrs := make(chan error, 100)

	noticeMon := noticemon.New(corr.HandleNotice)

	progress := mpb.New(mpb.WithWidth(64))
	trainBar := progress.New(int64(cfg.Detector.TrainingSamples),
		mpb.BarStyle().Lbound("╢").Filler("▌").Tip("▌").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			decor.Name("Detector CALIBRATE/TRAIN", decor.WC{C: decor.DindentRight | decor.DextraSpace}),
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO), "done"),
		),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := reader.Run(gctx, records, readErrs)
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				close(correlatorIn)
				close(noticeIn)
				return nil
			case rec, ok := <-records:
				if !ok {
					close(correlatorIn)
					close(noticeIn)
					return nil
				}
				if rec.Type == zeektypes.LogTypeNotice {
					// Routed to the Notice Monitor alone: noticemon.Consume's
					// onNotice callback is corr.HandleNotice, so sending the
					// record to correlatorIn too would append it to the
					// FlowContext's Notices twice.
					noticeIn <- rec
					continue
				}
				correlatorIn <- rec
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-readErrs:
				if !ok {
					return nil
				}
				log.Warn().Err(err).Msg("log reader error")
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case rec, ok := <-correlatorIn:
				if !ok {
					return nil
				}
				enriched := corr.Handle(rec)
				if enriched == nil {
					continue
				}
				vec := features.Extract(enriched)
				score, err := det.Process(gctx, vec)
				if err != nil {
					log.Warn().Err(err).Msg("detector processing failed")
					continue
				}
				if det.Phase() != detector.PhaseDetect {
					trainBar.SetCurrent(int64(det.TrainCount()))
				} else {
					trainBar.SetCurrent(int64(cfg.Detector.TrainingSamples))
				}
				if det.Phase() == detector.PhaseDetect && score >= cfg.Detector.AlertThreshold {
					a := escalator.FromDetectorScore(score, enriched.SrcIP, enriched.DstIP, map[string]any{
						"duration_category": string(enriched.DurationCategory),
						"total_bytes":       enriched.TotalBytes,
					})
					httpSrv.PushAlert("detector", a)
					esc.Send(gctx, a)
				}
			}
		}
	})

	g.Go(func() error {
		return consumeNotices(gctx, noticeMon, noticeIn, httpSrv, esc)
	})

	g.Go(func() error {
		return httpSrv.Start(gctx)
	})

	g.Go(func() error {
		esc.Run(gctx)
		return nil
	})

	return g.Wait()
}

// consumeNotices runs the notice log independently of the correlator's own
// internal bookkeeping (§4.6): every notice record it sees becomes a
// high-confidence alert without waiting for correlation, surfaced on the
// edge HTTP alert feed and escalated immediately when auto-escalate
// applies.
func consumeNotices(ctx context.Context, mon *noticemon.Monitor, in <-chan logreader.Record, httpSrv *sentryhttp.Server, esc *escalator.Escalator) error {
	alerts := make(chan alert.Alert, 1000)

	go func() {
		defer close(alerts)
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-in:
				if !ok {
					return
				}
				if err := mon.Consume(ctx, rec, alerts); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-alerts:
			if !ok {
				return nil
			}
			httpSrv.PushAlert("zeek_notice", a)
			if noticemon.IsAutoEscalate(a) {
				esc.Send(ctx, a)
			}
		}
	}
}
