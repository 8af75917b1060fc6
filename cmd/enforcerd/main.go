// enforcerd runs the background side of the service: the quota sweep,
// the sync-failure retry worker, and the nightly credential
// reconciliation. Without flags it schedules all three on cron
// expressions from the environment; with a one-shot flag it runs the
// named pass once and exits, which is what operators and CI use.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"radgate.org/internal/config"
	"radgate.org/internal/enforce"
	"radgate.org/internal/nas"
	"radgate.org/internal/obs"
	"radgate.org/internal/provision"
	"radgate.org/internal/radius"
	"radgate.org/internal/reconcile"
	storepg "radgate.org/internal/store/pg"
	"radgate.org/internal/syncfail"
	"radgate.org/internal/usage"
)

var version = "0.4.1"

func main() {
	log.SetFlags(0)
	var (
		sweepOnce     = flag.Bool("sweep", false, "run one sweep pass and exit")
		dryRun        = flag.Bool("dry-run", false, "with -sweep: evaluate only, change nothing")
		retryOnce     = flag.Bool("retry", false, "run one retry pass and exit")
		reconcileOnce = flag.Bool("reconcile", false, "run one reconciliation pass and exit")
	)
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, "dev")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AppDSN == "" || cfg.RadiusDSN == "" {
		log.Fatal("RADGATE_PG_DSN and RADGATE_RADIUS_DSN are required")
	}

	store, err := storepg.Open(cfg.AppDSN)
	if err != nil {
		log.Fatalf("open app db: %v", err)
	}
	defer store.Close()

	rad, err := radius.Open(cfg.RadiusDSN)
	if err != nil {
		log.Fatalf("open radius db: %v", err)
	}
	defer rad.Close()

	failures := syncfail.NewPG(store.DB())

	engineOpts := []provision.Option{
		provision.WithCallTimeout(cfg.CallTimeout),
		provision.WithMaxRetries(cfg.MaxRetries),
		provision.WithDefaultGroup(cfg.DefaultGroup),
	}
	if cfg.NASURL != "" {
		burst := int(cfg.NASRPS)
		if burst < 1 {
			burst = 1
		}
		engineOpts = append(engineOpts,
			provision.WithNAS(nas.New(cfg.NASURL, cfg.NASToken, nas.WithRateLimit(cfg.NASRPS, burst))))
	}
	engine := provision.New(store, rad, failures, engineOpts...)

	sweeper := enforce.NewSweeper(store, usage.New(rad), engine,
		enforce.WithWorkers(cfg.SweepWorkers),
		enforce.WithCallTimeout(cfg.CallTimeout))
	retries := syncfail.NewWorker(failures, engine,
		syncfail.WithCallTimeout(cfg.CallTimeout))
	reconciler := reconcile.New(store, rad)

	runSweep := func(ctx context.Context, dry bool) error {
		rep, err := sweeper.Run(ctx, dry)
		if err != nil {
			obs.LogEvent("sweep_error", map[string]any{"error": err.Error()})
			return err
		}
		obs.LogEvent("sweep_done", map[string]any{
			"dry_run":      rep.DryRun,
			"checked":      rep.Checked,
			"breached":     rep.Breached,
			"disconnected": rep.Disconnected,
			"skipped":      rep.Skipped,
			"errors":       rep.Errors,
		})
		return nil
	}
	runRetry := func(ctx context.Context) error {
		rep, err := retries.Run(ctx)
		if err != nil {
			obs.LogEvent("retry_error", map[string]any{"error": err.Error()})
			return err
		}
		obs.LogEvent("retry_done", map[string]any{
			"claimed":     rep.Claimed,
			"resolved":    rep.Resolved,
			"rescheduled": rep.Rescheduled,
			"failed":      rep.Failed,
		})
		return nil
	}
	runReconcile := func(ctx context.Context) error {
		rep, err := reconciler.Run(ctx)
		if err != nil {
			obs.LogEvent("reconcile_error", map[string]any{"error": err.Error()})
			return err
		}
		obs.LogEvent("reconcile_done", map[string]any{
			"credential_rows": rep.CredentialRows,
			"orphans":         len(rep.Orphans),
			"quarantined":     rep.Quarantined,
			"errors":          rep.Errors,
		})
		return nil
	}

	ctx := context.Background()

	// One-shot mode.
	if *sweepOnce || *retryOnce || *reconcileOnce {
		var failed bool
		if *sweepOnce && runSweep(ctx, *dryRun) != nil {
			failed = true
		}
		if *retryOnce && runRetry(ctx) != nil {
			failed = true
		}
		if *reconcileOnce && runReconcile(ctx) != nil {
			failed = true
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.SweepCron, func() { _ = runSweep(ctx, cfg.SweepDryRun) }); err != nil {
		log.Fatalf("sweep cron %q: %v", cfg.SweepCron, err)
	}
	if _, err := c.AddFunc(cfg.RetryCron, func() { _ = runRetry(ctx) }); err != nil {
		log.Fatalf("retry cron %q: %v", cfg.RetryCron, err)
	}
	if _, err := c.AddFunc(cfg.ReconcileCron, func() { _ = runReconcile(ctx) }); err != nil {
		log.Fatalf("reconcile cron %q: %v", cfg.ReconcileCron, err)
	}
	c.Start()

	log.Printf("radgate-enforcerd %s running (sweep %q, retry %q, reconcile %q)",
		version, cfg.SweepCron, cfg.RetryCron, cfg.ReconcileCron)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	// Stop returns once scheduled jobs that already started have finished.
	<-c.Stop().Done()
	log.Println("Stopped")
}
