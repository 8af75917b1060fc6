package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"radgate.org/internal/adminauth"
	"radgate.org/internal/config"
	"radgate.org/internal/enforce"
	"radgate.org/internal/httpapi"
	"radgate.org/internal/nas"
	"radgate.org/internal/obs"
	"radgate.org/internal/provision"
	"radgate.org/internal/radius"
	"radgate.org/internal/reconcile"
	storepg "radgate.org/internal/store/pg"
	"radgate.org/internal/syncfail"
	"radgate.org/internal/usage"
)

var (
	version = "0.4.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

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
	var device *nas.Client
	if cfg.NASURL != "" {
		burst := int(cfg.NASRPS)
		if burst < 1 {
			burst = 1
		}
		device = nas.New(cfg.NASURL, cfg.NASToken, nas.WithRateLimit(cfg.NASRPS, burst))
		engineOpts = append(engineOpts, provision.WithNAS(device))
	}
	engine := provision.New(store, rad, failures, engineOpts...)

	agg := usage.New(rad)
	sweeper := enforce.NewSweeper(store, agg, engine,
		enforce.WithWorkers(cfg.SweepWorkers),
		enforce.WithCallTimeout(cfg.CallTimeout))
	retries := syncfail.NewWorker(failures, engine,
		syncfail.WithCallTimeout(cfg.CallTimeout))
	reconciler := reconcile.New(store, rad)

	var authn *adminauth.Authenticator
	if cfg.AuthSecret != "" {
		authn, err = adminauth.New(cfg.AuthSecret)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
	} else {
		log.Print("RADGATE_AUTH_SECRET not set; admin endpoints are unauthenticated")
	}

	apiCfg := httpapi.Config{
		Accounts:   store,
		Engine:     engine,
		Sweeper:    sweeper,
		Retries:    retries,
		Failures:   failures,
		Usage:      agg,
		Reconciler: reconciler,
		Auth:       authn,
		Ready:      httpapi.ReadyProbe{AppDB: store.DB(), RadiusDB: rad.DB()},
		Version:    version,
	}
	if device != nil {
		apiCfg.NAS = device
	}
	api := httpapi.New(apiCfg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting radgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
