package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fiatmesh/internal/chain"
	"fiatmesh/internal/config"
	"fiatmesh/internal/db"
	"fiatmesh/internal/events"
	"fiatmesh/internal/evidence"
	internalhttp "fiatmesh/internal/http"
	"fiatmesh/internal/metrics"
	"fiatmesh/internal/rates"
	"fiatmesh/internal/services"
	"fiatmesh/internal/store"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	metrics.Register()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	st := store.NewPGStore(pool)
	hub := events.NewHub()

	var chainClient chain.Client
	if len(cfg.Chain.RPCEndpoints) > 0 {
		chainClient, err = chain.NewMultiRPCClient(cfg.Chain.RPCEndpoints,
			cfg.Chain.FailoverThreshold, time.Duration(cfg.Chain.TimeoutSeconds)*time.Second)
		if err != nil {
			log.Fatalf("chain client init failed: %v", err)
		}
	}

	var rateSource rates.Source
	if cfg.Rates.Endpoint != "" {
		rateSource = rates.NewHTTPSource(cfg.Rates.Endpoint, time.Duration(cfg.Rates.TimeoutSeconds)*time.Second)
	} else {
		rateSource = rates.FixedSource{Value: cfg.Rates.FallbackRate}
	}
	rateCache := rates.NewCache(rateSource, time.Duration(cfg.Rates.TTLSeconds)*time.Second, cfg.Rates.FallbackRate)

	evidenceStore := &evidence.Store{}
	if cfg.Evidence.Endpoint != "" {
		evidenceStore.Uploader = evidence.NewHTTPUploader(cfg.Evidence.Endpoint,
			time.Duration(cfg.Evidence.TimeoutSeconds)*time.Second)
	}

	disputeWindow := time.Duration(cfg.Orders.DisputeWindowHours) * time.Hour
	engine := &services.ValidationEngine{
		Store:             st,
		Publisher:         hub,
		Chain:             chainClient,
		FallbackThreshold: cfg.Validation.FallbackThreshold,
		ReviewRewardCents: cfg.Validation.ReviewRewardCents,
		VoteDeadline:      time.Duration(cfg.Validation.DeadlineMinutes) * time.Minute,
		StakeLock:         time.Duration(cfg.Validation.StakeLockHours) * time.Hour,
		DisputeWindow:     disputeWindow,
		StakingDenom:      cfg.Chain.StakingDenom,
		ChainTimeout:      time.Duration(cfg.Chain.TimeoutSeconds) * time.Second,
	}
	orders := &services.OrderService{
		Store:              st,
		Rates:              rateCache,
		Evidence:           evidenceStore,
		Chain:              chainClient,
		Deriver:            chain.EscrowDeriver{XPub: cfg.Wallet.XPub, Prefix: cfg.Wallet.Bech32Prefix},
		Publisher:          hub,
		Validation:         engine,
		TTL:                time.Duration(cfg.Orders.TTLMinutes) * time.Minute,
		MinAmountUsdcCents: cfg.Orders.MinAmountUsdcCents,
		DisputeWindow:      disputeWindow,
		UsdcDenom:          cfg.Chain.UsdcDenom,
		ChainTimeout:       time.Duration(cfg.Chain.TimeoutSeconds) * time.Second,
	}
	settlement := &services.SettlementService{Store: st, Publisher: hub}
	admin := services.NewAdminService(st, hub, cfg.Admin.Addresses, disputeWindow)

	h := internalhttp.NewHandler(orders, engine, settlement, admin)
	srv := internalhttp.NewServer(h, hub)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		log.Infof("api listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
