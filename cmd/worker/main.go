package main

import (
	"context"
	"time"

	"fiatmesh/internal/config"
	"fiatmesh/internal/db"
	"fiatmesh/internal/events"
	"fiatmesh/internal/evidence"
	"fiatmesh/internal/metrics"
	"fiatmesh/internal/rates"
	"fiatmesh/internal/services"
	"fiatmesh/internal/store"
	"fiatmesh/internal/worker"

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
	pub := events.NopPublisher{}

	disputeWindow := time.Duration(cfg.Orders.DisputeWindowHours) * time.Hour
	engine := &services.ValidationEngine{
		Store:             st,
		Publisher:         pub,
		FallbackThreshold: cfg.Validation.FallbackThreshold,
		ReviewRewardCents: cfg.Validation.ReviewRewardCents,
		VoteDeadline:      time.Duration(cfg.Validation.DeadlineMinutes) * time.Minute,
		StakeLock:         time.Duration(cfg.Validation.StakeLockHours) * time.Hour,
		DisputeWindow:     disputeWindow,
	}
	var rateSource rates.Source = rates.FixedSource{Value: cfg.Rates.FallbackRate}
	if cfg.Rates.Endpoint != "" {
		rateSource = rates.NewHTTPSource(cfg.Rates.Endpoint, time.Duration(cfg.Rates.TimeoutSeconds)*time.Second)
	}
	orders := &services.OrderService{
		Store:         st,
		Rates:         rates.NewCache(rateSource, time.Duration(cfg.Rates.TTLSeconds)*time.Second, cfg.Rates.FallbackRate),
		Evidence:      &evidence.Store{},
		Publisher:     pub,
		Validation:    engine,
		TTL:           time.Duration(cfg.Orders.TTLMinutes) * time.Minute,
		DisputeWindow: disputeWindow,
	}
	settlement := &services.SettlementService{Store: st, Publisher: pub}

	w := &worker.Worker{
		Orders:     orders,
		Validation: engine,
		Settlement: settlement,
		Interval:   time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
	}

	log.Info("worker started")
	w.Run(ctx)
}
