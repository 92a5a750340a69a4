package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/showgate/showgate/internal/admission"
	"github.com/showgate/showgate/internal/botcheck"
	"github.com/showgate/showgate/internal/config"
	"github.com/showgate/showgate/internal/database"
	"github.com/showgate/showgate/internal/handler"
	"github.com/showgate/showgate/internal/lease"
	"github.com/showgate/showgate/internal/logger"
	"github.com/showgate/showgate/internal/middleware"
	"github.com/showgate/showgate/internal/queue"
	"github.com/showgate/showgate/internal/repository"
	"github.com/showgate/showgate/internal/router"
	queuepublisher "github.com/showgate/showgate/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly
	cfg := config.Load()

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zlog.Fatal("database connect failed", zap.Error(err))
	}
	rdb := config.NewRedisClient()
	if rdb == nil {
		zlog.Warn("redis unavailable; rate limiting and caching disabled")
	}

	showRepo := repository.NewShowRepo(db)
	resRepo := repository.NewReservationRepo(db)

	// Core wiring: the queue gates the lease pool, the lease pool keeps
	// the queue from expiring tickets with live holds, and the captcha
	// gate sits between them.
	q := admission.New(admission.Config{
		Permits:     cfg.QueuePermits,
		ReadyWindow: cfg.ReadyWindow,
		Grace:       cfg.TicketGrace,
	}, zlog)
	leases := lease.New(lease.Config{
		HoldTTL:    cfg.HoldTTL,
		MaxSeats:   cfg.MaxSeats,
		UnlockLead: cfg.ZoneUnlockLead,
	}, q, resRepo, zlog)
	q.SetHoldChecker(leases)
	gate := botcheck.New(botcheck.Config{
		TTL:        cfg.CaptchaTTL,
		Digits:     cfg.CaptchaDigits,
		DigestCost: cfg.DigestCost,
	}, q, zlog)

	if err := loadShows(showRepo, resRepo, q, leases, zlog); err != nil {
		zlog.Fatal("loading shows failed", zap.Error(err))
	}

	// Background sweeps are the correctness backstop for abandoned
	// clients; they run until shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, cfg.SweepInterval)
	go lease.NewSweeper(leases, cfg.SweepInterval, zlog).Run(ctx)
	go func() {
		t := time.NewTicker(cfg.CaptchaTTL)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				gate.Sweep(time.Now().UTC())
			}
		}
	}()
	go queue.StartConfirmationConsumer(queuepublisher.BrokerURL(), zlog.Named("consumer"))

	e := echo.New()
	e.HideBanner = true
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	qh := handler.NewQueueHandler(q, leases)
	ch := handler.NewCaptchaHandler(gate, q)
	sh := handler.NewSeatHandler(leases, showRepo, resRepo, cfg.ZoneUnlockLead)
	router.RegisterRoutes(e, qh, limiter)
	router.RegisterBrowse(e, sh, config.LoadCacheConfig(), rdb)
	router.RegisterCheckout(e, qh, ch, sh, cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	zlog.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := e.Start(addr); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

// loadShows populates the admission queue and lease pools from the
// catalog and replays committed reservations so restarted processes
// agree with the durable store.
func loadShows(showRepo *repository.ShowRepo, resRepo *repository.ReservationRepo, q *admission.Queue, leases *lease.Manager, zlog *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shows, err := showRepo.ListOnSale(ctx)
	if err != nil {
		return err
	}
	for _, s := range shows {
		seats, err := showRepo.ListSeats(ctx, s.ID)
		if err != nil {
			return err
		}
		zones, err := showRepo.ListZones(ctx, s.ID)
		if err != nil {
			return err
		}
		q.RegisterShow(s.ID)
		leases.LoadShow(s.ID, seats, zones)

		reservations, err := resRepo.ListByShow(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			leases.Restore(r)
		}
		zlog.Info("show loaded",
			zap.Uint64("show_id", s.ID),
			zap.String("title", s.Title),
			zap.Int("seats", len(seats)),
			zap.Int("reservations", len(reservations)))
	}
	return nil
}
