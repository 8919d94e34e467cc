package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/address"
	"github.com/seiixin/PakbetTV-sub001/internal/auth"
	"github.com/seiixin/PakbetTV-sub001/internal/config"
	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/handler"
	"github.com/seiixin/PakbetTV-sub001/internal/inventory"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"
	"github.com/seiixin/PakbetTV-sub001/internal/metrics"
	"github.com/seiixin/PakbetTV-sub001/internal/middleware"
	"github.com/seiixin/PakbetTV-sub001/internal/notification"
	"github.com/seiixin/PakbetTV-sub001/internal/order"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/promotion"
	"github.com/seiixin/PakbetTV-sub001/internal/scheduler"
	"github.com/seiixin/PakbetTV-sub001/internal/shipping"
	"github.com/seiixin/PakbetTV-sub001/internal/telemetry"
	"github.com/seiixin/PakbetTV-sub001/internal/webhook"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "pakbet-orders"
	eventsExchange  = "pakbet.orders"
	shutdownTimeout = 15 * time.Second
)

var (
	initDBFunc = db.InitDB

	startServerFunc = func(srv *http.Server) error {
		return srv.ListenAndServe()
	}

	// schedulersEnabled is switched off in tests so run returns as soon
	// as the HTTP server does.
	schedulersEnabled = true
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// app is everything newServer wires together.
type app struct {
	handler  http.Handler
	orders   order.Service
	jobs     []scheduledJob
	cleanups []func()
}

type scheduledJob struct {
	job      scheduler.Job
	interval time.Duration
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := telemetry.SetupTracer(ctx, serviceName, os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	database := initDBFunc(cfg)
	defer database.Close()

	a := newServer(cfg, database)
	defer a.close()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))
		if err := startServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if schedulersEnabled {
		for _, sj := range a.jobs {
			g.Go(func() error {
				return scheduler.Every(gctx, sj.job, sj.interval)
			})
		}
	}

	err := g.Wait()
	a.orders.Wait()
	log.Info("server stopped")
	return err
}

func newServer(cfg *config.Config, database *sql.DB) *app {
	log := logger.L()
	a := &app{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var notifier notification.Notifier = notification.LogNotifier{}
	if cfg.AMQPURL != "" {
		pub, err := notification.NewAMQPPublisher(cfg.AMQPURL, eventsExchange)
		if err != nil {
			log.Warn("broker unavailable, order events will only be logged", zap.Error(err))
		} else {
			notifier = pub
			a.cleanups = append(a.cleanups, pub.Close)
		}
	}

	var limiter middleware.Limiter = middleware.NewLocalLimiter()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = middleware.NewRedisLimiter(client)
		a.cleanups = append(a.cleanups, func() { _ = client.Close() })
	}

	gateway := payment.NewDragonpayGateway(cfg.Dragonpay)
	promotions := promotion.NewRepository(database)

	orders := order.NewService(order.Dependencies{
		TxManager:  db.NewTxManager(database),
		DB:         database,
		Orders:     order.NewRepository(),
		Addresses:  address.NewRepository(),
		Payments:   payment.NewRepository(),
		Shipments:  shipping.NewRepository(),
		Promotions: promotions,

		Ledger:   inventory.NewLedger(),
		Pricing:  promotion.NewEngine(promotions),
		Gateway:  gateway,
		Carrier:  shipping.NewNinjaVanCarrier(cfg.NinjaVan),
		Notifier: notifier,
		Metrics:  m,

		MetroShippingFee:      cfg.Shipping.MetroFee,
		ProvincialShippingFee: cfg.Shipping.ProvincialFee,
		CompletionGrace:       cfg.Schedules.CompletionGrace,
		Currency:              cfg.Dragonpay.Currency,
	})
	a.orders = orders

	timeoutSweep := scheduler.NewTimeoutCanceller(orders, scheduler.TimeoutConfig{
		Timeout:   cfg.Schedules.PaymentTimeout,
		ItemDelay: cfg.Schedules.SweepItemDelay,
	}, m)
	autoCompleter := scheduler.NewAutoCompleter(orders, cfg.Schedules.SweepItemDelay, m)
	a.jobs = []scheduledJob{
		{job: timeoutSweep, interval: cfg.Schedules.TimeoutSweepInterval},
		{job: autoCompleter, interval: cfg.Schedules.AutoCompleteInterval},
	}

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, every authenticated request will be rejected")
	}

	a.handler = handler.NewRouter(handler.RouterConfig{
		API:      handler.New(orders, timeoutSweep, autoCompleter),
		Webhooks: webhook.NewHandler(orders, gateway, webhook.NewRepository(database), cfg.PaymentReturnURL),
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, 0),
		Limiter:  limiter,
		Tiers: handler.Tiers{
			Strict:  middleware.Tier{Name: "strict", Limit: cfg.RateLimit.CheckoutPerMinute, Window: time.Minute},
			Webhook: middleware.Tier{Name: "webhook", Limit: cfg.RateLimit.WebhookPerMinute, Window: time.Minute},
			General: middleware.Tier{Name: "general", Limit: cfg.RateLimit.GeneralPerMinute, Window: time.Minute},
		},
		Metrics:  m,
		Gatherer: reg,
		Ping:     database.PingContext,
	})

	return a
}
