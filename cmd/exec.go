package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"eventix/config"
	"eventix/internal/alerts"
	"eventix/internal/deadletter"
	"eventix/internal/events"
	"eventix/internal/handlers"
	"eventix/internal/mailer"
	"eventix/internal/services"
	"eventix/internal/services/fraud"
	"eventix/internal/services/processor"
	"eventix/internal/services/processor/stripe"
	"eventix/internal/store"
	_ "eventix/migrations"
	"eventix/monitoring"
	"eventix/security"
	"eventix/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type closer interface {
	Close() error
}

// stack is every long-lived collaborator the pipeline runs on.
type stack struct {
	redis      *redis.Client
	registry   *alerts.Registry
	processors *processor.Registry
	publisher  events.Publisher
	deadLetter deadletter.Queue
	monitor    *monitoring.Monitor
	store      *store.Store

	checkout   *services.CheckoutService
	settlement *services.SettlementService
	refunds    *services.RefundService
	orders     *services.OrderService
	points     *services.PointsService

	shutdownTracer func(context.Context) error
}

func Start() error {
	app := pocketbase.New()
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newStack(ctx, app, cfg)
	if err != nil {
		return err
	}

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})
	app.RootCmd.AddCommand(
		reconcileCommand(s.points),
		replayCommand(s.deadLetter, s.settlement),
	)

	setupUserHooks(app, s.store, s.points, cfg.WelcomeGiftTTL)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		s.registry.Start()
		registerRoutes(e, cfg, s)
		slog.Info("Server routes registered")
		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		slog.Info("Shutdown signal received, cleaning up...")
		cancel()
		s.close()
		return e.Next()
	})

	return app.Start()
}

func newStack(ctx context.Context, app *pocketbase.PocketBase, cfg *config.Config) (*stack, error) {
	s := &stack{}

	shutdownTracer, err := monitoring.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	s.shutdownTracer = shutdownTracer

	s.redis, err = utils.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	var pub alerts.Publisher = alerts.LogPublisher{}
	if pn, err := alerts.NewPubNubPublisher(&alerts.PubNubConfig{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
		UUID:         cfg.PubNubUUID,
	}); err != nil {
		slog.Warn("alerts.NewPubNubPublisher()", "error", err)
	} else {
		pub = pn
	}
	s.registry = alerts.NewRegistry(pub, cfg.AlertConnectionTTL)
	s.monitor = monitoring.NewMonitor(ctx, s.redis, s.registry)

	s.processors = processor.NewRegistry(processor.NewFactory())
	if err := s.processors.Register(ctx, processor.Provider(cfg.PaymentProvider), &stripe.Config{
		BaseURL:           cfg.StripeAPIURL,
		SecretKey:         cfg.StripeSecretKey,
		WebhookSecret:     cfg.StripeWebhookSecret,
		Timeout:           cfg.ProcessorTimeout,
		MaxNetworkRetries: int64(cfg.StripeMaxRetries),
	}); err != nil {
		return nil, err
	}
	proc, err := s.processors.Primary()
	if err != nil {
		return nil, err
	}

	screener, err := fraud.New(&fraud.Config{BaseURL: cfg.FraudAPIURL, Timeout: cfg.FraudTimeout})
	if err != nil {
		return nil, err
	}

	mails := mailer.New(app.NewMailClient, func() mail.Address {
		meta := app.Settings().Meta
		return mail.Address{Name: meta.SenderName, Address: meta.SenderAddress}
	}, mailer.Config{Timeout: cfg.MailTimeout, FrontendURL: cfg.FrontendURL})

	s.publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		s.publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 5*time.Second)
	}

	s.deadLetter = deadletter.LogQueue{}
	if cfg.RabbitURL != "" {
		q, err := deadletter.Dial(cfg.RabbitURL, cfg.DeadLetterQueue, 5*time.Second,
			deadletter.WithMaxAttempts(cfg.DeadLetterMaxAttempts),
			deadletter.WithParkingQueue(cfg.ParkingQueue),
		)
		if err != nil {
			return nil, err
		}
		s.deadLetter = q
	}

	locker := utils.NewRedisLocker(s.redis)
	s.store = store.New(app)
	inventory := services.NewInventoryService(s.store)

	s.points = services.NewPointsService(s.store, s.redis, cfg.PointsCacheTTL, s.monitor)
	s.checkout = services.NewCheckoutService(s.store, inventory, proc, screener, mails, s.registry, s.monitor, services.CheckoutConfig{
		Currency:            cfg.Currency,
		FrontendURL:         cfg.FrontendURL,
		FailedAttemptWindow: cfg.FailedAttemptWindow,
	})
	s.settlement = services.NewSettlementService(s.store, inventory, s.points, proc, mails, s.publisher, s.deadLetter, locker, s.monitor, services.SettlementConfig{
		PointsPerTicket: cfg.PointsPerTicket,
		LockTTL:         cfg.SettlementLockTTL,
	})
	s.refunds = services.NewRefundService(s.store, proc, mails, s.registry, s.publisher, locker, s.monitor, services.RefundConfig{
		LockTTL: cfg.RefundLockTTL,
	})
	s.orders = services.NewOrderService(s.store, proc, cfg.PointsPerTicket)

	return s, nil
}

func registerRoutes(e *core.ServeEvent, cfg *config.Config, s *stack) {
	limiter := security.NewRateLimiter(s.redis, s.monitor)
	tickets := handlers.NewTicketHandler(s.checkout, s.orders, s.refunds)
	webhook := handlers.NewWebhookHandler(s.settlement)
	deals := handlers.NewDealsHandler(s.points)
	alertsHandler := handlers.NewAlertHandler(s.registry)

	// Ticket endpoints
	e.Router.POST("/api/v1/tickets/checkout-session", tickets.CreateCheckoutSession).
		BindFunc(limiter.AntiBot, limiter.Limit("checkout", cfg.CheckoutRateLimit, time.Minute))
	e.Router.GET("/api/v1/tickets/orders/{sessionId}", tickets.OrderDetails)
	e.Router.POST("/api/v1/tickets/refund/{ticketId}", tickets.Refund).
		BindFunc(limiter.AntiBot, limiter.Limit("refund", cfg.CheckoutRateLimit, time.Minute))
	e.Router.GET("/api/v1/tickets/mine", tickets.MyTickets)
	e.Router.GET("/api/v1/tickets/{ticketUuid}/pdf", tickets.TicketPDF)

	// Processor webhook, authenticated by signature
	e.Router.POST("/api/v1/payments/webhook", webhook.HandleStripeWebhook)

	// Deals endpoints
	e.Router.GET("/api/v1/deals/balance", deals.Balance)
	e.Router.GET("/api/v1/deals/history", deals.History)
	e.Router.GET("/api/v1/deals/rewards", deals.Rewards)
	e.Router.GET("/api/v1/deals/userLevel", deals.UserLevel)
	e.Router.GET("/api/v1/deals/scratch-card-eligibility", deals.ScratchCardEligibility)
	e.Router.POST("/api/v1/deals/redeem/{rewardId}", deals.Redeem).
		BindFunc(limiter.Limit("redeem", cfg.CheckoutRateLimit, time.Minute))

	// Alert connections
	e.Router.POST("/api/v1/alerts/connections", alertsHandler.Connect)
	e.Router.POST("/api/v1/alerts/connections/{connId}/heartbeat", alertsHandler.Heartbeat)
	e.Router.DELETE("/api/v1/alerts/connections/{connId}", alertsHandler.Disconnect)

	if cfg.EnableMetrics {
		e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
	}

	// Health check
	e.Router.GET("/health", func(re *core.RequestEvent) error {
		if err := utils.RedisHealthCheck(re.Request.Context(), s.redis); err != nil {
			return re.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return re.JSON(http.StatusOK, map[string]any{
			"status":      "healthy",
			"connections": s.registry.Count(),
		})
	})
}

// setupUserHooks keeps the welcome gift fields of auth records in step with
// sign-ups and sign-ins, and drops cached balances edited from the dashboard.
func setupUserHooks(app *pocketbase.PocketBase, st *store.Store, points *services.PointsService, giftTTL time.Duration) {
	app.OnRecordCreate("users").BindFunc(func(e *core.RecordEvent) error {
		e.Record.Set("first_login_gift", true)
		return e.Next()
	})

	app.OnRecordAuthRequest("users").BindFunc(func(e *core.RecordAuthRequestEvent) error {
		expiry := time.Now().Add(giftTTL)
		started, err := st.StartWelcomeGift(e.Request.Context(), e.Record.Id, expiry)
		if err != nil {
			slog.Error("st.StartWelcomeGift()", "userId", e.Record.Id, "error", err)
		} else if started {
			e.Record.Set("welcome_gift_expiry", expiry)
		}
		return e.Next()
	})

	app.OnRecordAfterUpdateSuccess("user_points").BindFunc(func(e *core.RecordEvent) error {
		points.Invalidate(e.Context, e.Record.GetString("user_id"))
		return e.Next()
	})
}

func (s *stack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for name, c := range map[string]closer{
		"alerts":     s.registry,
		"events":     s.publisher,
		"deadletter": s.deadLetter,
	} {
		if err := c.Close(); err != nil {
			slog.Error(fmt.Sprintf("%s.Close()", name), "error", err)
		}
	}
	if err := s.processors.Close(ctx); err != nil {
		slog.Error("s.processors.Close()", "error", err)
	}
	if err := s.shutdownTracer(ctx); err != nil {
		slog.Error("s.shutdownTracer()", "error", err)
	}
	if err := s.redis.Close(); err != nil {
		slog.Error("s.redis.Close()", "error", err)
	}
}
