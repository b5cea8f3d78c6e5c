package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	redisStore "github.com/gin-contrib/sessions/redis"
	"github.com/gin-gonic/gin"
	"github.com/hubflo/hubflo/internal/config"
	"github.com/hubflo/hubflo/internal/constants"
	"github.com/hubflo/hubflo/internal/database"
	"github.com/hubflo/hubflo/internal/escalation"
	"github.com/hubflo/hubflo/internal/handlers"
	"github.com/hubflo/hubflo/internal/locks"
	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/metrics"
	"github.com/hubflo/hubflo/internal/middleware"
	"github.com/hubflo/hubflo/internal/notify"
	"github.com/hubflo/hubflo/internal/repository"
	"github.com/hubflo/hubflo/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "time/tzdata"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := logging.New(cfg.GinMode)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	// Set Gin mode
	gin.SetMode(cfg.GinMode)

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		return err
	}

	// Run migrations
	if err := database.Migrate(); err != nil {
		return err
	}
	db := database.GetDB()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Outbound channel
	var sender notify.Sender = notify.LogSender{}
	if cfg.Dialog360APIKey != "" {
		sender = notify.NewDialog360Sender(cfg.Dialog360APIKey, cfg.WhatsAppBaseURL, m)
	} else {
		logger.Warn("DIALOG360_API_KEY not set, outbound messages are only logged")
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("publishing task events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	// Per-sender serialisation, shared across replicas when Redis locks are on
	lockOpts := []locks.Option{locks.WithLogger(logger)}
	if cfg.RedisLocks {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		lockOpts = append(lockOpts, locks.WithLocker(locks.NewRedisLocker(client, "hubflo:sender:")))
	}
	keyed := locks.NewKeyed(lockOpts...)

	// Repositories and services
	taskRepo := repository.NewTaskRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	directory := services.NewDirectoryService(repository.NewContactRepository(db), cfg.DefaultTimezone)

	scheduler := escalation.New(taskRepo, ledgerRepo, directory, sender, escalation.Config{
		Tick:        cfg.EscalationTick,
		Resync:      cfg.EscalationResync,
		FieldHour:   cfg.DigestHourField,
		ManagerHour: cfg.DigestHourManager,
	}, escalation.WithMetrics(m))

	taskService := services.NewTaskService(taskRepo, auditRepo,
		services.WithPublisher(publisher),
		services.WithWatcher(scheduler),
		services.WithMetrics(m),
	)
	inboundService := services.NewInboundService(taskService, taskRepo, directory, sender, keyed,
		services.WithInteractiveReplies(cfg.InteractiveReplies),
		services.WithInboundMetrics(m),
	)
	authService, err := services.NewAuthService(cfg.AdminToken)
	if err != nil {
		return err
	}
	if !authService.Enabled() {
		logger.Warn("HUBFLO_ADMIN_TOKEN not set, admin API is disabled")
	}

	// Initialize Gin router
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(logger), middleware.Metrics(m))

	// Setup session middleware with Redis
	store, err := redisStore.NewStore(
		10,              // Redis pool size
		"tcp",           // network type
		cfg.RedisAddr(), // Redis address from config
		"",              // password (empty = no password)
		[]byte(cfg.SessionSecret),
	)
	if err != nil {
		return err
	}
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   cfg.GinMode == "release",
		SameSite: http.SameSiteLaxMode,
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	taskHandler := handlers.NewTaskHandler(taskService)
	webhookHandler := handlers.NewWebhookHandler(inboundService, cfg.BoundNumber)

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "hubflo is running",
			"wakes":   scheduler.Len(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Chat channel
	r.POST("/webhook", webhookHandler.Receive)

	// Admin routes
	api := r.Group("/api")
	api.Use(sessions.Sessions(constants.SessionCookieName, store))
	{
		api.POST("/admin/login", authHandler.Login)
		api.POST("/admin/logout", authHandler.Logout)

		admin := api.Group("/admin")
		admin.Use(middleware.RequireAdmin(authService))
		{
			admin.GET("/me", authHandler.Me)
			admin.GET("/tasks", taskHandler.ListTasks)
			admin.POST("/tasks", taskHandler.CreateTask)
			admin.GET("/tasks/:id", taskHandler.GetTask)
			admin.GET("/tasks/:id/audit", taskHandler.GetAudit)
			admin.POST("/tasks/:id/start", taskHandler.StartTask)
			admin.POST("/tasks/:id/done", taskHandler.MarkDone)
			admin.POST("/tasks/:id/approve", taskHandler.ApproveTask)
			admin.POST("/tasks/:id/reject", taskHandler.RejectTask)
			admin.POST("/tasks/:id/revoke", taskHandler.RevokeTask)
			admin.POST("/tasks/:id/order-state", taskHandler.SetOrderState)
			admin.POST("/tasks/:id/due-date", taskHandler.SetDueDate)
			admin.GET("/summary", taskHandler.Summary)
			admin.GET("/accuracy", taskHandler.Accuracy)
		}
	}

	// Escalations and digests run beside the HTTP server
	schedDone := make(chan error, 1)
	go func() {
		schedDone <- scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			stop()
			<-schedDone
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
