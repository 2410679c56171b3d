package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/peluqueria/booking-engine/internal/availability"
	"github.com/peluqueria/booking-engine/internal/calendar"
	"github.com/peluqueria/booking-engine/internal/config"
	"github.com/peluqueria/booking-engine/internal/database"
	"github.com/peluqueria/booking-engine/internal/dialogue"
	"github.com/peluqueria/booking-engine/internal/handlers"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/messaging"
	"github.com/peluqueria/booking-engine/internal/middleware"
	"github.com/peluqueria/booking-engine/internal/nlp"
	"github.com/peluqueria/booking-engine/internal/realtime"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/internal/reservation"
	"github.com/peluqueria/booking-engine/internal/webhook"
	"github.com/peluqueria/booking-engine/pkg/events"
	"github.com/peluqueria/booking-engine/pkg/logger"
	"github.com/peluqueria/booking-engine/pkg/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("failed to run database migrations", "error", err)
	}

	var redisClient *redis.Client
	redisClient, err = database.ConnectRedis(cfg.Redis)
	if err != nil {
		if cfg.Environment == "development" {
			log.Warn("failed to connect to redis, continuing without it", "error", err)
			redisClient = nil
		} else {
			log.Fatal("failed to connect to redis", "error", err)
		}
	}

	store, err := kv.New(cfg.Storage.Backend, redisClient)
	if err != nil {
		log.Fatal("failed to initialize KV store", "error", err)
	}

	var natsConn *nats.Conn
	var eventPublisher *events.Publisher
	natsConn, err = events.Connect(cfg.NATS)
	if err != nil {
		if cfg.Environment == "development" {
			log.Warn("failed to connect to NATS, continuing without it", "error", err)
			eventPublisher = events.NewNullPublisher(log)
		} else {
			log.Fatal("failed to connect to NATS", "error", err)
		}
	} else {
		defer natsConn.Close()
		eventPublisher = events.NewPublisher(natsConn, log)
	}

	// C2 repositories.
	shops := repository.NewShopRepository(db)
	services := repository.NewServiceRepository(db)
	professionals := repository.NewProfessionalRepository(db)
	reservations := repository.NewReservationRepository(db)

	// C3: calendar client, chosen once for the whole process — without a
	// Calendar.BaseURL every shop runs with the no-op client.
	var calClient calendar.Client
	if cfg.Calendar.BaseURL != "" {
		calClient = calendar.NewHTTPClient(cfg.Calendar.BaseURL, log)
	} else {
		calClient = calendar.NewNoopClient()
		log.Warn("no calendar base URL configured, using no-op calendar client")
	}

	// C4: NL interpreter, same optionality — an unconfigured NLP base URL
	// degrades to systematic NO_UNDERSTAND rather than failing startup.
	var interpreter nlp.Interpreter
	if cfg.NLP.BaseURL != "" {
		interpreter = nlp.NewHTTPClient(cfg.NLP.BaseURL, cfg.NLP.APIKey, cfg.NLP.Model, log)
	} else {
		interpreter = nlp.NewNoopInterpreter()
		log.Warn("no NLP base URL configured, using no-op interpreter")
	}

	// C5 outbound sender.
	sender := messaging.NewHTTPSender(cfg.Messaging.GraphBaseURL, log)

	// C6 availability computer.
	availabilityComputer := availability.NewComputer(calClient, reservations, store, log)

	// C8 reservation committer.
	committer := reservation.NewCommitter(db, store, calClient, shops, services, professionals, reservations, eventPublisher, log)

	// C7 dialogue engine.
	engine := dialogue.NewEngine(store, interpreter, availabilityComputer, committer, services, professionals, reservations, log)

	// C9 webhook dispatcher (WhatsApp transport) and the loopback handler
	// (core API, spec §6) share the same engine and shop repository but
	// differ in auth (HMAC signature vs shop api_key) and delivery mode
	// (async worker pool + outbound send vs synchronous JSON response).
	dispatcher := webhook.NewDispatcher(shops, engine, sender, store, cfg.Messaging, cfg.RateLimit, cfg.Dialogue, log)
	loopbackHandler := handlers.NewLoopbackHandler(shops, engine, log)
	healthHandler := handlers.NewHealthHandler(db, store, natsConn, log)

	// Staff live-dashboard feed (websocket), fed from the committer's NATS
	// events.
	var eventSubscriber *events.Subscriber
	var dashboard *realtime.SubscriptionManager
	if natsConn != nil {
		eventSubscriber = events.NewSubscriber(natsConn, log)
		dashboard = realtime.NewSubscriptionManager(log, eventSubscriber)
		go dashboard.Run()
		dashboard.StartEventSubscriptions()
	} else {
		log.Warn("skipping staff dashboard feed setup, no NATS connection")
		dashboard = realtime.NewSubscriptionManager(log, nil)
		go dashboard.Run()
	}
	wsHandler := handlers.NewWebSocketHandler(dashboard, log)

	cronScheduler := scheduler.New(store, log)
	cronScheduler.Start()
	defer cronScheduler.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging(log, "/health", "/health/live"))
	router.Use(middleware.DefaultCORS())

	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/health/live", healthHandler.Live)

	router.GET("/ws/dashboard", wsHandler.HandleConnections)

	// Inbound WhatsApp webhook (spec §6).
	wa := router.Group("/webhook/whatsapp")
	{
		wa.GET("", dispatcher.Verify)
		wa.POST("", dispatcher.Receive)
	}

	// Loopback core API (spec §6): a general per-IP rate limit guards it
	// ahead of the per-tenant api_key check inside the handler.
	router.POST("/webhook",
		middleware.GeneralRateLimit(store, log, generalRateLimit(cfg.RateLimit)),
		loopbackHandler.Handle,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting booking engine", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down booking engine")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", "error", err)
	}
	log.Info("booking engine stopped")
}

func generalRateLimit(cfg config.RateLimit) int {
	if cfg.GeneralPerMinute <= 0 {
		return 600
	}
	return cfg.GeneralPerMinute
}
