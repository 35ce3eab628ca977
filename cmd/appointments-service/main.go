package main

import (
	"context"
	"net/http"
	"time"

	"github.com/clinicops/appointments/internal/consumer"
	"github.com/clinicops/appointments/internal/email"
	"github.com/clinicops/appointments/internal/handlers"
	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/inbox"
	"github.com/clinicops/appointments/internal/outbox"
	"github.com/clinicops/appointments/internal/queue"
	"github.com/clinicops/appointments/internal/reassign"
	"github.com/clinicops/appointments/internal/scheduler"
	"github.com/clinicops/appointments/internal/storage"
	"github.com/clinicops/appointments/internal/sweep"
	"github.com/clinicops/appointments/libs/config"
	"github.com/clinicops/appointments/libs/db"
	"github.com/clinicops/appointments/libs/httpx"
	"github.com/clinicops/appointments/libs/kafkax"
	otelx "github.com/clinicops/appointments/libs/otel"
	"github.com/clinicops/appointments/libs/runtime"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "appointments-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		MinConns: int32(config.Int("DB_MIN_CONNS", 2)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := storage.EnsureSchema(ctx, pool); err != nil {
		logger.Error("schema migration failed", "err", err)
		panic(err)
	}

	identityURL, err := config.RequiredString("IDENTITY_BASE_URL")
	if err != nil {
		panic(err)
	}
	verifier := identity.NewHTTPVerifier(identityURL)
	serviceCredential := config.String("IDENTITY_SERVICE_TOKEN", "")

	appointmentRepo := storage.NewAppointmentRepository(pool)
	ticketRepo := storage.NewTicketRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	sched := scheduler.New(appointmentRepo, ticketRepo, verifier, outboxRepo, logger)
	queueEngine := queue.New(ticketRepo, appointmentRepo, outboxRepo, logger)
	coordinator := reassign.NewCoordinator(sched, verifier, logger)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	doctorStatusConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: kafkaBrokers,
		GroupID: config.String("KAFKA_GROUP_ID", "appointments-service"),
		Topic:   config.String("KAFKA_DOCTOR_STATUS_TOPIC", consumer.TopicDoctorStatusChanged),
	}, consumer.DoctorStatusHandler(coordinator, serviceCredential, logger))
	go doctorStatusConsumer.Run(ctx)

	reminderSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", ""),
	)
	sweeper := sweep.New(sched, queueEngine, verifier, reminderSender, logger, sweep.Config{
		Interval:    config.Duration("SWEEP_INTERVAL", time.Minute),
		CalledGrace: config.Duration("CALLED_GRACE", 15*time.Minute),
		Credential:  serviceCredential,
	})
	go sweeper.Run(ctx)

	appointmentHandler := handlers.NewAppointmentHandler(sched, logger)
	queueHandler := handlers.NewQueueHandler(queueEngine, logger)

	rdb := redis.NewClient(&redis.Options{Addr: config.String("REDIS_ADDR", "localhost:6379")})
	defer rdb.Close()
	checkInLimiter := httpx.NewRedisRateLimiter(rdb,
		config.Int("CHECKIN_RATE_LIMIT", 30),
		config.Duration("CHECKIN_RATE_WINDOW", time.Minute),
		"checkin",
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	mux.HandleFunc("/api/v1/appointments", appointmentHandler.Create)
	mux.HandleFunc("/api/v1/appointments/get", appointmentHandler.Get)
	mux.HandleFunc("/api/v1/appointments/filter", appointmentHandler.Filter)
	mux.HandleFunc("/api/v1/appointments/update", appointmentHandler.Update)
	mux.HandleFunc("/api/v1/appointments/cancel", appointmentHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/confirm", appointmentHandler.Confirm)
	mux.Handle("/api/v1/queue/check-in", checkInLimiter.Middleware(logger)(http.HandlerFunc(queueHandler.CheckIn)))
	mux.HandleFunc("/api/v1/queue", queueHandler.Current)
	mux.HandleFunc("/api/v1/queue/call-next", queueHandler.CallNext)
	mux.HandleFunc("/api/v1/queue/complete", queueHandler.Complete)
	mux.HandleFunc("/api/v1/queue/position", queueHandler.Position)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(config.Duration("HTTP_TIMEOUT", 15*time.Second)),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointments")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
