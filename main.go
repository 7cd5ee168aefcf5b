package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"farmmarket/internal/config"
	"farmmarket/internal/database"
	"farmmarket/internal/events"
	"farmmarket/internal/handlers"
	"farmmarket/internal/logging"
	"farmmarket/internal/repositories"
	"farmmarket/internal/services"
	"farmmarket/pkg/kafka"
	"farmmarket/pkg/rabbitmq"
)

const (
	auditQueue = "farmmarket.audit"
	auditGroup = "farmmarket-audit"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// --- Database ---
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Event broker ---
	broker, err := openBroker(cfg, logger)
	if err != nil {
		logger.Fatal("event broker unavailable", zap.String("backend", cfg.EventsBackend), zap.Error(err))
	}
	defer func() {
		if err := broker.close(); err != nil {
			logger.Warn("closing event broker", zap.Error(err))
		}
	}()

	app, err := NewApp(ctx, cfg, db, broker.sink, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", cfg.AppPort))
		return app.Listen(cfg.AppPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	if broker.consume != nil {
		auditor := events.NewAuditor(logger)
		g.Go(func() error {
			return broker.consume(gctx, auditor.Handle)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server gracefully stopped")
}

// NewApp wires repositories, services and handlers into a Fiber app. A nil sink disables
// event delivery.
func NewApp(ctx context.Context, cfg *config.Config, db *gorm.DB, sink events.Sink, logger *zap.Logger) (*fiber.App, error) {
	logger = logging.OrNop(logger)
	publisher := events.NewBus(sink, logger)

	// --- Repositories ---
	txManager := repositories.NewGORMTxManager(db)
	productRepo := repositories.NewGORMProductRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)
	orderRepo := repositories.NewGORMOrderRepository(db)
	discountRepo := repositories.NewGORMDiscountRepository(db)

	// --- Services ---
	ledger := services.NewStockLedger(txManager, productRepo, publisher, logger)
	discountService := services.NewDiscountService(txManager, discountRepo, logger)
	authService := services.NewAuthService(userRepo, cfg.JWTSecret, logger)
	userService := services.NewUserService(userRepo, authService, logger)
	checkoutService := services.NewCheckoutService(txManager, orderRepo, userRepo, discountService, ledger,
		services.CheckoutConfig{
			Shipping: services.ShippingPolicy{FlatFee: cfg.ShippingFlatFee, FreeAbove: cfg.ShippingFreeAbove},
			Currency: cfg.Currency,
		}, publisher, logger)

	if err := userService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return nil, err
	}

	// --- Fiber ---
	app := fiber.New(fiber.Config{AppName: "farmmarket"})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		status, code := "healthy", fiber.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			status, code = "unhealthy", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
			"events": cfg.EventsBackend,
		})
	})

	handlers.RegisterRoutes(app.Group("/api/v1"), handlers.Services{
		Auth:                 authService,
		Users:                userService,
		Products:             services.NewProductService(productRepo, ledger, logger),
		Discount:             discountService,
		Checkout:             checkoutService,
		Orders:               services.NewOrderService(txManager, orderRepo, ledger, publisher, logger),
		PaymentWebhookSecret: cfg.PaymentWebhookSecret,
	}, logger)

	return app, nil
}

// broker is the configured event backend. consume blocks until ctx ends.
type broker struct {
	sink    events.Sink
	consume func(ctx context.Context, handle func(body []byte) error) error
	close   func() error
}

func openBroker(cfg *config.Config, logger *zap.Logger) (*broker, error) {
	switch cfg.EventsBackend {
	case "amqp":
		client, err := rabbitmq.NewClient(rabbitmq.Config{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.RabbitMQExchange,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return &broker{
			sink: client,
			consume: func(ctx context.Context, handle func([]byte) error) error {
				err := client.Consume(auditQueue, []string{"#"}, func(msg amqp.Delivery) error {
					return handle(msg.Body)
				})
				if err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			},
			close: client.Close,
		}, nil

	case "kafka":
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, auditGroup, logger)
		return &broker{
			sink: producer,
			consume: func(ctx context.Context, handle func([]byte) error) error {
				err := consumer.Consume(ctx, func(_ context.Context, _ string, _, value []byte) error {
					return handle(value)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			},
			close: func() error {
				return errors.Join(consumer.Close(), producer.Close())
			},
		}, nil
	}
	return &broker{close: func() error { return nil }}, nil
}
