package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/fernwell/api/internal/address"
	"github.com/fernwell/api/internal/domain"
	"github.com/fernwell/api/internal/handlers"
	"github.com/fernwell/api/internal/payments"
	"github.com/fernwell/api/internal/platform/config"
	pfirestore "github.com/fernwell/api/internal/platform/firestore"
	"github.com/fernwell/api/internal/platform/idempotency"
	"github.com/fernwell/api/internal/platform/jobs"
	"github.com/fernwell/api/internal/platform/observability"
	"github.com/fernwell/api/internal/platform/secrets"
	firestoreRepo "github.com/fernwell/api/internal/repositories/firestore"
	"github.com/fernwell/api/internal/services"
	"github.com/fernwell/api/internal/shipping"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(secretProjectID()),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	customerRepo, err := firestoreRepo.NewCustomerRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise customer repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	shipmentRepo, err := firestoreRepo.NewShipmentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise shipment repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	healthRepo, err := firestoreRepo.NewHealthRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	paymentGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: payments.StripeLogger(observability.EventLogger(logger.Named("payments"))),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}
	webhookVerifier, err := payments.NewWebhookVerifier(cfg.PSP.StripeWebhookSecret)
	if err != nil {
		logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
	}

	carrierHTTPClient := &http.Client{Timeout: cfg.Carriers.RequestTimeout}

	validatorOpts := []address.ValidatorOption{
		address.WithHTTPClient(carrierHTTPClient),
		address.WithLogger(address.ValidatorLogger(observability.EventLogger(logger.Named("address")))),
	}
	if cfg.Carriers.EasyPostBaseURL != "" {
		validatorOpts = append(validatorOpts, address.WithBaseURL(cfg.Carriers.EasyPostBaseURL))
	}
	addressValidator, err := address.NewValidator(cfg.Carriers.EasyPostAPIKey, validatorOpts...)
	if err != nil {
		logger.Fatal("failed to initialise address validator", zap.Error(err))
	}

	adapters, err := buildCarrierAdapters(cfg.Carriers, carrierHTTPClient)
	if err != nil {
		logger.Fatal("failed to initialise carrier adapters", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	notificationTopic := pubsubClient.Topic(cfg.Notifications.Topic)
	defer notificationTopic.Stop()
	notificationPublisher, err := jobs.NewPubSubNotificationPublisher(notificationTopic)
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Validator: addressValidator,
		Gateway:   paymentGateway,
		Clock:     time.Now,
		Logger:    observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		Customers:     customerRepo,
		Products:      productRepo,
		Gateway:       paymentGateway,
		Validator:     addressValidator,
		Notifications: notificationPublisher,
		Clock:         time.Now,
		Logger:        observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	shipmentService, err := services.NewShipmentService(services.ShipmentServiceDeps{
		Orders:          orderRepo,
		Shipments:       shipmentRepo,
		Products:        productRepo,
		Adapters:        adapters,
		Presets:         packagePresets(cfg.Shipping.Presets),
		DefaultPresetID: cfg.Shipping.DefaultPresetID,
		Warehouse:       warehouseAddress(cfg.Shipping),
		Notifications:   notificationPublisher,
		Clock:           time.Now,
		Logger:          observability.EventLogger(logger.Named("shipments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise shipment service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService, orderService)
	shippingHandlers := handlers.NewShippingHandlers(shipmentService, orderService)
	webhookHandlers := handlers.NewWebhookHandlers(
		webhookVerifier,
		orderService,
		shipmentService,
		cfg.Webhooks.TrackingSharedSecret,
		observability.EventLogger(logger.Named("webhooks")),
	)
	healthHandlers := handlers.NewHealthHandlers(healthRepo.Check)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(shippingHandlers.OrderRoutes, idempotencyMiddleware),
		handlers.WithShipmentRoutes(shippingHandlers.ShipmentRoutes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fernwell api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildCarrierAdapters assembles the carrier set in quote order. EasyPost is
// always present; Shippo and the mock carrier are opt-in switches.
func buildCarrierAdapters(cfg config.CarrierConfig, client *http.Client) ([]shipping.CarrierAdapter, error) {
	var adapters []shipping.CarrierAdapter

	easypostOpts := []shipping.EasyPostOption{shipping.WithEasyPostHTTPClient(client)}
	if cfg.EasyPostBaseURL != "" {
		easypostOpts = append(easypostOpts, shipping.WithEasyPostBaseURL(cfg.EasyPostBaseURL))
	}
	easypost, err := shipping.NewEasyPostAdapter(cfg.EasyPostAPIKey, easypostOpts...)
	if err != nil {
		return nil, fmt.Errorf("easypost adapter: %w", err)
	}
	adapters = append(adapters, easypost)

	if cfg.ShippoEnabled {
		shippoOpts := []shipping.ShippoOption{shipping.WithShippoHTTPClient(client)}
		if cfg.ShippoBaseURL != "" {
			shippoOpts = append(shippoOpts, shipping.WithShippoBaseURL(cfg.ShippoBaseURL))
		}
		shippo, err := shipping.NewShippoAdapter(cfg.ShippoAPIToken, shippoOpts...)
		if err != nil {
			return nil, fmt.Errorf("shippo adapter: %w", err)
		}
		adapters = append(adapters, shippo)
	}

	if cfg.MockEnabled {
		adapters = append(adapters, shipping.NewMockAdapter())
	}

	return adapters, nil
}

func warehouseAddress(cfg config.ShippingConfig) domain.Address {
	return domain.Address{
		Name:       cfg.FromName,
		Street1:    cfg.FromStreet1,
		Street2:    cfg.FromStreet2,
		City:       cfg.FromCity,
		Region:     cfg.FromRegion,
		PostalCode: cfg.FromPostalCode,
		Country:    cfg.FromCountry,
		Phone:      cfg.FromPhone,
	}
}

func packagePresets(presets []config.PackagePreset) []domain.PackagePreset {
	out := make([]domain.PackagePreset, 0, len(presets))
	for _, p := range presets {
		out = append(out, domain.PackagePreset{
			ID:        p.ID,
			Name:      p.ID,
			LengthCM:  p.LengthCM,
			WidthCM:   p.WidthCM,
			HeightCM:  p.HeightCM,
			TareGrams: p.TareGrams,
		})
	}
	return out
}

// secretProjectID picks the Secret Manager project before configuration has
// been loaded, since loading may itself require secret resolution.
func secretProjectID() string {
	if v := strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID"))
}
