package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/nats-io/nats.go"
	"github.com/pitabwire/frame"

	"github.com/antinvestor/monarch-ach/config"
	"github.com/antinvestor/monarch-ach/service/business"
	"github.com/antinvestor/monarch-ach/service/coreapi"
	"github.com/antinvestor/monarch-ach/service/events"
	"github.com/antinvestor/monarch-ach/service/handlers"
	"github.com/antinvestor/monarch-ach/service/identity"
	"github.com/antinvestor/monarch-ach/service/linking"
	"github.com/antinvestor/monarch-ach/service/models"
	"github.com/antinvestor/monarch-ach/service/repository"
	"github.com/antinvestor/monarch-ach/service/router"
	"github.com/antinvestor/monarch-ach/service/worker"
)

func main() {
	serviceName := "service_monarch_ach"
	ctx := context.Background()
	monarchConfig, err := frame.ConfigFromEnv[config.MonarchConfig]()
	if err != nil {
		fmt.Printf("could not load config: %v\n", err)
	}
	ctx, service := frame.NewServiceWithContext(ctx, serviceName, frame.WithConfig(&monarchConfig))

	logger := service.Log(ctx).WithField("type", "main")

	defer service.Stop(ctx)

	logger.Info("starting service...")
	serviceOptions := []frame.Option{frame.WithDatastore()}

	// Initialize service with database connection
	service.Init(ctx, serviceOptions...)

	if monarchConfig.DoDatabaseMigrate() {
		err = service.MigrateDatastore(ctx, monarchConfig.GetDatabaseMigrationPath(),
			&models.Identity{}, &models.Transaction{})

		if err != nil {
			logger.WithError(err).Fatal("could not migrate successfully")
		}
		return
	}

	db := service.DB(ctx, false)
	if db == nil {
		logger.WithField("DATABASE_URL", os.Getenv("DATABASE_URL")).Fatal("Database connection is nil - check DATABASE_URL and database availability")
		return
	}
	if err = db.AutoMigrate(&models.Identity{}, &models.Transaction{}); err != nil {
		logger.WithError(err).Fatal("Failed to auto-migrate database tables - cannot continue")
		return
	}

	if !monarchConfig.IsReady() {
		logger.Warn("Monarch credentials are incomplete; payments will be rejected until they are configured")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: monarchConfig.RedisHost + ":" + monarchConfig.RedisPort,
	})
	if err = redisClient.Ping().Err(); err != nil {
		logger.WithError(err).Warn("redis is unreachable; guest sessions and reconcile stats will fail")
	}

	apiClient := coreapi.NewClient(&monarchConfig)
	resolver := identity.NewResolver(apiClient)
	flow := linking.NewFlow(service, apiClient, resolver)

	identityRepo := repository.NewIdentityRepository(ctx, service)
	transactionRepo := repository.NewTransactionRepository(ctx, service)

	accountStore := linking.NewAccountStore(identityRepo)
	sessionStore := linking.NewSessionStore(redisClient)

	paymentBusiness := business.NewPaymentBusiness(ctx, service, apiClient, flow, transactionRepo)

	reconciler := &worker.StatusReconciler{
		Service:     service,
		Client:      apiClient,
		Repo:        transactionRepo,
		RedisClient: redisClient,
		Interval:    time.Duration(monarchConfig.ReconcileIntervalMinutes) * time.Minute,
	}

	gatewayServer := &handlers.GatewayServer{
		Service:    service,
		Config:     &monarchConfig,
		Flow:       flow,
		Business:   paymentBusiness,
		Reconciler: reconciler,
		Stores:     handlers.NewStoreFactory(accountStore, sessionStore),
	}

	serviceOptions = append(serviceOptions,
		frame.WithHTTPHandler(router.NewRouter(gatewayServer)),
		frame.WithRegisterEvents(
			&events.TransactionSave{Service: service},
			&events.TransactionStatusSave{Service: service},
		))

	// Check if we should skip NATS and use memory messaging directly
	skipNats := os.Getenv("SKIP_NATS") == "true"

	raw := os.Getenv("NATS_URL")
	var natsURL string

	if skipNats && strings.HasPrefix(raw, "mem://") {
		natsURL = raw
		logger.WithField("memURL", natsURL).Info("Using in-memory messaging directly due to SKIP_NATS=true")
	} else if raw == "" {
		// fall back to default service name
		natsURL = "nats://nats:4222"
	} else if strings.HasPrefix(raw, "nats://") {
		natsURL = raw
	} else {
		logger.Warn("NATS_URL missing 'nats://' prefix; assuming host:port format")
		natsURL = "nats://" + raw
	}

	statusTopic := events.TopicTransactionStatus

	// Helper to ensure the NATS URL has the correct subject query parameter
	ensureSubject := func(baseURL, subject string) string {
		if !strings.Contains(baseURL, "nats://") {
			return baseURL
		}
		url := baseURL
		if strings.Contains(url, "subject=") {
			parts := strings.Split(url, "?")
			if len(parts) == 2 {
				params := strings.Split(parts[1], "&")
				newParams := make([]string, 0, len(params))
				for _, p := range params {
					if !strings.HasPrefix(p, "subject=") {
						newParams = append(newParams, p)
					}
				}
				url = parts[0]
				if len(newParams) > 0 {
					url += "?" + strings.Join(newParams, "&")
				}
			}
		}
		if strings.Contains(url, "?") {
			url += "&subject=" + subject
		} else {
			url += "?subject=" + subject
		}
		return url
	}

	natsStatusURL := ensureSubject(natsURL, statusTopic)

	connected := false

	if skipNats && strings.HasPrefix(natsURL, "mem://") {
		logger.WithField("memoryURL", natsURL).Info("Using in-memory pubsub directly (SKIP_NATS=true)")
		serviceOptions = append(serviceOptions,
			frame.WithRegisterPublisher(statusTopic, natsURL))
		connected = true
	} else {
		// Try connecting to NATS with retry logic
		maxRetries := 10
		for i := range maxRetries {
			logger.WithField("attempt", i+1).WithField("natsURL", natsURL).Info("Attempting to connect to NATS")
			nc, err := nats.Connect(natsURL)
			if err != nil {
				logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to NATS, retrying after delay")
				time.Sleep(2 * time.Second)
				continue
			}
			// Close connection since we're just testing
			nc.Close()
			logger.Info("Successfully connected to NATS server")

			logger.WithField("natsURL", natsStatusURL).WithField("topic", statusTopic).Info("Registering publisher with NATS")
			serviceOptions = append(serviceOptions,
				frame.WithRegisterPublisher(statusTopic, natsStatusURL))

			connected = true
			break
		}

		if !connected {
			logger.WithField("retries", maxRetries).Warn("Failed to connect to NATS after maximum retries - falling back to memory-based pubsub")
			fallbackStatusURL := "mem://" + statusTopic
			logger.WithField("fallbackStatusURL", fallbackStatusURL).Info("Using memory-based pubsub as fallback")
			serviceOptions = append(serviceOptions,
				frame.WithRegisterPublisher(statusTopic, fallbackStatusURL))
		}
	}

	service.Init(ctx, serviceOptions...)

	go reconciler.Start(ctx)

	logger.WithField("server http port", monarchConfig.HTTPServerPort).
		Info("Initiating server operations")

	err = service.Run(ctx, "")
	if err != nil {
		logger.WithError(err).Fatal("could not run Server")
	}
}
