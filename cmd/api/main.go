package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/quickprint/api/internal/conversion"
	"github.com/quickprint/api/internal/di"
	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/drafts"
	"github.com/quickprint/api/internal/handlers"
	"github.com/quickprint/api/internal/payments"
	"github.com/quickprint/api/internal/platform/auth"
	"github.com/quickprint/api/internal/platform/config"
	pfirestore "github.com/quickprint/api/internal/platform/firestore"
	"github.com/quickprint/api/internal/platform/idempotency"
	"github.com/quickprint/api/internal/platform/jobs"
	"github.com/quickprint/api/internal/platform/metrics"
	"github.com/quickprint/api/internal/platform/observability"
	"github.com/quickprint/api/internal/platform/secrets"
	platformstorage "github.com/quickprint/api/internal/platform/storage"
	"github.com/quickprint/api/internal/repositories"
	firestoreRepo "github.com/quickprint/api/internal/repositories/firestore"
	"github.com/quickprint/api/internal/repositories/memory"
	"github.com/quickprint/api/internal/services"
)

const (
	metricsNamespace = "quickprint"
	staticFilesPath  = "/files"
	shutdownTimeout  = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quickprint api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)
	eventLogger := observability.NewEventLogger(logger.Named("events"))
	appMetrics := metrics.New(metricsNamespace)

	var checks []repositories.DependencyCheck

	registry, firestoreProvider, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	if firestoreProvider != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: registry.Ping})
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	gateway, err := newPaymentManager(cfg, logger.Named("payments"))
	if err != nil {
		return err
	}

	store, localDir, closeStore, err := newObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	checks = append(checks, repositories.DependencyCheck{Name: "storage", Timeout: 2 * time.Second, Check: store.Ping})

	publisher, closePublishers, err := newEventPublisher(ctx, cfg, logger.Named("events"))
	if err != nil {
		return err
	}
	defer closePublishers()

	draftStore := drafts.NewMemoryStore(
		drafts.WithTTL(cfg.Orders.DraftTTL),
		drafts.WithExpiryHook(func(d domain.Draft) {
			appMetrics.DraftExpired()
			eventLogger(ctx, "draft.expired", map[string]any{"draftId": d.ID, "userId": d.Details.UserID})
		}),
	)

	converter := conversion.NewConverter(
		conversion.WithBinaries(cfg.Conversion.Binaries...),
		conversion.WithTimeout(cfg.Conversion.Timeout),
		conversion.WithLogf(observability.NewPrintfAdapter(logger.Named("conversion")).Printf),
	)

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return fmt.Errorf("initialise readiness checks: %w", err)
	}

	infra := di.Infrastructure{
		Drafts:      draftStore,
		Gateway:     gateway,
		Store:       store,
		Converter:   converter,
		Estimator:   conversion.NewEstimator(conversion.PDFPageCount),
		OrderStats:  appMetrics,
		FileStats:   appMetrics,
		Health:      healthRepo,
		Build:       buildInfo,
		WorkDir:     os.TempDir(),
		EventLogger: eventLogger,
	}
	if publisher != nil {
		infra.Events = publisher
	}
	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		return fmt.Errorf("initialise services: %w", err)
	}
	svc := container.Services

	authenticator, err := newAuthenticator(ctx, cfg, logger.Named("auth"))
	if err != nil {
		return err
	}

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if firestoreProvider != nil {
		idempotencyStore = idempotency.NewFirestoreStore(firestoreProvider)
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithOrderRateLimiter(handlers.NewPerMinuteLimiter(cfg.RateLimits.OrdersPerMinute, nil)),
		handlers.WithIdempotency(idempotencyMiddleware),
	)
	uploadHandlers := handlers.NewUploadHandlers(authenticator, svc.Files,
		handlers.WithUploadMaxBytes(cfg.Conversion.UploadMaxBytes),
	)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Shop)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			appMetrics.Middleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(appMetrics.Handler()),
		handlers.WithRoutes(orderHandlers.Routes, uploadHandlers.Routes, adminHandlers.Routes),
	}
	if localDir != "" {
		opts = append(opts, handlers.WithStaticFiles(staticFilesPath, localDir))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	g.Go(func() error {
		serverLogger.Info("quickprint api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return draftStore.Run(gctx, cfg.Orders.DraftSweepInterval)
	})
	if cfg.Idempotency.CleanupInterval > 0 {
		g.Go(func() error {
			runIdempotencyCleanup(gctx, idempotencyStore, cfg.Idempotency.CleanupInterval, logger.Named("idempotency"))
			return nil
		})
	}

	return g.Wait()
}

func newRegistry(cfg config.Config) (repositories.Registry, *pfirestore.Provider, error) {
	if cfg.Orders.Store == "memory" {
		return memory.NewRegistry(), nil, nil
	}
	provider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise firestore repositories: %w", err)
	}
	return registry, provider, nil
}

func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	logFn := observability.NewEventLogger(logger)
	providers := make(map[string]payments.Provider, 2)
	if strings.TrimSpace(cfg.Payments.RazorpayKeyID) != "" {
		rzp, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
			KeyID:     cfg.Payments.RazorpayKeyID,
			KeySecret: cfg.Payments.RazorpayKeySecret,
			Logger:    logFn,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise razorpay provider: %w", err)
		}
		providers[payments.ProviderRazorpay] = rzp
	}
	if strings.TrimSpace(cfg.Payments.StripeAPIKey) != "" {
		stp, err := payments.NewStripeProvider(payments.StripeConfig{
			APIKey:         cfg.Payments.StripeAPIKey,
			PublishableKey: cfg.Payments.StripePublishableKey,
			Logger:         logFn,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stp
	}
	manager, err := payments.NewManager(providers, payments.WithDefaultProvider(cfg.Payments.Provider))
	if err != nil {
		return nil, fmt.Errorf("initialise payment manager: %w", err)
	}
	return manager, nil
}

// newObjectStore prefers GCS and falls back to a local directory served under /files.
func newObjectStore(ctx context.Context, cfg config.Config) (platformstorage.Store, string, func(), error) {
	bucket := strings.TrimSpace(cfg.Storage.UploadsBucket)
	if bucket == "" {
		baseURL := cfg.Server.PublicBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:" + cfg.Server.Port
		}
		dir, err := filepath.Abs(cfg.Storage.LocalDir)
		if err != nil {
			return nil, "", nil, fmt.Errorf("resolve local storage dir: %w", err)
		}
		local, err := platformstorage.NewLocalStore(dir, baseURL+staticFilesPath)
		if err != nil {
			return nil, "", nil, err
		}
		return local, local.Dir(), func() {}, nil
	}

	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := cloudstorage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, "", nil, fmt.Errorf("initialise storage client: %w", err)
	}
	gcsStore, err := platformstorage.NewGCSStore(client, bucket,
		platformstorage.WithSignerEmail(cfg.Storage.SignerEmail),
		platformstorage.WithSignedURLTTL(cfg.Storage.SignedURLTTL),
	)
	if err != nil {
		_ = client.Close()
		return nil, "", nil, err
	}
	return gcsStore, "", func() { _ = client.Close() }, nil
}

func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, func(), error) {
	var (
		fanout  jobs.Fanout
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if topicName := strings.TrimSpace(cfg.Events.PubSubTopic); topicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, closeAll, fmt.Errorf("initialise pubsub client: %w", err)
		}
		pub, err := jobs.NewPubSubOrderPublisher(client.Topic(topicName))
		if err != nil {
			_ = client.Close()
			return nil, closeAll, err
		}
		closers = append(closers, func() {
			pub.Stop()
			_ = client.Close()
		})
		fanout = append(fanout, pub)
	}

	if natsURL := strings.TrimSpace(cfg.Events.NATSURL); natsURL != "" {
		conn, err := jobs.DialNATS(natsURL, "quickprint-api")
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("connect nats: %w", err)
		}
		pub, err := jobs.NewNATSOrderPublisher(conn, cfg.Events.NATSSubject)
		if err != nil {
			conn.Close()
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("nats drain error", zap.Error(err))
			}
		})
		fanout = append(fanout, pub)
	}

	if len(fanout) == 0 {
		logger.Info("no order event sinks configured")
		return nil, closeAll, nil
	}
	return fanout, closeAll, nil
}

func newAuthenticator(ctx context.Context, cfg config.Config, logger *zap.Logger) (*auth.Authenticator, error) {
	admin, err := auth.NewAdminTokens(cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("initialise admin tokens: %w", err)
	}
	if admin == nil {
		logger.Warn("admin password not configured; shop management routes are open")
	}

	opts := []auth.Option{
		auth.WithAdminTokens(admin),
		auth.WithRequiredCustomerAuth(cfg.Firebase.RequireAuth),
	}
	if cfg.Firebase.ProjectID == "" {
		return auth.NewAuthenticator(nil, opts...), nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase verifier: %w", err)
	}
	return auth.NewAuthenticator(verifier, opts...), nil
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now.UTC())
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		}
	}
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames demands the gateway secret only for gateways that are configured.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["RAZORPAY_KEY_ID"]) != "" {
		required = append(required, "Payments.RazorpayKeySecret")
	}
	if strings.TrimSpace(env["API_ADMIN_PASSWORD_HASH"]) != "" {
		required = append(required, "Admin.JWTSecret")
	}
	return required
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
