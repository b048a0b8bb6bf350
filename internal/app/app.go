package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"wzslicense/internal/activation"
	"wzslicense/internal/alert"
	"wzslicense/internal/config"
	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/infrastructure"
	"wzslicense/internal/license"
	custommw "wzslicense/internal/middleware"
	"wzslicense/internal/notify"
	"wzslicense/internal/orders"
	"wzslicense/internal/security"
	"wzslicense/internal/services"
	"wzslicense/internal/storage"
	handlers "wzslicense/internal/transport/http"
)

// Application holds every long lived component of the server
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	Store         orders.Store
	Queue         notify.Queue
	Dispatcher    *notify.Dispatcher
	Alerter       alert.Alerter
	RateLimiter   *custommw.RateLimiter
	Services      *ServiceContainer
}

// ServiceContainer holds the application services
type ServiceContainer struct {
	Payment services.PaymentService
	Order   services.OrderService
	License services.LicenseService
	Health  *services.HealthService
}

// NewApplication loads configuration from the environment and builds the
// application
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("store", cfg.Store.Driver),
		slog.String("notify_backend", cfg.Notify.Backend))

	return Build(ctx, cfg, logger)
}

// Build wires the application from an explicit configuration. Components
// opened before a failure are closed again.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Application, err error) {
	a := &Application{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.ErrorContext(ctx, "cleanup after failed start", slog.String("error", cerr.Error()))
			}
		}
	}()

	a.OTelProviders, err = infrastructure.InitializeOTel(infrastructure.NewOTelConfig(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.Metrics, err = infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	a.Store, err = storage.Open(ctx, cfg.Store, a.Metrics, logger)
	if err != nil {
		return nil, err
	}

	if err := a.initializeNotifications(ctx); err != nil {
		return nil, err
	}

	a.Alerter, err = alert.New(cfg.Alert, config.AppVersion, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alerting: %w", err)
	}

	if err := a.initializeServices(); err != nil {
		return nil, err
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeNotifications builds the email queue, mailer and dispatcher
func (a *Application) initializeNotifications(ctx context.Context) error {
	cfg := a.Config.Notify
	switch cfg.Backend {
	case config.QueueRedis:
		client, err := notify.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect notification queue: %w", err)
		}
		a.Queue = notify.NewRedisQueue(client, cfg.RedisKey)
	default:
		a.Queue = notify.NewMemoryQueue(cfg.QueueSize)
	}

	var mailer notify.Mailer
	if a.Config.Mail.Enabled {
		mailer = notify.NewSMTPMailer(a.Config.Mail)
	} else {
		a.Logger.WarnContext(ctx, "mail disabled, license emails are only logged")
		mailer = notify.NewLogMailer(a.Logger)
	}

	a.Dispatcher = notify.NewDispatcher(a.Queue, mailer, notify.DispatcherConfig{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
	}, a.Metrics, a.Logger)
	return nil
}

// initializeServices wires the order and license core into services
func (a *Application) initializeServices() error {
	cfg := a.Config

	products, err := cfg.Products.Catalog()
	if err != nil {
		return fmt.Errorf("invalid product catalog: %w", err)
	}

	issuer, err := license.NewIssuer(license.IssuerConfig{
		Secret:     cfg.License.Secret,
		Prefix:     cfg.License.Prefix,
		GroupSize:  cfg.License.GroupSize,
		GroupCount: cfg.License.GroupCount,
	})
	if err != nil {
		return fmt.Errorf("failed to create license issuer: %w", err)
	}

	signType, err := security.ParseSignType(cfg.Payment.SignType)
	if err != nil {
		return err
	}
	verifier := security.NewVerifier(cfg.Payment.Key, signType)

	machine := orders.NewStateMachine(a.Store, issuer, a.Logger)
	manager := activation.NewManager(a.Store, issuer, a.Metrics, a.Logger)

	a.Services = &ServiceContainer{
		Payment: services.NewPaymentService(
			services.PaymentServiceConfigFrom(cfg),
			verifier,
			machine,
			a.Dispatcher,
			a.Alerter,
			products,
			a.Metrics,
			a.Logger,
		),
		Order:   services.NewOrderService(a.Store, verifier, cfg.Payment, products, a.Logger),
		License: services.NewLicenseService(manager, a.Logger),
		Health:  services.NewHealthService(config.AppVersion, a.Store, a.Dispatcher, cfg.Store.OperationTimeout, a.Logger),
	}
	return nil
}

// setupRouter applies middleware in the order
// RequestID, RealIP, OTel, Logger, Recoverer, Timeout, then the HTTP policy
// middleware
func (a *Application) setupRouter() {
	cfg := a.Config
	errHandler := apierrors.NewErrorHandler(a.Logger, cfg.Logging.Development)
	validator := custommw.NewValidator()

	r := chi.NewRouter()
	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics).Handler)
	r.Use(custommw.StructuredLogger(a.Logger))
	r.Use(custommw.Recoverer(a.Logger))
	r.Use(custommw.Timeout(cfg.Server.RequestTimeout))
	r.Use(custommw.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(custommw.CORS(cfg.Security.AllowedOrigins))
	}

	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	r.Method(http.MethodGet, config.MetricsEndpoint, handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))
	r.Route(config.APIBasePath, func(r chi.Router) {
		// health checks are not rate limited
		r.Mount("/health", handlers.NewHealthHandler(a.Services.Health, a.Logger).Routes())
		r.Group(func(r chi.Router) {
			if cfg.Security.RateLimit.Enabled {
				a.RateLimiter = custommw.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, a.Logger)
				r.Use(a.RateLimiter.Handler)
			}
			a.setupAPIRoutes(r, validator, errHandler)
		})
	})

	a.Router = r
}

// setupAPIRoutes mounts the API handlers under /api
func (a *Application) setupAPIRoutes(r chi.Router, validator *custommw.Validator, errHandler *apierrors.ErrorHandler) {
	r.Mount("/payment", handlers.NewPaymentHandler(a.Services.Payment, a.Logger).Routes())
	r.Mount("/orders", handlers.NewOrderHandler(a.Services.Order, validator, errHandler, a.Logger).Routes())
	r.Mount("/license", handlers.NewLicenseHandler(a.Services.License, validator, errHandler, a.Logger).Routes())
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves HTTP and delivers notifications until ctx is done or an
// interrupt arrives, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	// Background work outlives the HTTP server; the dispatcher gets up to
	// ShutdownTimeout after the server stops to deliver what the last
	// requests queued.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var workers errgroup.Group
	workers.Go(func() error {
		err := a.Dispatcher.Run(workCtx)
		if err != nil {
			cancelServe()
		}
		return err
	})
	if a.RateLimiter != nil {
		workers.Go(func() error {
			return a.RateLimiter.Run(workCtx)
		})
	}

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(context.WithoutCancel(gctx), "Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	_ = a.Dispatcher.Drain(drainCtx)
	cancelDrain()

	cancelWork()
	if err := workers.Wait(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		result = multierror.Append(result, err)
	}
	a.Logger.InfoContext(context.WithoutCancel(ctx), "Application shutdown complete")
	return result.ErrorOrNil()
}

// Close releases the queue, alerting, telemetry and the store. Components
// that were never created are skipped.
func (a *Application) Close(ctx context.Context) error {
	var result *multierror.Error

	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close notification queue: %w", err))
		}
	}
	if a.Alerter != nil && !a.Alerter.Flush(a.Config.Alert.FlushTimeout) {
		a.Logger.WarnContext(ctx, "pending alerts were not flushed")
	}
	if a.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown OpenTelemetry: %w", err))
		}
		cancel()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", err))
		}
	}
	return result.ErrorOrNil()
}
