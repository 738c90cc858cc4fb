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

	"github.com/aussiebroadwan/clubhouse/internal/club/content"
	httpapi "github.com/aussiebroadwan/clubhouse/internal/club/http"
	"github.com/aussiebroadwan/clubhouse/internal/club/mailer"
	"github.com/aussiebroadwan/clubhouse/internal/club/metrics"
	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/internal/club/store/drivers/sqlite"
	"github.com/aussiebroadwan/clubhouse/internal/club/upload"
	"github.com/aussiebroadwan/clubhouse/internal/club/web"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the club website with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       *sqlite.Store
	hasher   *cryptox.Hasher
	secrets  *cryptox.SecretBox
	site     content.Site
	metrics  *metrics.Metrics
	sessions *session.Manager
	storage  upload.Storage
	mailer   mailer.Mailer

	// readyChecks are the optional backends probed by /readyz.
	readyChecks map[string]httpapi.Pinger
	closers     []func() error

	// Services
	activityService     *service.ActivityService
	authService         *service.AuthService
	mfaService          *service.MFAService
	profileService      *service.ProfileService
	adminService        *service.AdminService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "clubhouse",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics:     metrics.New(),
		readyChecks: map[string]httpapi.Pinger{},
	}

	db, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	app.db = db
	app.closers = append(app.closers, db.Close)
	app.logger.Info("database migrations applied successfully")

	if err := app.initDependencies(); err != nil {
		app.close()
		return nil, err
	}

	app.initServices()
	if err := app.initHTTP(); err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("clubhouse starting",
		slog.Int("port", app.cfg.Port),
		slog.String("version", BuildVersion),
		slog.String("session_store", app.cfg.SessionStore),
		slog.String("upload_storage", app.cfg.UploadStorage),
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		app.close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down clubhouse...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", slog.Any("error", err))
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", slog.Any("error", err))
		}
	}

	app.housekeepingService.Stop()

	if err := app.close(); err != nil {
		return err
	}

	app.logger.Info("clubhouse stopped")
	return nil
}

// close releases backends in reverse order of acquisition and returns the
// first error.
func (app *Application) close() error {
	var first error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("error closing dependency", slog.Any("error", err))
			if first == nil {
				first = err
			}
		}
	}
	app.closers = nil
	return first
}

// OpenStore opens the SQLite database named by cfg and applies migrations.
// The CLI shares it so both see the same schema.
func OpenStore(cfg Config) (*sqlite.Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	return db, nil
}

// NewHasher loads (or creates) the pepper file and returns the password hasher.
func NewHasher(cfg Config) (*cryptox.Hasher, error) {
	pepper, err := cryptox.LoadOrGeneratePepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	return cryptox.NewHasher(pepper), nil
}

// initDependencies builds the pluggable backends (session store, object
// storage, mailer) along with site content and key material.
func (app *Application) initDependencies() error {
	hasher, err := NewHasher(app.cfg)
	if err != nil {
		return err
	}
	app.hasher = hasher

	secrets, err := cryptox.LoadOrGenerateSecretBox(app.cfg.SecretFile)
	if err != nil {
		return fmt.Errorf("failed to load secret key: %w", err)
	}
	app.secrets = secrets

	app.site = content.Default()
	if app.cfg.SiteFile != "" {
		site, err := content.Load(app.cfg.SiteFile)
		if err != nil {
			return fmt.Errorf("failed to load site content: %w", err)
		}
		app.site = site
	}

	app.sessions = &session.Manager{
		CookieName:  app.cfg.SessionCookieName,
		Lifetime:    app.cfg.SessionLifetime,
		RotateAfter: app.cfg.SessionRotateAfter,
		Secure:      app.cfg.SessionSecure,
	}
	switch app.cfg.SessionStore {
	case "redis":
		rs, err := session.NewRedisStore(app.cfg.RedisAddr, app.cfg.RedisPassword, app.cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect session store: %w", err)
		}
		app.sessions.Store = rs
		app.readyChecks["redis"] = rs
		app.closers = append(app.closers, rs.Close)
	default:
		app.sessions.Store = session.NewMemoryStore()
	}

	switch app.cfg.UploadStorage {
	case "minio":
		ms, err := upload.NewMinIOStorage(upload.MinIOConfig{
			Endpoint:  app.cfg.MinIOEndpoint,
			AccessKey: app.cfg.MinIOAccessKey,
			SecretKey: app.cfg.MinIOSecretKey,
			Bucket:    app.cfg.MinIOBucket,
			UseSSL:    app.cfg.MinIOUseSSL,
		})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ms.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare upload bucket: %w", err)
		}
		app.storage = ms
		app.readyChecks["object_storage"] = ms
	default:
		ls, err := upload.NewLocalStorage(app.cfg.UploadDir)
		if err != nil {
			return err
		}
		app.storage = ls
	}

	if app.cfg.SMTPAddr != "" {
		app.mailer = &mailer.SMTPMailer{
			Addr:     app.cfg.SMTPAddr,
			Username: app.cfg.SMTPUsername,
			Password: app.cfg.SMTPPassword,
			From:     app.cfg.MailFrom,
		}
	} else {
		app.logger.Warn("SMTP_ADDR not set, emails are printed to stdout")
		app.mailer = &mailer.LogMailer{Out: os.Stdout}
	}

	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.activityService = &service.ActivityService{Store: app.db, Metrics: app.metrics}

	app.mfaService = &service.MFAService{
		Store:    app.db,
		Issuer:   app.site.Name,
		Activity: app.activityService,
		Secrets:  app.secrets,
	}

	app.authService = &service.AuthService{
		Store:  app.db,
		Hasher: app.hasher,
		Policy: service.DefaultPasswordPolicy,
		Throttle: &service.LoginThrottle{
			Store:       app.db,
			MaxAttempts: app.cfg.LoginMaxAttempts,
			Lockout:     app.cfg.LoginLockout,
		},
		MFA:      app.mfaService,
		Activity: app.activityService,
		Mailer:   app.mailer,
		SiteName: app.site.Name,
		BaseURL:  app.cfg.BaseURL,
		ResetTTL: app.cfg.ResetTokenTTL,
	}

	app.profileService = &service.ProfileService{
		Store:    app.db,
		Hasher:   app.hasher,
		Policy:   service.DefaultPasswordPolicy,
		Uploads:  upload.NewImageValidator(app.cfg.UploadMaxBytes),
		Storage:  app.storage,
		Activity: app.activityService,
	}

	app.adminService = &service.AdminService{Store: app.db, Activity: app.activityService}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.LoginLockout,
	)
	app.housekeepingService.Metrics = app.metrics
	// Redis expires sessions itself.
	if sw, ok := app.sessions.Store.(service.Sweeper); ok {
		app.housekeepingService.Sessions = sw
	}
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() error {
	renderer, err := web.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	router := httpapi.NewRouter(renderer, app.site, BuildVersion, app.db, app.logger)

	router.Sessions = app.sessions
	router.Metrics = app.metrics
	router.Storage = app.storage
	router.MaxUploadBytes = app.cfg.UploadMaxBytes
	router.ReadyChecks = app.readyChecks
	router.AuthService = app.authService
	router.ProfileService = app.profileService
	router.MFAService = app.mfaService
	router.AdminService = app.adminService
	router.ActivityService = app.activityService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return nil
}
