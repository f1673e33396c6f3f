package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	_ "github.com/lib/pq"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "taskboard/docs"
	"taskboard/internal/config"
	"taskboard/internal/handlers"
	"taskboard/internal/metadata"
	"taskboard/internal/middleware"
	"taskboard/internal/realtime"
	"taskboard/internal/repositories"
	"taskboard/internal/routes"
	"taskboard/internal/services"
)

// Run serves until a signal (exit code 0) or a fatal fault (exit code 1).
func Run(cfg *config.Config) int {
	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		glog.Errorf("Ошибка подключения к БД: %v", err)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			glog.Warningf("Ошибка закрытия БД: %v", err)
		}
	}()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		glog.Errorf("database unreachable: %v", err)
		return 1
	}

	meta, err := metadata.Load(cfg.Metadata.Path)
	if err != nil {
		glog.Errorf("%v", err)
		return 1
	}

	// === Repos ===
	entityRepo := repositories.NewEntityRepository(db)
	changeRepo := repositories.NewChangeRepository(db)
	followerRepo := repositories.NewFollowerRepository(db)
	personRepo := repositories.NewPersonRepository(db)
	taskRepo := repositories.NewTaskRepository(db)

	// === Realtime ===
	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry)

	fatal := make(chan error, 1)
	onFatal := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	// === Services ===
	taskService := services.NewTaskService(taskRepo)
	changeService := services.NewChangeService(changeRepo, meta, taskService, dispatcher)
	taskService.SetRecorder(changeService)
	changeService.SetFatalHandler(onFatal)
	telegram := telegramService(cfg)
	if n := offlineNotifier(cfg, personRepo, telegram); n != nil {
		changeService.SetOfflineNotifier(n)
	}
	entityService := services.NewEntityService(meta, entityRepo, followerRepo, personRepo, changeService, taskService)
	notificationService := services.NewNotificationService(changeRepo)

	authenticator := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName, cfg.Auth.TokenTTL)
	authService := services.NewAuthService(personRepo, authenticator)

	// === Handlers ===
	socketRoutes := routes.BuildSocketRoutes(entityService, taskService, notificationService)
	socketHandler := handlers.NewSocketHandler(socketRoutes, registry, authenticator, onFatal)
	authHandler := handlers.NewAuthHandler(authService, cfg.Auth.CookieName, cfg.Auth.TokenTTL, cfg.Server.PublicDir)
	var integrationsHandler *handlers.IntegrationsHandler
	if telegram != nil {
		links := services.NewTelegramLinkService(repositories.NewTelegramLinkRepository(db))
		integrationsHandler = handlers.NewIntegrationsHandler(telegram, links)
	}

	// === Gin ===
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(middleware.ErrorResponder())
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	routes.SetupRoutes(router, authHandler, socketHandler, integrationsHandler, authenticator, cfg.Server.PublicDir)
	glog.Infof("%d socket routes for %d entities", len(socketRoutes), len(meta.Entities))

	// === Run ===
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		glog.Infof("Сервер запущен на %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onFatal(err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	select {
	case <-sigCtx.Done():
		glog.Infof("signal received, shutting down")
	case err := <-fatal:
		glog.Errorf("fatal: %v", err)
		code = 1
	}

	shutdown(server, registry, cfg.Server.ShutdownTimeout, code)
	return code
}

// shutdown stops accepting connections and closes the open sockets. A
// watchdog exits the process if that takes more than twice the timeout.
func shutdown(server *http.Server, registry *realtime.Registry, timeout time.Duration, code int) {
	watchdog := time.AfterFunc(2*timeout, func() {
		glog.Errorf("graceful shutdown timed out after %s", 2*timeout)
		glog.Flush()
		os.Exit(code)
	})
	defer watchdog.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		glog.Warningf("http shutdown: %v", err)
	}
	// hijacked sockets are not tracked by the http server
	registry.CloseAll()
}

// telegramService returns nil when no bot is configured or the token is
// rejected.
func telegramService(cfg *config.Config) *services.TelegramService {
	if cfg.Telegram.BotToken == "" {
		return nil
	}
	tg, err := services.NewTelegramService(cfg.Telegram.BotToken)
	if err != nil {
		glog.Warningf("telegram disabled: %v", err)
		return nil
	}
	return tg
}

func offlineNotifier(cfg *config.Config, persons repositories.PersonRepository, tg *services.TelegramService) *services.ContactNotifier {
	var (
		email    services.EmailService
		telegram services.TelegramSender
	)
	if tg != nil {
		telegram = tg
	}
	if cfg.Email.SMTPHost != "" {
		email = services.NewEmailService(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
		)
	}
	if email == nil && telegram == nil {
		return nil
	}
	return services.NewContactNotifier(persons, email, telegram, cfg.Server.BaseURL)
}
