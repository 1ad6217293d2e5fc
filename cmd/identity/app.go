package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/identity/internal/db"
	"github.com/nkiryanov/identity/internal/handlers"
	"github.com/nkiryanov/identity/internal/handlers/middleware"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/repository/postgres"
	"github.com/nkiryanov/identity/internal/service/auth"
	"github.com/nkiryanov/identity/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/identity/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:       c.SecretKey,
		AccessTTL:       c.AccessTokenTTL,
		RefreshTTL:      time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour,
		MaxActiveTokens: c.MaxRefreshTokens,
	}, storage.Refresh())
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	hasher := auth.BcryptHasher{Cost: c.BcryptCost}
	authService, err := auth.NewService(auth.Config{Hasher: hasher}, tokenManager, storage.User())
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	userService := user.NewService(hasher, storage)

	// Complete handlers and middlewares together as router
	router := handlers.NewRouter(
		handlers.NewAuth(authService),
		handlers.NewUser(userService),
		middleware.Auth(authService),
		middleware.Logger(l),
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    router,
		Logger:     l,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
