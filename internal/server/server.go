package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nodesocial/apiserver/config"
	"github.com/nodesocial/apiserver/internal/auth"
	"github.com/nodesocial/apiserver/internal/handlers"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/services"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// App is the set of services the router exposes.
type App struct {
	Authn         *auth.Authenticator
	Users         *services.UserService
	Photos        *services.PhotoIngestor
	Relationships *services.RelationshipService
	Posts         *services.PostService
	Health        map[string]handlers.HealthCheck
}

// NewApp builds the services over b.
func NewApp(cfg config.Config, b *Backends, log logging.Logger) *App {
	settings := Settings(cfg)

	photos := services.NewPhotoIngestor(b.Users, b.Blobs, b.Locks, log.With("component", "photos"), settings)
	users := services.NewUserService(b.Users, photos, b.Locks, b.Events, log.With("component", "users"), settings)
	return &App{
		Authn:         auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL, users),
		Users:         users,
		Photos:        photos,
		Relationships: services.NewRelationshipService(b.Users, b.Locks, b.Events, log.With("component", "relationships"), settings),
		Posts:         services.NewPostService(b.Posts, b.Locks, b.Events, log.With("component", "posts"), settings),
		Health:        b.Health,
	}
}

// Settings maps config onto the service timing knobs.
func Settings(cfg config.Config) services.Settings {
	return services.Settings{
		StorageTimeout: cfg.StorageTimeout,
		Retry: services.RetryPolicy{
			Attempts: cfg.RelationshipRetry.Attempts,
			Delay:    cfg.RelationshipRetry.Delay,
		},
	}
}

// NewRouter registers every route of app.
func NewRouter(app *App, allowedOrigins []string, log logging.Logger) *chi.Mux {
	authHandler := handlers.NewAuthHandler(app.Authn, app.Users, log)
	userHandler := handlers.NewUserHandler(app.Users, app.Photos, app.Posts, log)
	followHandler := handlers.NewFollowHandler(app.Relationships, log)
	postHandler := handlers.NewPostHandler(app.Posts, log)
	authMiddleware := authHandler.RequireAuth

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)
	router.Get("/healthz", handlers.Healthz(app.Health))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.FollowRouter(r, followHandler, authMiddleware)
		handlers.UserRouter(r, userHandler, authMiddleware)
	})
	router.Route("/posts", func(r chi.Router) {
		handlers.PostRouter(r, postHandler, authMiddleware)
	})
	return router
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	backends   *Backends
	log        logging.Logger
}

// New constructs a Server with the backends cfg selects.
func New(ctx context.Context, cfg config.Config, log logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backends, err := OpenBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	router := NewRouter(NewApp(cfg, backends, log), cfg.CORSAllowedOrigins, log)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		backends:   backends,
		log:        log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info(ctx, "listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down")
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.backends.Close())
}
