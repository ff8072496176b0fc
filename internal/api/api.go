// Package api serves the web login and the signed-in user's account data.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/config"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/notify"
	"github.com/susu3304/tipbot/internal/reactdrop"
)

const discordAPIBase = "https://discord.com/api"

// Store is the account data the API exposes.
type Store interface {
	Available(ctx context.Context, userID string) (balance, committed amount.Amount, err error)
	Entries(ctx context.Context, userID string, limit int) ([]ledger.Entry, error)
	NotificationPreference(ctx context.Context, userID string) (notify.Preference, error)
	SetNotificationPreference(ctx context.Context, userID string, p notify.Preference) error
	ReactdropsByInitiator(ctx context.Context, userID string, limit int) ([]*reactdrop.Reactdrop, error)
}

type API struct {
	router      *mux.Router
	store       Store
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	discordAPI  string
	httpClient  *http.Client
	logger      *zap.Logger
	server      *http.Server
}

func New(cfg *config.Config, store Store, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &API{
		router:     mux.NewRouter(),
		store:      store,
		config:     cfg,
		jwtSecret:  []byte(cfg.JWTSecret),
		discordAPI: discordAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named("api"),
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  discordAPIBase + "/oauth2/authorize",
				TokenURL: discordAPIBase + "/oauth2/token",
			},
		},
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/health", a.handleHealth).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Protected endpoints exist only when tokens can be issued.
	if !a.config.OAuthEnabled() || len(a.jwtSecret) == 0 {
		a.logger.Info("web login disabled, account endpoints not served")
		return
	}
	protected := a.router.PathPrefix("/api/me").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/balance", a.handleBalance).Methods("GET")
	protected.HandleFunc("/entries", a.handleEntries).Methods("GET")
	protected.HandleFunc("/notifications", a.handleGetNotifications).Methods("GET")
	protected.HandleFunc("/notifications", a.handlePutNotifications).Methods("PUT")
	protected.HandleFunc("/reactdrops", a.handleReactdrops).Methods("GET")
}

// Handler is the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// When AllowedOrigins is "*", AllowCredentials must stay false.
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until Shutdown is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("API server listening", zap.String("addr", a.config.WebBind))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
