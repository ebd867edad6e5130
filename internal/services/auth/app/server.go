// Package server composes and runs the auth process boundary.
//
// It hosts the HTTP API over a single SQLite store so identity decisions are
// made from one source of truth, and owns the cleanup ticker that sweeps
// expired pending sessions and stale action tokens.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftlyhq/driftly/internal/platform/config"
	"github.com/driftlyhq/driftly/internal/services/auth/account"
	"github.com/driftlyhq/driftly/internal/services/auth/actiontoken"
	"github.com/driftlyhq/driftly/internal/services/auth/api/httpapi"
	"github.com/driftlyhq/driftly/internal/services/auth/breach"
	"github.com/driftlyhq/driftly/internal/services/auth/geoip"
	"github.com/driftlyhq/driftly/internal/services/auth/mailer"
	"github.com/driftlyhq/driftly/internal/services/auth/notify"
	"github.com/driftlyhq/driftly/internal/services/auth/provider"
	"github.com/driftlyhq/driftly/internal/services/auth/session"
	authsqlite "github.com/driftlyhq/driftly/internal/services/auth/storage/sqlite"
	"github.com/driftlyhq/driftly/internal/services/auth/token"
)

const cleanupInterval = 5 * time.Minute

// Env holds the auth service environment configuration.
type Env struct {
	DBPath     string `env:"DRIFTLY_AUTH_DB_PATH"`
	SigningKey string `env:"DRIFTLY_AUTH_SIGNING_KEY"`
	BaseURL    string `env:"DRIFTLY_AUTH_BASE_URL" envDefault:"http://localhost:8084"`

	GoogleClientID     string `env:"DRIFTLY_AUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"DRIFTLY_AUTH_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"DRIFTLY_AUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"DRIFTLY_AUTH_GITHUB_CLIENT_SECRET"`

	TelegramBotToken string `env:"DRIFTLY_AUTH_TELEGRAM_BOT_TOKEN"`

	SMTP mailer.SMTPConfig `envPrefix:"DRIFTLY_AUTH_"`
}

// LoadEnv reads the auth service environment.
func LoadEnv() (Env, error) {
	var cfg Env
	if err := config.ParseEnv(&cfg); err != nil {
		return Env{}, err
	}
	return cfg, nil
}

// Server hosts the auth service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	sessions   *session.SQLStore
	actions    *actiontoken.Service
}

// New creates a configured auth server listening on addr.
func New(addr string, cfg Env) (*Server, error) {
	if strings.TrimSpace(cfg.SigningKey) == "" {
		return nil, errors.New("DRIFTLY_AUTH_SIGNING_KEY is required")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openAuthStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	sessions := session.NewSQLStore(store.DB())
	broker := session.NewBroker(sessions, session.DefaultTTL)

	issuer, err := token.NewIssuer([]byte(cfg.SigningKey), store)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	var adapters []provider.Adapter
	if cfg.GoogleClientID != "" {
		adapters = append(adapters, provider.NewGoogle(provider.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURI:  cfg.BaseURL + "/auth/google/callback",
		}))
	}
	if cfg.GitHubClientID != "" {
		adapters = append(adapters, provider.NewGitHub(provider.GitHubConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURI:  cfg.BaseURL + "/auth/github/callback",
		}))
	}
	registry := provider.NewRegistry(adapters...)

	var notifier notify.Notifier
	if cfg.TelegramBotToken != "" {
		notifier = notify.NewTelegram(cfg.TelegramBotToken)
	}

	var mail mailer.Mailer
	if cfg.SMTP.Host != "" {
		mail, err = mailer.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, err
		}
	} else {
		mail = mailer.LogMailer{}
	}

	linker, err := account.NewLinker(store, broker, issuer, nil,
		account.StoreReferrals{Users: store}, notifier, geoip.NewHTTPResolver())
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	actions, err := actiontoken.NewService(store, store, mail, issuer, breach.NewClient(), cfg.BaseURL)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	httpapi.NewHandler(registry, broker, linker, issuer, actions).RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
		sessions:   sessions,
		actions:    actions,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, addr string, cfg Env) error {
	srv, err := New(addr, cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startCleanup(serverCtx, cleanupInterval)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startCleanup sweeps expired pending sessions and stale action tokens on a
// fixed interval until ctx ends.
func (s *Server) startCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.sessions.CleanupExpired(now)
				s.actions.CleanupExpired(now)
			}
		}
	}()
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close auth store: %v", err)
	}
}
