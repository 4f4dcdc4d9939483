// Command taskauthd serves the authentication API: /auth endpoints, a
// Prometheus /metrics endpoint, and the background expiry reaper.
//
// Configuration comes from the environment. TASKAUTH_STORE selects the
// backend: "redis" (default) needs TASKAUTH_REDIS_ADDR, "sqlite" needs
// TASKAUTH_SQLITE_PATH. TASKAUTH_USERS seeds the built-in identity provider
// with comma-separated identifier:secret pairs; secrets are hashed with
// Argon2id at startup and the plaintext discarded.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/taskvault/taskauth"
	"github.com/taskvault/taskauth/httpapi"
	"github.com/taskvault/taskauth/password"
	"github.com/taskvault/taskauth/reaper"
	"github.com/taskvault/taskauth/record"
	"github.com/taskvault/taskauth/record/redisstore"
	"github.com/taskvault/taskauth/record/sqlitestore"
)

type config struct {
	ListenAddr string `env:"TASKAUTH_LISTEN_ADDR" envDefault:":8080"`

	Store       string `env:"TASKAUTH_STORE" envDefault:"redis"`
	RedisAddr   string `env:"TASKAUTH_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix string `env:"TASKAUTH_REDIS_PREFIX" envDefault:"rt"`
	SQLitePath  string `env:"TASKAUTH_SQLITE_PATH" envDefault:"taskauth.db"`

	SigningSecret string        `env:"TASKAUTH_SIGNING_SECRET,required"`
	Issuer        string        `env:"TASKAUTH_ISSUER" envDefault:"taskauth"`
	AccessTTL     time.Duration `env:"TASKAUTH_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"TASKAUTH_REFRESH_TTL" envDefault:"168h"`

	CookieName   string `env:"TASKAUTH_COOKIE_NAME" envDefault:"tasks_refresh"`
	CookieDomain string `env:"TASKAUTH_COOKIE_DOMAIN"`
	CookieSecure bool   `env:"TASKAUTH_COOKIE_SECURE" envDefault:"true"`

	ReapInterval time.Duration `env:"TASKAUTH_REAP_INTERVAL" envDefault:"1h"`

	Users string `env:"TASKAUTH_USERS"`
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := newStaticProvider(cfg.Users)
	if err != nil {
		return fmt.Errorf("seed identity provider: %w", err)
	}

	authCfg := taskauth.DefaultConfig()
	authCfg.Token.TTL = cfg.AccessTTL
	authCfg.Token.PrivateKey = []byte(cfg.SigningSecret)
	authCfg.Token.Issuer = cfg.Issuer
	authCfg.Refresh.TTL = cfg.RefreshTTL
	authCfg.Reaper.Interval = cfg.ReapInterval

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := taskauth.New().
		WithConfig(authCfg).
		WithStore(store).
		WithIdentityProvider(provider).
		WithLogger(log).
		WithMetrics(registry).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	handler := httpapi.NewHandler(engine, httpapi.CookieConfig{
		Name:   cfg.CookieName,
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	}, log)

	router := chi.NewRouter()
	router.Mount("/auth", handler.Routes())
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.New(store,
			reaper.WithInterval(cfg.ReapInterval),
			reaper.WithLogger(log),
		).Run(ctx)
	}()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	wg.Wait()
	return nil
}

func openStore(cfg config) (record.Store, func(), error) {
	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store := redisstore.New(client, cfg.RedisPrefix, 0)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	case "sqlite":
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// staticProvider verifies credentials against Argon2id hashes seeded from
// the environment. It stands in for a real user service in small
// deployments and demos.
type staticProvider struct {
	hasher *password.Hasher
	users  map[string]string
	decoy  string
}

func newStaticProvider(spec string) (*staticProvider, error) {
	p := &staticProvider{
		hasher: password.NewHasher(password.DefaultParams()),
		users:  make(map[string]string),
	}
	decoy, err := p.hasher.Hash("decoy")
	if err != nil {
		return nil, err
	}
	p.decoy = decoy
	if strings.TrimSpace(spec) == "" {
		return p, nil
	}
	for _, entry := range strings.Split(spec, ",") {
		identifier, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || identifier == "" || secret == "" {
			return nil, fmt.Errorf("invalid user entry %q, want identifier:secret", entry)
		}
		hash, err := p.hasher.Hash(secret)
		if err != nil {
			return nil, err
		}
		p.users[identifier] = hash
	}
	return p, nil
}

func (p *staticProvider) VerifyCredentials(ctx context.Context, identifier, secret string) (string, error) {
	hash, ok := p.users[identifier]
	if !ok {
		// Burn comparable time so unknown identifiers are not
		// distinguishable by latency.
		_, _ = p.hasher.Verify(secret, p.decoy)
		return "", errors.New("unknown identifier")
	}
	match, err := p.hasher.Verify(secret, hash)
	if err != nil {
		return "", err
	}
	if !match {
		return "", errors.New("secret mismatch")
	}
	return identifier, nil
}
