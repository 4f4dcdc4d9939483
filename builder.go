package taskauth

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/taskvault/taskauth/record"
	"github.com/taskvault/taskauth/record/redisstore"
	"github.com/taskvault/taskauth/token"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config   Config
	store    record.Store
	identity IdentityProvider
	log      *slog.Logger
	registry prometheus.Registerer

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the refresh-record store.
func (b *Builder) WithStore(store record.Store) *Builder {
	b.store = store
	return b
}

// WithRedis is a convenience that backs the engine with a Redis record store
// using the given key prefix.
func (b *Builder) WithRedis(client redis.UniversalClient, prefix string) *Builder {
	b.store = redisstore.New(client, prefix, 0)
	return b
}

// WithIdentityProvider sets the credential verifier used by Login.
func (b *Builder) WithIdentityProvider(ip IdentityProvider) *Builder {
	b.identity = ip
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// WithMetrics registers engine counters on the given Prometheus registerer.
// Without it the engine records no metrics.
func (b *Builder) WithMetrics(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// Build validates the configuration and dependencies and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("record store required")
	}
	if b.identity == nil {
		return nil, errors.New("identity provider required")
	}

	codec, err := token.NewCodec(token.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = slog.Default()
	}

	b.built = true

	return &Engine{
		config:   cfg,
		store:    b.store,
		codec:    codec,
		identity: b.identity,
		log:      log,
		metrics:  NewMetrics(b.registry),
	}, nil
}
