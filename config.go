package taskauth

import (
	"errors"
	"time"

	"github.com/taskvault/taskauth/token"
)

// TokenConfig controls the signed access tokens issued by the engine.
type TokenConfig struct {
	// TTL is the access-token lifetime. Default 15m.
	TTL time.Duration
	// SigningMethod selects the signature algorithm. Default HS256.
	SigningMethod token.SigningMethod
	// PrivateKey is the HMAC secret for HS256 or the Ed25519 private key
	// (raw or PEM) for Ed25519.
	PrivateKey []byte
	// PublicKey is the Ed25519 verification key. Unused for HS256.
	PublicKey []byte
	// Issuer and Audience are embedded in and required of every token when
	// set.
	Issuer   string
	Audience string
	// Leeway tolerates clock skew during expiry validation. Default 0.
	Leeway time.Duration
}

// RefreshConfig controls the opaque refresh tokens and their rotation chains.
type RefreshConfig struct {
	// TTL is the refresh-token lifetime. Default 7 days.
	TTL time.Duration
}

// ReaperConfig controls the background deletion of expired refresh records.
type ReaperConfig struct {
	// Interval between sweeps. Default 1h.
	Interval time.Duration
}

// Config aggregates all engine settings. Obtain a baseline from
// DefaultConfig and override what differs.
type Config struct {
	Token   TokenConfig
	Refresh RefreshConfig
	Reaper  ReaperConfig

	// StoreTimeout bounds each individual store operation. Default 5s.
	StoreTimeout time.Duration
}

// DefaultConfig returns the recommended baseline configuration. The signing
// key must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           15 * time.Minute,
			SigningMethod: token.MethodHS256,
		},
		Refresh: RefreshConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Reaper: ReaperConfig{
			Interval: time.Hour,
		},
		StoreTimeout: 5 * time.Second,
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("Token.TTL must be positive")
	}
	if len(c.Token.PrivateKey) == 0 {
		return errors.New("Token.PrivateKey is required")
	}
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh.TTL must be positive")
	}
	if c.Refresh.TTL < c.Token.TTL {
		return errors.New("Refresh.TTL must not be shorter than Token.TTL")
	}
	if c.Reaper.Interval <= 0 {
		return errors.New("Reaper.Interval must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("StoreTimeout must be positive")
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneConfig(c Config) Config {
	out := c
	out.Token.PrivateKey = cloneBytes(c.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(c.Token.PublicKey)
	return out
}
