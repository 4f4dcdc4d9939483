package httpapi

import (
	"net/http"
	"time"
)

// DefaultCookieName is the refresh cookie name used when none is configured.
const DefaultCookieName = "tasks_refresh"

// CookieConfig controls the refresh-token cookie. The cookie is always
// HttpOnly with SameSite=Lax; only deployment-specific attributes vary.
type CookieConfig struct {
	// Name of the cookie. Default "tasks_refresh".
	Name string
	// Path the cookie is scoped to. Default "/auth".
	Path string
	// Domain attribute. Empty means host-only.
	Domain string
	// Secure marks the cookie HTTPS-only. Leave false only for local
	// development.
	Secure bool
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = DefaultCookieName
	}
	if c.Path == "" {
		c.Path = "/auth"
	}
	return c
}

// cookies writes, reads, and clears the refresh cookie so that the token
// value never appears in a response body.
type cookies struct {
	config CookieConfig
}

func newCookies(cfg CookieConfig) cookies {
	return cookies{config: cfg.withDefaults()}
}

func (c cookies) write(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.config.Name,
		Value:    token,
		Path:     c.config.Path,
		Domain:   c.config.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c cookies) read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.config.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func (c cookies) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.config.Name,
		Value:    "",
		Path:     c.config.Path,
		Domain:   c.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
