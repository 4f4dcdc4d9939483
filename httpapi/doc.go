// Package httpapi is the HTTP surface of the authentication engine: the
// /auth login, refresh, and logout endpoints plus the bearer-token Guard
// middleware.
//
// # Architecture boundaries
//
// This package owns transport concerns only: JSON bodies, status codes, and
// the refresh cookie. All policy (rotation, reuse detection, revocation)
// lives in the engine. The refresh token is transported exclusively in an
// HttpOnly SameSite=Lax cookie; handlers never echo it in a response body,
// and failure responses stay generic so callers cannot probe session state.
package httpapi
