// Package taskauth is the authentication core for API clients: short-lived
// signed access tokens paired with long-lived, single-use refresh tokens.
//
// Access tokens are JWTs verified purely cryptographically, never against
// storage. Refresh tokens are opaque ids backed by persisted records that
// form rotation chains: every refresh retires the presented token and issues
// a successor in the same chain. Presenting a retired token is treated as
// evidence of theft and revokes the entire chain.
//
// The Engine is assembled through the Builder:
//
//	engine, err := taskauth.New().
//		WithConfig(cfg).
//		WithRedis(redisClient, "rt").
//		WithIdentityProvider(provider).
//		Build()
//
// Engine methods are safe for concurrent use. Storage backends live in
// record/redisstore and record/sqlitestore, the background expiry sweep in
// reaper, and the HTTP/cookie surface in httpapi.
package taskauth
