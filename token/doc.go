// Package token issues and verifies signed access tokens. The codec is
// stateless: validity is purely cryptographic plus time-based, and
// verification performs no I/O.
package token
