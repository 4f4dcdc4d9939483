// Package password hashes and verifies credentials with Argon2id in PHC
// string format. It backs identity providers that store their own
// credentials; the authentication engine itself never sees raw secrets.
package password
