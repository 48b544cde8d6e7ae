// Package auth issues and validates the short-lived credentials that
// identify a caller.
//
// Tokens are HMAC-SHA256 signed JWTs carrying subject, expiry and a token
// id. Verification is stateless; revocation ("logout before expiry") is the
// one stateful part and is kept in a small id-keyed set whose entries expire
// with the tokens they block, optionally written through to storage.
package auth
