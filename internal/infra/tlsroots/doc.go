// Package tlsroots loads the certificates of the admin listener.
//
// Pool collects trusted CA certificates for verifying peers. Reloader
// serves a key pair from disk and swaps it in when the files change, so
// certificates can be rotated without a restart.
package tlsroots
