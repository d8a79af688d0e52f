// Package password hashes and verifies credentials with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<lanes>$<salt>$<hash>
//
// # Worker pool
//
// Argon2 is deliberately CPU and memory hungry. [Pool] runs it on a fixed
// number of goroutines (half the CPUs by default) behind a bounded queue, so
// a burst of registrations queues up instead of starving request handling.
// Per-hash parallelism is a separate tunable and defaults to 1.
//
// Verification fails closed: a malformed or tampered stored hash is a
// mismatch, never an error that aborts the request.
package password
