// Package vault is a local, single-user encrypted credential store.
//
// Platform names, usernames, passwords and timestamps are each kept as an
// independent Token. Every token is encrypted under a key derived with
// PBKDF2 from a context string: the master secret for platforms, secret
// and platform for usernames, and secret, platform and username for
// passwords and timestamps. Tokens carry a random IV, so equal plaintexts
// never produce equal tokens and every lookup has to decrypt candidates
// and compare plaintext.
//
// The master secret is never stored. A Preference record holds a random
// salt and a verification hash, and the Store checks the secret against
// it at the start of every operation.
package vault
