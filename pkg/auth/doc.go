// Package auth implements the cryptographic primitives of the fallback authentication mechanism.
//
// Players hold a long-lived Ed25519 key pair. The server learns a player's public key (PKIX-encoded)
// while the player is authenticated by the master server, and stores it per player id. When the
// master server can not vouch for a player, the server sends a random challenge; the player signs it
// with the private key and returns the signature together with the encoded public key. The server only
// accepts public keys it stored earlier for that player, so a freshly generated key pair is useless to
// an impersonator.
package auth
