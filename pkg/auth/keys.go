package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinChallengeSize is the smallest nonce a challenge may use.
const MinChallengeSize = 4

var (
	ErrInvalidPublicKey  = errors.New("auth: invalid public key")
	ErrInvalidPrivateKey = errors.New("auth: invalid private key")
	ErrChallengeTooShort = fmt.Errorf("auth: challenge must be at least %d bytes", MinChallengeSize)
)

// GenerateKeyPair returns a fresh Ed25519 key pair in its encoded forms: the private key as
// PKCS #8 DER, the public key as PKIX (X.509 SubjectPublicKeyInfo) DER. The encoded public key
// is what peers send over the wire and what the server stores.
func GenerateKeyPair() (priv, pub []byte, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	priv, err = x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return nil, nil, err
	}
	pub, err = EncodePublicKey(pubKey)
	return
}

func EncodePublicKey(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return x509.MarshalPKIXPublicKey(pub)
}

// DecodePublicKey parses a PKIX-encoded Ed25519 public key.
func DecodePublicKey(encoded []byte) (ed25519.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 key (%T)", ErrInvalidPublicKey, key)
	}
	return pub, nil
}

// DecodePrivateKey parses a PKCS #8-encoded Ed25519 private key.
func DecodePrivateKey(encoded []byte) (ed25519.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 key (%T)", ErrInvalidPrivateKey, key)
	}
	return priv, nil
}

// FormatPublicKey returns the hex form of an encoded public key, as used in
// persisted state and operator commands.
func FormatPublicKey(encoded []byte) string { return hex.EncodeToString(encoded) }

// ParsePublicKey decodes the hex form of an encoded public key and checks
// that it holds a valid Ed25519 key.
func ParsePublicKey(s string) (encoded []byte, pub ed25519.PublicKey, err error) {
	encoded, err = hex.DecodeString(s)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, err = DecodePublicKey(encoded)
	if err != nil {
		return nil, nil, err
	}
	return encoded, pub, nil
}

// NewChallenge returns size random bytes from a cryptographically secure source.
func NewChallenge(size int) ([]byte, error) {
	if size < MinChallengeSize {
		return nil, ErrChallengeTooShort
	}
	chal := make([]byte, size)
	if _, err := rand.Read(chal); err != nil {
		return nil, fmt.Errorf("auth: could not generate challenge: %w", err)
	}
	return chal, nil
}

// Sign creates a detached signature over the challenge.
func Sign(challenge []byte, priv ed25519.PrivateKey) []byte {
	return ed25519.Sign(priv, challenge)
}

// IsValidSignature reports whether sig is a valid signature over challenge by pub.
// Malformed keys or signatures are reported as invalid, never as a panic.
func IsValidSignature(challenge, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, challenge, sig)
}

// Solve answers a challenge with the encoded private key: it returns the signature
// and the encoded public key belonging to priv.
func Solve(challenge, encodedPriv []byte) (sig, encodedPub []byte, err error) {
	priv, err := DecodePrivateKey(encodedPriv)
	if err != nil {
		return nil, nil, err
	}
	encodedPub, err = EncodePublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, nil, err
	}
	return Sign(challenge, priv), encodedPub, nil
}
