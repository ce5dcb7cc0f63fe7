// Package keysync learns players' public keys while the master server vouches for them: after a
// regular login, the player signs a challenge with their key, and the verified key is stored for
// later fallback authentication.
package keysync

import (
	"context"
	"crypto/ed25519"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sauerbraten/fallbackauth/internal/peer"
	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/sidechannel"
)

type Status int

const (
	// Skipped: the connection logged in through fallback authentication.
	Skipped Status = iota
	// Unsupported: the peer does not know the sync channel.
	Unsupported
	// Failed: the exchange failed or the signature did not verify.
	Failed
	// Stored: the key was verified and stored.
	Stored
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Unsupported:
		return "unsupported"
	case Failed:
		return "failed"
	case Stored:
		return "stored"
	default:
		return "unknown"
	}
}

type KeyAdder interface {
	Add(id uuid.UUID, encoded []byte, decoded ed25519.PublicKey)
}

type Metrics interface {
	KeySyncResult(status string)
}

type Syncer struct {
	keys          KeyAdder
	skip          *peer.SkipSet
	challengeSize int
	metrics       Metrics
	log           *slog.Logger
}

type Option func(*Syncer)

func WithMetrics(m Metrics) Option { return func(s *Syncer) { s.metrics = m } }

func WithLogger(log *slog.Logger) Option { return func(s *Syncer) { s.log = log } }

// WithChallengeSize overrides the default nonce length of 16 bytes.
func WithChallengeSize(n int) Option { return func(s *Syncer) { s.challengeSize = n } }

func New(keys KeyAdder, skip *peer.SkipSet, opts ...Option) *Syncer {
	s := &Syncer{
		keys:          keys,
		skip:          skip,
		challengeSize: 16,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "keysync")
	return s
}

// Sync runs the key exchange with a player that just logged in as id. Errors are logged, never returned:
// a failed sync only means the player can not use fallback authentication with a new key yet.
func (s *Syncer) Sync(ctx context.Context, conn peer.ConnID, id uuid.UUID, ch peer.Channel) (status Status) {
	log := s.log.With("conn", conn, "id", id)
	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected panic during key sync", "panic", r)
			status = Failed
		}
		if s.metrics != nil {
			s.metrics.KeySyncResult(status.String())
		}
	}()

	if s.skip != nil && s.skip.Consume(conn) {
		return Skipped
	}

	nonce, err := auth.NewChallenge(s.challengeSize)
	if err != nil {
		log.Error("could not create challenge", "error", err)
		return Failed
	}

	answer, understood, err := ch.Query(ctx, sidechannel.SyncS2C, sidechannel.NewChallenge(nonce).Encode())
	if err != nil {
		log.Debug("key sync exchange failed", "error", err)
		return Failed
	}
	if !understood {
		return Unsupported
	}

	resp, err := sidechannel.DecodeResponse(answer)
	if err != nil {
		log.Warn("malformed key sync response", "error", err)
		return Failed
	}
	pub, err := auth.DecodePublicKey(resp.EncodedPublicKey)
	if err != nil {
		log.Warn("received invalid public key", "error", err)
		return Failed
	}
	if !auth.IsValidSignature(nonce, resp.Signature, pub) {
		log.Warn("received invalid signature")
		return Failed
	}

	s.keys.Add(id, resp.EncodedPublicKey, pub)
	log.Debug("stored public key")
	return Stored
}
