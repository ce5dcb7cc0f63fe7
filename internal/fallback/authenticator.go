// Package fallback authenticates players with a signed challenge when the master server can not vouch for them.
package fallback

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/sauerbraten/fallbackauth/internal/peer"
	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/disconnectreason"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/sidechannel"
)

var ErrInvalidConfig = errors.New("fallback: invalid config")

type Config struct {
	// AlwaysAttempt runs fallback authentication even when the master server is available.
	AlwaysAttempt bool `json:"always_attempt" yaml:"always_attempt"`
	// ChallengeSize is the nonce length in bytes.
	ChallengeSize int `json:"challenge_size" yaml:"challenge_size"`
}

func DefaultConfig() Config {
	return Config{
		AlwaysAttempt: true,
		ChallengeSize: 16,
	}
}

func (c Config) Validate() error {
	if c.ChallengeSize < auth.MinChallengeSize {
		return fmt.Errorf("%w: challenge size must be at least %d", ErrInvalidConfig, auth.MinChallengeSize)
	}
	return nil
}

type RateLimiter interface {
	IsAddressRateLimited(addr netip.Addr) bool
}

type ProfileFinder interface {
	FindByName(name string) (profiles.Profile, bool)
	FindByUUID(id uuid.UUID) (profiles.Profile, bool)
}

type KeyStore interface {
	HasAnyKeyQuickCheck(id uuid.UUID) bool
	Find(id uuid.UUID, encoded []byte) (ed25519.PublicKey, bool)
	Add(id uuid.UUID, encoded []byte, decoded ed25519.PublicKey)
}

// NameResolver resolves a name to an identity, ignoring case.
type NameResolver interface {
	LookupName(ctx context.Context, name string) (id profiles.Identity, found bool, err error)
}

// Metrics records the results of authentication attempts.
type Metrics interface {
	FallbackResult(outcome string, reason string)
}

// Attempt is a single login a player makes.
type Attempt struct {
	Conn     peer.ConnID
	Username string
	// Addr is the remote address; the zero value means the peer did not connect over IP.
	Addr netip.Addr
}

type Authenticator struct {
	cfg      Config
	limiter  RateLimiter
	profiles ProfileFinder
	keys     KeyStore
	resolver NameResolver
	skip     *peer.SkipSet
	metrics  Metrics
	log      *slog.Logger
}

type Option func(*Authenticator)

// WithNameResolver adds a second, case-insensitive name lookup used when the profile cache does not
// know a name.
func WithNameResolver(r NameResolver) Option { return func(a *Authenticator) { a.resolver = r } }

func WithRateLimiter(l RateLimiter) Option { return func(a *Authenticator) { a.limiter = l } }

func WithMetrics(m Metrics) Option { return func(a *Authenticator) { a.metrics = m } }

func WithLogger(log *slog.Logger) Option { return func(a *Authenticator) { a.log = log } }

func New(cfg Config, p ProfileFinder, k KeyStore, skip *peer.SkipSet, opts ...Option) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Authenticator{
		cfg:      cfg,
		profiles: p,
		keys:     k,
		skip:     skip,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("component", "fallback")
	return a, nil
}

// ShouldAttempt reports whether a login should go through fallback authentication.
func (a *Authenticator) ShouldAttempt(primaryAvailable bool) bool {
	return !primaryAvailable || a.cfg.AlwaysAttempt
}

// Authenticate runs a complete attempt, using ch to exchange the challenge with the peer.
// Cancelling ctx while waiting for the peer aborts the attempt.
func (a *Authenticator) Authenticate(ctx context.Context, att Attempt, ch peer.Channel) (res Result) {
	log := a.log.With("conn", att.Conn, "name", att.Username)

	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected panic during fallback authentication", "panic", r, "stack", string(debug.Stack()))
			res = disconnect(disconnectreason.Internal)
		}
		a.record(res)
	}()

	s := a.NewSession(att)
	challenge, res, done := s.Begin(ctx)
	if done {
		return res
	}

	answer, understood, err := ch.Query(ctx, sidechannel.FallbackAuth, challenge)
	if err != nil {
		log.Debug("waiting for challenge response failed", "error", err)
		s.abort()
		return disconnect(disconnectreason.Aborted)
	}

	res, err = s.HandleResponse(answer, understood)
	if err != nil {
		log.Error("could not handle challenge response", "error", err)
		return disconnect(disconnectreason.Internal)
	}
	return res
}

func (a *Authenticator) record(res Result) {
	if a.metrics == nil {
		return
	}
	reason := ""
	if res.Outcome == OutcomeDisconnect {
		reason = res.Reason.String()
	}
	a.metrics.FallbackResult(res.Outcome.String(), reason)
}

// resolve finds the profile for a requested name. The cache is asked for the exact name first; a
// name resolved by the resolver is only trusted if it matches the requested name exactly.
func (a *Authenticator) resolve(ctx context.Context, name string, log *slog.Logger) (profiles.Profile, bool) {
	if p, ok := a.profiles.FindByName(name); ok {
		return p, true
	}
	if a.resolver == nil {
		return profiles.Profile{}, false
	}

	ident, found, err := a.resolver.LookupName(ctx, name)
	if err != nil {
		log.Warn("name lookup failed", "error", err)
		return profiles.Profile{}, false
	}
	if !found || ident.Name != name {
		return profiles.Profile{}, false
	}
	if p, ok := a.profiles.FindByUUID(ident.ID); ok {
		return p, true
	}
	return profiles.Profile{Identity: ident}, true
}
