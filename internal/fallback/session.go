package fallback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/disconnectreason"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/sidechannel"
)

var (
	ErrChallengeResolved = errors.New("fallback: challenge already resolved")
	ErrNoChallenge       = errors.New("fallback: no challenge issued")
)

// Session is the state of one attempt. The challenge it issues is only valid for this session and
// can be answered once.
type Session struct {
	a       *Authenticator
	attempt Attempt
	log     *slog.Logger

	µ       sync.Mutex
	state   State
	profile profiles.Profile
	nonce   []byte
}

func (a *Authenticator) NewSession(att Attempt) *Session {
	return &Session{
		a:       a,
		attempt: att,
		log:     a.log.With("conn", att.Conn, "name", att.Username),
	}
}

func (s *Session) State() State {
	s.µ.Lock()
	defer s.µ.Unlock()
	return s.state
}

// setState must be called with s.µ held.
func (s *Session) setState(st State) {
	s.log.Debug("fallback state", "from", s.state, "to", st)
	s.state = st
}

// Begin runs the checks that precede the challenge. If the attempt is decided by them, done is true
// and res holds the decision. Otherwise challenge is the message to send to the peer.
func (s *Session) Begin(ctx context.Context) (challenge []byte, res Result, done bool) {
	s.µ.Lock()
	defer s.µ.Unlock()

	if s.state != StateInit {
		return nil, Result{}, true
	}

	s.setState(StateRateCheck)
	if !s.attempt.Addr.IsValid() {
		s.setState(StateDeferred)
		return nil, deferred(), true
	}
	if s.a.limiter != nil && s.a.limiter.IsAddressRateLimited(s.attempt.Addr) {
		s.log.Info("rate limited fallback authentication", "addr", s.attempt.Addr)
		s.setState(StateRejected)
		return nil, disconnect(disconnectreason.TooManyRequests), true
	}

	s.setState(StateProfileLookup)
	p, ok := s.a.resolve(ctx, s.attempt.Username, s.log)
	if !ok {
		s.setState(StateDeferred)
		return nil, deferred(), true
	}
	s.profile = p

	s.setState(StateKeyPresenceCheck)
	if !s.a.keys.HasAnyKeyQuickCheck(p.ID) {
		s.setState(StateDeferred)
		return nil, deferred(), true
	}

	nonce, err := auth.NewChallenge(s.a.cfg.ChallengeSize)
	if err != nil {
		s.log.Error("could not create challenge", "error", err)
		s.setState(StateRejected)
		return nil, disconnect(disconnectreason.Internal), true
	}
	s.nonce = nonce
	s.setState(StateChallengeIssued)
	challenge = sidechannel.NewChallenge(nonce).Encode()
	s.setState(StateAwaitResponse)
	return challenge, Result{}, false
}

// HandleResponse verifies the peer's answer to the challenge. understood is false if the peer did
// not know the side channel. Once the session is resolved, every further call fails with
// ErrChallengeResolved.
func (s *Session) HandleResponse(answer []byte, understood bool) (Result, error) {
	s.µ.Lock()
	defer s.µ.Unlock()

	switch {
	case s.state.Resolved():
		return Result{}, ErrChallengeResolved
	case s.state != StateAwaitResponse:
		return Result{}, ErrNoChallenge
	}

	if !understood {
		s.setState(StateDeferred)
		return deferred(), nil
	}

	resp, err := sidechannel.DecodeResponse(answer)
	if err != nil {
		s.setState(StateRejected)
		var verr *sidechannel.VersionError
		if errors.As(err, &verr) {
			return mismatch(verr.Server, verr.Client), nil
		}
		s.log.Warn("malformed challenge response", "error", err)
		return disconnect(disconnectreason.Internal), nil
	}

	pub, ok := s.a.keys.Find(s.profile.ID, resp.EncodedPublicKey)
	if !ok {
		s.setState(StateRejected)
		return disconnect(disconnectreason.InvalidPublicKey), nil
	}

	if !auth.IsValidSignature(s.nonce, resp.Signature, pub) {
		s.setState(StateRejected)
		return disconnect(disconnectreason.InvalidSignature), nil
	}

	s.a.keys.Add(s.profile.ID, resp.EncodedPublicKey, pub)
	if s.a.skip != nil {
		s.a.skip.Mark(s.attempt.Conn)
	}
	s.nonce = nil
	s.setState(StateVerified)
	s.log.Info("fallback authentication succeeded", "id", s.profile.ID)
	return success(s.profile), nil
}

func (s *Session) abort() {
	s.µ.Lock()
	defer s.µ.Unlock()
	if !s.state.Resolved() {
		s.setState(StateRejected)
	}
}
