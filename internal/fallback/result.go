package fallback

import (
	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/disconnectreason"
)

type Outcome int

const (
	// OutcomeDefault hands the connection back to the host's default handling.
	OutcomeDefault Outcome = iota
	// OutcomeDisconnect means the connection must be closed with the result's reason.
	OutcomeDisconnect
	// OutcomeSuccess means the player proved to be who they claim.
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDefault:
		return "default"
	case OutcomeDisconnect:
		return "disconnect"
	case OutcomeSuccess:
		return "success"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	Reason  disconnectreason.ID
	// Message is the text shown to the disconnected player.
	Message string
	Profile profiles.Profile
	// SkipReverify tells the host not to run the key sync for this connection.
	SkipReverify bool
}

func deferred() Result { return Result{Outcome: OutcomeDefault} }

func disconnect(reason disconnectreason.ID) Result {
	return Result{Outcome: OutcomeDisconnect, Reason: reason, Message: reason.String()}
}

func mismatch(server, client int32) Result {
	r := disconnect(disconnectreason.CompatibilityMismatch)
	r.Message = disconnectreason.Mismatch(server, client)
	return r
}

func success(p profiles.Profile) Result {
	return Result{Outcome: OutcomeSuccess, Profile: p, SkipReverify: true}
}

// State is the progress of a single authentication attempt.
type State int

const (
	StateInit State = iota
	StateRateCheck
	StateProfileLookup
	StateKeyPresenceCheck
	StateChallengeIssued
	StateAwaitResponse
	StateVerified
	StateRejected
	StateDeferred
)

var stateNames = []string{
	"init",
	"rate check",
	"profile lookup",
	"key presence check",
	"challenge issued",
	"await response",
	"verified",
	"rejected",
	"deferred",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Resolved reports whether the attempt reached a final state.
func (s State) Resolved() bool {
	return s == StateVerified || s == StateRejected || s == StateDeferred
}
