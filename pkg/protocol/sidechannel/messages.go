// Package sidechannel defines the two messages exchanged on the fallback authentication side channels.
package sidechannel

import (
	"errors"
	"fmt"

	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol"
)

// Version is the message format version spoken by this implementation.
const Version int32 = 1

// Channel names used to negotiate the side channels with the peer.
const (
	FallbackAuth = "fallbackauth:fallback_auth_v1"
	SyncS2C      = "fallbackauth:sync_s2c_v1"
	SyncC2S      = "fallbackauth:sync_c2s_v1"
)

// VersionError is returned when a peer sent a message of a different version.
// The rest of the message is not decoded.
type VersionError struct {
	Server, Client int32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("sidechannel: version mismatch: server=%d, client=%d", e.Server, e.Client)
}

var ErrTrailingData = errors.New("sidechannel: trailing data after message")

// Challenge is sent from server to client.
type Challenge struct {
	Version int32
	Nonce   []byte
}

func NewChallenge(nonce []byte) Challenge { return Challenge{Version: Version, Nonce: nonce} }

func (c Challenge) Encode() []byte {
	return protocol.New(c.Version, c.Nonce).Bytes()
}

func DecodeChallenge(b []byte) (c Challenge, err error) {
	p := protocol.FromBytes(b)
	if c.Version, err = decodeVersion(p); err != nil {
		return
	}
	if c.Nonce, err = p.GetByteArray(); err != nil {
		return
	}
	err = checkConsumed(p)
	return
}

// Response is the client's answer to a Challenge.
type Response struct {
	Version          int32
	Signature        []byte
	EncodedPublicKey []byte
}

func NewResponse(sig, encodedPub []byte) Response {
	return Response{Version: Version, Signature: sig, EncodedPublicKey: encodedPub}
}

func (r Response) Encode() []byte {
	return protocol.New(r.Version, r.Signature, r.EncodedPublicKey).Bytes()
}

func DecodeResponse(b []byte) (r Response, err error) {
	p := protocol.FromBytes(b)
	if r.Version, err = decodeVersion(p); err != nil {
		return
	}
	if r.Signature, err = p.GetByteArray(); err != nil {
		return
	}
	if r.EncodedPublicKey, err = p.GetByteArray(); err != nil {
		return
	}
	err = checkConsumed(p)
	return
}

func decodeVersion(p *protocol.Packet) (int32, error) {
	v, err := p.GetInt32()
	if err != nil {
		return 0, err
	}
	if v != Version {
		return v, &VersionError{Server: Version, Client: v}
	}
	return v, nil
}

func checkConsumed(p *protocol.Packet) error {
	if p.HasRemaining() {
		return ErrTrailingData
	}
	return nil
}

// Answer builds the client's response to an encoded challenge, signing it with the PKCS #8 encoded private key.
func Answer(challenge, encodedPriv []byte) ([]byte, error) {
	c, err := DecodeChallenge(challenge)
	if err != nil {
		return nil, err
	}
	sig, pub, err := auth.Solve(c.Nonce, encodedPriv)
	if err != nil {
		return nil, err
	}
	return NewResponse(sig, pub).Encode(), nil
}
