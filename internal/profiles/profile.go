package profiles

import (
	"github.com/google/uuid"
)

// Identity is a player's immutable id and current name.
type Identity struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Property is an opaque, optionally signed, attribute of a profile (skins and the like).
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

type Profile struct {
	Identity
	Properties []Property `json:"properties,omitempty"`
}

func (p Profile) clone() Profile {
	p.Properties = append([]Property(nil), p.Properties...)
	return p
}
