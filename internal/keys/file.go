package keys

import (
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sauerbraten/fallbackauth/internal/persist"
	"github.com/sauerbraten/fallbackauth/pkg/auth"
)

type fileFormat struct {
	V1 map[uuid.UUID][]storedKey `json:"v1"`
}

type storedKey struct {
	PublicKey  string    `json:"publicKey"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

func (s *Store) snapshot() interface{} {
	f := fileFormat{V1: map[uuid.UUID][]storedKey{}}
	for _, id := range s.identities.Keys() {
		keys := s.Keys(id)
		if len(keys) == 0 {
			continue
		}
		stored := make([]storedKey, 0, len(keys))
		for _, k := range keys {
			stored = append(stored, storedKey{PublicKey: k.Hex(), LastUsedAt: k.LastUsedAt})
		}
		f.V1[id] = stored
	}
	return f
}

// load restores the store from path. Expired keys and keys that can not be decoded are skipped.
func (s *Store) load(path string) error {
	start := time.Now()

	var f fileFormat
	found, err := persist.Load(path, &f)
	if err != nil || !found {
		return err
	}

	type loaded struct {
		id     uuid.UUID
		ident  *identity
		newest time.Time
	}
	var idents []loaded
	skipped := 0
	for id, stored := range f.V1 {
		ident := newIdentity()
		// stored least recently used first
		sort.SliceStable(stored, func(i, j int) bool { return stored[i].LastUsedAt.Before(stored[j].LastUsedAt) })
		var newest time.Time
		for _, sk := range stored {
			encoded, err := hex.DecodeString(sk.PublicKey)
			if err != nil {
				s.log.Warn("dropping undecodable key", "id", id, "error", err)
				skipped++
				continue
			}
			pub, err := auth.DecodePublicKey(encoded)
			if err != nil {
				s.log.Warn("dropping invalid key", "id", id, "error", err)
				skipped++
				continue
			}
			if s.policy.Expired(sk.LastUsedAt) {
				skipped++
				continue
			}
			ident.records.Set(hashKey(encoded), &record{encoded: encoded, decoded: pub, lastUsedAt: sk.LastUsedAt})
			newest = sk.LastUsedAt
		}
		skipped += len(ident.records.TrimFront(s.maxKeys))
		if ident.records.Len() > 0 {
			idents = append(idents, loaded{id, ident, newest})
		}
	}

	sort.Slice(idents, func(i, j int) bool { return idents[i].newest.Before(idents[j].newest) })
	for _, l := range idents {
		s.identities.Set(l.id, l.ident)
	}

	s.log.Debug("loaded keys", "players", len(idents), "skipped", skipped, "took", time.Since(start))
	return nil
}
