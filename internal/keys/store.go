// Package keys stores the public keys players proved to own, per player id.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/sauerbraten/fallbackauth/internal/expiry"
	"github.com/sauerbraten/fallbackauth/internal/linkedmap"
	"github.com/sauerbraten/fallbackauth/internal/persist"
	"github.com/sauerbraten/fallbackauth/pkg/auth"
)

const cleanupInterval = time.Hour

var ErrInvalidConfig = errors.New("keys: invalid config")

type Config struct {
	// MaxKeysPerUser caps the number of keys kept per player; the least recently used key goes first.
	MaxKeysPerUser int `json:"max_keys_per_user" yaml:"max_keys_per_user"`
	// TTLDays is how long a key is kept after it was last used.
	TTLDays int `json:"ttl_days" yaml:"ttl_days"`
}

func DefaultConfig() Config {
	return Config{
		MaxKeysPerUser: 5,
		TTLDays:        90,
	}
}

func (c Config) Validate() error {
	if c.MaxKeysPerUser < 1 || c.TTLDays < 1 {
		return ErrInvalidConfig
	}
	return nil
}

type keyHash [blake2b.Size256]byte

type record struct {
	encoded    []byte
	decoded    ed25519.PublicKey
	lastUsedAt time.Time
}

// identity holds one player's keys, least recently used first. removed is set once the identity was
// dropped from the store; writers that raced with the removal have to look it up again.
type identity struct {
	µ       sync.Mutex
	records *linkedmap.Map[keyHash, *record]
	removed bool
}

func newIdentity() *identity {
	return &identity{records: linkedmap.New[keyHash, *record]()}
}

// KeyInfo describes a stored key for operators.
type KeyInfo struct {
	Encoded    []byte
	LastUsedAt time.Time
}

func (k KeyInfo) Hex() string { return auth.FormatPublicKey(k.Encoded) }

// Store maps player ids to the public keys they used. Players are ordered by when their keys were
// last added, so the players whose keys were all unused for too long are at the front.
type Store struct {
	policy  *expiry.Policy
	maxKeys int
	log     *slog.Logger
	file    *persist.File

	identities *linkedmap.Map[uuid.UUID, *identity]
}

type Option func(*options)

type options struct {
	clock clock.Clock
	log   *slog.Logger
	path  string
}

func WithClock(clk clock.Clock) Option { return func(o *options) { o.clock = clk } }

func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }

// WithFile makes the store load its state from path and save every change back to it.
func WithFile(path string) Option { return func(o *options) { o.path = path } }

func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		policy: expiry.New(expiry.Config{
			TTL:      time.Duration(cfg.TTLDays) * 24 * time.Hour,
			Interval: cleanupInterval,
		}, o.clock),
		maxKeys:    cfg.MaxKeysPerUser,
		log:        o.log.With("component", "keys"),
		identities: linkedmap.New[uuid.UUID, *identity](),
	}

	if o.path != "" {
		if err := s.load(o.path); err != nil {
			return nil, err
		}
		s.file = persist.NewFile(o.path, s.snapshot, s.log)
	}

	return s, nil
}

func hashKey(encoded []byte) keyHash { return blake2b.Sum256(encoded) }

// Add stores the key for the player, or marks it as used just now if it is known already. When the
// player has more keys than allowed, the least recently used ones are dropped.
func (s *Store) Add(id uuid.UUID, encoded []byte, decoded ed25519.PublicKey) {
	h := hashKey(encoded)
	for {
		ident, _ := s.identities.GetOrSet(id, newIdentity)
		ident.µ.Lock()
		if ident.removed {
			ident.µ.Unlock()
			continue
		}

		now := s.policy.Now()
		if r, ok := ident.records.Get(h); ok && bytes.Equal(r.encoded, encoded) {
			r.lastUsedAt = now
			ident.records.Touch(h)
		} else {
			ident.records.Set(h, &record{
				encoded:    append([]byte(nil), encoded...),
				decoded:    decoded,
				lastUsedAt: now,
			})
		}
		if evicted := ident.records.TrimFront(s.maxKeys); len(evicted) > 0 {
			s.log.Debug("evicted least recently used keys", "id", id, "count", len(evicted))
		}
		ident.µ.Unlock()
		break
	}
	s.save()
}

// Find returns the decoded key if the player registered exactly this encoded key. A stored key that
// can not be decoded is dropped.
func (s *Store) Find(id uuid.UUID, encoded []byte) (ed25519.PublicKey, bool) {
	s.maybeCleanup()

	ident, ok := s.identities.Get(id)
	if !ok {
		return nil, false
	}
	h := hashKey(encoded)

	ident.µ.Lock()
	pub, ok, dropped := s.findLocked(id, ident, h, encoded)
	ident.µ.Unlock()

	if dropped {
		s.save()
	}
	return pub, ok
}

// findLocked must be called with ident.µ held.
func (s *Store) findLocked(id uuid.UUID, ident *identity, h keyHash, encoded []byte) (pub ed25519.PublicKey, ok, dropped bool) {
	if ident.removed {
		return nil, false, false
	}
	r, ok := ident.records.Get(h)
	if !ok || !bytes.Equal(r.encoded, encoded) || s.policy.Expired(r.lastUsedAt) {
		return nil, false, false
	}
	if r.decoded == nil {
		pub, err := auth.DecodePublicKey(r.encoded)
		if err != nil {
			s.log.Warn("dropping undecodable key", "id", id, "error", err)
			ident.records.Delete(h)
			s.dropIfEmptyLocked(id, ident)
			return nil, false, true
		}
		r.decoded = pub
	}
	return r.decoded, true, false
}

// HasAnyKeyQuickCheck reports whether any key is stored for the player.
func (s *Store) HasAnyKeyQuickCheck(id uuid.UUID) bool {
	ident, ok := s.identities.Get(id)
	return ok && ident.records.Len() > 0
}

// RemoveAll drops all keys of the player and returns how many there were.
func (s *Store) RemoveAll(id uuid.UUID) int {
	ident, ok := s.identities.Delete(id)
	if !ok {
		return 0
	}
	ident.µ.Lock()
	ident.removed = true
	n := ident.records.Len()
	ident.µ.Unlock()

	s.save()
	return n
}

// Remove drops a single key, given in hex, of the player.
func (s *Store) Remove(id uuid.UUID, encodedHex string) bool {
	encoded, _, err := auth.ParsePublicKey(encodedHex)
	if err != nil {
		return false
	}
	ident, ok := s.identities.Get(id)
	if !ok {
		return false
	}

	ident.µ.Lock()
	_, ok = ident.records.Delete(hashKey(encoded))
	if ok {
		s.dropIfEmptyLocked(id, ident)
	}
	ident.µ.Unlock()

	if ok {
		s.save()
	}
	return ok
}

// dropIfEmptyLocked must be called with ident.µ held.
func (s *Store) dropIfEmptyLocked(id uuid.UUID, ident *identity) {
	if ident.records.Len() > 0 {
		return
	}
	ident.removed = true
	s.identities.DeleteIf(id, func(cur *identity) bool { return cur == ident })
}

// ProfileIDs returns the ids of all players with keys.
func (s *Store) ProfileIDs() []uuid.UUID { return s.identities.Keys() }

// Keys lists the player's keys, least recently used first.
func (s *Store) Keys(id uuid.UUID) []KeyInfo {
	ident, ok := s.identities.Get(id)
	if !ok {
		return nil
	}
	ident.µ.Lock()
	defer ident.µ.Unlock()
	return infos(ident)
}

// Listing returns the keys of all players.
func (s *Store) Listing() map[uuid.UUID][]KeyInfo {
	listing := map[uuid.UUID][]KeyInfo{}
	for _, id := range s.identities.Keys() {
		if keys := s.Keys(id); len(keys) > 0 {
			listing[id] = keys
		}
	}
	return listing
}

func infos(ident *identity) []KeyInfo {
	var keys []KeyInfo
	ident.records.Range(func(_ keyHash, r *record) bool {
		keys = append(keys, KeyInfo{Encoded: r.encoded, LastUsedAt: r.lastUsedAt})
		return true
	})
	return keys
}

// Len returns the number of players with keys.
func (s *Store) Len() int { return s.identities.Len() }

// Cleanup drops keys unused for longer than the TTL. Players are visited least recently active
// first: as long as a player's newest key is expired the whole player is dropped; from the first
// player with a live key on, only the expired keys of each player are.
func (s *Store) Cleanup() {
	start := time.Now()
	cutoff := s.policy.Cutoff()
	droppedIDs, droppedKeys := 0, 0

	evictWhole := true
	for _, id := range s.identities.Keys() {
		ident, ok := s.identities.Get(id)
		if !ok {
			continue
		}
		ident.µ.Lock()
		if evictWhole {
			_, newest, ok := ident.records.Back()
			if !ok || newest.lastUsedAt.Before(cutoff) {
				droppedKeys += ident.records.Len()
				ident.records.Clear()
				s.dropIfEmptyLocked(id, ident)
				droppedIDs++
				ident.µ.Unlock()
				continue
			}
			evictWhole = false
		}
		n := len(expiry.SweepFront(s.policy, ident.records, func(r *record) time.Time { return r.lastUsedAt }))
		if n > 0 {
			droppedKeys += n
			s.dropIfEmptyLocked(id, ident)
			if ident.removed {
				droppedIDs++
			}
		}
		ident.µ.Unlock()
	}

	if droppedKeys > 0 || droppedIDs > 0 {
		s.log.Debug("cleaned up keys", "players", droppedIDs, "keys", droppedKeys, "took", time.Since(start))
		s.schedule()
	}
}

func (s *Store) maybeCleanup() {
	if s.policy.Due(0) {
		s.Cleanup()
	}
}

// Wait blocks until pending saves are written.
func (s *Store) Wait() {
	if s.file != nil {
		s.file.Wait()
	}
}

// Close writes the store to disk one last time.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Flush()
}

func (s *Store) save() {
	s.maybeCleanup()
	s.schedule()
}

func (s *Store) schedule() {
	if s.file != nil {
		s.file.Schedule()
	}
}
