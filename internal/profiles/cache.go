// Package profiles caches the profiles of players that authenticated successfully, so they can be
// looked up by name when the master server is unavailable.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/sauerbraten/fallbackauth/internal/expiry"
	"github.com/sauerbraten/fallbackauth/internal/linkedmap"
	"github.com/sauerbraten/fallbackauth/internal/persist"
)

const (
	trimTargetRatio = 0.8
	cleanupInterval = 12 * time.Hour
)

var ErrInvalidConfig = errors.New("profiles: invalid config")

type Config struct {
	// TTLDays is how long a profile stays cached after it was last added.
	TTLDays int `json:"ttl_days" yaml:"ttl_days"`
	// MaxSize caps the number of cached profiles.
	MaxSize int `json:"max_size" yaml:"max_size"`
}

func DefaultConfig() Config {
	return Config{
		TTLDays: 36,
		MaxSize: 250,
	}
}

func (c Config) Validate() error {
	if c.TTLDays < 1 || c.MaxSize < 1 {
		return ErrInvalidConfig
	}
	return nil
}

type entry struct {
	name       string
	serialized string
	createdAt  time.Time
	decoded    atomic.Pointer[Profile]
}

// Cache maps player ids and names to profiles. Entries expire TTLDays after they were added and
// the oldest entries are dropped when the cache grows past MaxSize.
type Cache struct {
	policy *expiry.Policy
	log    *slog.Logger
	file   *persist.File

	µ      sync.RWMutex
	byID   *linkedmap.Map[uuid.UUID, *entry]
	byName map[string]uuid.UUID

	subsµ   sync.Mutex
	subs    map[int]func(Profile)
	nextSub int
}

type Option func(*options)

type options struct {
	clock clock.Clock
	log   *slog.Logger
	path  string
}

func WithClock(clk clock.Clock) Option { return func(o *options) { o.clock = clk } }

func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }

// WithFile makes the cache load its state from path and save every change back to it.
func WithFile(path string) Option { return func(o *options) { o.path = path } }

func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache{
		policy: expiry.New(expiry.Config{
			TTL:         time.Duration(cfg.TTLDays) * 24 * time.Hour,
			Interval:    cleanupInterval,
			MaxSize:     cfg.MaxSize,
			TargetRatio: trimTargetRatio,
		}, o.clock),
		log:    o.log.With("component", "profiles"),
		byID:   linkedmap.New[uuid.UUID, *entry](),
		byName: map[string]uuid.UUID{},
		subs:   map[int]func(Profile){},
	}

	if o.path != "" {
		if err := c.load(o.path); err != nil {
			return nil, err
		}
		c.file = persist.NewFile(o.path, c.snapshot, c.log)
	}

	return c, nil
}

// Add inserts or refreshes p, keyed by its id. If the player was cached under another name, that
// name no longer resolves.
func (c *Cache) Add(p Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		c.log.Error("could not serialize profile", "id", p.ID, "error", err)
		return
	}

	e := &entry{name: p.Name, serialized: string(data), createdAt: c.policy.Now()}
	stored := p.clone()
	e.decoded.Store(&stored)

	c.µ.Lock()
	if old, ok := c.byID.Get(p.ID); ok && old.name != p.Name {
		c.unindexName(old.name, p.ID)
	}
	c.byID.Set(p.ID, e)
	c.byName[p.Name] = p.ID
	c.trimLocked()
	c.µ.Unlock()

	c.save()
	c.notify(p.clone())
}

func (c *Cache) FindByUUID(id uuid.UUID) (Profile, bool) {
	c.maybeCleanup()

	c.µ.RLock()
	e, ok := c.byID.Get(id)
	c.µ.RUnlock()
	if !ok {
		return Profile{}, false
	}
	return c.decode(id, e)
}

// FindByName looks up a profile by its exact, case-sensitive name.
func (c *Cache) FindByName(name string) (Profile, bool) {
	c.maybeCleanup()

	c.µ.RLock()
	id, ok := c.byName[name]
	var e *entry
	if ok {
		e, ok = c.byID.Get(id)
	}
	c.µ.RUnlock()
	if !ok {
		return Profile{}, false
	}
	return c.decode(id, e)
}

func (c *Cache) decode(id uuid.UUID, e *entry) (Profile, bool) {
	if p := e.decoded.Load(); p != nil {
		return p.clone(), true
	}

	var p Profile
	err := json.Unmarshal([]byte(e.serialized), &p)
	if err == nil && p.ID != id {
		err = fmt.Errorf("payload belongs to %s", p.ID)
	}
	if err != nil {
		c.log.Warn("evicting corrupt profile", "id", id, "error", err)
		c.µ.Lock()
		if c.byID.DeleteIf(id, func(cur *entry) bool { return cur == e }) {
			c.unindexName(e.name, id)
		}
		c.µ.Unlock()
		c.save()
		return Profile{}, false
	}

	e.decoded.Store(&p)
	return p.clone(), true
}

func (c *Cache) Len() int { return c.byID.Len() }

// IDs returns the ids of all cached profiles, least recently added first.
func (c *Cache) IDs() []uuid.UUID { return c.byID.Keys() }

// Names returns all cached names in lexical order.
func (c *Cache) Names() []string {
	c.µ.RLock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	c.µ.RUnlock()
	sort.Strings(names)
	return names
}

// Subscribe registers fn to be called with every profile added from now on. Calls happen on their own
// goroutine; a panicking subscriber is logged and does not affect others. The returned function
// removes the subscription.
func (c *Cache) Subscribe(fn func(Profile)) (unsubscribe func()) {
	c.subsµ.Lock()
	defer c.subsµ.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsµ.Lock()
			delete(c.subs, id)
			c.subsµ.Unlock()
		})
	}
}

func (c *Cache) notify(p Profile) {
	c.subsµ.Lock()
	defer c.subsµ.Unlock()
	for _, fn := range c.subs {
		go func(fn func(Profile)) {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("profile subscriber panicked", "id", p.ID, "panic", r)
				}
			}()
			fn(p.clone())
		}(fn)
	}
}

// Cleanup drops expired profiles and trims the cache to its target size if it grew too large.
func (c *Cache) Cleanup() {
	c.µ.Lock()
	removed := len(expiry.SweepFront(c.policy, c.byID, func(e *entry) time.Time { return e.createdAt }))
	if removed > 0 {
		c.pruneNamesLocked()
	}
	removed += c.trimLocked()
	c.µ.Unlock()

	if removed > 0 {
		c.log.Debug("cleaned up profiles", "removed", removed)
		c.save()
	}
}

func (c *Cache) maybeCleanup() {
	if c.policy.Due(c.byID.Len()) {
		c.Cleanup()
	}
}

// trimLocked must be called with c.µ held.
func (c *Cache) trimLocked() int {
	removed := len(expiry.Trim(c.policy, c.byID))
	if removed > 0 {
		c.pruneNamesLocked()
	}
	return removed
}

// pruneNamesLocked drops names pointing at evicted profiles. It must be called with c.µ held.
func (c *Cache) pruneNamesLocked() {
	for name, id := range c.byName {
		if _, ok := c.byID.Get(id); !ok {
			delete(c.byName, name)
		}
	}
}

// unindexName must be called with c.µ held.
func (c *Cache) unindexName(name string, id uuid.UUID) {
	if c.byName[name] == id {
		delete(c.byName, name)
	}
}

// Wait blocks until pending saves are written.
func (c *Cache) Wait() {
	if c.file != nil {
		c.file.Wait()
	}
}

// Close writes the cache to disk one last time.
func (c *Cache) Close() error {
	if c.file == nil {
		return nil
	}
	return c.file.Flush()
}

func (c *Cache) save() {
	if c.file != nil {
		c.file.Schedule()
	}
}
