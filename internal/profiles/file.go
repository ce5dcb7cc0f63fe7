package profiles

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sauerbraten/fallbackauth/internal/persist"
)

type fileFormat struct {
	UsernameUUIDs map[string]uuid.UUID       `json:"usernameUUIDs"`
	IDProfiles    map[uuid.UUID]storedProfile `json:"idProfiles"`
}

type storedProfile struct {
	SerializedGameProfile string    `json:"serializedGameProfile"`
	CreatedAt             time.Time `json:"createdAt"`
}

func (c *Cache) snapshot() interface{} {
	c.µ.RLock()
	defer c.µ.RUnlock()

	f := fileFormat{
		UsernameUUIDs: make(map[string]uuid.UUID, len(c.byName)),
		IDProfiles:    make(map[uuid.UUID]storedProfile, c.byID.Len()),
	}
	for name, id := range c.byName {
		f.UsernameUUIDs[name] = id
	}
	c.byID.Range(func(id uuid.UUID, e *entry) bool {
		f.IDProfiles[id] = storedProfile{SerializedGameProfile: e.serialized, CreatedAt: e.createdAt}
		return true
	})
	return f
}

// load restores the cache from path. Expired and undecodable profiles are skipped.
func (c *Cache) load(path string) error {
	start := time.Now()

	var f fileFormat
	found, err := persist.Load(path, &f)
	if err != nil || !found {
		return err
	}

	type loaded struct {
		id uuid.UUID
		e  *entry
	}
	var entries []loaded
	skipped := 0
	for id, sp := range f.IDProfiles {
		var p Profile
		if err := json.Unmarshal([]byte(sp.SerializedGameProfile), &p); err != nil || p.ID != id {
			c.log.Warn("dropping undecodable profile", "id", id, "error", err)
			skipped++
			continue
		}
		if c.policy.Expired(sp.CreatedAt) {
			skipped++
			continue
		}
		// decoded again lazily on first access
		e := &entry{name: p.Name, serialized: sp.SerializedGameProfile, createdAt: sp.CreatedAt}
		entries = append(entries, loaded{id, e})
	}

	// oldest first, so the order matches the one the entries were added in
	sort.Slice(entries, func(i, j int) bool { return entries[i].e.createdAt.Before(entries[j].e.createdAt) })

	c.µ.Lock()
	for _, l := range entries {
		if old, ok := c.byID.Get(l.id); ok {
			c.unindexName(old.name, l.id)
		}
		c.byID.Set(l.id, l.e)
		c.byName[l.e.name] = l.id
	}
	c.trimLocked()
	c.µ.Unlock()

	c.log.Debug("loaded profiles", "count", c.byID.Len(), "skipped", skipped, "took", time.Since(start))
	return nil
}
