package admin

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sauerbraten/fallbackauth/internal/keys"
	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/pkg/auth"
)

type fixture struct {
	cmds     *Commands
	keys     *keys.Store
	profiles *profiles.Cache
	clock    *clock.Mock
	alice    profiles.Profile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Add(1000 * 24 * time.Hour)
	ks, err := keys.New(keys.DefaultConfig(), keys.WithClock(clk))
	require.NoError(t, err)
	pc, err := profiles.New(profiles.DefaultConfig(), profiles.WithClock(clk))
	require.NoError(t, err)

	alice := profiles.Profile{Identity: profiles.Identity{ID: uuid.New(), Name: "Alice"}}
	pc.Add(alice)

	return &fixture{cmds: New(ks, pc, clk), keys: ks, profiles: pc, clock: clk, alice: alice}
}

func (f *fixture) run(msg string) string {
	var buf bytes.Buffer
	f.cmds.Handle(&buf, msg)
	return buf.String()
}

func newHexKey(t *testing.T) string {
	_, pub, err := auth.GenerateKeyPair()
	require.NoError(t, err)
	return auth.FormatPublicKey(pub)
}

func TestAddListRemove(t *testing.T) {
	f := newFixture(t)
	k1, k2 := newHexKey(t), newHexKey(t)

	assert.Equal(t, "no keys stored\n", f.run("keys list"))

	assert.Contains(t, f.run("keys add Alice "+k1), "added key for Alice")
	f.clock.Add(time.Hour)
	assert.Contains(t, f.run("keys add "+f.alice.ID.String()+" "+k2), "added key for Alice")

	out := f.run("keys list Alice")
	assert.Contains(t, out, "Alice ("+f.alice.ID.String()+"): 2 key(s)")
	assert.Contains(t, out, k1[len(k1)-keyPrefixLen:])
	assert.Contains(t, out, "(1h0m0s ago)")
	assert.Equal(t, out, f.run("keys list all"))

	assert.Contains(t, f.run("keys remove Alice "+k1), "removed key of Alice")
	assert.Contains(t, f.run("keys remove Alice "+k1), "has no such key")
	assert.Contains(t, f.run("keys remove Alice all"), "removed 1 key(s) of Alice")
	assert.False(t, f.keys.HasAnyKeyQuickCheck(f.alice.ID))
}

func TestUnknownPlayersAndBadInput(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run("keys add Bob "+newHexKey(t)), "unknown player: Bob")
	assert.Contains(t, f.run("keys add alice "+newHexKey(t)), "unknown player: alice")
	assert.Contains(t, f.run("keys add Alice deadbeef"), "invalid public key")
	assert.Contains(t, f.run("keys add Alice"), "usage: keys add")
	assert.Contains(t, f.run("keys frobnicate"), "unknown keys command")
	assert.Contains(t, f.run("dance"), "unknown command")
	assert.Empty(t, f.run("   "))

	// ids are accepted even if the profile is not cached
	id := uuid.New()
	assert.Contains(t, f.run("keys add "+id.String()+" "+newHexKey(t)), "added key for "+id.String())
	assert.True(t, f.keys.HasAnyKeyQuickCheck(id))
}

func TestProfilesList(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Alice ("+f.alice.ID.String()+")\n", f.run("profiles list"))
	assert.Contains(t, f.run("profiles"), "usage")
	assert.Contains(t, f.run("help"), "keys list")
}
