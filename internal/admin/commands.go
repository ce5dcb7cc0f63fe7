// Package admin implements the operator commands for managing stored keys and cached profiles.
package admin

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/sauerbraten/fallbackauth/internal/keys"
	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/cubecode"
)

// length of the key prefix shown in listings
const keyPrefixLen = 16

type KeyStore interface {
	Add(id uuid.UUID, encoded []byte, decoded ed25519.PublicKey)
	Remove(id uuid.UUID, encodedHex string) bool
	RemoveAll(id uuid.UUID) int
	Keys(id uuid.UUID) []keys.KeyInfo
	ProfileIDs() []uuid.UUID
}

type ProfileStore interface {
	FindByName(name string) (profiles.Profile, bool)
	FindByUUID(id uuid.UUID) (profiles.Profile, bool)
	IDs() []uuid.UUID
}

type Commands struct {
	keys     KeyStore
	profiles ProfileStore
	clock    clock.Clock
}

func New(k KeyStore, p ProfileStore, clk clock.Clock) *Commands {
	if clk == nil {
		clk = clock.New()
	}
	return &Commands{keys: k, profiles: p, clock: clk}
}

var help = []string{
	"keys list [all|<id|name>]",
	"keys add <id|name> <public key hex>",
	"keys remove <id|name> <public key hex|all>",
	"profiles list",
}

// Handle runs the command in msg and writes its output to w.
func (c *Commands) Handle(w io.Writer, msg string) {
	parts := strings.Fields(msg)
	if len(parts) == 0 {
		return
	}
	cmd := parts[0]

	switch cmd {
	case "help", "commands":
		fmt.Fprintln(w, "available commands: "+strings.Join(help, ", "))

	case "keys", "key":
		c.handleKeys(w, parts[1:])

	case "profiles", "profile":
		if len(parts) < 2 || parts[1] != "list" {
			fmt.Fprintln(w, "usage: profiles list")
			return
		}
		c.listProfiles(w)

	default:
		fmt.Fprintln(w, "unknown command")
	}
}

func (c *Commands) handleKeys(w io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(w, "usage: "+strings.Join(help[:3], ", "))
		return
	}

	switch args[0] {
	case "list", "ls":
		if len(args) < 2 || args[1] == "all" {
			c.listAllKeys(w)
			return
		}
		c.listKeys(w, args[1])

	case "add":
		if len(args) != 3 {
			fmt.Fprintln(w, "usage: "+help[1])
			return
		}
		c.addKey(w, args[1], args[2])

	case "remove", "rm", "delete", "del":
		if len(args) != 3 {
			fmt.Fprintln(w, "usage: "+help[2])
			return
		}
		c.removeKey(w, args[1], args[2])

	default:
		fmt.Fprintln(w, "unknown keys command")
	}
}

// resolve accepts a player id or an exact cached name.
func (c *Commands) resolve(idOrName string) (profiles.Identity, bool) {
	if id, err := uuid.Parse(idOrName); err == nil {
		if p, ok := c.profiles.FindByUUID(id); ok {
			return p.Identity, true
		}
		return profiles.Identity{ID: id}, true
	}
	if p, ok := c.profiles.FindByName(idOrName); ok {
		return p.Identity, true
	}
	return profiles.Identity{}, false
}

func (c *Commands) describe(id uuid.UUID) string {
	if p, ok := c.profiles.FindByUUID(id); ok {
		return fmt.Sprintf("%s (%s)", cubecode.SanitizeString(p.Name), id)
	}
	return id.String()
}

func (c *Commands) listAllKeys(w io.Writer) {
	ids := c.keys.ProfileIDs()
	if len(ids) == 0 {
		fmt.Fprintln(w, "no keys stored")
		return
	}
	for _, id := range ids {
		c.writeKeys(w, id)
	}
}

func (c *Commands) listKeys(w io.Writer, idOrName string) {
	ident, ok := c.resolve(idOrName)
	if !ok {
		fmt.Fprintln(w, "unknown player:", idOrName)
		return
	}
	c.writeKeys(w, ident.ID)
}

func (c *Commands) writeKeys(w io.Writer, id uuid.UUID) {
	keys := c.keys.Keys(id)
	if len(keys) == 0 {
		fmt.Fprintf(w, "%s: no keys\n", c.describe(id))
		return
	}
	fmt.Fprintf(w, "%s: %d key(s)\n", c.describe(id), len(keys))
	now := c.clock.Now()
	for _, k := range keys {
		hex := k.Hex()
		if len(hex) > keyPrefixLen {
			hex = hex[len(hex)-keyPrefixLen:]
		}
		fmt.Fprintf(w, "  …%s last used %s (%s ago)\n", hex, k.LastUsedAt.UTC().Format(time.RFC3339), now.Sub(k.LastUsedAt).Round(time.Second))
	}
}

func (c *Commands) addKey(w io.Writer, idOrName, hex string) {
	ident, ok := c.resolve(idOrName)
	if !ok {
		fmt.Fprintln(w, "unknown player:", idOrName)
		return
	}
	encoded, pub, err := auth.ParsePublicKey(hex)
	if err != nil {
		fmt.Fprintln(w, "invalid public key:", err)
		return
	}
	c.keys.Add(ident.ID, encoded, pub)
	fmt.Fprintf(w, "added key for %s\n", c.describe(ident.ID))
}

func (c *Commands) removeKey(w io.Writer, idOrName, hexOrAll string) {
	ident, ok := c.resolve(idOrName)
	if !ok {
		fmt.Fprintln(w, "unknown player:", idOrName)
		return
	}
	if hexOrAll == "all" {
		n := c.keys.RemoveAll(ident.ID)
		fmt.Fprintf(w, "removed %d key(s) of %s\n", n, c.describe(ident.ID))
		return
	}
	if !c.keys.Remove(ident.ID, hexOrAll) {
		fmt.Fprintf(w, "%s has no such key\n", c.describe(ident.ID))
		return
	}
	fmt.Fprintf(w, "removed key of %s\n", c.describe(ident.ID))
}

func (c *Commands) listProfiles(w io.Writer) {
	ids := c.profiles.IDs()
	if len(ids) == 0 {
		fmt.Fprintln(w, "no profiles cached")
		return
	}
	for _, id := range ids {
		fmt.Fprintln(w, c.describe(id))
	}
}
