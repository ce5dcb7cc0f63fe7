package masterserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ivahaev/timer"
	"github.com/sauerbraten/maitred/v2/pkg/protocol"

	"github.com/sauerbraten/fallbackauth/internal/profiles"
)

var ErrLookupTimeout = errors.New("masterserver: timed out waiting for lookup result")

type lookupResult struct {
	ident profiles.Identity
	found bool
	err   error
}

// NameLookup asks the master server which player a name belongs to. The master server matches names
// ignoring case and answers with the player's id and the name as registered:
//
//	lookup <reqID> <name>
//	succlookup <reqID> <id> <name>
//	faillookup <reqID>
//
// Successful lookups are cached for a while.
type NameLookup struct {
	send    func(format string, args ...interface{}) error
	timeout time.Duration
	cache   *expirable.LRU[string, profiles.Identity]
	log     *slog.Logger

	µ       sync.Mutex
	ids     protocol.IDCycle
	pending map[uint32]chan lookupResult
}

func NewNameLookup(send func(format string, args ...interface{}) error, timeout time.Duration, cacheSize int, cacheTTL time.Duration, log *slog.Logger) *NameLookup {
	if log == nil {
		log = slog.Default()
	}
	return &NameLookup{
		send:    send,
		timeout: timeout,
		cache:   expirable.NewLRU[string, profiles.Identity](cacheSize, nil, cacheTTL),
		log:     log,
		pending: map[uint32]chan lookupResult{},
	}
}

func cacheKey(name string) string { return strings.ToLower(name) }

// LookupName resolves name, ignoring case.
func (l *NameLookup) LookupName(ctx context.Context, name string) (profiles.Identity, bool, error) {
	if ident, ok := l.cache.Get(cacheKey(name)); ok {
		return ident, true, nil
	}

	l.µ.Lock()
	reqID := l.ids.Next()
	ch := make(chan lookupResult, 1)
	l.pending[reqID] = ch
	l.µ.Unlock()
	defer l.forget(reqID)

	t := timer.AfterFunc(l.timeout, func() {
		l.resolve(reqID, lookupResult{err: ErrLookupTimeout})
	})
	t.Start()
	defer t.Stop()

	if err := l.send("%s %d %s", protocol.Lookup, reqID, name); err != nil {
		return profiles.Identity{}, false, err
	}

	select {
	case r := <-ch:
		if r.found {
			l.cache.Add(cacheKey(r.ident.Name), r.ident)
		}
		return r.ident, r.found, r.err
	case <-ctx.Done():
		return profiles.Identity{}, false, ctx.Err()
	}
}

// Invalidate drops the cached result for name, for example because a player was seen using it.
func (l *NameLookup) Invalidate(name string) { l.cache.Remove(cacheKey(name)) }

func (l *NameLookup) forget(reqID uint32) {
	l.µ.Lock()
	defer l.µ.Unlock()
	delete(l.pending, reqID)
}

func (l *NameLookup) resolve(reqID uint32, r lookupResult) bool {
	l.µ.Lock()
	ch, ok := l.pending[reqID]
	delete(l.pending, reqID)
	l.µ.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

// Handle processes a lookup reply from the master server. It reports whether msg was one.
func (l *NameLookup) Handle(msg string) bool {
	cmd := strings.Split(msg, " ")[0]
	args := strings.TrimSpace(msg[len(cmd):])

	switch cmd {
	case protocol.SuccLookup:
		l.handleSuccLookup(args)

	case protocol.FailLookup:
		l.handleFailLookup(args)

	default:
		return false
	}
	return true
}

func (l *NameLookup) handleSuccLookup(args string) {
	var reqID uint32
	var id, name string
	_, err := fmt.Sscanf(args, "%d %s %s", &reqID, &id, &name)
	if err != nil {
		l.log.Warn("malformed message from master server", "cmd", protocol.SuccLookup, "args", args, "error", err)
		return
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		l.resolve(reqID, lookupResult{err: fmt.Errorf("masterserver: invalid id in lookup result: %w", err)})
		return
	}
	if !l.resolve(reqID, lookupResult{ident: profiles.Identity{ID: parsed, Name: name}, found: true}) {
		l.log.Debug("unsolicited message from master server", "cmd", protocol.SuccLookup, "args", args)
	}
}

func (l *NameLookup) handleFailLookup(args string) {
	var reqID uint32
	_, err := fmt.Sscanf(args, "%d", &reqID)
	if err != nil {
		l.log.Warn("malformed message from master server", "cmd", protocol.FailLookup, "args", args, "error", err)
		return
	}
	if !l.resolve(reqID, lookupResult{}) {
		l.log.Debug("unsolicited message from master server", "cmd", protocol.FailLookup, "args", args)
	}
}
