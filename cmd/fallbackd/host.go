package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sauerbraten/fallbackauth/internal/fallback"
	"github.com/sauerbraten/fallbackauth/internal/keysync"
	"github.com/sauerbraten/fallbackauth/internal/peer"
	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/cubecode"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/disconnectreason"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/login"
)

// Host accepts players and logs them in, either through the primary path or through fallback
// authentication.
type Host struct {
	Auth     *fallback.Authenticator
	Sync     *keysync.Syncer
	Profiles *profiles.Cache
	Skip     *peer.SkipSet

	// Primary maps names to the ids the primary login path vouches for.
	Primary     map[string]uuid.UUID
	IdleTimeout time.Duration
	Log         *slog.Logger

	lastConn atomic.Uint64
	wg       sync.WaitGroup
}

// Serve accepts connections on ln until ctx is cancelled, then waits for open logins to finish.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer h.wg.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handle(ctx, nc)
		}()
	}
}

func (h *Host) primaryAvailable() bool { return len(h.Primary) > 0 }

func (h *Host) handle(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	id := peer.ConnID(h.lastConn.Add(1))
	defer h.Skip.Forget(id)

	log := h.Log.With("conn", id, "remote", nc.RemoteAddr().String())
	c := &conn{Conn: nc, idle: h.IdleTimeout}

	m, err := c.read()
	if err != nil {
		log.Debug("could not read connect message", "error", err)
		return
	}
	if m.Code != login.Connect {
		log.Debug("expected connect message", "code", m.Code)
		return
	}
	log = log.With("name", cubecode.SanitizeString(m.Name))

	if h.Auth.ShouldAttempt(h.primaryAvailable()) {
		res := h.Auth.Authenticate(ctx, fallback.Attempt{Conn: id, Username: m.Name, Addr: remoteAddr(nc)}, c)
		switch res.Outcome {
		case fallback.OutcomeSuccess:
			log.Info("fallback authentication succeeded", "id", res.Profile.ID)
			h.welcome(ctx, c, id, res.Profile, log)
			return
		case fallback.OutcomeDisconnect:
			log.Info("fallback authentication failed", "reason", res.Reason.String())
			c.disconnect(res.Reason, res.Message)
			return
		}
	}

	primaryID, ok := h.Primary[m.Name]
	if !ok {
		log.Info("authentication failed")
		c.disconnect(disconnectreason.Unauthenticated, "")
		return
	}
	p, found := h.Profiles.FindByUUID(primaryID)
	if !found || p.Name != m.Name {
		p = profiles.Profile{Identity: profiles.Identity{ID: primaryID, Name: m.Name}}
	}
	log.Info("primary authentication succeeded", "id", primaryID)
	h.welcome(ctx, c, id, p, log)
}

func (h *Host) welcome(ctx context.Context, c *conn, id peer.ConnID, p profiles.Profile, log *slog.Logger) {
	h.Profiles.Add(p)
	if status := h.Sync.Sync(ctx, id, p.ID, c); status == keysync.Failed {
		log.Debug("key sync failed")
	}

	if err := c.write(login.Message{Code: login.Welcome, ID: p.ID.String(), Name: p.Name}); err != nil {
		log.Debug("could not send welcome", "error", err)
		return
	}

	// keep the session open until the peer leaves or idles out
	for {
		if _, err := c.read(); err != nil {
			return
		}
	}
}

func remoteAddr(nc net.Conn) netip.Addr {
	if a, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		return a.AddrPort().Addr().Unmap()
	}
	if ap, err := netip.ParseAddrPort(nc.RemoteAddr().String()); err == nil {
		return ap.Addr().Unmap()
	}
	return netip.Addr{}
}
