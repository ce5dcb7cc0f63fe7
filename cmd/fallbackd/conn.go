package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sauerbraten/fallbackauth/pkg/protocol/disconnectreason"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/login"
)

// conn carries the login exchange with one peer and implements peer.Channel on top of it.
type conn struct {
	net.Conn
	idle time.Duration
}

func (c *conn) setIdleDeadline() {
	if c.idle > 0 {
		c.SetReadDeadline(time.Now().Add(c.idle))
	}
}

func (c *conn) read() (login.Message, error) {
	c.setIdleDeadline()
	return login.Read(c.Conn)
}

func (c *conn) write(m login.Message) error {
	if c.idle > 0 {
		c.SetWriteDeadline(time.Now().Add(c.idle))
	}
	return login.Write(c.Conn, m)
}

// Query sends payload on the named side channel and waits for the peer's answer. Cancelling ctx
// unblocks the wait.
func (c *conn) Query(ctx context.Context, channel string, payload []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := c.write(login.Message{Code: login.Query, Channel: channel, Payload: payload}); err != nil {
		return nil, false, err
	}

	c.setIdleDeadline()
	stop := context.AfterFunc(ctx, func() { c.SetReadDeadline(time.Now()) })
	defer stop()

	m, err := login.Read(c.Conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, err
	}
	if m.Code != login.Answer {
		return nil, false, fmt.Errorf("expected answer, got message code %d", m.Code)
	}
	return m.Payload, m.Understood, nil
}

func (c *conn) disconnect(reason disconnectreason.ID, msg string) error {
	if msg == "" {
		msg = reason.String()
	}
	return c.write(login.Message{Code: login.Disconnect, Reason: reason, Message: msg})
}
