package masterserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterServerLookup(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	id := uuid.New()
	received := make(chan string, 10)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			msg := sc.Text()
			received <- msg
			var reqID uint32
			var name string
			switch {
			case msg == "regserv 28785":
				fmt.Fprintln(conn, "succreg")
			case func() bool { _, err := fmt.Sscanf(msg, "lookup %d %s", &reqID, &name); return err == nil }():
				if name == "bob" {
					fmt.Fprintf(conn, "succlookup %d %s Bob\n", reqID, id)
				} else {
					fmt.Fprintf(conn, "faillookup %d\n", reqID)
				}
			}
		}
	}()

	cfg := DefaultConfig()
	cfg.Address = ln.Addr().String()
	ms, err := NewMaster(cfg, 28785, nil)
	require.NoError(t, err)
	defer ms.Close()

	select {
	case msg := <-received:
		assert.Equal(t, "regserv 28785", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not register")
	}

	ident, found, err := ms.LookupName(context.Background(), "bob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Bob", ident.Name)
	assert.Equal(t, id, ident.ID)

	_, found, err = ms.LookupName(context.Background(), "mallory")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSendWhileDisconnected(t *testing.T) {
	ms := &MasterServer{}
	assert.ErrorIs(t, ms.Send("%s", "ping"), ErrNotConnected)
}
