// Package masterserver keeps the connection to the master server, which knows every registered
// player and is asked to resolve names the local profile cache does not know.
package masterserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sauerbraten/maitred/v2/pkg/protocol"
)

var ErrNotConnected = errors.New("masterserver: not connected")

type Config struct {
	Address string `json:"address" yaml:"address"`
	// LookupTimeoutSeconds bounds how long a name lookup waits for the master server.
	LookupTimeoutSeconds int `json:"lookup_timeout_seconds" yaml:"lookup_timeout_seconds"`
	// LookupCacheSize and LookupCacheMinutes configure the cache of resolved names.
	LookupCacheSize    int `json:"lookup_cache_size" yaml:"lookup_cache_size"`
	LookupCacheMinutes int `json:"lookup_cache_minutes" yaml:"lookup_cache_minutes"`
}

func DefaultConfig() Config {
	return Config{
		LookupTimeoutSeconds: 5,
		LookupCacheSize:      256,
		LookupCacheMinutes:   10,
	}
}

type MasterServer struct {
	raddr      *net.TCPAddr
	listenPort int
	log        *slog.Logger

	µ          sync.Mutex
	conn       *protocol.Conn
	pingFailed bool
	closed     chan struct{}
	closeOnce  sync.Once

	*NameLookup

	// reconnectDelay is multiplied with the number of the reconnect attempt
	reconnectDelay time.Duration
}

// NewMaster connects to the master server at cfg.Address and registers the server listening on listenPort.
func NewMaster(cfg Config, listenPort int, log *slog.Logger) (*MasterServer, error) {
	raddr, err := net.ResolveTCPAddr("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("masterserver: error resolving address (%s): %w", cfg.Address, err)
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "masterserver", "addr", raddr.String())

	ms := &MasterServer{
		raddr:          raddr,
		listenPort:     listenPort,
		log:            log,
		closed:         make(chan struct{}),
		reconnectDelay: time.Minute,
	}
	ms.NameLookup = NewNameLookup(
		ms.Send,
		time.Duration(cfg.LookupTimeoutSeconds)*time.Second,
		cfg.LookupCacheSize,
		time.Duration(cfg.LookupCacheMinutes)*time.Minute,
		log,
	)

	if err := ms.connect(); err != nil {
		return nil, err
	}
	return ms, nil
}

func (ms *MasterServer) connect() error {
	tcpConn, err := net.DialTCP("tcp", nil, ms.raddr)
	if err != nil {
		return fmt.Errorf("masterserver: error connecting: %w", err)
	}

	conn := protocol.NewConn(ms.onDisconnect)
	ms.µ.Lock()
	ms.conn = conn
	ms.µ.Unlock()
	conn.Start(tcpConn)

	go func() {
		for msg := range conn.Incoming() {
			ms.Handle(msg)
		}
	}()

	ms.Register()
	return nil
}

func (ms *MasterServer) onDisconnect(err error) {
	ms.µ.Lock()
	ms.conn = nil
	ms.µ.Unlock()

	select {
	case <-ms.closed:
		return
	default:
	}

	ms.log.Warn("lost connection to master server", "error", err)
	go ms.reconnect()
}

func (ms *MasterServer) reconnect() {
	var err error
	try, maxTries := 1, 10
	for ; try <= maxTries; try++ {
		select {
		case <-ms.closed:
			return
		case <-time.After(time.Duration(try) * ms.reconnectDelay):
		}
		ms.log.Info("trying to reconnect", "attempt", try)
		if err = ms.connect(); err == nil {
			ms.log.Info("reconnected to master server")
			return
		}
	}
	ms.log.Error("could not reconnect to master server", "error", err)
}

func (ms *MasterServer) Register() {
	ms.µ.Lock()
	pingFailed := ms.pingFailed
	ms.µ.Unlock()
	if pingFailed {
		return
	}
	ms.log.Info("registering at master server")
	if err := ms.Send("%s %d", protocol.RegServ, ms.listenPort); err != nil {
		ms.log.Warn("registering at master server failed", "error", err)
	}
}

func (ms *MasterServer) Send(format string, args ...interface{}) error {
	ms.µ.Lock()
	conn := ms.conn
	ms.µ.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	conn.Send(format, args...)
	return nil
}

func (ms *MasterServer) Handle(msg string) {
	cmd := strings.Split(msg, " ")[0]
	args := strings.TrimSpace(msg[len(cmd):])

	switch cmd {
	case protocol.SuccReg:
		ms.log.Info("master server registration succeeded")

	case protocol.FailReg:
		ms.log.Warn("master server registration failed", "reason", args)
		if args == "failed pinging server" {
			ms.log.Warn("disabling registration")
			ms.µ.Lock()
			ms.pingFailed = true // stop trying
			ms.µ.Unlock()
		}

	case protocol.SuccLookup, protocol.FailLookup:
		ms.NameLookup.Handle(msg)

	default:
		ms.log.Debug("received from master", "msg", msg)
	}
}

// Close disconnects from the master server and stops reconnecting.
func (ms *MasterServer) Close() error {
	ms.closeOnce.Do(func() { close(ms.closed) })
	ms.µ.Lock()
	conn := ms.conn
	ms.µ.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
