package masterserver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaster struct {
	µ    sync.Mutex
	sent []string
	// reply is called with every message sent to the master
	reply func(msg string)
}

func (m *fakeMaster) send(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	m.µ.Lock()
	m.sent = append(m.sent, msg)
	m.µ.Unlock()
	if m.reply != nil {
		go m.reply(msg)
	}
	return nil
}

func (m *fakeMaster) count() int {
	m.µ.Lock()
	defer m.µ.Unlock()
	return len(m.sent)
}

func TestLookupFoundAndCached(t *testing.T) {
	id := uuid.New()
	m := &fakeMaster{}
	l := NewNameLookup(m.send, time.Second, 16, time.Minute, nil)
	m.reply = func(msg string) {
		var reqID uint32
		var name string
		_, err := fmt.Sscanf(msg, "lookup %d %s", &reqID, &name)
		assert.NoError(t, err)
		assert.True(t, l.Handle(fmt.Sprintf("succlookup %d %s Alice", reqID, id)))
	}

	ident, found, err := l.LookupName(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, ident.ID)
	assert.Equal(t, "Alice", ident.Name)

	_, found, err = l.LookupName(context.Background(), "ALICE")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, m.count(), "second lookup is served from the cache")

	l.Invalidate("Alice")
	_, _, err = l.LookupName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, m.count())
}

func TestLookupNotFound(t *testing.T) {
	m := &fakeMaster{}
	l := NewNameLookup(m.send, time.Second, 16, time.Minute, nil)
	m.reply = func(msg string) {
		var reqID uint32
		fmt.Sscanf(msg, "lookup %d", &reqID)
		l.Handle(fmt.Sprintf("faillookup %d", reqID))
	}

	_, found, err := l.LookupName(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestLookupTimeout(t *testing.T) {
	m := &fakeMaster{}
	l := NewNameLookup(m.send, 20*time.Millisecond, 16, time.Minute, nil)

	_, found, err := l.LookupName(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrLookupTimeout)
	assert.False(t, found)

	// a late answer is ignored
	assert.True(t, l.Handle("faillookup 0"))
}

func TestLookupCancelled(t *testing.T) {
	m := &fakeMaster{}
	l := NewNameLookup(m.send, time.Minute, 16, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	m.reply = func(string) { cancel() }

	_, _, err := l.LookupName(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleIgnoresOtherMessages(t *testing.T) {
	l := NewNameLookup((&fakeMaster{}).send, time.Second, 16, time.Minute, nil)
	assert.False(t, l.Handle("succreg"))
	assert.True(t, l.Handle("succlookup garbage"))
}
