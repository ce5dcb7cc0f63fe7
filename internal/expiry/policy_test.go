package expiry

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"github.com/sauerbraten/fallbackauth/internal/linkedmap"
)

const day = 24 * time.Hour

func TestDueInterval(t *testing.T) {
	clk := clock.NewMock()
	p := New(Config{TTL: day, Interval: time.Hour}, clk)

	assert.True(t, p.Due(0), "first sweep always runs")
	assert.False(t, p.Due(0))

	clk.Add(59 * time.Minute)
	assert.False(t, p.Due(0))

	clk.Add(time.Minute)
	assert.True(t, p.Due(0))
	assert.False(t, p.Due(0))
}

func TestDueOverCapacity(t *testing.T) {
	clk := clock.NewMock()
	p := New(Config{Interval: time.Hour, MaxSize: 10, TargetRatio: 0.8}, clk)

	assert.True(t, p.Due(0))
	assert.False(t, p.Due(10))
	assert.True(t, p.Due(11))
	assert.Equal(t, 8, p.TrimTarget())
}

func TestExpired(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(100 * day)
	p := New(Config{TTL: 36 * day}, clk)

	assert.True(t, p.Expired(clk.Now().Add(-40*day)))
	assert.False(t, p.Expired(clk.Now().Add(-10*day)))

	never := New(Config{}, clk)
	assert.False(t, never.Expired(time.Time{}))
}

func TestSweepFrontAndTrim(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(100 * day)
	p := New(Config{TTL: 36 * day, MaxSize: 4, TargetRatio: 0.5}, clk)

	m := linkedmap.New[string, time.Time]()
	m.Set("old", clk.Now().Add(-40*day))
	m.Set("older-but-behind", clk.Now().Add(-50*day))
	m.Set("fresh", clk.Now().Add(-10*day))

	stamp := func(t time.Time) time.Time { return t }
	assert.Equal(t, []string{"old", "older-but-behind"}, SweepFront(p, m, stamp))
	assert.Equal(t, []string{"fresh"}, m.Keys())

	assert.Nil(t, Trim(p, m))
	for _, k := range []string{"a", "b", "c", "d"} {
		m.Set(k, clk.Now())
	}
	assert.Equal(t, []string{"fresh", "a", "b"}, Trim(p, m))
	assert.Equal(t, []string{"c", "d"}, m.Keys())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Config{TTL: day, Interval: time.Hour}.Validate())
	assert.NoError(t, Config{MaxSize: 10, TargetRatio: 1}.Validate())
	assert.ErrorIs(t, Config{MaxSize: 10}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{TTL: -1}.Validate(), ErrInvalidConfig)
}
