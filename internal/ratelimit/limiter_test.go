package ratelimit

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, mod func(*Config)) (*Limiter, *clock.Mock) {
	t.Helper()
	cfg := DefaultConfig()
	if mod != nil {
		mod(&cfg)
	}
	clk := clock.NewMock()
	l, err := New(cfg, WithClock(clk))
	require.NoError(t, err)
	require.NotNil(t, l)
	return l, clk
}

var public = netip.MustParseAddr("203.1.113.7")

func TestBurstWithinOneSecond(t *testing.T) {
	l, _ := newTestLimiter(t, nil)

	limited := 0
	for i := 0; i < 21; i++ {
		if l.IsAddressRateLimited(public) {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 1)
}

func TestSpreadOverOneMinute(t *testing.T) {
	l, clk := newTestLimiter(t, nil)

	for i := 0; i < 20; i++ {
		assert.False(t, l.IsAddressRateLimited(public), "request %d", i)
		clk.Add(3 * time.Second)
	}
}

func TestIndependentAddresses(t *testing.T) {
	l, _ := newTestLimiter(t, func(c *Config) { c.Burst = 1 })

	assert.False(t, l.IsAddressRateLimited(public))
	assert.True(t, l.IsAddressRateLimited(public))
	assert.False(t, l.IsAddressRateLimited(netip.MustParseAddr("198.1.100.1")))
}

func TestIPv6Prefix(t *testing.T) {
	l, _ := newTestLimiter(t, func(c *Config) { c.Burst = 1 })

	assert.False(t, l.IsAddressRateLimited(netip.MustParseAddr("2001:db8:1:2::1")))
	assert.True(t, l.IsAddressRateLimited(netip.MustParseAddr("2001:db8:1:2:ffff::9")), "same /64")
	assert.False(t, l.IsAddressRateLimited(netip.MustParseAddr("2001:db8:1:3::1")))
}

func TestMappedIPv4(t *testing.T) {
	l, _ := newTestLimiter(t, nil)

	k1, ok := l.Key(public)
	require.True(t, ok)
	k2, ok := l.Key(netip.MustParseAddr("::ffff:203.1.113.7"))
	require.True(t, ok)
	assert.Equal(t, k1, k2)
	assert.Equal(t, 32, k1.Bits())
}

func TestLocalBypass(t *testing.T) {
	l, _ := newTestLimiter(t, func(c *Config) { c.Burst = 1 })

	for _, s := range []string{"127.0.0.1", "::1", "10.1.2.3", "192.168.0.5", "169.254.1.1", "fe80::1", "fec0::1", "0.0.0.0"} {
		addr := netip.MustParseAddr(s)
		for i := 0; i < 5; i++ {
			assert.False(t, l.IsAddressRateLimited(addr), s)
		}
	}
	assert.Equal(t, 0, l.Len())

	strict, _ := newTestLimiter(t, func(c *Config) { c.Burst = 1; c.BypassLocal = false })
	assert.False(t, strict.IsAddressRateLimited(netip.MustParseAddr("127.0.0.1")))
	assert.True(t, strict.IsAddressRateLimited(netip.MustParseAddr("127.0.0.1")))
}

func TestReservedBypass(t *testing.T) {
	l, _ := newTestLimiter(t, func(c *Config) { c.Burst = 1; c.BypassReserved = true })

	doc := netip.MustParseAddr("198.51.100.3")
	assert.False(t, l.IsAddressRateLimited(doc))
	assert.False(t, l.IsAddressRateLimited(doc))
}

func TestBucketCapacity(t *testing.T) {
	l, _ := newTestLimiter(t, func(c *Config) { c.Burst = 1; c.MaxBuckets = 2 })

	a := netip.MustParseAddr("1.1.1.1")
	b := netip.MustParseAddr("2.2.2.2")
	c := netip.MustParseAddr("3.3.3.3")

	assert.False(t, l.IsAddressRateLimited(a))
	assert.False(t, l.IsAddressRateLimited(b))
	assert.True(t, l.IsAddressRateLimited(a))
	assert.False(t, l.IsAddressRateLimited(c))
	assert.Equal(t, 2, l.Len())

	// a's bucket was the oldest and got discarded
	assert.False(t, l.IsAddressRateLimited(a))
}

func TestDisabled(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.False(t, l.IsAddressRateLimited(public))
	assert.Equal(t, 0, l.Len())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.Burst = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
