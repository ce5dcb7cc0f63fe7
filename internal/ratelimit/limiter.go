// Package ratelimit limits fallback authentication attempts per network address.
package ratelimit

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sauerbraten/chef/pkg/ips"
	"golang.org/x/time/rate"
)

var ErrInvalidConfig = errors.New("ratelimit: invalid config")

type Config struct {
	// RequestsPerMinute is the sustained rate allowed per address. <= 0 disables limiting.
	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute"`
	// Burst is how many requests an idle address may make at once.
	Burst int `json:"burst" yaml:"burst"`
	// MaxBuckets bounds the number of addresses tracked; the oldest bucket is discarded first.
	MaxBuckets int `json:"max_buckets" yaml:"max_buckets"`
	// IPv6PrefixBits is the length of the prefix IPv6 addresses are grouped by.
	IPv6PrefixBits int `json:"ipv6_prefix_bits" yaml:"ipv6_prefix_bits"`
	// BypassLocal exempts loopback, link-local and private (site-local) addresses.
	BypassLocal bool `json:"bypass_local" yaml:"bypass_local"`
	// BypassReserved exempts all IANA reserved IPv4 blocks.
	BypassReserved bool `json:"bypass_reserved" yaml:"bypass_reserved"`
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 20,
		Burst:             2,
		MaxBuckets:        1000,
		IPv6PrefixBits:    64,
		BypassLocal:       true,
	}
}

func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return nil
	}
	if c.Burst < 1 || c.MaxBuckets < 1 || c.IPv6PrefixBits < 0 || c.IPv6PrefixBits > 128 {
		return ErrInvalidConfig
	}
	return nil
}

type Option func(*Limiter)

func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) { l.clock = clk }
}

// Limiter keeps one token bucket per address. A nil *Limiter never limits.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	µ       sync.Mutex
	buckets *lru.Cache[netip.Prefix, *rate.Limiter]
}

// New returns a limiter for the given config, or nil if the config disables limiting.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	buckets, err := lru.New[netip.Prefix, *rate.Limiter](cfg.MaxBuckets)
	if err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:     cfg,
		clock:   clock.New(),
		buckets: buckets,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// IsAddressRateLimited takes a token from addr's bucket and reports whether there was none left.
func (l *Limiter) IsAddressRateLimited(addr netip.Addr) bool {
	if l == nil {
		return false
	}
	key, ok := l.Key(addr)
	if !ok {
		return false
	}
	return !l.bucket(key).AllowN(l.clock.Now(), 1)
}

func (l *Limiter) bucket(key netip.Prefix) *rate.Limiter {
	l.µ.Lock()
	defer l.µ.Unlock()
	// Peek keeps insertion order, so the oldest bucket is evicted first
	if b, ok := l.buckets.Peek(key); ok {
		return b
	}
	b := rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute/60), l.cfg.Burst)
	l.buckets.Add(key, b)
	return b
}

// Key returns the bucket key for addr. ok is false if addr is exempt from limiting or invalid.
func (l *Limiter) Key(addr netip.Addr) (key netip.Prefix, ok bool) {
	if !addr.IsValid() {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap().WithZone("")
	if l.cfg.BypassLocal && isLocal(addr) {
		return netip.Prefix{}, false
	}
	if l.cfg.BypassReserved && addr.Is4() && ips.IsInReservedBlock(net.IP(addr.AsSlice())) {
		return netip.Prefix{}, false
	}
	bits := 32
	if addr.Is6() {
		bits = l.cfg.IPv6PrefixBits
	}
	key, err := addr.Prefix(bits)
	return key, err == nil
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	return l.buckets.Len()
}

var siteLocal = netip.MustParsePrefix("fec0::/10")

func isLocal(addr netip.Addr) bool {
	return addr.IsUnspecified() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsPrivate() ||
		siteLocal.Contains(addr)
}
