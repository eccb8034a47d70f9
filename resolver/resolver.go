// Package resolver turns host names into the IPv4 addresses the socket core
// dials, and addresses back into names for logging. Results are cached.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/gamenet/cacher"
	"github.com/cyberinferno/gamenet/logger"
)

// DefaultTTL is how long a resolved name stays cached.
const DefaultTTL = 5 * time.Minute

const (
	hostPrefix = "host:"
	addrPrefix = "addr:"
)

// ErrNoIPv4 is returned when a host has no IPv4 address.
var ErrNoIPv4 = errors.New("no IPv4 address")

// Backend performs the uncached lookups. *net.Resolver satisfies it.
type Backend interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Resolver resolves names through a Backend and caches the answers.
type Resolver struct {
	backend Backend
	cache   cacher.Cacher[string]
	ttl     time.Duration
	log     logger.Logger
}

// New creates a Resolver.
//
// Parameters:
//   - backend: The lookup backend; nil uses net.DefaultResolver
//   - c: The answer cache; nil uses a private in-memory cache
//   - ttl: How long answers stay cached; 0 uses DefaultTTL
//   - log: The logger; nil discards output
//
// Returns:
//   - A new Resolver
func New(backend Backend, c cacher.Cacher[string], ttl time.Duration, log logger.Logger) *Resolver {
	if backend == nil {
		backend = net.DefaultResolver
	}

	if c == nil {
		c = cacher.NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Resolver{backend: backend, cache: c, ttl: ttl, log: log}
}

// LookupHost returns the first IPv4 address of host. Literal addresses are
// returned without a lookup.
//
// Parameters:
//   - ctx: Bounds the lookup
//   - host: A host name or dotted IPv4 address
//
// Returns:
//   - The address, or an error wrapping ErrNoIPv4 or the backend failure
func (r *Resolver) LookupHost(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}

		return nil, fmt.Errorf("%s: %w", host, ErrNoIPv4)
	}

	key := hostPrefix + strings.ToLower(host)
	fetch := func(ctx context.Context) (string, error) {
		ips, err := r.backend.LookupIP(ctx, "ip4", host)
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", host, err)
		}

		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), nil
			}
		}

		return "", fmt.Errorf("%s: %w", host, ErrNoIPv4)
	}

	answer, err := r.cached(ctx, key, fetch)
	if err != nil {
		return nil, err
	}

	return net.ParseIP(answer).To4(), nil
}

// LookupAddr returns the first name registered for ip.
func (r *Resolver) LookupAddr(ctx context.Context, ip net.IP) (string, error) {
	addr := ip.String()
	fetch := func(ctx context.Context) (string, error) {
		names, err := r.backend.LookupAddr(ctx, addr)
		if err != nil {
			return "", fmt.Errorf("reverse lookup %s: %w", addr, err)
		}

		if len(names) == 0 {
			return "", fmt.Errorf("reverse lookup %s: no names", addr)
		}

		return strings.TrimSuffix(names[0], "."), nil
	}

	return r.cached(ctx, addrPrefix+addr, fetch)
}

// lookupError marks a failure of the backend, as opposed to the cache.
type lookupError struct {
	err error
}

func (e *lookupError) Error() string { return e.err.Error() }
func (e *lookupError) Unwrap() error { return e.err }

// cached serves key from the cache. When the cache backend itself fails the
// answer is fetched directly; resolution never depends on the cache.
func (r *Resolver) cached(ctx context.Context, key string, fetch cacher.FetchFunc[string]) (string, error) {
	answer, err := r.cache.GetOrFetch(ctx, key, r.ttl, func(ctx context.Context) (string, error) {
		v, err := fetch(ctx)
		if err != nil {
			return "", &lookupError{err: err}
		}

		return v, nil
	})

	var failed *lookupError
	if err == nil || ctx.Err() != nil {
		return answer, err
	}

	if errors.As(err, &failed) {
		return "", failed.err
	}

	r.log.Warn("resolver cache unavailable",
		logger.Field{Key: "key", Value: key},
		logger.Field{Key: "error", Value: err.Error()},
	)

	if answer != "" {
		return answer, nil
	}

	return fetch(ctx)
}

// Forget drops every cached answer.
//
// Returns:
//   - The number of entries dropped
func (r *Resolver) Forget(ctx context.Context) (int, error) {
	hosts, err := r.cache.DeleteByPrefix(ctx, hostPrefix)
	if err != nil {
		return hosts, err
	}

	addrs, err := r.cache.DeleteByPrefix(ctx, addrPrefix)
	return hosts + addrs, err
}

// Cached returns the number of cached answers.
func (r *Resolver) Cached(ctx context.Context) (int, error) {
	return r.cache.ItemCount(ctx)
}
