// Package dnscache resolves a worker's peer address to a hostname,
// stripping a configured domain suffix and caching results with a TTL
// (§4.4, SPEC_FULL "Supplemented features" §3).
package dnscache

import (
	"context"
	"net"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/veles-go/master/pkg/metrics"
)

// Resolver performs reverse-DNS lookups of peer IPs, trimming a configured
// domain suffix and caching the (possibly failed) result for ttl.
type Resolver struct {
	suffix string
	cache  *gocache.Cache
	lookup func(ctx context.Context, addr string) ([]string, error)
}

// NewResolver creates a Resolver. suffix, if non-empty, is stripped from
// resolved hostnames the way the original strips the local domain from
// socket.getfqdn() output.
func NewResolver(suffix string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		suffix: suffix,
		cache:  gocache.New(ttl, 2*ttl),
		lookup: net.DefaultResolver.LookupAddr,
	}
}

// Resolve returns the reverse-DNS hostname for addr (host part only, no
// port), falling back to addr itself on any failure (§4.4: "falling back
// to the raw address on failure"; §7 error kind 6: non-fatal).
func (r *Resolver) Resolve(ctx context.Context, addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	if cached, ok := r.cache.Get(host); ok {
		return cached.(string)
	}

	timer := metrics.NewTimer()
	names, err := r.lookup(ctx, host)
	timer.ObserveDuration(metrics.DNSResolutionDuration)

	resolved := host
	if err == nil && len(names) > 0 {
		resolved = r.stripSuffix(strings.TrimSuffix(names[0], "."))
	}

	r.cache.SetDefault(host, resolved)
	return resolved
}

func (r *Resolver) stripSuffix(host string) string {
	if r.suffix == "" {
		return host
	}
	trimmed := strings.TrimSuffix(host, "."+r.suffix)
	trimmed = strings.TrimSuffix(trimmed, r.suffix)
	if trimmed == "" {
		return host
	}
	return trimmed
}
