package dnscache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveStripsSuffix(t *testing.T) {
	r := NewResolver("internal.example.com", time.Minute)
	r.lookup = func(ctx context.Context, addr string) ([]string, error) {
		return []string{"worker-7.internal.example.com."}, nil
	}

	require.Equal(t, "worker-7", r.Resolve(context.Background(), "10.0.0.7:4050"))
}

func TestResolveFallsBackToAddrOnLookupFailure(t *testing.T) {
	r := NewResolver("", time.Minute)
	r.lookup = func(ctx context.Context, addr string) ([]string, error) {
		return nil, context.DeadlineExceeded
	}

	require.Equal(t, "10.0.0.7", r.Resolve(context.Background(), "10.0.0.7:4050"))
}

func TestResolveCachesResult(t *testing.T) {
	calls := 0
	r := NewResolver("", time.Minute)
	r.lookup = func(ctx context.Context, addr string) ([]string, error) {
		calls++
		return []string{"worker-1."}, nil
	}

	first := r.Resolve(context.Background(), "10.0.0.1:4050")
	second := r.Resolve(context.Background(), "10.0.0.1:4050")

	require.Equal(t, "worker-1", first)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestResolveWithoutPortUsesAddrDirectly(t *testing.T) {
	r := NewResolver("", time.Minute)
	r.lookup = func(ctx context.Context, addr string) ([]string, error) {
		require.Equal(t, "10.0.0.9", addr)
		return nil, nil
	}

	require.Equal(t, "10.0.0.9", r.Resolve(context.Background(), "10.0.0.9"))
}

func TestStripSuffixLeavesUnrelatedHostUntouched(t *testing.T) {
	r := NewResolver("internal.example.com", time.Minute)
	require.Equal(t, "worker-3.other.net", r.stripSuffix("worker-3.other.net"))
}

func TestStripSuffixDoesNotEmptyWholeHostname(t *testing.T) {
	r := NewResolver("worker-4", time.Minute)
	require.Equal(t, "worker-4", r.stripSuffix("worker-4"))
}
