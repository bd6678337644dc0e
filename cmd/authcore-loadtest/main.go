// Command authcore-loadtest measures issue, verify, and rotate throughput
// against a real or embedded Redis.
//
// With no -redis-addr flag and no REDIS_ADDR env var it starts an in-process
// miniredis, so the tool runs standalone.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authcore "github.com/mailtrendz/authcore"
)

type staticProfiles struct{}

func (staticProfiles) GetPrincipal(_ context.Context, principalID string) (authcore.Principal, error) {
	return authcore.Principal{ID: principalID, Email: principalID + "@loadtest.local", Tier: "pro"}, nil
}

func main() {
	var (
		principals  = flag.Int("principals", 10000, "number of principals to issue pairs for")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (verify + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ac", "refresh-token key prefix")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authcore.Config{
		Token: authcore.TokenConfig{
			AccessSecret:  []byte("loadtest-access-secret"),
			RefreshSecret: []byte("loadtest-refresh-secret"),
			Issuer:        "authcore-loadtest",
			AccessTTL:     2 * time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Cache: authcore.CacheConfig{
			TokenTTL:   30 * time.Minute,
			ProfileTTL: 60 * time.Minute,
			UsageTTL:   30 * time.Minute,
			MaxEntries: *principals * 2,
		},
		Store: authcore.StoreConfig{
			RedisPrefix:    *prefix,
			PersistRetries: 3,
			RetentionKeep:  5,
		},
		Housekeeper: authcore.HousekeeperConfig{
			QueueSize: 4096,
			Timeout:   5 * time.Second,
		},
		Metrics: authcore.MetricsConfig{Enabled: true},
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithProfileStore(staticProfiles{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("issuing %d pairs...\n", *principals)
	startSeed := time.Now()

	type state struct {
		mu      sync.Mutex
		access  string
		refresh string
	}
	states := make([]state, *principals)

	var seedErr atomic.Value
	seedSem := make(chan struct{}, *concurrency)
	var seedWG sync.WaitGroup
	for i := 0; i < *principals; i++ {
		seedWG.Add(1)
		seedSem <- struct{}{}
		go func(i int) {
			defer seedWG.Done()
			defer func() { <-seedSem }()
			pair, err := engine.Issue(ctx, authcore.Principal{
				ID:    fmt.Sprintf("p-%06d", i),
				Email: fmt.Sprintf("p-%06d@loadtest.local", i),
				Tier:  "pro",
			})
			if err != nil {
				seedErr.Store(err)
				return
			}
			states[i].access = pair.AccessToken
			states[i].refresh = pair.RefreshToken
		}(i)
	}
	seedWG.Wait()
	if err, ok := seedErr.Load().(error); ok && err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	runPhase := func(name string, op func(*state) error) {
		latencies := make([]time.Duration, *ops)
		var idx atomic.Int64
		var failures atomic.Uint64

		start := time.Now()
		var wg sync.WaitGroup
		for w := 0; w < *concurrency; w++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for {
					i := idx.Add(1) - 1
					if i >= int64(*ops) {
						return
					}
					st := &states[rng.Intn(len(states))]
					opStart := time.Now()
					if err := op(st); err != nil {
						failures.Add(1)
					}
					latencies[i] = time.Since(opStart)
				}
			}(int64(w) + 1)
		}
		wg.Wait()
		elapsed := time.Since(start)

		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		p := func(q float64) time.Duration {
			return latencies[int(float64(len(latencies)-1)*q)]
		}
		fmt.Printf("%-8s %8d ops in %8s  %9.0f ops/s  p50=%-10s p99=%-10s failures=%d\n",
			name, *ops, elapsed.Round(time.Millisecond),
			float64(*ops)/elapsed.Seconds(),
			p(0.50), p(0.99), failures.Load())
	}

	runPhase("verify", func(st *state) error {
		st.mu.Lock()
		access := st.access
		st.mu.Unlock()
		_, err := engine.Verify(ctx, access)
		return err
	})

	runPhase("rotate", func(st *state) error {
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := engine.Rotate(ctx, st.refresh)
		if err != nil {
			return err
		}
		st.access = pair.AccessToken
		st.refresh = pair.RefreshToken
		return nil
	})

	snap := engine.MetricsSnapshot()
	fmt.Printf("cache hits=%d misses=%d replays=%d prune_dropped=%d\n",
		snap.Counters[authcore.MetricVerifyCacheHit],
		snap.Counters[authcore.MetricVerifyCacheMiss],
		snap.Counters[authcore.MetricReplayDetected],
		engine.PruneDropped())
}
