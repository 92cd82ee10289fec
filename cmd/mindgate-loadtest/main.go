// Command mindgate-loadtest drives the identity engine with concurrent
// sign-in, validate and refresh traffic and prints latency percentiles.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/internal/database"
)

const loadPassword = "loadtest-password"

type options struct {
	users       int
	concurrency int
	ops         int
	redisAddr   string
	dbPath      string
}

// device is one signed-in user. Refresh rotates the token, so a device is
// refreshed by one worker at a time.
type device struct {
	mu      sync.Mutex
	session *mindgate.Session
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("mindgate-loadtest", pflag.ContinueOnError)
	flags.IntVar(&opts.users, "users", 500, "number of accounts to create and sign in")
	flags.IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	flags.IntVar(&opts.ops, "ops", 20000, "operations per validate and refresh phase")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flags.StringVar(&opts.dbPath, "db", "", "sqlite path; defaults to a temporary file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.users <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	client, cleanup, err := connectRedis(opts.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	dbPath := opts.dbPath
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "mindgate-loadtest-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "load.db")
	}
	db, err := database.Open(ctx, database.Config{Path: dbPath, WALMode: true, BusyTimeout: 10 * time.Second})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	engine, err := buildEngine(client, db, opts.users)
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("creating %d accounts...\n", opts.users)
	startSeed := time.Now()
	for i := 0; i < opts.users; i++ {
		if _, err := engine.SignUp(ctx, emailFor(i), loadPassword, ""); err != nil {
			return fmt.Errorf("sign up %d: %w", i, err)
		}
	}
	fmt.Printf("created in %s\n", time.Since(startSeed).Round(time.Millisecond))

	devices := make([]device, opts.users)
	signInStats, err := runPhase(ctx, opts.users, opts.concurrency, func(ctx context.Context, i int, _ *mrand.Rand) error {
		sess, err := engine.SignInWithPassword(ctx, emailFor(i), loadPassword)
		if err != nil {
			return err
		}
		devices[i].session = sess
		return nil
	})
	if err != nil {
		return err
	}
	if signInStats.failures > 0 {
		return fmt.Errorf("%d sign-ins failed", signInStats.failures)
	}

	validateStats, err := runPhase(ctx, opts.ops, opts.concurrency, func(ctx context.Context, _ int, r *mrand.Rand) error {
		d := &devices[r.IntN(len(devices))]
		d.mu.Lock()
		token := d.session.AccessToken
		d.mu.Unlock()
		_, err := engine.Validate(ctx, token)
		return err
	})
	if err != nil {
		return err
	}

	refreshStats, err := runPhase(ctx, opts.ops, opts.concurrency, func(ctx context.Context, _ int, r *mrand.Rand) error {
		d := &devices[r.IntN(len(devices))]
		d.mu.Lock()
		defer d.mu.Unlock()
		next, err := engine.Refresh(ctx, d.session.RefreshToken)
		if err != nil {
			return err
		}
		d.session = next
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println("---- results ----")
	printStats("sign-in", signInStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: sign-in success=%d refresh success=%d\n",
		snap.Counters[mindgate.MetricSignInSuccess], snap.Counters[mindgate.MetricRefreshSuccess])
	return nil
}

func connectRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// buildEngine uses the lowest accepted hashing cost and lifts the
// throttles so the run measures the engine, not the limiter.
func buildEngine(client redis.UniversalClient, db *database.DB, users int) (*mindgate.Engine, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	cfg := mindgate.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = secret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.UpgradeOnLogin = false
	cfg.Verification.RequireForSignIn = false
	cfg.SignUp.MaxAttempts = users + 1
	cfg.Security.EnableRefreshThrottle = false
	cfg.Security.MaxSignInAttempts = users + 1

	return mindgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(database.NewUsers(db)).
		WithMailer(discardMailer{}).
		Build()
}

type discardMailer struct{}

func (discardMailer) SendVerification(context.Context, string, string) error {
	return nil
}

func emailFor(i int) string {
	return fmt.Sprintf("load-%d@mindgate.test", i)
}

// runPhase runs ops calls of fn over concurrency workers. Call failures
// are counted; only context cancellation aborts the phase.
func runPhase(ctx context.Context, ops, concurrency int, fn func(ctx context.Context, i int, r *mrand.Rand) error) (phaseStats, error) {
	var (
		cursor   atomic.Int64
		failures atomic.Int64
		samples  = make([][]time.Duration, concurrency)
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			r := mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			defer func() { samples[w] = local }()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				t0 := time.Now()
				err := fn(gctx, i, r)
				local = append(local, time.Since(t0))
				if err != nil {
					failures.Add(1)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	total := time.Since(start)

	var all []time.Duration
	for _, s := range samples {
		all = append(all, s...)
	}
	return computeStats(total, all, failures.Load()), nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-8s ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
