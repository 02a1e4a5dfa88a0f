package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"arbitra/test/actors"
	"arbitra/test/chaos"
	"arbitra/test/infra"
	"arbitra/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "actors of each kind")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

type actorFunc func(context.Context, *actors.World, int64, <-chan struct{}) error

func TestLedgerConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	shared := *flDSN != "" || os.Getenv("STRESS_TEST_PG_DSN") != ""
	if !shared && !dockerAvailable(ctx) {
		t.Skip("docker unavailable and neither -dsn nor STRESS_TEST_PG_DSN given")
	}
	pgC, dsn, err := infra.StartPostgres16(ctx, *flDSN)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.Open(ctx, dsn, shared)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	defer pool.Close()

	world := actors.NewWorld(pool)
	if err := world.Seed(ctx, 6, 12); err != nil {
		t.Fatalf("seed: %v", err)
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)
	stop := make(chan struct{})

	kinds := []actorFunc{
		actors.Challenger, actors.Defender, actors.Juror, actors.Restorer,
		actors.Resolver, actors.Claimant, actors.Treasurer,
	}
	for i := 0; i < *flConcurrency; i++ {
		for k, run := range kinds {
			actorSeed := seed + int64(i*len(kinds)+k)
			g.Go(func() error { return run(gctx, world, actorSeed, stop) })
		}
	}
	if *flChaos {
		go chaos.TerminateRandomBackend(gctx, pool, rand.New(rand.NewSource(seed)), stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			if name, row := checkOracles(t, gctx, pool); name != "" {
				failed = true
				dumpRecent(t, gctx, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// one final pass once every actor has stopped
	if name, row := checkOracles(t, context.Background(), pool); name != "" {
		dumpRecent(t, context.Background(), pool)
		t.Fatalf("Oracle %s failed after shutdown. First row: %s (seed=%d)", name, row, seed)
	}
	if world.Committed.Load() == 0 {
		t.Fatalf("no operation committed (rejected=%d transient=%d seed=%d)", world.Rejected.Load(), world.Transient.Load(), seed)
	}
	t.Logf("committed=%d rejected=%d transient=%d seed=%d",
		world.Committed.Load(), world.Rejected.Load(), world.Transient.Load(), seed)
}

func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool) (string, string) {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", ""
		}
		// chaos may kill the oracle's own connection
		t.Logf("oracle error: %v", err)
		return "", ""
	}
	return name, row
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"subjects", `SELECT subject_id, status, current_round FROM subjects ORDER BY subject_id`},
		{"escrows", `SELECT subject_id, round, balance, deposited, released, pending_claims, outcome FROM escrows ORDER BY subject_id, round`},
		{"ledger_events", `SELECT id, account, kind, actor, created_at FROM ledger_events ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
