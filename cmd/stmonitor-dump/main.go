// Command stmonitor-dump drives a synthetic concurrent workload against a
// handful of monitor.Handle values and periodically prints monitor.LocksDump
// snapshots, as a manual way to watch contention, inflation, and waiter
// counts change over a run.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dijkstracula/go-stmonitor/monitor"
	"github.com/dijkstracula/go-stmonitor/stsync"
)

var (
	objects  int
	actors   int
	duration time.Duration
	verbose  bool
)

func main() {
	root := &cobra.Command{
		Use:   "stmonitor-dump",
		Short: "Run a synthetic monitor workload and dump lock state periodically",
		RunE:  run,
	}
	root.Flags().IntVar(&objects, "objects", 4, "number of shared objects contended over")
	root.Flags().IntVar(&actors, "actors", 8, "number of concurrent actor goroutines")
	root.Flags().DurationVar(&duration, "duration", 3*time.Second, "how long to run before stopping")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level monitor logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if verbose {
		monitor.SetLogger(logger.Sugar())
	}

	handles := make([]*monitor.Handle, objects)
	for i := range handles {
		handles[i] = monitor.NewHandle(fmt.Sprintf("object-%d", i))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for a := 0; a < actors; a++ {
		a := a
		g.Go(func() error {
			return actorLoop(gctx, handles, a)
		})
	}

	g.Go(func() error {
		return dumpLoop(gctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// actorLoop repeatedly picks a random object, enters its monitor, sometimes
// waits on and pulses it to exercise the condition-variable path, and exits.
func actorLoop(ctx context.Context, handles []*monitor.Handle, seed int) error {
	tid := stsync.NewThreadID()
	rng := rand.New(rand.NewSource(int64(seed) + time.Now().UnixNano()))

	for ctx.Err() == nil {
		h := handles[rng.Intn(len(handles))]

		if err := monitor.Enter(ctx, h, tid); err != nil {
			return err
		}

		if rng.Intn(4) == 0 {
			ok, err := monitor.Wait(ctx, h, tid, 5)
			if err != nil {
				_ = monitor.Exit(h, tid)
				return err
			}
			_ = ok
		} else if rng.Intn(4) == 1 {
			_ = monitor.Pulse(h, tid)
		}

		if err := monitor.Exit(h, tid); err != nil {
			return err
		}

		time.Sleep(time.Millisecond)
	}
	return nil
}

func dumpLoop(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, row := range monitor.LocksDump() {
				fmt.Printf("owner=%d nest=%d waiters=%d hash=%d(%v)\n",
					row.Owner, row.Nest, row.WaitersHeld, row.HashCode, row.HasHash)
			}
		}
	}
}
