// Command epochdemo drives a Collector and a cowindex.Index under
// concurrent load, logging lifecycle events with zap and fanning work out
// with errgroup, the shape several repos in this corpus use for concurrent
// worker pools with structured logging. It exists to exercise the core
// end-to-end outside of the test suite; it is not part of the core's
// public API.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexusepoch/internal/cowindex"
	"nexusepoch/pkg/epoch"
)

func main() {
	workers := flag.Int("workers", 8, "number of concurrent goroutines pinning/deferring")
	opsPerWorker := flag.Int("ops", 2000, "operations performed by each worker")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	collector := epoch.NewCollector(epoch.WithGCFrequency(64))
	index := cowindex.New(collector, cowindex.WithLogger(logger))

	logger.Info("starting stress run",
		zap.Int("workers", *workers),
		zap.Int("ops_per_worker", *opsPerWorker),
	)

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < *workers; w++ {
		w := w
		g.Go(func() error {
			return runWorker(ctx, logger, index, w, *opsPerWorker)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}

	index.Close()
	collector.Shutdown()

	stats := collector.Statistics()
	logger.Info("stress run complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("advances", stats.Advances),
		zap.Int64("failed_advances", stats.FailedAdvances),
		zap.Int64("collections", stats.Collections),
		zap.Int64("objects_collected", stats.ObjectsCollected),
	)
}

func runWorker(ctx context.Context, logger *zap.Logger, index *cowindex.Index, id, ops int) error {
	for i := 0; i < ops; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		key := epoch.Epoch(id*ops + i + 1)
		record := []byte(fmt.Sprintf("worker-%d-key-%d", id, i))
		if err := index.Insert(key, record); err != nil {
			logger.Error("insert failed", zap.Int("worker", id), zap.Error(err))
			return err
		}
		if _, err := index.Get(key); err != nil {
			logger.Error("get failed", zap.Int("worker", id), zap.Error(err))
			return err
		}
	}
	return nil
}
