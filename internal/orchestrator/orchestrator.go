// File: internal/orchestrator/orchestrator.go
// Description: Manages the engine lifecycle: recovery from the snapshot
// store, the single-writer consume loop, snapshot cadence, and graceful
// shutdown. It is injected with fully configured components via interfaces,
// keeping it decoupled and testable.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/graph"
)

// Orchestrator ties the ingestion queue, graph engine, result cache and
// snapshot store into one running engine.
type Orchestrator struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *graph.Engine
	queue  schemas.IngestionQueue
	cache  schemas.ResultCache
	store  schemas.SnapshotStore

	lastSnapVersion atomic.Uint64
	lastSnapTime    atomic.Int64
}

// New creates an Orchestrator. All dependencies are required.
func New(cfg *config.Config, logger *zap.Logger, engine *graph.Engine, queue schemas.IngestionQueue, cache schemas.ResultCache, store schemas.SnapshotStore) (*Orchestrator, error) {
	if cfg == nil || logger == nil || engine == nil || queue == nil || cache == nil || store == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:    cfg,
		log:    logger.Named("Orchestrator"),
		engine: engine,
		queue:  queue,
		cache:  cache,
		store:  store,
	}, nil
}

// Recover seeds the engine from the latest snapshot. No snapshot at all is a
// clean cold start; a snapshot that exists but cannot be read is fatal,
// because silently starting from an empty graph would discard history.
func (o *Orchestrator) Recover(ctx context.Context) error {
	snap, err := o.store.Latest(ctx)
	if errors.Is(err, schemas.ErrNoSnapshots) {
		o.log.Info("No snapshot found, starting from an empty graph")
		o.lastSnapTime.Store(time.Now().UnixNano())
		return nil
	}
	if err != nil {
		return fmt.Errorf("recovery failed reading latest snapshot: %w", err)
	}

	o.engine.Restore(snap)
	o.lastSnapVersion.Store(snap.Version)
	o.lastSnapTime.Store(time.Now().UnixNano())

	// Events between this snapshot and the crash were never durably queued.
	loss := &schemas.RecoveryDataLoss{SnapshotVersion: snap.Version}
	o.log.Warn("Recovered from snapshot; any later events are lost",
		zap.Uint64("version", snap.Version),
		zap.String("detail", loss.Error()))
	return nil
}

// Run wires the commit hooks and drives the consume loop until ctx is
// cancelled, then drains the queue and persists a final snapshot.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.engine.OnCommit(func(version uint64) {
		o.cache.Invalidate(version, time.Now())
	})
	o.engine.OnCommit(func(version uint64) {
		o.maybeSnapshot(context.Background(), version)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.consumeLoop(ctx)
	}()

	<-ctx.Done()
	o.log.Info("Shutdown signal received, draining ingestion queue")
	o.queue.Close()
	wg.Wait()

	// Final snapshot on graceful shutdown, regardless of cadence.
	if version := o.engine.Latest().Version; version > o.lastSnapVersion.Load() {
		o.snapshot(context.Background(), version)
	}
	o.log.Info("Engine stopped", zap.Uint64("version", o.engine.Latest().Version))
	return nil
}

// consumeLoop is the single writer: it dequeues batches and applies them in
// arrival order until the queue reports drained after Close.
func (o *Orchestrator) consumeLoop(ctx context.Context) {
	for {
		batch, err := o.queue.DequeueBatch(context.Background(), o.cfg.Ingest.BatchSize, o.cfg.Ingest.BatchWait)
		if err != nil {
			o.log.Error("Dequeue failed", zap.Error(err))
			return
		}
		if len(batch) == 0 {
			// Only happens once the queue is closed and drained.
			return
		}
		version, applied, rejected := o.engine.ApplyBatch(batch)
		if rejected > 0 {
			o.log.Debug("Batch applied with rejections",
				zap.Uint64("version", version),
				zap.Int("applied", applied),
				zap.Int("rejected", rejected))
		}
	}
}

// maybeSnapshot persists a snapshot when either cadence trigger fires:
// every N versions or every T seconds, whichever comes first.
func (o *Orchestrator) maybeSnapshot(ctx context.Context, version uint64) {
	everyV := o.cfg.Snapshot.EveryVersions
	everyT := o.cfg.Snapshot.EveryInterval

	dueByVersion := everyV > 0 && version >= o.lastSnapVersion.Load()+everyV
	dueByTime := everyT > 0 && time.Since(time.Unix(0, o.lastSnapTime.Load())) >= everyT
	if !dueByVersion && !dueByTime {
		return
	}
	o.snapshot(ctx, version)
}

func (o *Orchestrator) snapshot(ctx context.Context, version uint64) {
	snap := o.engine.Snapshot()
	if err := o.store.Save(ctx, snap); err != nil {
		// Snapshot failures are retried on the next cadence trigger; the
		// engine keeps running.
		o.log.Error("Snapshot persist failed", zap.Uint64("version", snap.Version), zap.Error(err))
		return
	}
	o.lastSnapVersion.Store(snap.Version)
	o.lastSnapTime.Store(time.Now().UnixNano())
}
